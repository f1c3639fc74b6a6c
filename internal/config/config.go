package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config captures all tunable settings for the Browtrix bridge server.
// Layering: DefaultConfig() <- config file <- environment (BROWTRIX_*).
type Config struct {
	Server ServerConfig `yaml:"server"`
	HTTP   HTTPConfig   `yaml:"http"`
	Bridge BridgeConfig `yaml:"bridge"`
	MCP    MCPConfig    `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// Log destination for stdio mode (stderr corrupts the MCP stream).
	LogFile string `yaml:"log_file" env:"BROWTRIX_LOG_FILE"`
	// Directory for rotating bridge trace files; empty disables recording.
	TraceDir string `yaml:"trace_dir" env:"BROWTRIX_TRACE_DIR"`
}

// HTTPConfig addresses the page-facing server (WebSocket + health endpoints).
type HTTPConfig struct {
	Host string `yaml:"host" env:"BROWTRIX_HTTP_HOST"`
	Port int    `yaml:"port" env:"BROWTRIX_HTTP_PORT"`
}

// BridgeConfig tunes the connection registry, pending table, and health
// monitor. Durations are strings ("60s", "30m") parsed by the Get* helpers.
type BridgeConfig struct {
	// Maximum concurrent page connections; attaches beyond this are refused.
	MaxConnections int `yaml:"max_connections" env:"BROWTRIX_MAX_CONNECTIONS"`
	// Per-connection outbound queue depth.
	OutboundQueueSize int `yaml:"outbound_queue_size"`
	// Connections idle longer than this are evicted.
	MaxIdleTime string `yaml:"max_idle_time" env:"BROWTRIX_MAX_IDLE_TIME"`
	// Interval between health monitor ticks.
	HealthCheckInterval string `yaml:"health_check_interval" env:"BROWTRIX_HEALTH_CHECK_INTERVAL"`
	// Extra round-trip margin added on top of a snapshot's wait_timeout.
	SnapshotGrace string `yaml:"snapshot_grace"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port" env:"BROWTRIX_SSE_PORT"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "browtrix-server",
			Version: "1.0.0",
			LogFile: "browtrix.log",
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Bridge: BridgeConfig{
			MaxConnections:      10,
			OutboundQueueSize:   32,
			MaxIdleTime:         "30m",
			HealthCheckInterval: "60s",
			SnapshotGrace:       "5s",
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk, overlays defaults, then applies
// environment overrides. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment overrides: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the bridge cannot run with.
func (c Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1-65535, got %d", c.HTTP.Port)
	}
	if c.Bridge.MaxConnections <= 0 {
		return fmt.Errorf("bridge.max_connections must be positive, got %d", c.Bridge.MaxConnections)
	}
	if _, err := time.ParseDuration(c.Bridge.MaxIdleTime); err != nil {
		return fmt.Errorf("bridge.max_idle_time: %w", err)
	}
	if _, err := time.ParseDuration(c.Bridge.HealthCheckInterval); err != nil {
		return fmt.Errorf("bridge.health_check_interval: %w", err)
	}
	if c.Bridge.SnapshotGrace != "" {
		if _, err := time.ParseDuration(c.Bridge.SnapshotGrace); err != nil {
			return fmt.Errorf("bridge.snapshot_grace: %w", err)
		}
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetMaxIdleTime returns the idle eviction threshold.
func (c BridgeConfig) GetMaxIdleTime() time.Duration {
	return parseDurationOr(c.MaxIdleTime, 30*time.Minute)
}

// GetHealthCheckInterval returns the monitor tick interval.
func (c BridgeConfig) GetHealthCheckInterval() time.Duration {
	return parseDurationOr(c.HealthCheckInterval, 60*time.Second)
}

// GetSnapshotGrace returns the transfer margin added to snapshot deadlines.
func (c BridgeConfig) GetSnapshotGrace() time.Duration {
	return parseDurationOr(c.SnapshotGrace, 5*time.Second)
}
