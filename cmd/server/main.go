package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/InduwaraSMPN/browtrix/internal/bridge"
	"github.com/InduwaraSMPN/browtrix/internal/config"
	mcpserver "github.com/InduwaraSMPN/browtrix/internal/mcp"
	"github.com/InduwaraSMPN/browtrix/internal/recorder"
	"github.com/InduwaraSMPN/browtrix/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to the Browtrix config file (optional)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	httpPort := flag.Int("http-port", 0, "Optional page-server port override (falls back to config)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			// If we can't open log file, disable logging to avoid stderr pollution
			log.SetOutput(io.Discard)
		}
	}

	registry := bridge.NewRegistry(cfg.Bridge.MaxConnections, cfg.Bridge.OutboundQueueSize)
	table := bridge.NewTable()

	var brokerOpts []bridge.Option
	if cfg.Server.TraceDir != "" {
		rec, err := recorder.NewRecorder(cfg.Server.TraceDir)
		if err != nil {
			log.Printf("trace recording disabled: %v", err)
		} else if err := rec.Start("bridge"); err != nil {
			log.Printf("trace recording disabled: %v", err)
		} else {
			defer rec.Close()
			brokerOpts = append(brokerOpts, bridge.WithEventSink(rec))
		}
	}
	broker := bridge.NewBroker(registry, table, brokerOpts...)

	monitor := bridge.NewMonitor(registry, broker, cfg.Bridge.GetHealthCheckInterval(), cfg.Bridge.GetMaxIdleTime())
	monitor.Start(ctx)

	pageServer := transport.NewServer(cfg, registry, broker)
	go func() {
		log.Printf("page server listening on %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := pageServer.Run(ctx); err != nil {
			log.Printf("page server exited: %v", err)
			stop()
		}
	}()

	server, err := mcpserver.NewServer(cfg, broker)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting Browtrix MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting Browtrix MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
