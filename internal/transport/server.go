// Package transport hosts the page-facing HTTP surface: the WebSocket
// endpoint page clients attach through, plus health and statistics routes.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/InduwaraSMPN/browtrix/internal/bridge"
	"github.com/InduwaraSMPN/browtrix/internal/config"
)

// Server serves /ws, /health, /stats, and /info.
type Server struct {
	cfg     config.Config
	reg     *bridge.Registry
	broker  *bridge.Broker
	started time.Time
	now     func() time.Time
}

// NewServer wires the transport layer onto an existing registry and broker.
func NewServer(cfg config.Config, reg *bridge.Registry, broker *bridge.Broker) *Server {
	return &Server{
		cfg:     cfg,
		reg:     reg,
		broker:  broker,
		started: time.Now(),
		now:     time.Now,
	}
}

// Routes returns the HTTP mux for the page-facing server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/info", s.handleInfo)
	return mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.HTTP.Host, s.cfg.HTTP.Port),
		Handler: s.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("transport server shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// healthResponse mirrors the shape the web app polls for.
type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Connections   int               `json:"connections"`
	Components    map[string]string `json:"components"`
	Timestamp     time.Time         `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.broker.Snapshot()
	connections := s.reg.Len()

	status := "healthy"
	if connections == 0 || stats.PendingRequests > 10 {
		status = "degraded"
	}

	queueState := "up"
	if stats.PendingRequests >= 50 {
		queueState = "degraded"
	}
	connState := "down"
	if connections > 0 {
		connState = "up"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:        status,
		Version:       s.cfg.Server.Version,
		UptimeSeconds: s.now().Sub(s.started).Seconds(),
		Connections:   connections,
		Components: map[string]string{
			"connections":   connState,
			"websocket":     "up",
			"request_queue": queueState,
		},
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.broker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_connections":     s.reg.Len(),
		"active_requests":       stats.PendingRequests,
		"total_requests":        stats.TotalRequests,
		"successful_requests":   stats.SuccessfulRequests,
		"failed_requests":       stats.FailedRequests,
		"success_rate":          stats.SuccessRate,
		"average_response_time": stats.AverageResponseTime,
		"connection_info":       s.reg.ListActive(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        s.cfg.Server.Name,
		"version":     s.cfg.Server.Version,
		"description": "Model Context Protocol bridge for in-page actions",
		"features": []string{
			"HTML snapshots with configurable options",
			"Confirmation dialogs and input prompts",
			"Connection health monitoring",
			"Request statistics",
		},
		"timestamp": s.now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encoding response: %v", err)
	}
}
