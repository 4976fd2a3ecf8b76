package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"finmesh/internal/api/health"
	"finmesh/internal/metrics"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// ServerConfig contains configuration for the HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
}

// Server wraps the HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer wires probes, metrics and the A2A routes
func NewServer(cfg ServerConfig, healthHandler *health.Handler, a2aHandler *A2AHandler, log *logger.Logger) *Server {
	log = log.With("component", "http_server")

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           withRequestLog(log, Routes(cfg, healthHandler, a2aHandler)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// collaborative analyses behind /a2a/external can take a full request timeout
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Infow("HTTP server configured", "port", port)
	return &Server{httpServer: httpServer, log: log}
}

// Routes builds the request multiplexer
func Routes(cfg ServerConfig, healthHandler *health.Handler, a2aHandler *A2AHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Kubernetes probes
	mux.HandleFunc("GET /health", healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", healthHandler.HandleReadiness)
	mux.HandleFunc("GET /live", healthHandler.HandleLiveness)

	mux.Handle("GET /metrics", metrics.Handler())

	if a2aHandler != nil {
		mux.HandleFunc("POST /a2a/message", a2aHandler.HandlePostMessage)
		mux.HandleFunc("GET /a2a/messages/{agent_id}", a2aHandler.HandleGetMessages)
		mux.HandleFunc("POST /a2a/external", a2aHandler.HandleExternal)
		mux.HandleFunc("GET /a2a/status", a2aHandler.HandleStatus)
	}

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": cfg.ServiceName,
			"version": cfg.Version,
			"status":  "running",
		})
	})
	return mux
}

// Start blocks until the server is stopped or fails
func (s *Server) Start() error {
	s.log.Infow("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown waits for active requests to finish within ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}
	s.log.Info("HTTP server stopped")
	return nil
}
