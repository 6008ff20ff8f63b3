// Package server exposes the administrative trigger surface over HTTP:
// on-demand monitoring passes, health reporting, issue queries, and the
// inbound event webhook.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kestrelhq/kestrel/internal/orchestrator"
	"github.com/kestrelhq/kestrel/internal/storage"
)

// Server is the Kestrel HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	DB     *storage.DB
	Orch   *orchestrator.Orchestrator
	Logger *slog.Logger

	// AdminAPIKey guards the trigger and query endpoints when non-empty.
	AdminAPIKey string
	// WebhookSecret enables POST /webhook/events when non-empty.
	WebhookSecret string

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		db:            cfg.DB,
		orch:          cfg.Orch,
		logger:        cfg.Logger,
		webhookSecret: cfg.WebhookSecret,
		startedAt:     time.Now(),
		version:       cfg.Version,
	}

	admin := bearerAuth(cfg.AdminAPIKey)

	mux := http.NewServeMux()

	// Trigger endpoints (admin).
	mux.Handle("POST /monitor/runs", admin(http.HandlerFunc(h.HandleMonitorRuns)))
	mux.Handle("POST /monitor/deployments", admin(http.HandlerFunc(h.HandleMonitorDeployments)))
	mux.Handle("POST /monitor/all", admin(http.HandlerFunc(h.HandleMonitorAll)))
	mux.Handle("POST /notify", admin(http.HandlerFunc(h.HandleNotify)))

	// Query endpoints (admin).
	mux.Handle("GET /runs", admin(http.HandlerFunc(h.HandleListRuns)))
	mux.Handle("GET /deployments", admin(http.HandlerFunc(h.HandleListDeployments)))
	mux.Handle("GET /issues", admin(http.HandlerFunc(h.HandleListIssues)))
	mux.Handle("GET /issues/{issue_id}", admin(http.HandlerFunc(h.HandleGetIssue)))
	mux.Handle("PATCH /issues/{issue_id}", admin(http.HandlerFunc(h.HandleUpdateIssue)))

	// Inbound events (HMAC-signed, no bearer auth).
	mux.HandleFunc("POST /webhook/events", h.HandleWebhookEvents)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
