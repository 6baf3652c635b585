// Package api exposes the operator inspection surface: process
// status, the retained event window, and per-session capture history.
// It is a read-only view over the in-process store; the attacker-facing
// frontends never touch it.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tidelock/bittern/internal/sinks"
)

// ServerConfig holds the inspection API settings.
type ServerConfig struct {
	Addr    string
	Token   string
	Version string
	Sensor  string
}

// Server is the inspection API server.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer wires the handlers to the event store.
func NewServer(cfg ServerConfig, store *sinks.Memory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := NewHandlers(store, cfg.Version, cfg.Sensor)

	mux := http.NewServeMux()
	mux.Handle("/status", applyMiddleware(
		http.HandlerFunc(handlers.StatusHandler),
		Auth(cfg.Token), JSONContentType,
	))
	mux.Handle("/events", applyMiddleware(
		http.HandlerFunc(handlers.ListEventsHandler),
		Auth(cfg.Token), JSONContentType,
	))
	mux.Handle("/sessions/", applyMiddleware(
		http.HandlerFunc(handlers.SessionHandler),
		Auth(cfg.Token), JSONContentType,
	))

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("inspection api listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("inspection api failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
