// Package server hosts the local presentation surface: a small HTTP server
// exposing the delivery flow endpoints and the WebSocket event bridge that
// UI clients subscribe to.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/docgate/internal/common"
	"github.com/ternarybob/docgate/internal/handlers"
)

// Server manages the HTTP server and routes
type Server struct {
	config   *common.Config
	logger   arbor.ILogger
	delivery *handlers.DeliveryHandler
	ws       *handlers.WebSocketHandler
	api      *handlers.APIHandler
	router   *http.ServeMux
	server   *http.Server
}

// New creates a new HTTP server over the given handlers.
func New(config *common.Config, logger arbor.ILogger, delivery *handlers.DeliveryHandler, ws *handlers.WebSocketHandler) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		delivery: delivery,
		ws:       ws,
		api:      handlers.NewAPIHandler(),
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withConditionalMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.ws != nil {
		s.ws.Close()
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
