package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route - delivery transitions pushed to UI clients
	mux.HandleFunc("/ws", s.ws.ServeHTTP)

	// API routes - Delivery flow
	mux.HandleFunc("/api/delivery/open", s.delivery.OpenHandler)   // POST - open a document
	mux.HandleFunc("/api/delivery/retry", s.delivery.RetryHandler) // POST - retry failed processing
	mux.HandleFunc("/api/view/cancel", s.delivery.CancelViewHandler)
	mux.HandleFunc("/api/cache/invalidate", s.delivery.InvalidateHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.api.VersionHandler)
	mux.HandleFunc("/api/health", s.api.HealthHandler)

	return mux
}
