// Package handlers bridges delivery events to presentation surfaces.
package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/docgate/internal/interfaces"
	"github.com/ternarybob/docgate/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WebSocketHandler forwards delivery transitions to connected UI clients.
// High-frequency polling transitions are throttled per handler; terminal
// transitions are always delivered so the UI never misses an outcome.
type WebSocketHandler struct {
	logger    arbor.ILogger
	clients   map[*websocket.Conn]*sync.Mutex
	mu        sync.RWMutex
	throttler *rate.Limiter
}

// NewWebSocketHandler creates a handler subscribed to delivery transitions.
func NewWebSocketHandler(events interfaces.EventService, throttle time.Duration, logger arbor.ILogger) (*WebSocketHandler, error) {
	h := &WebSocketHandler{
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}

	if throttle > 0 {
		h.throttler = rate.NewLimiter(rate.Every(throttle), 1)
	}

	if err := events.Subscribe(interfaces.EventDeliveryTransition, h.onTransition); err != nil {
		return nil, err
	}
	if err := events.Subscribe(interfaces.EventCacheInvalidated, h.onCacheInvalidated); err != nil {
		return nil, err
	}

	return h, nil
}

// ServeHTTP upgrades the connection and registers the client.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")

	// Reader loop exists only to detect disconnect.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *WebSocketHandler) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

type frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (h *WebSocketHandler) onTransition(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.DeliveryEvent)
	if !ok {
		return nil
	}

	// Throttle only non-terminal chatter; opened/errored always go out.
	if !payload.State.Terminal() && h.throttler != nil && !h.throttler.Allow() {
		return nil
	}

	h.broadcast(frame{Type: string(event.Type), Payload: payload})
	return nil
}

func (h *WebSocketHandler) onCacheInvalidated(ctx context.Context, event interfaces.Event) error {
	h.broadcast(frame{Type: string(event.Type), Payload: event.Payload})
	return nil
}

func (h *WebSocketHandler) broadcast(f frame) {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, mu := range h.clients {
		conns[conn] = mu
	}
	h.mu.RUnlock()

	for conn, mu := range conns {
		mu.Lock()
		err := conn.WriteJSON(f)
		mu.Unlock()
		if err != nil {
			h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
			h.remove(conn)
		}
	}
}

// Close disconnects all clients.
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()
}
