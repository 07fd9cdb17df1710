// Package realtime streams engine events to connected game clients over
// websockets.
//
// A single hub fans broadcast messages out to all connected clients. Slow
// clients drop messages rather than stalling the hub.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/omerta/internal/logging"
	"github.com/mbd888/omerta/internal/metrics"
)

// Message is one frame pushed to clients.
type Message struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Hub tracks connected clients and broadcasts messages to them.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[*Client]bool
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]bool),
		logger:     logging.WithComponent(logger, "realtime"),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled or Stop
// is called. Call in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.mu.Unlock()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.stop:
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client connected", "clients", n)
		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Info("client disconnected", "clients", n)
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// slow client, drop the frame
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stop)
	done := h.done
	h.mu.Unlock()
	<-done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.ActiveWebSocketClients.Set(0)
}

// Broadcast pushes a typed message to every connected client. It never
// blocks; when the hub's buffer is full the message is dropped.
func (h *Hub) Broadcast(msgType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshaling broadcast payload", "error", err)
		return
	}
	frame, err := json.Marshal(Message{
		Type:       msgType,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	})
	if err != nil {
		h.logger.Error("marshaling broadcast frame", "error", err)
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("broadcast buffer full, dropping message", "type", msgType)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
