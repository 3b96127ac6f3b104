// Package websocket implements the network bridge: the receptor routing
// inbound envelopes to agents and the effector mirroring agent bus events
// onto the client's channel.
package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/pkg/ws"
)

// Hub tracks the connected clients.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run processes registrations until the context ends.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			client.setState(ws.StateConnected)
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.remove(client)

		case frame := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				client.enqueue(frame)
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast sends an event to every connected client.
func (h *Hub) Broadcast(ev *event.Event) {
	frame, err := ws.Encode(ev)
	if err != nil {
		h.logger.Error("Failed to encode broadcast event", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("Broadcast backlog full, dropping event", zap.String("type", ev.Type))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mu.Unlock()
	if ok {
		client.teardown()
		h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.teardown()
	}
}
