// Package websocket pushes sync events to connected admin consoles.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/xelth-com/trainingcms/internal/logger"
)

// Message is the envelope of every event sent to admin clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	At   time.Time   `json:"at"`
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound messages for every client
	broadcast chan []byte

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and closes every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.ID]; ok {
				close(old.send)
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			logger.Debugf("🔌 admin client connected: %s", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
				logger.Debugf("📴 admin client disconnected: %s", client.ID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					delete(h.clients, id)
					close(client.send)
					logger.Warnf("admin client %s dropped: send buffer full", id)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues an event for every connected client. It never blocks; when the
// queue is full the event is dropped.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	jsonMsg, err := json.Marshal(Message{Type: eventType, Data: payload, At: time.Now().UTC()})
	if err != nil {
		logger.Errorf("Error marshaling %s event: %v", eventType, err)
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		logger.Warnf("event queue full, dropping %s event", eventType)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
