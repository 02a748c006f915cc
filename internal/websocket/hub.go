package websocket

import (
	"encoding/json"
	"log"
	"sync"

	enginesync "github.com/mesapos/mesaposgo/internal/sync"
)

// Hub maintains the set of connected UI clients and fans sync events out to
// them, so order boards and the sync status indicator update without polling.
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound events for all clients
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			// A reconnecting client replaces its old connection
			if old, ok := h.clients[client.ClientID]; ok {
				close(old.send)
				delete(h.clients, client.ClientID)
			}
			h.clients[client.ClientID] = client
			log.Printf("📱 UI client connected: %s", client.ClientID)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ClientID]; ok {
				delete(h.clients, client.ClientID)
				close(client.send)
				log.Printf("📴 UI client disconnected: %s", client.ClientID)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; drop the event rather than block the hub
					log.Printf("⚠️ Dropping event for slow client %s", id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish implements the sync event sink: every lifecycle event is broadcast
// to all connected UI clients. Never blocks the sync loops.
func (h *Hub) Publish(event enginesync.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling sync event: %v", err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected UI clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
