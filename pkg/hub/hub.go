package hub

import (
	"encoding/json"
	"sync"

	"github.com/teslashibe/go-gaze/pkg/debug"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name string

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed by Stop
	quit     chan struct{}
	stopOnce sync.Once

	// Called with the new count after every register/unregister
	OnCount func(n int)

	// Mutex for client count (read-only access from outside)
	mu sync.RWMutex

	// Running state
	running bool
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
// This should be called in a goroutine
func (h *Hub) Run() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		h.running = false
		for client := range h.clients {
			client.close()
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			debug.Log("🔌 [%s] Client connected (%d total)\n", h.name, count)
			h.notifyCount(count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			debug.Log("🔌 [%s] Client disconnected (%d remaining)\n", h.name, count)
			h.notifyCount(count)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				// Never blocks: a slow client loses its oldest or
				// superseded messages, not its connection
				client.offer(message)
			}
			h.mu.RUnlock()

		case <-h.quit:
			return
		}
	}
}

// Stop ends Run and closes every client's mailbox
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) notifyCount(n int) {
	if h.OnCount != nil {
		h.OnCount(n)
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast channel full - drop message
		debug.Log("⚠️  [%s] Broadcast channel full, dropping message\n", h.name)
	}
}

// BroadcastJSON encodes and broadcasts a JSON message
func (h *Hub) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data))
	return nil
}

// BroadcastLatest encodes v and broadcasts it under key, replacing any
// undelivered message with the same key
func (h *Hub) BroadcastLatest(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(NewJSONMessage(data).WithKey(key))
	return nil
}

// BroadcastBinary broadcasts binary data (e.g., preview frames)
func (h *Hub) BroadcastBinary(data []byte) {
	h.Broadcast(NewBinaryMessage(data).WithKey("binary"))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}
