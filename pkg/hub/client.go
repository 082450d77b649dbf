package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound message size
	maxMessageSize = 64 * 1024

	// maxQueue bounds a client's mailbox; the oldest message is dropped
	maxQueue = 64
)

// Conn is the subset of a websocket connection the hub uses.
// *websocket.Conn from gofiber/websocket implements it.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single websocket connection
type Client struct {
	hub  *Hub
	conn Conn

	mu     sync.Mutex
	queue  []Message
	closed bool
	wake   chan struct{}

	// OnMessage receives inbound text messages, if set before Run
	OnMessage func(data []byte)

	dropped atomic.Int64
}

// NewClient creates a new client and registers it with the hub
func NewClient(hub *Hub, conn Conn) *Client {
	client := &Client{
		hub:  hub,
		conn: conn,
		wake: make(chan struct{}, 1),
	}
	select {
	case hub.register <- client:
	case <-hub.quit:
		client.close()
	}
	return client
}

// Run starts the client's read and write pumps
// This should be called in the websocket handler
func (c *Client) Run() {
	go c.writePump()
	c.readPump() // Blocks until connection closes
}

// Send queues a message for this client only
func (c *Client) Send(msg Message) {
	c.offer(msg)
}

// Dropped returns how many messages were discarded because the mailbox was full
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// offer queues msg, replacing a queued message with the same key
func (c *Client) offer(msg Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	replaced := false
	if msg.Key != "" {
		for i := range c.queue {
			if c.queue[i].Key == msg.Key {
				c.queue[i] = msg
				replaced = true
				break
			}
		}
	}
	if !replaced {
		if len(c.queue) >= maxQueue {
			c.queue = c.queue[1:]
			c.dropped.Add(1)
		}
		c.queue = append(c.queue, msg)
	}
	c.mu.Unlock()

	c.signal()
}

// take drains the mailbox
func (c *Client) take() ([]Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := c.queue
	c.queue = nil
	return msgs, c.closed
}

// close marks the mailbox closed; the write pump flushes and exits
func (c *Client) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.signal()
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// readPump reads messages from the websocket connection
// It keeps the connection alive and detects disconnection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if mt == websocket.TextMessage && c.OnMessage != nil {
			c.OnMessage(data)
		}
	}
}

// writePump writes messages to the websocket connection
// Only this goroutine writes to the connection - no race conditions!
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.wake:
			msgs, closed := c.take()
			for _, m := range msgs {
				wsType := websocket.TextMessage
				if m.Type == BinaryMessage {
					wsType = websocket.BinaryMessage
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(wsType, m.Data); err != nil {
					return
				}
			}
			if closed {
				// Hub closed the mailbox - send close frame
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
