// Package delivery fans validation verdicts and score updates out to
// connected clients over WebSocket. Clients subscribe per session id; each
// client gets a buffered outbound queue and a slow client is dropped rather
// than allowed to block the broadcast path.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

const defaultClientBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Frame is one outbound message to subscribed clients.
type Frame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Payload   any    `json:"payload,omitempty"`
}

type client struct {
	conn  *websocket.Conn
	queue chan []byte
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.queue)
	})
}

// Hub tracks per-session subscriber sets.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[*client]bool
	buffer      int
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithClientBuffer sets the per-client outbound queue length.
func WithClientBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers: map[string]map[*client]bool{},
		buffer:      defaultClientBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the connection and subscribes it to the session named in
// the session_id query parameter. The handler blocks until the client
// disconnects or is dropped.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		conn:  conn,
		queue: make(chan []byte, h.buffer),
	}
	h.subscribe(sessionID, c)
	defer func() {
		h.unsubscribe(sessionID, c)
		_ = conn.Close()
	}()

	go c.writeLoop()

	// Reads are discarded; their only purpose is to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast sends a frame to every client subscribed to the frame's session.
// Returns the number of clients that received it.
func (h *Hub) Broadcast(ctx context.Context, frame Frame) (int, error) {
	if frame.SessionID == "" {
		return 0, fmt.Errorf("frame session id is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal frame: %w", err)
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.subscribers[frame.SessionID]))
	for c := range h.subscribers[frame.SessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		select {
		case c.queue <- raw:
			delivered++
		default:
			// Queue full: the client is too slow to keep up. Drop it.
			h.unsubscribe(frame.SessionID, c)
			_ = c.conn.Close()
		}
	}
	return delivered, nil
}

// Subscribers returns the number of clients attached to a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[sessionID])
}

// Close drops every client on every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, clients := range h.subscribers {
		for c := range clients {
			c.close()
			_ = c.conn.Close()
		}
		delete(h.subscribers, sessionID)
	}
}

func (h *Hub) subscribe(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[sessionID] == nil {
		h.subscribers[sessionID] = map[*client]bool{}
	}
	h.subscribers[sessionID][c] = true
}

func (h *Hub) unsubscribe(sessionID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.subscribers[sessionID]; ok {
		if clients[c] {
			delete(clients, c)
			c.close()
		}
		if len(clients) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
}

func (c *client) writeLoop() {
	for raw := range c.queue {
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
