package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hurricanerix/tagweave/internal/logging"
)

// Event types sent by the server itself. Generation events are defined in
// the pipeline package.
const (
	// EventConnected is the first event on every stream.
	// Data schema: {"session": string}
	EventConnected = "connected"

	// EventError indicates a request from this session failed.
	// Data schema: {"message": string}
	EventError = "error"

	// MaxConnections is the maximum number of concurrent SSE connections.
	MaxConnections = 1000

	// KeepAliveInterval is how often an idle stream receives a comment line.
	KeepAliveInterval = 30 * time.Second
)

// Event represents a Server-Sent Event with a named type and JSON data.
type Event struct {
	Type string
	Data interface{}
}

// connection is one open event stream.
type connection struct {
	sessionID string
	done      chan struct{}

	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
}

// write formats a payload and flushes it. Writes from different
// goroutines are serialized.
func (c *connection) write(payload string) error {
	if c == nil || c.writer == nil || c.flusher == nil {
		return fmt.Errorf("connection not available")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprint(c.writer, payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	c.flusher.Flush()
	return nil
}

// Broker manages SSE connections, one per session.
type Broker struct {
	mu          sync.RWMutex
	connections map[string]*connection
	logger      *logging.Logger
}

// NewBroker creates a new SSE broker. logger may be nil.
func NewBroker(logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Broker{
		connections: make(map[string]*connection),
		logger:      logger,
	}
}

// ServeHTTP streams events to the requesting session until the client
// disconnects or the broker closes the stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.ConnectionCount() >= MaxConnections {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	// The session comes from the cookie set by SessionMiddleware, never
	// from the URL.
	sessionID := GetSessionID(r.Context())
	if sessionID == "" {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Streams outlive the server's WriteTimeout. ResponseRecorder does not
	// support deadlines; the error is ignored.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn := &connection{
		sessionID: sessionID,
		writer:    w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}

	b.addConnection(conn)
	defer b.removeConnection(sessionID, conn)

	_ = b.send(conn, Event{Type: EventConnected, Data: map[string]string{"session": sessionID}})

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.done:
			return
		case <-ticker.C:
			if err := conn.write(": keep-alive\n\n"); err != nil {
				return
			}
		}
	}
}

// SendEvent sends an event to a specific session.
// Returns an error if the session is not connected.
func (b *Broker) SendEvent(sessionID string, eventType string, data interface{}) error {
	b.mu.RLock()
	conn, ok := b.connections[sessionID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("session %s not connected", sessionID)
	}

	return b.send(conn, Event{Type: eventType, Data: data})
}

// SendEventToAll sends an event to all connected sessions.
func (b *Broker) SendEventToAll(eventType string, data interface{}) {
	b.mu.RLock()
	connections := make([]*connection, 0, len(b.connections))
	for _, conn := range b.connections {
		connections = append(connections, conn)
	}
	b.mu.RUnlock()

	event := Event{Type: eventType, Data: data}
	for _, conn := range connections {
		if err := b.send(conn, event); err != nil {
			b.logger.Debug("Dropping %s event for session %s: %v", eventType, conn.sessionID, err)
		}
	}
}

// CloseSession closes the SSE connection for a specific session.
func (b *Broker) CloseSession(sessionID string) {
	b.mu.Lock()
	conn, ok := b.connections[sessionID]
	if ok {
		close(conn.done)
		delete(b.connections, sessionID)
	}
	b.mu.Unlock()
}

// ConnectionCount returns the number of active connections.
func (b *Broker) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

// addConnection registers conn, closing any earlier stream of the same
// session (a reconnect or a second tab).
func (b *Broker) addConnection(conn *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.connections[conn.sessionID]; ok {
		close(existing.done)
	}
	b.connections[conn.sessionID] = conn
}

// removeConnection unregisters conn if it is still the session's current
// stream. A replaced stream must not remove its successor.
func (b *Broker) removeConnection(sessionID string, conn *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.connections[sessionID]; ok && current == conn {
		delete(b.connections, sessionID)
	}
}

// send formats an event according to the SSE specification:
//
//	event: <type>
//	data: <json>
//	<blank line>
func (b *Broker) send(conn *connection, event Event) error {
	jsonData, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	return conn.write(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, jsonData))
}

// Shutdown closes all connections.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sessionID, conn := range b.connections {
		close(conn.done)
		delete(b.connections, sessionID)
	}
	return ctx.Err()
}
