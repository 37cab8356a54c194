package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/triagebot/triage/internal/events"
)

const writeDeadline = 10 * time.Second

// WebSocketSubscriber adapts a websocket connection to the Subscriber
// interface. Writes are serialized; gorilla connections allow at most one
// concurrent writer.
type WebSocketSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

var _ Subscriber = (*WebSocketSubscriber)(nil)

// NewWebSocketSubscriber wraps an upgraded connection.
func NewWebSocketSubscriber(conn *websocket.Conn) *WebSocketSubscriber {
	return &WebSocketSubscriber{
		id:   uuid.New().String(),
		conn: conn,
	}
}

// ID returns the subscriber's unique handle.
func (s *WebSocketSubscriber) ID() string {
	return s.id
}

// Send pushes one envelope as a JSON text message. A slow client hits the
// write deadline and is treated as dead by the hub.
func (s *WebSocketSubscriber) Send(env *events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return s.conn.WriteJSON(env)
}

// Close closes the underlying connection.
func (s *WebSocketSubscriber) Close() error {
	return s.conn.Close()
}
