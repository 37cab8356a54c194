package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/triagebot/triage/internal/events"
	"github.com/triagebot/triage/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from arbitrary origins in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection, registers it with the hub, and
// runs the inbound read loop. The only inbound message the protocol knows
// is the "ping" keepalive; everything else is ignored. The loop exits, and
// the subscriber is pruned, on the first read error.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := hub.NewWebSocketSubscriber(conn)
	s.hub.Subscribe(sub)
	defer s.hub.Unsubscribe(sub.ID())

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			if err := sub.Send(events.NewPong()); err != nil {
				return
			}
		}
	}
}
