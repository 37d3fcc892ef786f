package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"cyclebot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the wire shape pushed to websocket clients.
type wsEvent struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	// One channel across every stream topic; slow clients drop events at
	// the bus rather than stalling publishers.
	stream, unsub := s.Bus.SubscribeMany(events.StreamTopics, 256)
	defer unsub()

	for env := range stream {
		if err := conn.WriteJSON(wsEvent{Topic: string(env.Topic), Payload: env.Payload}); err != nil {
			s.Log.Debug().Err(err).Msg("ws write failed, closing")
			return
		}
	}
}
