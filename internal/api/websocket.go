package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"trading-agent/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvents are the bus topics streamed to dashboard clients.
var wsEvents = []events.Event{
	events.EventCycleComplete,
	events.EventOrderFilled,
	events.EventOrderSubmitted,
	events.EventOrderRejected,
	events.EventRiskAlert,
	events.EventKillSwitch,
}

type wsEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// websocket streams bus events as JSON envelopes until the client
// disconnects. Each connection gets its own subscriptions; a slow
// client drops messages at the bus, never blocking the trading loop.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	out := make(chan wsEnvelope, 256)
	done := make(chan struct{})
	defer close(done)

	for _, ev := range wsEvents {
		stream, unsub := s.Bus.Subscribe(ev, 100)
		defer unsub()
		go func(name string, stream <-chan any) {
			for msg := range stream {
				select {
				case out <- wsEnvelope{Event: name, Data: msg}:
				case <-done:
					return
				default: // client buffer full, drop
				}
			}
		}(string(ev), stream)
	}

	// Reader goroutine notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case env := <-out:
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}
