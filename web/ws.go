package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait   = 10 * time.Second
	wsReadLimit   = 4096
	wsControlSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The engine is a single-user system behind whatever fronting the
	// deployment adds; origin enforcement belongs there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

type wsControlMessage struct {
	Type         string `json:"type"`
	Channel      string `json:"channel,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	GenerationID string `json:"generation_id,omitempty"`
}

// handleWS upgrades the connection and bridges it to a hub subscription.
// The connection immediately learns the in-flight generation id, if any, so
// subsequent progress events can be attributed; there is no replay of steps
// already streamed. Clients ping periodically; a silent connection may be
// reaped by the hub's idle sweep.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	hub := s.engine.Hub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub.ID())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, wsControlSize)
	outbound <- wsControlMessage{
		Type:         "connected",
		SessionID:    s.engine.Store().SessionID(),
		GenerationID: hub.InFlight(),
	}

	// Event forwarder: hub subscription -> outbound.
	go func() {
		defer cancel()
		for {
			ev, ok := sub.Receive(ctx)
			if !ok {
				return
			}
			select {
			case outbound <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go s.wsReadPump(ctx, cancel, conn, sub.ID(), outbound)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed",
					slog.String("observer_id", sub.ID()),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

// wsReadPump handles inbound client messages: ping (heartbeat) and
// subscribe (channel acknowledgement). Any read error ends the connection.
func (s *Server) wsReadPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, observerID string, outbound chan<- any) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)

	hub := s.engine.Hub()
	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var reply wsControlMessage
		switch msg.Type {
		case "ping":
			hub.Heartbeat(observerID)
			reply = wsControlMessage{Type: "pong"}
		case "subscribe":
			channel := msg.Channel
			if channel == "" {
				channel = "generation_progress"
			}
			hub.Heartbeat(observerID)
			reply = wsControlMessage{
				Type:         "subscribed",
				Channel:      channel,
				GenerationID: hub.InFlight(),
			}
		default:
			continue
		}

		select {
		case outbound <- reply:
		case <-ctx.Done():
			return
		}
	}
}
