package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odvcencio/stepwise/pkg/bus"
	"github.com/odvcencio/stepwise/pkg/logging"
)

const (
	eventPingInterval = 30 * time.Second
	eventPongWait     = 60 * time.Second
	eventWriteWait    = 10 * time.Second
	eventBuffer       = 64
)

// EventSource streams engine events. *bus.Events satisfies it.
type EventSource interface {
	Subscribe(ctx context.Context, handler bus.MessageHandler) (bus.Subscription, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleEvents upgrades to a websocket and forwards every engine event as
// one JSON text frame. Slow clients lose events instead of blocking the
// bus. Anything the client sends is ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event stream is disabled")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = s.logger.Debug(logging.CategoryAPI, "events.upgrade_failed", "websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	send := make(chan []byte, eventBuffer)
	sub, err := s.events.Subscribe(ctx, func(msg *bus.Message) {
		select {
		case send <- msg.Data:
		default:
		}
	})
	if err != nil {
		_ = s.logger.Warn(logging.CategoryAPI, "events.subscribe_failed", "could not subscribe to events", map[string]any{"error": err.Error()})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"))
		return
	}
	defer sub.Unsubscribe()

	_ = s.logger.Debug(logging.CategoryAPI, "events.connected", "event stream opened", map[string]any{
		"remote_addr": r.RemoteAddr,
		"subject":     sub.Subject(),
	})

	// Reads only serve to notice the client going away.
	_ = conn.SetReadDeadline(time.Now().Add(eventPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
