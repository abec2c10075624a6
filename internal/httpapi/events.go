package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"assistd/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are delegated to the CORS configuration; event
	// streams carry no credentials.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams one bus channel until
// the client goes away. Each session has its own queue: a slow reader
// backs up its own queue only, never the channel or other sessions.
func (s *server) handleEvents(id bus.ChannelID) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch := s.Bus.Channel(id)
		if ch == nil {
			writeJSONError(w, http.StatusNotFound, "unknown event channel")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote an HTTP error response.
			return
		}
		wsSessionsTotal.WithLabelValues(string(id)).Inc()

		sub, queue := ch.Subscribe()
		defer ch.Unsubscribe(sub)
		defer conn.Close()

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		// The read side only exists to detect the client closing; any
		// inbound payload is discarded.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			payload, err := queue.Pop(ctx)
			if err != nil {
				if errors.Is(err, bus.ErrQueueClosed) || ctx.Err() != nil {
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				}
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				// Delivery failure ends this session only.
				return
			}
		}
	}
}
