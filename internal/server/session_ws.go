package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/croupier/internal/events"
	"github.com/aristath/croupier/internal/modules/session"
)

// SessionWSHandler pushes live session state and session events over a
// websocket. Dashboards that want lower latency than SSE use this.
type SessionWSHandler struct {
	bus     *events.Bus
	service *session.Service
	log     zerolog.Logger
}

// NewSessionWSHandler creates a new session websocket handler
func NewSessionWSHandler(bus *events.Bus, service *session.Service, log zerolog.Logger) *SessionWSHandler {
	return &SessionWSHandler{
		bus:     bus,
		service: service,
		log:     log.With().Str("handler", "session_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/sessions/current/ws
func (h *SessionWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard may be served from a different origin in development.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx := r.Context()
	h.log.Debug().Msg("Websocket client connected")

	// Send the current session state first so clients render immediately.
	if state, err := h.service.Current(); err == nil {
		if err := h.writeJSON(ctx, conn, map[string]interface{}{
			"type":  "session_state",
			"state": state,
		}); err != nil {
			return
		}
	}

	ch, unsubscribe := h.bus.Subscribe(100)
	defer unsubscribe()

	// Read pump: we never expect client messages, but reading is what
	// surfaces the close frame and keeps the connection healthy.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case <-readDone:
			h.log.Debug().Msg("Websocket client disconnected")
			return

		case event, open := <-ch:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if event.Module != "session" {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal event")
				continue
			}

			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					h.log.Warn().Err(err).Msg("Websocket write failed")
				}
				return
			}
		}
	}
}

func (h *SessionWSHandler) writeJSON(ctx context.Context, conn *websocket.Conn, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
