package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/croupier/internal/events"
)

// EventsStreamHandler streams bus events to dashboard clients over SSE.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("handler", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream
//
// Query parameters:
//   - types: comma-separated list of event types to receive (default: all)
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Optional event type filter
	var filter map[events.EventType]bool
	if raw := r.URL.Query().Get("types"); raw != "" {
		filter = make(map[events.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[events.EventType(t)] = true
			}
		}
	}

	ch, unsubscribe := h.bus.Subscribe(100)
	defer unsubscribe()

	h.log.Debug().Msg("SSE client connected")

	// Initial message confirms the stream is live before any event fires.
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Msg("SSE client disconnected")
			return

		case event, open := <-ch:
			if !open {
				return
			}
			if filter != nil && !filter[event.Type] {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to marshal event")
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
