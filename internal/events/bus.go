package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Bus is a simple fan-out publisher. Subscribers get a buffered channel;
// a subscriber that falls behind has events dropped rather than blocking
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan EventWithData
	nextID      int
	log         zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[int]chan EventWithData),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a new subscriber and returns its channel along with
// an unsubscribe function. The unsubscribe function closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan EventWithData, func()) {
	if buffer <= 0 {
		buffer = 32
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan EventWithData, buffer)
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers an event to all current subscribers. Module identifies
// the publishing service for the dashboard's event log.
func (b *Bus) Publish(module string, data EventData) {
	event := EventWithData{
		Type:      data.EventType(),
		Timestamp: time.Now().UTC(),
		Module:    module,
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.log.Warn().
				Int("subscriber", id).
				Str("event_type", string(event.Type)).
				Msg("Subscriber buffer full, dropping event")
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
