package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"smsrelay/internal/worker"
)

// Handler consumes one event.
type Handler func(ctx context.Context, ev Event)

// Submitter runs jobs asynchronously. *worker.Pool satisfies it.
type Submitter interface {
	Submit(job worker.Job) error
}

// Bus fans events out to subscribers. Each subscriber call runs as its own job on the
// submitter, so Publish returns without waiting for consumers.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]namedHandler
	pool Submitter
}

type namedHandler struct {
	name string
	fn   Handler
}

func NewBus(pool Submitter) *Bus {
	return &Bus{subs: make(map[Topic][]namedHandler), pool: pool}
}

// Subscribe registers fn for topic. name is used in logs only.
func (b *Bus) Subscribe(topic Topic, name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], namedHandler{name: name, fn: fn})
	log.Debug().Str("topic", string(topic)).Str("subscriber", name).Msg("Subscribed to topic")
}

// Publish wraps payload in an Event and dispatches it. It returns the event and the number of
// subscribers it was handed to; jobs the pool refuses are logged and dropped.
func (b *Bus) Publish(topic Topic, payload any) (Event, int) {
	ev := Event{
		ID:         uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	b.mu.RLock()
	handlers := append([]namedHandler(nil), b.subs[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("topic", string(topic)).Msg("No subscribers for event")
		return ev, 0
	}

	dispatched := 0
	for _, h := range handlers {
		h := h
		err := b.pool.Submit(func(ctx context.Context) {
			h.fn(ctx, ev)
		})
		if err != nil {
			log.Error().
				Err(err).
				Str("eventID", ev.ID).
				Str("topic", string(topic)).
				Str("subscriber", h.name).
				Msg("Dropped event for subscriber")
			continue
		}
		dispatched++
	}
	return ev, dispatched
}
