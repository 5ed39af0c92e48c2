package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler receives published events. Handlers run on the publisher's
// goroutine and must not block.
type Handler func(event *Event)

// Bus fans events out to subscribers
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[uint64]Handler
	next        uint64
	log         zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[EventType]map[uint64]Handler),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for the given types (every known type when
// none are given) and returns a function that removes the subscription.
func (b *Bus) Subscribe(handler Handler, types ...EventType) func() {
	if len(types) == 0 {
		types = AllEventTypes
	}

	b.mu.Lock()
	b.next++
	id := b.next
	for _, t := range types {
		if b.subscribers[t] == nil {
			b.subscribers[t] = make(map[uint64]Handler)
		}
		b.subscribers[t][id] = handler
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, t := range types {
				delete(b.subscribers[t], id)
			}
		})
	}
}

// Publish delivers event to every subscriber of its type. A panicking
// handler is logged and does not affect the others.
func (b *Bus) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type]))
	for _, h := range b.subscribers[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

// Subscribers returns the number of handlers subscribed to t
func (b *Bus) Subscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[t])
}

func (b *Bus) deliver(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
