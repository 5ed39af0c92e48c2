package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager emits typed events onto a bus. A nil *Manager discards events,
// so components can treat event emission as optional.
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates an event manager publishing to bus
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("component", "events").Logger(),
	}
}

// Bus returns the underlying bus
func (m *Manager) Bus() *Bus {
	if m == nil {
		return nil
	}
	return m.bus
}

// Emit publishes data from module
func (m *Manager) Emit(module string, data EventData) {
	if m == nil || data == nil {
		return
	}

	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	m.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", module).
		Msg("Emitting event")

	m.bus.Publish(event)
}
