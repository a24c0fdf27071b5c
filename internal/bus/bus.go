// Package bus provides the event bus the orchestrator publishes
// observability events on. The orchestrator holds a Bus by composition and
// exposes Subscribe/Emit, keeping the event contract explicit instead of
// inheriting an emitter base.
package bus

import (
	"sync"
	"time"
)

// Event types emitted by the orchestrator and its components.
const (
	EventStarted        = "started"
	EventStopping       = "stopping"
	EventStopped        = "stopped"
	EventTaskComplete   = "task:complete"
	EventTaskError      = "task:error"
	EventModuleDisabled = "module:disabled"
	EventModuleEnabled  = "module:enabled"

	EventBrowserConnected    = "browser:connected"
	EventBrowserDisconnected = "browser:disconnected"
	EventBrowserError        = "browser:error"
)

// Event is one observability event.
type Event struct {
	Type      string         `json:"type"`
	Module    string         `json:"module,omitempty"`
	Action    string         `json:"action,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine and must not block.
type Handler func(Event)

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

// New creates an event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Emit delivers an event to every subscriber. The timestamp is filled in
// if unset.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, h := range subs {
		h(e)
	}
}

// SubscriberCount returns the number of registered handlers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
