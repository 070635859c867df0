package types

import (
	"sync"
	"time"
)

type EventType string

const (
	EventHit               EventType = "hit"
	EventMiss              EventType = "miss"
	EventSet               EventType = "set"
	EventDelete            EventType = "delete"
	EventClear             EventType = "clear"
	EventRefresh           EventType = "refresh"
	EventInvalidation      EventType = "invalidation"
	EventError             EventType = "error"
	EventMetricsAggregated EventType = "metrics:aggregated"
	EventMetricsReset      EventType = "metrics:reset"
)

// Event is a single cache observation delivered to subscribed listeners.
type Event struct {
	Type      EventType     `json:"type"`
	Key       string        `json:"key,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Stale     bool          `json:"stale,omitempty"`
	Count     int           `json:"count,omitempty"`
	SizeBytes int           `json:"size_bytes,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Err       error         `json:"-"`
	Timestamp time.Time     `json:"timestamp"`
}

type EventListener func(Event)

// EventSource is anything observable: the manager, the invalidator through
// the manager, and the monitor all expose it.
type EventSource interface {
	On(event EventType, listener EventListener)
}

// EventEmitter is a per-instance observer list. There is deliberately no
// package-level bus: every manager owns its own emitter and listeners.
type EventEmitter struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	all       []EventListener
}

func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers a listener for one event type, or for every event when the
// event is "*". Listeners are invoked synchronously on the emitting
// goroutine and must not block.
func (e *EventEmitter) On(event EventType, listener EventListener) {
	if listener == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if event == "*" {
		e.all = append(e.all, listener)
		return
	}
	e.listeners[event] = append(e.listeners[event], listener)
}

func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	typed := e.listeners[event.Type]
	all := e.all
	e.mu.RUnlock()

	for _, l := range typed {
		l(event)
	}
	for _, l := range all {
		l(event)
	}
}
