package dispatch

import (
	"fmt"
	"sync"
	"time"
)

// Predefined namespaces. Any string is a valid namespace; these two are the
// conventional defaults.
const (
	// NamespaceGlobal groups subscriptions shared across the whole process.
	NamespaceGlobal = "global"

	// NamespaceLocal groups subscriptions scoped to one component.
	NamespaceLocal = "local"
)

// Event is a dispatchable event: an immutable identity (code, id, name) plus
// a mutable key/value payload. The payload map is guarded by a mutex so events
// may be shared between goroutines, but individual reads and writes are not
// transactional with respect to each other.
//
// The name is the registry lookup key; the code and id pin the identity of
// this particular instance. Two events are equal iff code, id and name all
// match.
type Event struct {
	code string
	id   int64
	name string

	mu           sync.RWMutex
	data         map[string]any
	lastNotified time.Time
}

// NewEvent creates an event with a fresh code and the next id from the
// package-level event sequence. The data map is copied; nil means empty.
func NewEvent(name string, data map[string]any) *Event {
	return newEvent(defaultEventIDs, name, data)
}

func newEvent(ids IDSource, name string, data map[string]any) *Event {
	e := &Event{
		code: ids.NewCode(),
		id:   ids.NextID(),
		name: name,
		data: make(map[string]any, len(data)),
	}
	for k, v := range data {
		e.data[k] = v
	}
	return e
}

// Code returns the unique event code.
func (e *Event) Code() string {
	return e.code
}

// ID returns the numeric event id.
func (e *Event) ID() int64 {
	return e.id
}

// Name returns the event name, the key under which subscriptions are indexed.
func (e *Event) Name() string {
	return e.name
}

// LastNotified returns the time of the last dispatch of this event, or the
// zero time if it was never dispatched.
func (e *Event) LastNotified() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastNotified
}

func (e *Event) setLastNotified(t time.Time) {
	e.mu.Lock()
	e.lastNotified = t
	e.mu.Unlock()
}

// Value returns the payload value for key.
func (e *Event) Value(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[key]
	return v, ok
}

// Set stores a payload value under key.
func (e *Event) Set(key string, value any) {
	e.mu.Lock()
	e.data[key] = value
	e.mu.Unlock()
}

// Contains reports whether the payload holds key.
func (e *Event) Contains(key string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.data[key]
	return ok
}

// Clear removes every payload entry.
func (e *Event) Clear() {
	e.mu.Lock()
	e.data = make(map[string]any)
	e.mu.Unlock()
}

// IsEmpty reports whether the payload is empty.
func (e *Event) IsEmpty() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data) == 0
}

// Data returns a copy of the payload map.
func (e *Event) Data() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	data := make(map[string]any, len(e.data))
	for k, v := range e.data {
		data[k] = v
	}
	return data
}

// Equal reports whether two events share the same identity: code, id and
// name all match. Payloads are not compared.
func (e *Event) Equal(other *Event) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.code == other.code && e.id == other.id && e.name == other.name
}

func (e *Event) String() string {
	return fmt.Sprintf("Event(code=%s, id=%d, name=%s)", e.code, e.id, e.name)
}

// EventBuilder accumulates event fields before construction. The name is
// required; Build fails with ErrMissingField without it.
type EventBuilder struct {
	name string
	data map[string]any
	ids  IDSource
}

// NewEventBuilder creates an empty event builder.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{}
}

// WithName sets the event name.
func (b *EventBuilder) WithName(name string) *EventBuilder {
	b.name = name
	return b
}

// WithData merges entries into the payload of the event being built.
func (b *EventBuilder) WithData(data map[string]any) *EventBuilder {
	if b.data == nil {
		b.data = make(map[string]any, len(data))
	}
	for k, v := range data {
		b.data[k] = v
	}
	return b
}

// WithIDSource sets the identifier source used at Build time. Defaults to the
// package-level event sequence.
func (b *EventBuilder) WithIDSource(ids IDSource) *EventBuilder {
	if ids != nil {
		b.ids = ids
	}
	return b
}

// Build creates the event.
func (b *EventBuilder) Build() (*Event, error) {
	if b.name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	ids := b.ids
	if ids == nil {
		ids = defaultEventIDs
	}
	return newEvent(ids, b.name, b.data), nil
}
