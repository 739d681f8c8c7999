package dispatch

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// BaseID seeds every Sequence. Ids below this value never collide with
// dispatcher-assigned identifiers.
const BaseID int64 = 10000

// IDSource provides identifiers for dispatcher entities: monotonically
// increasing numeric ids and unique string codes.
// Implementations must be safe for concurrent use.
type IDSource interface {
	// NextID returns the next numeric id. Ids are strictly increasing.
	NextID() int64

	// NewCode returns a fresh unique string code.
	NewCode() string
}

// Sequence is the default IDSource: an atomic counter seeded at BaseID with
// uuid codes. Inject a fresh Sequence via WithIDSource (or the builders'
// WithIDSource) for deterministic ids in tests.
type Sequence struct {
	next atomic.Int64
}

// NewSequence creates a Sequence starting at BaseID.
func NewSequence() *Sequence {
	s := &Sequence{}
	s.next.Store(BaseID)
	return s
}

// NextID returns the next id and advances the counter.
func (s *Sequence) NextID() int64 {
	return s.next.Add(1) - 1
}

// NewCode returns a fresh uuid string.
func (s *Sequence) NewCode() string {
	return NewID()
}

// NewID generates a new unique ID.
func NewID() string {
	return uuid.NewString()
}

// Package-level defaults. Each entity kind advances its own counter, so event,
// notification and registry ids are independently monotonic.
var (
	defaultEventIDs        = NewSequence()
	defaultNotificationIDs = NewSequence()
	defaultRegistryIDs     = NewSequence()
)
