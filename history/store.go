// Package history provides notification history sinks for the dispatcher.
//
// A history store records the outcome of completed dispatch passes for later
// inspection: which handlers ran, the aggregate status, the failures and the
// timings. The dispatcher core stays in-process and keeps no state across
// restarts; a history store is an opt-in observability sink wired with
// dispatch.WithHistory.
//
// Available implementations:
//   - MemoryStore: in-memory, for testing and development
//   - RedisStore: Redis-backed
//   - MongoStore: MongoDB-backed
package history

import (
	"context"
	"time"
)

// Entry is one recorded dispatch outcome.
type Entry struct {
	NotificationID int64         `json:"notification_id" bson:"notification_id"`
	EventID        int64         `json:"event_id" bson:"event_id"`
	EventCode      string        `json:"event_code" bson:"event_code"`
	EventName      string        `json:"event_name" bson:"event_name"`
	Namespace      string        `json:"namespace" bson:"namespace"`
	Status         string        `json:"status" bson:"status"`
	Handlers       []string      `json:"handlers,omitempty" bson:"handlers,omitempty"`
	Errors         []string      `json:"errors,omitempty" bson:"errors,omitempty"`
	StartedAt      time.Time     `json:"started_at" bson:"started_at"`
	EndedAt        time.Time     `json:"ended_at" bson:"ended_at"`
	Duration       time.Duration `json:"duration" bson:"duration"`
	RecordedAt     time.Time     `json:"recorded_at" bson:"recorded_at"`
}

// Filter specifies criteria for listing entries. All fields are optional; an
// empty filter matches everything.
type Filter struct {
	EventName string // Exact match on event name
	Namespace string // Exact match on namespace
	Status    string // Exact match on status ("success"/"failure")
	HasErrors *bool  // Filter by error presence (nil = ignore)

	Since time.Time // Entries started at or after this time
	Until time.Time // Entries started before this time

	// Cursor-based pagination
	Cursor string // Opaque cursor from previous page (empty for first page)
	Limit  int    // Max results per page (0 = DefaultLimit)
}

// Page is one page of entries with cursor-based pagination.
type Page struct {
	Entries []*Entry `json:"entries"`

	// NextCursor is the opaque cursor for the next page. Empty if there are
	// no more pages.
	NextCursor string `json:"next_cursor,omitempty"`

	HasMore bool `json:"has_more"`
}

// DefaultLimit is the default page size when Filter.Limit is 0.
const DefaultLimit = 100

// MaxLimit is the maximum allowed page size.
const MaxLimit = 1000

// EffectiveLimit returns the effective limit, applying defaults and bounds.
func (f *Filter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	if f.Limit > MaxLimit {
		return MaxLimit
	}
	return f.Limit
}

// matches reports whether the entry satisfies the non-pagination criteria.
func (f *Filter) matches(e *Entry) bool {
	if f.EventName != "" && e.EventName != f.EventName {
		return false
	}
	if f.Namespace != "" && e.Namespace != f.Namespace {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.HasErrors != nil && *f.HasErrors != (len(e.Errors) > 0) {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.StartedAt.Before(f.Until) {
		return false
	}
	return true
}

// Store persists dispatch history entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record appends one entry. Implementations stamp RecordedAt when zero.
	Record(ctx context.Context, entry *Entry) error

	// ByEvent returns every entry recorded for the event name, oldest first.
	ByEvent(ctx context.Context, eventName string) ([]*Entry, error)

	// List returns a page of entries matching the filter, oldest first.
	List(ctx context.Context, filter Filter) (*Page, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// DeleteOlderThan removes entries recorded more than age ago and returns
	// the number deleted.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)

	// Close releases store resources.
	Close(ctx context.Context) error
}
