package history

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// MemoryStore implements Store using in-memory storage.
//
// MemoryStore is primarily intended for testing and development. Data is lost
// on restart.
//
// Example:
//
//	store := history.NewMemoryStore()
//	defer store.Close(ctx)
//
//	d := dispatch.New(dispatch.WithHistory(store))
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	closed  bool
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends one entry.
func (s *MemoryStore) Record(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}

	entryCopy := *entry
	if entryCopy.RecordedAt.IsZero() {
		entryCopy.RecordedAt = time.Now()
	}
	entryCopy.Handlers = append([]string(nil), entry.Handlers...)
	entryCopy.Errors = append([]string(nil), entry.Errors...)
	s.entries = append(s.entries, &entryCopy)
	return nil
}

// ByEvent returns every entry for the event name, oldest first.
func (s *MemoryStore) ByEvent(ctx context.Context, eventName string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var entries []*Entry
	for _, e := range s.entries {
		if e.EventName == eventName {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// List returns a page of entries matching the filter, oldest first. The
// cursor is the offset into the filtered sequence.
func (s *MemoryStore) List(ctx context.Context, filter Filter) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	offset := 0
	if filter.Cursor != "" {
		n, err := strconv.Atoi(filter.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", filter.Cursor)
		}
		offset = n
	}
	limit := filter.EffectiveLimit()

	var matched []*Entry
	for _, e := range s.entries {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}

	page := &Page{}
	if offset >= len(matched) {
		return page, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Entries = matched[offset:end]
	if end < len(matched) {
		page.NextCursor = strconv.Itoa(end)
		page.HasMore = true
	}
	return page, nil
}

// Count returns the number of entries matching the filter.
func (s *MemoryStore) Count(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	var count int64
	for _, e := range s.entries {
		if filter.matches(e) {
			count++
		}
	}
	return count, nil
}

// DeleteOlderThan removes entries recorded more than age ago.
func (s *MemoryStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("store is closed")
	}

	cutoff := time.Now().Add(-age)
	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// Close marks the store closed. Further operations fail.
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.entries = nil
	s.mu.Unlock()
	return nil
}

// Compile-time check.
var _ Store = (*MemoryStore)(nil)
