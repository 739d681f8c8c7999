package history

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/dispatch/payload"
)

/*
Redis Schema:

Uses Redis lists and a set as the history log:
- List: {prefix}entries - all entries, oldest first
- List: {prefix}event:{event_name} - entries per event, oldest first
- Set:  {prefix}events - event names seen so far
*/

// RedisStore implements Store using Redis.
//
// Entries are encoded with a payload codec (JSON by default) and appended to
// lists, preserving recording order.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := history.NewRedisStore(client,
//	    history.WithCodec(payload.MsgPack{}),
//	    history.WithMaxLen(10000))
//
//	d := dispatch.New(dispatch.WithHistory(store))
type RedisStore struct {
	client      redis.Cmdable
	codec       payload.Codec
	allKey      string
	eventPrefix string
	eventsKey   string
	maxLen      int64
}

// RedisOption configures the Redis history store.
type RedisOption func(*RedisStore)

// WithCodec sets the codec used to encode entries. Default is JSON.
func WithCodec(codec payload.Codec) RedisOption {
	return func(s *RedisStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithKeyPrefix sets a custom key prefix. Default is "dispatch:history:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.allKey = prefix + "entries"
		s.eventPrefix = prefix + "event:"
		s.eventsKey = prefix + "events"
	}
}

// WithMaxLen caps the length of the combined entries list. Oldest entries are
// trimmed first. Per-event lists are not capped. Default is 0 (unbounded).
func WithMaxLen(maxLen int64) RedisOption {
	return func(s *RedisStore) {
		s.maxLen = maxLen
	}
}

// NewRedisStore creates a new Redis-backed history store.
func NewRedisStore(client redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:      client,
		codec:       payload.Default(),
		allKey:      "dispatch:history:entries",
		eventPrefix: "dispatch:history:event:",
		eventsKey:   "dispatch:history:events",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends one entry to the combined list and its event list.
func (s *RedisStore) Record(ctx context.Context, entry *Entry) error {
	entryCopy := *entry
	if entryCopy.RecordedAt.IsZero() {
		entryCopy.RecordedAt = time.Now()
	}
	data, err := s.codec.Encode(&entryCopy)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.allKey, data)
	pipe.RPush(ctx, s.eventPrefix+entryCopy.EventName, data)
	pipe.SAdd(ctx, s.eventsKey, entryCopy.EventName)
	if s.maxLen > 0 {
		pipe.LTrim(ctx, s.allKey, -s.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	return nil
}

// ByEvent returns every entry for the event name, oldest first.
func (s *RedisStore) ByEvent(ctx context.Context, eventName string) ([]*Entry, error) {
	return s.load(ctx, s.eventPrefix+eventName)
}

// List returns a page of entries matching the filter, oldest first. The
// cursor is the offset into the filtered sequence.
func (s *RedisStore) List(ctx context.Context, filter Filter) (*Page, error) {
	offset := 0
	if filter.Cursor != "" {
		n, err := strconv.Atoi(filter.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid cursor %q", filter.Cursor)
		}
		offset = n
	}
	limit := filter.EffectiveLimit()

	entries, err := s.load(ctx, s.allKey)
	if err != nil {
		return nil, err
	}
	var matched []*Entry
	for _, e := range entries {
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
func (s *RedisStore) Count(ctx context.Context, filter Filter) (int64, error) {
	entries, err := s.load(ctx, s.allKey)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, e := range entries {
		if filter.matches(e) {
			count++
		}
	}
	return count, nil
}

// DeleteOlderThan rewrites every list, keeping entries recorded within age.
func (s *RedisStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)

	events, err := s.client.SMembers(ctx, s.eventsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	keys := make([]string, 0, len(events)+1)
	keys = append(keys, s.allKey)
	for _, event := range events {
		keys = append(keys, s.eventPrefix+event)
	}

	var deleted int64
	for _, key := range keys {
		n, err := s.rewrite(ctx, key, cutoff)
		if err != nil {
			return deleted, err
		}
		if key == s.allKey {
			deleted = n
		}
	}
	return deleted, nil
}

// rewrite replaces the list at key with the entries recorded at or after
// cutoff, returning the number dropped.
func (s *RedisStore) rewrite(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("lrange %s: %w", key, err)
	}

	kept := make([]any, 0, len(raw))
	var deleted int64
	for _, item := range raw {
		var entry Entry
		if err := s.codec.Decode([]byte(item), &entry); err != nil {
			return deleted, fmt.Errorf("decode entry: %w", err)
		}
		if entry.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, item)
	}
	if deleted == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(kept) > 0 {
		pipe.RPush(ctx, key, kept...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return deleted, fmt.Errorf("rewrite %s: %w", key, err)
	}
	return deleted, nil
}

// load reads and decodes every entry in the list at key.
func (s *RedisStore) load(ctx context.Context, key string) ([]*Entry, error) {
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	entries := make([]*Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := s.codec.Decode([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisStore) Close(ctx context.Context) error {
	return nil
}

// Compile-time check.
var _ Store = (*RedisStore)(nil)
