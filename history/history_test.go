package history

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testEntry(event, namespace, status string, started time.Time) *Entry {
	return &Entry{
		NotificationID: 10000,
		EventID:        10000,
		EventCode:      "code-" + event,
		EventName:      event,
		Namespace:      namespace,
		Status:         status,
		Handlers:       []string{"f"},
		StartedAt:      started,
		EndedAt:        started.Add(time.Millisecond),
		Duration:       time.Millisecond,
	}
}

func TestMemoryStoreRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close(ctx)

	entry := testEntry("orders", "global", "success", time.Now())
	if err := store.Record(ctx, entry); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	entries, err := store.ByEvent(ctx, "orders")
	if err != nil {
		t.Fatalf("by event failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries got:%d, expected:1", len(entries))
	}
	if entries[0].RecordedAt.IsZero() {
		t.Error("recorded at not stamped")
	}
	if entries[0].EventCode != "code-orders" {
		t.Errorf("event code got:%s", entries[0].EventCode)
	}

	// The stored entry is a copy.
	entry.Handlers[0] = "changed"
	if entries[0].Handlers[0] != "f" {
		t.Error("stored entry aliases the recorded one")
	}

	if got, err := store.ByEvent(ctx, "unknown"); err != nil || len(got) != 0 {
		t.Errorf("unknown event got:%v, %v", got, err)
	}
}

func TestMemoryStoreListFilter(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close(ctx)

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	seed := []*Entry{
		testEntry("orders", "global", "success", base),
		testEntry("orders", "local", "failure", base.Add(time.Minute)),
		testEntry("payments", "global", "success", base.Add(2*time.Minute)),
	}
	seed[1].Errors = []string{"boom"}
	for _, e := range seed {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	cases := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"by event", Filter{EventName: "orders"}, 2},
		{"by namespace", Filter{Namespace: "global"}, 2},
		{"by status", Filter{Status: "failure"}, 1},
		{"with errors", Filter{HasErrors: ptr(true)}, 1},
		{"without errors", Filter{HasErrors: ptr(false)}, 2},
		{"since", Filter{Since: base.Add(time.Minute)}, 2},
		{"until", Filter{Until: base.Add(time.Minute)}, 1},
		{"window", Filter{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := store.List(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(page.Entries) != tc.want {
				t.Errorf("entries got:%d, expected:%d", len(page.Entries), tc.want)
			}
			count, err := store.Count(ctx, tc.filter)
			if err != nil {
				t.Fatalf("count failed: %v", err)
			}
			if count != int64(tc.want) {
				t.Errorf("count got:%d, expected:%d", count, tc.want)
			}
		})
	}
}

func TestMemoryStorePagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close(ctx)

	base := time.Now()
	for i := 0; i < 5; i++ {
		e := testEntry("orders", "global", "success", base.Add(time.Duration(i)*time.Second))
		e.NotificationID = int64(10000 + i)
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	var ids []int64
	cursor := ""
	pages := 0
	for {
		page, err := store.List(ctx, Filter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		for _, e := range page.Entries {
			ids = append(ids, e.NotificationID)
		}
		pages++
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	if pages != 3 {
		t.Errorf("pages got:%d, expected:3", pages)
	}
	want := []int64{10000, 10001, 10002, 10003, 10004}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	if _, err := store.List(ctx, Filter{Cursor: "bogus"}); err == nil {
		t.Error("invalid cursor accepted")
	}
}

func TestMemoryStoreDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close(ctx)

	old := testEntry("orders", "global", "success", time.Now())
	old.RecordedAt = time.Now().Add(-2 * time.Hour)
	fresh := testEntry("orders", "global", "success", time.Now())
	for _, e := range []*Entry{old, fresh} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	deleted, err := store.DeleteOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted got:%d, expected:1", deleted)
	}
	count, err := store.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count got:%d, expected:1", count)
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := store.Record(ctx, testEntry("orders", "global", "success", time.Now())); err == nil {
		t.Error("record on closed store succeeded")
	}
	if _, err := store.List(ctx, Filter{}); err == nil {
		t.Error("list on closed store succeeded")
	}
}

func TestEffectiveLimit(t *testing.T) {
	cases := []struct {
		limit int
		want  int
	}{
		{0, DefaultLimit},
		{-1, DefaultLimit},
		{10, 10},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.limit), func(t *testing.T) {
			f := Filter{Limit: tc.limit}
			if got := f.EffectiveLimit(); got != tc.want {
				t.Errorf("got:%d, expected:%d", got, tc.want)
			}
		})
	}
}

func ptr(b bool) *bool {
	return &b
}
