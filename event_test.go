package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

func init() {
	faker.Seed(time.Now().UnixNano())
}

func TestNewEvent(t *testing.T) {
	name := faker.Lorem().Word()
	data := map[string]any{"user": faker.Name().Name(), "count": 3}
	e := NewEvent(name, data)

	if e.Name() != name {
		t.Errorf("name got:%s, expected:%s", e.Name(), name)
	}
	if e.Code() == "" {
		t.Error("code is empty")
	}
	if e.ID() < BaseID {
		t.Errorf("id %d below base %d", e.ID(), BaseID)
	}
	if !e.LastNotified().IsZero() {
		t.Errorf("last notified on fresh event: %v", e.LastNotified())
	}
	if diff := cmp.Diff(data, e.Data()); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}

	// The payload is copied at construction.
	data["user"] = "changed"
	if v, _ := e.Value("user"); v == "changed" {
		t.Error("event payload aliases the input map")
	}
}

func TestEventIdentity(t *testing.T) {
	name := faker.Lorem().Word()
	a := NewEvent(name, nil)
	b := NewEvent(name, nil)

	if a.ID() == b.ID() {
		t.Errorf("ids not unique: %d", a.ID())
	}
	if a.Code() == b.Code() {
		t.Errorf("codes not unique: %s", a.Code())
	}
	if !a.Equal(a) {
		t.Error("event not equal to itself")
	}
	if a.Equal(b) {
		t.Errorf("distinct events compare equal: %s, %s", a, b)
	}
	if a.Equal(nil) {
		t.Error("event equal to nil")
	}
}

func TestEventPayload(t *testing.T) {
	e := NewEvent(faker.Lorem().Word(), nil)
	if !e.IsEmpty() {
		t.Error("fresh event not empty")
	}

	e.Set("key", 42)
	if !e.Contains("key") {
		t.Error("payload missing key after Set")
	}
	if v, ok := e.Value("key"); !ok || v != 42 {
		t.Errorf("value got:%v, expected:42", v)
	}
	if e.IsEmpty() {
		t.Error("event empty after Set")
	}

	// Data returns a copy.
	e.Data()["key"] = "changed"
	if v, _ := e.Value("key"); v != 42 {
		t.Errorf("Data copy aliases the payload: %v", v)
	}

	e.Clear()
	if !e.IsEmpty() || e.Contains("key") {
		t.Error("payload not empty after Clear")
	}
}

func TestEventBuilder(t *testing.T) {
	if _, err := NewEventBuilder().Build(); !errors.Is(err, ErrMissingField) {
		t.Errorf("build without name: %v", err)
	}

	name := faker.Lorem().Word()
	e, err := NewEventBuilder().
		WithName(name).
		WithData(map[string]any{"a": 1}).
		WithData(map[string]any{"b": 2}).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if e.Name() != name {
		t.Errorf("name got:%s, expected:%s", e.Name(), name)
	}
	want := map[string]any{"a": 1, "b": 2}
	if diff := cmp.Diff(want, e.Data()); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestEventBuilderIDSource(t *testing.T) {
	ids := NewSequence()
	for i := 0; i < 3; i++ {
		e, err := NewEventBuilder().
			WithName(faker.Lorem().Word()).
			WithIDSource(ids).
			Build()
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if want := BaseID + int64(i); e.ID() != want {
			t.Errorf("id got:%d, expected:%d", e.ID(), want)
		}
	}
}
