package dispatch

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"syreclabs.com/go/faker"
)

func testBuilder(e *Event) *NotificationBuilder {
	start := time.Now()
	return NewNotificationBuilder().
		WithEvent(e).
		WithNamespace(NamespaceGlobal).
		WithStart(start).
		WithEnd(start.Add(time.Millisecond))
}

func TestNotificationBuilderMissingFields(t *testing.T) {
	_, err := NewNotificationBuilder().Build()
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("build on empty builder: %v", err)
	}
	for _, field := range []string{"end", "event", "namespace", "start"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name %q", err, field)
		}
	}

	// A started build is still incomplete without the end stamp.
	_, err = NewNotificationBuilder().
		WithEvent(NewEvent(faker.Lorem().Word(), nil)).
		WithNamespace(NamespaceGlobal).
		WithStart(time.Now()).
		Build()
	if !errors.Is(err, ErrMissingField) || !strings.Contains(err.Error(), "end") {
		t.Errorf("build without end: %v", err)
	}
}

func TestNotificationBuilderSealed(t *testing.T) {
	b := testBuilder(NewEvent(faker.Lorem().Word(), nil))
	b.WithContent("f", 1)
	n, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if _, err := b.Build(); !errors.Is(err, ErrBuilderSealed) {
		t.Errorf("second build: %v", err)
	}

	// Mutations after Build are no-ops.
	b.WithContent("g", 2).WithStatus(StatusFailure)
	if n.Contains("g") {
		t.Error("sealed builder mutated the notification")
	}
	if n.Status() != StatusSuccess {
		t.Errorf("status got:%s, expected:%s", n.Status(), StatusSuccess)
	}
}

func TestNotificationStatusSticky(t *testing.T) {
	b := testBuilder(NewEvent(faker.Lorem().Word(), nil))
	b.WithStatus(StatusFailure)
	b.WithStatus(StatusSuccess)
	n, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if n.Status() != StatusFailure {
		t.Errorf("status got:%s, expected:%s", n.Status(), StatusFailure)
	}
}

func TestNotificationContentOrder(t *testing.T) {
	b := testBuilder(NewEvent(faker.Lorem().Word(), nil))
	b.WithContent("first", 1)
	b.WithContent("second", 2)
	b.WithContent("first", 10) // overwrite keeps position
	n, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if diff := cmp.Diff([]string{"first", "second"}, n.FunctionNames()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{10, 2}, n.FunctionResults()); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if v, ok := n.Value("first"); !ok || v != 10 {
		t.Errorf("value got:%v, expected:10", v)
	}
}

func TestOneAndOnlyResult(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		n, err := testBuilder(NewEvent(faker.Lorem().Word(), nil)).Build()
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		v, err := n.OneAndOnlyResult()
		if err != nil || v != nil {
			t.Errorf("got:%v, %v, expected:nil, nil", v, err)
		}
	})

	t.Run("single", func(t *testing.T) {
		b := testBuilder(NewEvent(faker.Lorem().Word(), nil))
		n, err := b.WithContent("f", 42).Build()
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		v, err := n.OneAndOnlyResult()
		if err != nil || v != 42 {
			t.Errorf("got:%v, %v, expected:42, nil", v, err)
		}
	})

	t.Run("ambiguous", func(t *testing.T) {
		b := testBuilder(NewEvent(faker.Lorem().Word(), nil))
		n, err := b.WithContent("f", 1).WithContent("g", 2).Build()
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if _, err := n.OneAndOnlyResult(); !errors.Is(err, ErrAmbiguousResult) {
			t.Errorf("got:%v, expected ErrAmbiguousResult", err)
		}
	})
}

func TestNotificationErrors(t *testing.T) {
	cause := errors.New("boom")
	b := testBuilder(NewEvent(faker.Lorem().Word(), nil))
	b.WithError(HandlerError{
		FunctionID: NewID(),
		Handler:    "f",
		Namespace:  NamespaceGlobal,
		Err:        cause,
	})
	n, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if n.Status() != StatusFailure {
		t.Errorf("status got:%s, expected:%s", n.Status(), StatusFailure)
	}
	if !n.HasErrors() || len(n.Errors()) != 1 {
		t.Fatalf("errors got:%d, expected:1", len(n.Errors()))
	}

	handleErr := n.Handle()
	if handleErr == nil {
		t.Fatal("Handle returned nil with recorded errors")
	}
	if !errors.Is(handleErr, cause) {
		t.Errorf("Handle does not wrap the cause: %v", handleErr)
	}
	var he *HandlerError
	if !errors.As(handleErr, &he) || he.Handler != "f" {
		t.Errorf("Handle does not expose the handler error: %v", handleErr)
	}
}

func TestNotificationDuration(t *testing.T) {
	start := time.Now()
	end := start.Add(25 * time.Millisecond)
	n, err := NewNotificationBuilder().
		WithEvent(NewEvent(faker.Lorem().Word(), nil)).
		WithNamespace(NamespaceLocal).
		WithStart(start).
		WithEnd(end).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if n.Duration() != 25*time.Millisecond {
		t.Errorf("duration got:%s, expected:25ms", n.Duration())
	}
	if n.Start() != start || n.End() != end {
		t.Errorf("timestamps got:%v/%v, expected:%v/%v", n.Start(), n.End(), start, end)
	}
}

func TestNotificationIDSource(t *testing.T) {
	ids := NewSequence()
	for i := 0; i < 3; i++ {
		n, err := testBuilder(NewEvent(faker.Lorem().Word(), nil)).
			WithIDSource(ids).
			Build()
		if err != nil {
			t.Fatalf("build failed: %v", err)
		}
		if want := BaseID + int64(i); n.ID() != want {
			t.Errorf("id got:%d, expected:%d", n.ID(), want)
		}
	}
}
