package dispatch

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the outcome of one dispatch pass.
type Status string

const (
	// StatusSuccess indicates no handler failed during the pass.
	StatusSuccess Status = "success"

	// StatusFailure indicates at least one handler failed. Failure is sticky:
	// handlers succeeding later in the same pass do not reset it.
	StatusFailure Status = "failure"
)

// Notification is the immutable result record of one dispatch call. It holds
// the per-handler results keyed by handler name, the collected handler
// errors, the aggregate status and the pass timestamps.
type Notification struct {
	id        int64
	event     *Event
	namespace string
	content   map[string]any
	names     []string
	errors    []HandlerError
	status    Status
	start     time.Time
	end       time.Time
}

// ID returns the numeric notification id.
func (n *Notification) ID() int64 {
	return n.id
}

// Event returns the dispatched event.
func (n *Notification) Event() *Event {
	return n.event
}

// Namespace returns the namespace the dispatch ran in.
func (n *Notification) Namespace() string {
	return n.namespace
}

// Status returns the aggregate status of the pass.
func (n *Notification) Status() Status {
	return n.status
}

// Start returns the time the dispatch began.
func (n *Notification) Start() time.Time {
	return n.start
}

// End returns the time the dispatch completed.
func (n *Notification) End() time.Time {
	return n.end
}

// Duration returns end minus start. End is stamped after start by
// construction, so the duration is never negative.
func (n *Notification) Duration() time.Duration {
	return n.end.Sub(n.start)
}

// Value returns the result recorded under the given handler name.
func (n *Notification) Value(name string) (any, bool) {
	v, ok := n.content[name]
	return v, ok
}

// Contains reports whether a result was recorded under the handler name.
func (n *Notification) Contains(name string) bool {
	_, ok := n.content[name]
	return ok
}

// Content returns a copy of the result map.
func (n *Notification) Content() map[string]any {
	content := make(map[string]any, len(n.content))
	for k, v := range n.content {
		content[k] = v
	}
	return content
}

// FunctionNames returns the handler names that contributed a result, in
// invocation order.
func (n *Notification) FunctionNames() []string {
	return append([]string(nil), n.names...)
}

// FunctionResults returns the recorded results in invocation order.
func (n *Notification) FunctionResults() []any {
	results := make([]any, 0, len(n.names))
	for _, name := range n.names {
		results = append(results, n.content[name])
	}
	return results
}

// OneAndOnlyResult returns the single recorded result. Empty content returns
// nil without error; more than one entry fails with ErrAmbiguousResult.
func (n *Notification) OneAndOnlyResult() (any, error) {
	switch len(n.names) {
	case 0:
		return nil, nil
	case 1:
		return n.content[n.names[0]], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousResult, strings.Join(n.names, ", "))
	}
}

// Errors returns a copy of the collected handler errors, in occurrence order.
func (n *Notification) Errors() []HandlerError {
	return append([]HandlerError(nil), n.errors...)
}

// HasErrors reports whether any handler failed during the pass.
func (n *Notification) HasErrors() bool {
	return len(n.errors) > 0
}

// Handle fails if any handler error was recorded, returning the first one
// wrapped with the total count. It is the terse way for callers to treat
// partial failure as failure.
func (n *Notification) Handle() error {
	if len(n.errors) == 0 {
		return nil
	}
	return fmt.Errorf("notification has %d error(s): %w", len(n.errors), &n.errors[0])
}

func (n *Notification) String() string {
	return fmt.Sprintf("Notification(id=%d, event=%s, namespace=%s, status=%s, handlers=%d, errors=%d, duration=%s)",
		n.id, n.event.Name(), n.namespace, n.status, len(n.names), len(n.errors), n.Duration())
}

// NotificationBuilder accumulates the outcome of one dispatch pass. The
// registry populates it as handlers fire; Dispatch finalizes it with Build.
//
// Required fields: start, end, event and namespace. Failure status is sticky:
// once a failure is recorded the status cannot revert to success for this
// build. After Build the builder is sealed and further use fails with
// ErrBuilderSealed.
type NotificationBuilder struct {
	ids       IDSource
	event     *Event
	namespace string
	hasNS     bool
	start     time.Time
	hasStart  bool
	end       time.Time
	hasEnd    bool
	content   map[string]any
	names     []string
	errors    []HandlerError
	failed    bool
	sealed    bool
}

// NewNotificationBuilder creates an empty notification builder.
func NewNotificationBuilder() *NotificationBuilder {
	return &NotificationBuilder{}
}

// WithIDSource sets the identifier source used at Build time. Defaults to the
// package-level notification sequence.
func (b *NotificationBuilder) WithIDSource(ids IDSource) *NotificationBuilder {
	if ids != nil {
		b.ids = ids
	}
	return b
}

// WithStart stamps the dispatch start time.
func (b *NotificationBuilder) WithStart(t time.Time) *NotificationBuilder {
	if b.sealed {
		return b
	}
	b.start = t
	b.hasStart = true
	return b
}

// WithEnd stamps the dispatch end time.
func (b *NotificationBuilder) WithEnd(t time.Time) *NotificationBuilder {
	if b.sealed {
		return b
	}
	b.end = t
	b.hasEnd = true
	return b
}

// WithEvent attaches the dispatched event.
func (b *NotificationBuilder) WithEvent(e *Event) *NotificationBuilder {
	if b.sealed {
		return b
	}
	b.event = e
	return b
}

// WithNamespace sets the namespace the dispatch ran in.
func (b *NotificationBuilder) WithNamespace(namespace string) *NotificationBuilder {
	if b.sealed {
		return b
	}
	b.namespace = namespace
	b.hasNS = true
	return b
}

// WithContent records one handler result under the handler name. A repeated
// name overwrites the previous result and keeps its original position.
func (b *NotificationBuilder) WithContent(name string, result any) *NotificationBuilder {
	if b.sealed {
		return b
	}
	if b.content == nil {
		b.content = make(map[string]any)
	}
	if _, ok := b.content[name]; !ok {
		b.names = append(b.names, name)
	}
	b.content[name] = result
	return b
}

// WithError appends one handler error and marks the build failed.
func (b *NotificationBuilder) WithError(err HandlerError) *NotificationBuilder {
	if b.sealed {
		return b
	}
	b.errors = append(b.errors, err)
	b.failed = true
	return b
}

// WithStatus records a status. Failure is sticky: setting StatusSuccess after
// a failure has been recorded is a no-op.
func (b *NotificationBuilder) WithStatus(status Status) *NotificationBuilder {
	if b.sealed {
		return b
	}
	if status == StatusFailure {
		b.failed = true
	}
	return b
}

// Build finalizes the notification and seals the builder. It fails with
// ErrMissingField when any required field is absent and with ErrBuilderSealed
// if the builder was already built.
func (b *NotificationBuilder) Build() (*Notification, error) {
	if b.sealed {
		return nil, ErrBuilderSealed
	}
	var missing []string
	if !b.hasEnd {
		missing = append(missing, "end")
	}
	if b.event == nil {
		missing = append(missing, "event")
	}
	if !b.hasNS {
		missing = append(missing, "namespace")
	}
	if !b.hasStart {
		missing = append(missing, "start")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	ids := b.ids
	if ids == nil {
		ids = defaultNotificationIDs
	}
	status := StatusSuccess
	if b.failed {
		status = StatusFailure
	}

	b.sealed = true
	return &Notification{
		id:        ids.NextID(),
		event:     b.event,
		namespace: b.namespace,
		content:   b.content,
		names:     b.names,
		errors:    b.errors,
		status:    status,
		start:     b.start,
		end:       b.end,
	}, nil
}
