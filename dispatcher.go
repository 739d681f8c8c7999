package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/rbaliyan/dispatch/history"
)

// EventRef names the event a subscription attaches to, either by name or by
// an existing Event. Use ByName or ByEvent to construct one.
type EventRef struct {
	name  string
	event *Event
}

// ByName references an event by name. Subscribing through it does not require
// the event to have been dispatched or created first.
func ByName(name string) EventRef {
	return EventRef{name: name}
}

// ByEvent references an existing event.
func ByEvent(e *Event) EventRef {
	return EventRef{event: e}
}

// Name returns the referenced event name.
func (r EventRef) Name() string {
	if r.event != nil {
		return r.event.Name()
	}
	return r.name
}

// Dispatcher routes events to the handlers subscribed to them. It keeps one
// subscription registry per event name, created lazily on first subscribe,
// and aggregates each dispatch pass into a Notification.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	name   string
	logger *slog.Logger

	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool

	clock   func() time.Time
	ids     IDSource
	limiter *rate.Limiter
	history history.Store

	mu         sync.RWMutex
	registries map[string]*Subscription
}

// New creates a dispatcher with the given options.
func New(opts ...Option) *Dispatcher {
	cfg := newConfig(opts...)
	return &Dispatcher{
		name:            "dispatch",
		logger:          cfg.logger.With("component", "dispatcher"),
		tracingEnabled:  cfg.tracingEnabled,
		metricsEnabled:  cfg.metricsEnabled,
		recoveryEnabled: cfg.recoveryEnabled,
		clock:           cfg.clock,
		ids:             cfg.ids,
		limiter:         cfg.limiter,
		history:         cfg.history,
		registries:      make(map[string]*Subscription),
	}
}

// registry returns the subscription registry for the event name, creating it
// when create is set.
func (d *Dispatcher) registry(name string, create bool) *Subscription {
	d.mu.RLock()
	reg, ok := d.registries[name]
	d.mu.RUnlock()
	if ok || !create {
		return reg
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if reg, ok = d.registries[name]; ok {
		return reg
	}
	reg = NewSubscription(
		WithSubscriptionRecovery(d.recoveryEnabled),
		WithSubscriptionClock(d.clock),
		WithSubscriptionLogger(d.logger))
	d.registries[name] = reg
	return reg
}

// Registry returns the subscription registry for the event name, if one
// exists.
func (d *Dispatcher) Registry(name string) (*Subscription, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.registries[name]
	return reg, ok
}

// Events returns the event names that currently have a registry, sorted.
func (d *Dispatcher) Events() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.registries))
	for name := range d.registries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe registers a handler for the referenced event under the namespace
// and returns its functionID handle.
func (d *Dispatcher) Subscribe(ref EventRef, handler Handler, namespace string, opts ...SubscribeOption) (string, error) {
	name := ref.Name()
	if name == "" {
		return "", fmt.Errorf("%w: event", ErrMissingField)
	}

	if d.metricsEnabled {
		meter := otel.Meter(d.name)
		subscribed, _ := meter.Int64Counter("dispatch.subscriptions",
			metric.WithDescription("Total number of subscriptions"))
		subscribed.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String(spanKeyEventName, name)))
	}

	return d.registry(name, true).Subscribe(namespace, handler, opts...)
}

// BulkSubscribe registers one handler for several events in one call,
// returning the functionID handles in event order. The first failure stops
// the batch; the handles registered so far are returned with the error.
func (d *Dispatcher) BulkSubscribe(refs []EventRef, handler Handler, namespace string, opts ...SubscribeOption) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := d.Subscribe(ref, handler, namespace, opts...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Dispatch runs every handler subscribed to the event under the namespace and
// returns the aggregated notification. An event with no registry still yields
// a successful empty notification. Handler failures never fail the dispatch;
// they are recorded on the notification.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event, namespace string, args ...any) (*Notification, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: event", ErrMissingField)
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dispatch rate limit: %w", err)
		}
	}

	if d.metricsEnabled {
		meter := otel.Meter(d.name)
		dispatched, _ := meter.Int64Counter("dispatch.events",
			metric.WithDescription("Total number of events dispatched"))
		dispatched.Add(ctx, 1, metric.WithAttributes(
			attribute.String(spanKeyEventName, event.Name()),
			attribute.String(spanKeyNamespace, namespace)))
	}

	if d.tracingEnabled {
		tracer := otel.Tracer(d.name)
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("%s.dispatch", event.Name()),
			trace.WithAttributes(
				attribute.Int64(spanKeyEventID, event.ID()),
				attribute.String(spanKeyEventCode, event.Code()),
				attribute.String(spanKeyEventName, event.Name()),
				attribute.String(spanKeyNamespace, namespace)),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	builder := NewNotificationBuilder().
		WithIDSource(d.ids).
		WithEvent(event).
		WithNamespace(namespace).
		WithStart(d.clock())

	if reg := d.registry(event.Name(), false); reg != nil {
		builder = reg.Dispatch(ctx, event, builder, namespace, args...)
	}

	n, err := builder.WithEnd(d.clock()).Build()
	if err != nil {
		return nil, err
	}

	if d.metricsEnabled {
		meter := otel.Meter(d.name)
		handlers, _ := meter.Int64Counter("dispatch.handlers",
			metric.WithDescription("Total number of handler invocations"))
		handlers.Add(ctx, int64(len(n.FunctionNames())+len(n.Errors())), metric.WithAttributes(
			attribute.String(spanKeyEventName, event.Name())))
		if n.HasErrors() {
			failures, _ := meter.Int64Counter("dispatch.errors",
				metric.WithDescription("Total number of handler failures"))
			failures.Add(ctx, int64(len(n.Errors())), metric.WithAttributes(
				attribute.String(spanKeyEventName, event.Name())))
		}
	}

	if d.tracingEnabled {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.Int64(spanKeyNotificationID, n.ID()))
	}

	d.record(ctx, n)
	return n, nil
}

// BulkDispatch dispatches several events under the same namespace. Each
// dispatch is independent: a failure in one does not stop the rest. The
// notifications produced are returned together with the joined errors, in
// event order with failed dispatches omitted.
func (d *Dispatcher) BulkDispatch(ctx context.Context, events []*Event, namespace string, args ...any) ([]*Notification, error) {
	notifications := make([]*Notification, 0, len(events))
	var errs []error
	for _, event := range events {
		n, err := d.Dispatch(ctx, event, namespace, args...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		notifications = append(notifications, n)
	}
	return notifications, errors.Join(errs...)
}

// record writes the notification to the history store. Recording is best
// effort: failures are logged and never fail the dispatch.
func (d *Dispatcher) record(ctx context.Context, n *Notification) {
	if d.history == nil {
		return
	}
	errs := n.Errors()
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		messages = append(messages, e.Error())
	}
	entry := &history.Entry{
		NotificationID: n.ID(),
		EventID:        n.Event().ID(),
		EventCode:      n.Event().Code(),
		EventName:      n.Event().Name(),
		Namespace:      n.Namespace(),
		Status:         string(n.Status()),
		Handlers:       n.FunctionNames(),
		Errors:         messages,
		StartedAt:      n.Start(),
		EndedAt:        n.End(),
		Duration:       n.Duration(),
	}
	if err := d.history.Record(ctx, entry); err != nil {
		d.logger.Warn("history record failed",
			"event", n.Event().Name(),
			"notification", n.ID(),
			"error", err)
	}
}

// Unsubscribe removes subscriptions matching the selector across every
// registry. Exactly one selector field must be set.
func (d *Dispatcher) Unsubscribe(sel Selector) error {
	set := 0
	if sel.FunctionID != "" {
		set++
	}
	if sel.Namespace != "" {
		set++
	}
	if sel.Handler != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: function id, namespace or handler", ErrInvalidSelector)
	}
	switch {
	case sel.FunctionID != "":
		return d.UnsubscribeByFunctionID(sel.FunctionID)
	case sel.Namespace != "":
		return d.UnsubscribeByNamespace(sel.Namespace)
	default:
		return d.UnsubscribeByHandler(sel.Handler)
	}
}

// UnsubscribeByFunctionID removes the subscription with the given handle,
// whichever event it is registered under.
func (d *Dispatcher) UnsubscribeByFunctionID(functionID string) error {
	for _, reg := range d.snapshot() {
		if err := reg.UnsubscribeByFunctionID(functionID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: function id %q", ErrSubscriptionNotFound, functionID)
}

// UnsubscribeByEvent removes every subscription for the event and drops its
// registry.
func (d *Dispatcher) UnsubscribeByEvent(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.registries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEventNotFound, name)
	}
	reg.UnsubscribeAll()
	delete(d.registries, name)
	return nil
}

// UnsubscribeByHandler removes every subscription with the registered handler
// name, across all events and namespaces. It fails only when the handler is
// registered nowhere.
func (d *Dispatcher) UnsubscribeByHandler(name string) error {
	found := false
	for _, reg := range d.snapshot() {
		if err := reg.UnsubscribeByHandler(name); err == nil {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: handler %q", ErrSubscriptionNotFound, name)
	}
	return nil
}

// UnsubscribeByNamespace removes every subscription under the namespace,
// across all events. It fails only when no event holds the namespace.
func (d *Dispatcher) UnsubscribeByNamespace(namespace string) error {
	found := false
	for _, reg := range d.snapshot() {
		if err := reg.UnsubscribeByNamespace(namespace); err == nil {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrNamespaceNotFound, namespace)
	}
	return nil
}

// UnsubscribeAll removes every subscription and drops every registry.
func (d *Dispatcher) UnsubscribeAll() {
	d.mu.Lock()
	d.registries = make(map[string]*Subscription)
	d.mu.Unlock()
}

// BulkUnsubscribe removes subscriptions in bulk: function ids first, then
// events, handlers and namespaces. It returns one bool per removal in that
// order. The first failure stops the batch and is returned together with the
// results accumulated so far.
func (d *Dispatcher) BulkUnsubscribe(functionIDs, events, handlers, namespaces []string) ([]bool, error) {
	results := make([]bool, 0, len(functionIDs)+len(events)+len(handlers)+len(namespaces))
	run := func(remove func(string) error, keys []string) error {
		for _, key := range keys {
			err := remove(key)
			results = append(results, err == nil)
			if err != nil {
				return err
			}
		}
		return nil
	}
	if err := run(d.UnsubscribeByFunctionID, functionIDs); err != nil {
		return results, err
	}
	if err := run(d.UnsubscribeByEvent, events); err != nil {
		return results, err
	}
	if err := run(d.UnsubscribeByHandler, handlers); err != nil {
		return results, err
	}
	if err := run(d.UnsubscribeByNamespace, namespaces); err != nil {
		return results, err
	}
	return results, nil
}

// SubscribersForNamespace returns every subscriber registered under the
// namespace across all events, grouped by event name in sorted order.
func (d *Dispatcher) SubscribersForNamespace(namespace string) map[string][]Subscriber {
	d.mu.RLock()
	names := make([]string, 0, len(d.registries))
	for name := range d.registries {
		names = append(names, name)
	}
	regs := make(map[string]*Subscription, len(d.registries))
	for name, reg := range d.registries {
		regs[name] = reg
	}
	d.mu.RUnlock()

	sort.Strings(names)
	out := make(map[string][]Subscriber)
	for _, name := range names {
		if subscribers := regs[name].SubscribersForNamespace(namespace); len(subscribers) > 0 {
			out[name] = subscribers
		}
	}
	return out
}

// snapshot returns the current registries in sorted event-name order.
func (d *Dispatcher) snapshot() []*Subscription {
	d.mu.RLock()
	names := make([]string, 0, len(d.registries))
	for name := range d.registries {
		names = append(names, name)
	}
	sort.Strings(names)
	regs := make([]*Subscription, 0, len(names))
	for _, name := range names {
		regs = append(regs, d.registries[name])
	}
	d.mu.RUnlock()
	return regs
}

func (d *Dispatcher) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("Dispatcher(events=%d)", len(d.registries))
}
