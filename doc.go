// Package dispatch provides a synchronous in-process publish/subscribe event
// dispatcher. Handlers are registered against named events within named
// namespaces; dispatching an event runs every matching handler on the calling
// goroutine, in priority order, and aggregates their results and failures into
// a single immutable Notification.
//
// Architecture:
//   - Event: immutable identity (code, id, name) with a mutable payload map
//   - Subscription: per-event registry mapping namespaces to ordered handlers
//   - Notification: the result record of one dispatch pass
//   - Dispatcher: facade owning one Subscription per event name
//
// Basic example:
//
//	event, err := dispatch.NewEventBuilder().
//	    WithName("order.created").
//	    WithData(map[string]any{"total": 42}).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	d := dispatch.New()
//
//	id, err := d.Subscribe(dispatch.ByEvent(event), func(ctx context.Context, e *dispatch.Event, args ...any) (any, error) {
//	    total, _ := e.Value("total")
//	    return total, nil
//	}, dispatch.NamespaceGlobal, dispatch.WithHandlerName("audit"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	n, err := d.Dispatch(ctx, event, dispatch.NamespaceGlobal)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := n.OneAndOnlyResult()
//
//	_ = d.UnsubscribeByFunctionID(id)
//
// Handler failures never abort a dispatch: a handler that returns an error (or
// panics, when recovery is enabled) is recorded in the Notification's error
// list and the remaining handlers still run. Callers inspect Status, Errors or
// Handle() to detect partial failure. Every other operation fails fast.
//
// Non-persistent subscriptions are retired after their first invocation;
// persistent ones fire on every dispatch. Within one namespace a handler name
// may be registered only once; functionID is the canonical handle for removal.
//
// Dispatcher Options:
//   - WithLogger: set a structured logger. Default is slog.Default().
//   - WithTracing: enable/disable OpenTelemetry spans per dispatch. Default is true.
//   - WithMetrics: enable/disable OpenTelemetry counters. Default is true.
//   - WithRecovery: enable/disable handler panic recovery. Default is true.
//   - WithIDSource: inject an identifier source for deterministic tests.
//   - WithClock: inject a clock for deterministic timestamps.
//   - WithRateLimiter: throttle dispatch passes with a golang.org/x/time limiter.
//   - WithHistory: record completed notifications to a history.Store sink.
//
// The dispatcher is safe for concurrent use. Dispatch snapshots the subscriber
// set before iterating: handlers subscribed mid-pass are not invoked until the
// next pass, and concurrent unsubscribes take effect from the next pass.
package dispatch
