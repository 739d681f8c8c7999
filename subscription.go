package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// Handler is a subscriber callback. It receives the dispatched event and any
// extra dispatch arguments, and returns a result that is recorded into the
// notification under the handler's registered name. A non-nil error (or a
// panic, when recovery is enabled) is recorded as a HandlerError and never
// propagated to the dispatching caller.
type Handler func(ctx context.Context, e *Event, args ...any) (any, error)

// Subscriber describes one registered handler as seen from outside the
// registry.
type Subscriber struct {
	FunctionID string
	Handler    Handler
	Name       string
	Persistent bool
	Priority   int
}

// Selector identifies subscriptions for removal or lookup. Exactly one field
// must be set.
type Selector struct {
	// FunctionID selects the single subscription with this handle.
	FunctionID string

	// Namespace selects every subscription registered under this namespace.
	Namespace string

	// Handler selects every subscription whose registered handler name
	// matches, across all namespaces.
	Handler string
}

// entry is one stored subscription.
type entry struct {
	handler    Handler
	name       string
	persistent bool
	priority   int
}

// Subscription indexes the handlers registered for one event name. It keeps a
// double index: functionID to entry for O(1) handle lookups, and namespace to
// an ordered functionID list for dispatch. Every functionID in a namespace
// list resolves in the entry map; an emptied namespace list is pruned.
//
// Subscription is safe for concurrent use. Dispatch snapshots the namespace's
// id list before iterating, so handlers that subscribe or unsubscribe during
// a pass cannot corrupt it: new subscribers are not invoked in the running
// pass and removals take effect from the next pass.
type Subscription struct {
	id int64

	mu         sync.RWMutex
	entries    map[string]*entry
	namespaces map[string][]string

	recovery bool
	clock    func() time.Time
	logger   *slog.Logger
}

// SubscriptionOption configures a Subscription.
type SubscriptionOption func(*Subscription)

// WithSubscriptionRecovery enables/disables handler panic recovery for this
// registry. Recovery should stay enabled outside of tests.
func WithSubscriptionRecovery(enabled bool) SubscriptionOption {
	return func(s *Subscription) {
		s.recovery = enabled
	}
}

// WithSubscriptionClock sets the clock used to stamp Event.LastNotified.
func WithSubscriptionClock(clock func() time.Time) SubscriptionOption {
	return func(s *Subscription) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSubscriptionLogger sets the registry logger.
func WithSubscriptionLogger(l *slog.Logger) SubscriptionOption {
	return func(s *Subscription) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSubscription creates an empty subscription registry with an id from the
// package-level registry sequence.
func NewSubscription(opts ...SubscriptionOption) *Subscription {
	s := &Subscription{
		id:         defaultRegistryIDs.NextID(),
		entries:    make(map[string]*entry),
		namespaces: make(map[string][]string),
		recovery:   true,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the registry id.
func (s *Subscription) ID() int64 {
	return s.id
}

// Len returns the number of stored subscriptions.
func (s *Subscription) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Namespaces returns the namespaces that currently hold subscriptions.
func (s *Subscription) Namespaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for ns := range s.namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// subscribeOptions holds per-subscription settings (unexported).
type subscribeOptions struct {
	name       string
	persistent bool
	priority   int
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeOptions)

// WithHandlerName sets the registered handler name. The name keys the
// notification content, drives duplicate detection within a namespace and is
// the equality key for removal by handler. Defaults to the function's runtime
// name.
func WithHandlerName(name string) SubscribeOption {
	return func(o *subscribeOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithPersistent marks the subscription persistent: it survives being
// invoked. Non-persistent subscriptions are retired after their first
// dispatch invocation. Default is false.
func WithPersistent(persistent bool) SubscribeOption {
	return func(o *subscribeOptions) {
		o.persistent = persistent
	}
}

// WithPriority sets the invocation order key; lower priorities dispatch
// first, ties keep registration order. Default is 0.
func WithPriority(priority int) SubscribeOption {
	return func(o *subscribeOptions) {
		o.priority = priority
	}
}

// Subscribe registers a handler under the namespace and returns its
// functionID handle. A handler name already present in the namespace fails
// with ErrDuplicateSubscription.
func (s *Subscription) Subscribe(namespace string, handler Handler, opts ...SubscribeOption) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("%w: handler", ErrMissingField)
	}
	o := &subscribeOptions{name: FuncName(handler)}
	for _, opt := range opts {
		opt(o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.namespaces[namespace] {
		if e, ok := s.entries[id]; ok && e.name == o.name {
			return "", fmt.Errorf("%w: handler %q in namespace %q",
				ErrDuplicateSubscription, o.name, namespace)
		}
	}

	functionID := NewID()
	s.namespaces[namespace] = append(s.namespaces[namespace], functionID)
	s.entries[functionID] = &entry{
		handler:    handler,
		name:       o.name,
		persistent: o.persistent,
		priority:   o.priority,
	}
	return functionID, nil
}

// Dispatch runs every handler registered under the namespace, in ascending
// priority order, recording each result or failure into the builder. The
// builder is returned unchanged when the namespace has no subscriptions.
// Non-persistent entries are retired after the pass and the event's
// last-notified timestamp is stamped.
func (s *Subscription) Dispatch(ctx context.Context, event *Event, builder *NotificationBuilder, namespace string, args ...any) *NotificationBuilder {
	type resolved struct {
		id string
		e  *entry
	}

	s.mu.RLock()
	ids, ok := s.namespaces[namespace]
	if !ok {
		s.mu.RUnlock()
		return builder
	}
	// Snapshot and resolve under the read lock; ids that no longer resolve
	// were unsubscribed concurrently and are skipped.
	pass := make([]resolved, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.entries[id]; ok {
			pass = append(pass, resolved{id: id, e: e})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(pass, func(i, j int) bool {
		return pass[i].e.priority < pass[j].e.priority
	})

	var retired []string
	for _, r := range pass {
		if !r.e.persistent {
			retired = append(retired, r.id)
		}
		result, stack, err := s.invoke(ctx, r.e, event, args)
		if err != nil {
			builder.WithError(HandlerError{
				FunctionID: r.id,
				Handler:    r.e.name,
				Namespace:  namespace,
				Err:        err,
				Stack:      stack,
			})
			builder.WithStatus(StatusFailure)
			s.logger.Warn("handler failed",
				"event", event.Name(),
				"namespace", namespace,
				"handler", r.e.name,
				"error", err)
			continue
		}
		builder.WithContent(r.e.name, result)
		builder.WithStatus(StatusSuccess)
	}

	for _, id := range retired {
		// A handler may already have unsubscribed itself mid-pass.
		_ = s.UnsubscribeByFunctionID(id)
	}

	event.setLastNotified(s.clock())
	return builder
}

// invoke runs one handler, converting a panic into an error with the captured
// stack when recovery is enabled. A plain error return carries no stack: the
// handler has already unwound, so a capture here would point at the dispatch
// loop instead of the failure site.
func (s *Subscription) invoke(ctx context.Context, e *entry, event *Event, args []any) (result any, stack string, err error) {
	if s.recovery {
		defer func() {
			if r := recover(); r != nil {
				stack = string(debug.Stack())
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
	}
	result, err = e.handler(ctx, event, args...)
	return result, stack, err
}

// Unsubscribe removes subscriptions matching the selector. Exactly one
// selector field must be set; zero or several fail with ErrInvalidSelector.
func (s *Subscription) Unsubscribe(sel Selector) error {
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
		return s.UnsubscribeByFunctionID(sel.FunctionID)
	case sel.Namespace != "":
		return s.UnsubscribeByNamespace(sel.Namespace)
	default:
		return s.UnsubscribeByHandler(sel.Handler)
	}
}

// UnsubscribeByFunctionID removes the subscription with the given handle,
// pruning its namespace list if emptied.
func (s *Subscription) UnsubscribeByFunctionID(functionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(functionID)
}

// removeLocked removes one functionID from both indexes. Callers hold the
// write lock.
func (s *Subscription) removeLocked(functionID string) error {
	if _, ok := s.entries[functionID]; !ok {
		return fmt.Errorf("%w: function id %q", ErrSubscriptionNotFound, functionID)
	}
	delete(s.entries, functionID)

	for ns, ids := range s.namespaces {
		for i, id := range ids {
			if id != functionID {
				continue
			}
			ids = append(ids[:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(s.namespaces, ns)
			} else {
				s.namespaces[ns] = ids
			}
			return nil
		}
	}
	return nil
}

// UnsubscribeByNamespace removes every subscription registered under the
// namespace.
func (s *Subscription) UnsubscribeByNamespace(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.namespaces[namespace]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNamespaceNotFound, namespace)
	}
	delete(s.namespaces, namespace)
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

// UnsubscribeByHandler removes every subscription whose registered handler
// name matches, across all namespaces. A handler may legitimately be
// registered under several namespaces.
func (s *Subscription) UnsubscribeByHandler(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var remove []string
	for id, e := range s.entries {
		if e.name == name {
			remove = append(remove, id)
		}
	}
	if len(remove) == 0 {
		return fmt.Errorf("%w: handler %q", ErrSubscriptionNotFound, name)
	}
	for _, id := range remove {
		_ = s.removeLocked(id)
	}
	return nil
}

// UnsubscribeAll removes every subscription from every namespace.
func (s *Subscription) UnsubscribeAll() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.namespaces = make(map[string][]string)
	s.mu.Unlock()
}

// Clear is an alias for UnsubscribeAll.
func (s *Subscription) Clear() {
	s.UnsubscribeAll()
}

// Contains reports membership by function id or namespace. Exactly one
// selector is honored; neither given fails with ErrInvalidSelector.
func (s *Subscription) Contains(functionID, namespace string) (bool, error) {
	if functionID == "" && namespace == "" {
		return false, fmt.Errorf("%w: function id or namespace", ErrInvalidSelector)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if functionID != "" {
		_, ok := s.entries[functionID]
		return ok, nil
	}
	_, ok := s.namespaces[namespace]
	return ok, nil
}

// Status returns the subscriber registered under the function id.
func (s *Subscription) Status(functionID string) (Subscriber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[functionID]
	if !ok {
		return Subscriber{}, false
	}
	return Subscriber{
		FunctionID: functionID,
		Handler:    e.handler,
		Name:       e.name,
		Persistent: e.persistent,
		Priority:   e.priority,
	}, true
}

// SubscribersForNamespace returns the namespace's subscribers in registration
// order, or an empty slice for an unknown namespace.
func (s *Subscription) SubscribersForNamespace(namespace string) []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.namespaces[namespace]
	subscribers := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		subscribers = append(subscribers, Subscriber{
			FunctionID: id,
			Handler:    e.handler,
			Name:       e.name,
			Persistent: e.persistent,
			Priority:   e.priority,
		})
	}
	return subscribers
}

func (s *Subscription) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("Subscription(id=%d, namespaces=%d, subscriptions=%d)",
		s.id, len(s.namespaces), len(s.entries))
}

// SubscriptionBuilder seeds a Subscription with initial subscriber sets
// before construction.
type SubscriptionBuilder struct {
	seed map[string][]Subscriber
	opts []SubscriptionOption
}

// NewSubscriptionBuilder creates an empty subscription builder.
func NewSubscriptionBuilder() *SubscriptionBuilder {
	return &SubscriptionBuilder{seed: make(map[string][]Subscriber)}
}

// WithSubscribers adds subscribers to seed under the namespace.
func (b *SubscriptionBuilder) WithSubscribers(namespace string, subscribers ...Subscriber) *SubscriptionBuilder {
	b.seed[namespace] = append(b.seed[namespace], subscribers...)
	return b
}

// WithOptions appends registry options applied at Build time.
func (b *SubscriptionBuilder) WithOptions(opts ...SubscriptionOption) *SubscriptionBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build creates the registry and registers every seeded subscriber. Seeded
// entries keep their FunctionID when set, otherwise a fresh one is assigned.
func (b *SubscriptionBuilder) Build() *Subscription {
	s := NewSubscription(b.opts...)
	s.mu.Lock()
	defer s.mu.Unlock()
	for namespace, subscribers := range b.seed {
		for _, sub := range subscribers {
			id := sub.FunctionID
			if id == "" {
				id = NewID()
			}
			name := sub.Name
			if name == "" {
				name = FuncName(sub.Handler)
			}
			s.namespaces[namespace] = append(s.namespaces[namespace], id)
			s.entries[id] = &entry{
				handler:    sub.Handler,
				name:       name,
				persistent: sub.Persistent,
				priority:   sub.Priority,
			}
		}
	}
	return s
}
