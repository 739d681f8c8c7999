package dispatch

import (
	"errors"
	"fmt"
)

// Registry and builder sentinel errors.
// Use errors.Is() to check for these errors as they may be wrapped with
// additional context.
var (
	// ErrMissingField indicates a required builder field was not set before
	// Build() was called.
	ErrMissingField = errors.New("missing required field")

	// ErrDuplicateSubscription indicates the same handler name was subscribed
	// twice to one namespace. Subscribing the handler under a different
	// namespace is allowed.
	ErrDuplicateSubscription = errors.New("handler already subscribed to namespace")

	// ErrSubscriptionNotFound indicates an unsubscribe target (function id or
	// handler name) does not exist.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrNamespaceNotFound indicates the namespace has no subscriptions.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrEventNotFound indicates no registry exists for the event name.
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidSelector indicates an operation requiring exactly one selector
	// was given none, or more than one.
	ErrInvalidSelector = errors.New("exactly one selector must be provided")

	// ErrBuilderSealed indicates an attempt to mutate a notification builder
	// after Build(). Notification content is immutable once built.
	ErrBuilderSealed = errors.New("notification builder is sealed")

	// ErrAmbiguousResult indicates OneAndOnlyResult was called on a
	// notification whose content holds more than one entry.
	ErrAmbiguousResult = errors.New("ambiguous result: content has more than one entry")
)

// HandlerError records one handler failure observed during a dispatch pass.
// Handler errors are never propagated to the caller of Dispatch; they are
// collected into the Notification and the pass continues with the next
// handler. A recovered panic is recorded the same way, with the panic value
// in Err and the goroutine stack in Stack.
type HandlerError struct {
	// FunctionID is the subscription handle of the failed handler.
	FunctionID string `json:"function_id" bson:"function_id"`

	// Handler is the registered handler name.
	Handler string `json:"handler" bson:"handler"`

	// Namespace is the namespace the dispatch ran in.
	Namespace string `json:"namespace" bson:"namespace"`

	// Err is the error returned (or the recovered panic, wrapped).
	Err error `json:"-" bson:"-"`

	// Stack is the goroutine stack captured at the panic site. It is empty
	// for handlers that returned a plain error.
	Stack string `json:"stack,omitempty" bson:"stack,omitempty"`
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q (%s) failed in namespace %q: %v",
		e.Handler, e.FunctionID, e.Namespace, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
