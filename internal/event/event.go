package event

import (
	"context"
	"fmt"
	"time"

	"operatorkit/internal/reconcile"
	"operatorkit/internal/resource"
)

// Action says what happened to a resource.
type Action string

const (
	Created Action = "Created"
	Updated Action = "Updated"
	// Deleted confirms that the resource is gone from the store.
	Deleted Action = "Deleted"
	// Generic is any other change, e.g. to a secondary resource.
	Generic Action = "Generic"
	// Retry is fired by the processor's timer after a failure or a rate
	// limited dispatch. It keeps the retry state of the resource.
	Retry Action = "Retry"
	// Reschedule is fired by the processor's timer after a successful
	// reconciliation asked to run again.
	Reschedule Action = "Reschedule"
)

// fresh reports whether the action starts a new failure sequence.
func (a Action) fresh() bool {
	return a != Retry
}

func (a Action) timer() bool {
	return a == Retry || a == Reschedule
}

// Event is a change notification for a primary resource.
type Event struct {
	ID     resource.ID
	Action Action
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Action, e.ID)
}

// Handler receives events. Implementations must not block.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Event)

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// Request describes one reconciliation the processor asks for.
type Request struct {
	ID          resource.ID
	ExecutionID string
	// Retry is nil for the first attempt of a failure sequence.
	Retry reconcile.RetryInfo
}

// Outcome is what a successful dispatch reports back.
type Outcome struct {
	// RescheduleAfter asks for another reconciliation after the duration.
	RescheduleAfter time.Duration
	// Gone reports that the resource no longer exists; its state is dropped
	// unless another event is pending.
	Gone bool
}

// Dispatcher runs a reconciliation. It is never called concurrently for the
// same resource.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (Outcome, error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, req Request) (Outcome, error)

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}
