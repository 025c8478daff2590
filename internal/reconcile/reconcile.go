// Package reconcile defines the contract between the runtime and user
// reconciliation code.
package reconcile

import (
	"context"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Reconciler converges the actual state of a primary resource toward its
// desired state. It is never invoked concurrently for the same resource.
type Reconciler interface {
	Reconcile(ctx context.Context, primary client.Object, rc *Context) (UpdateControl, error)
}

// Cleaner is implemented by reconcilers that need to release resources
// before their primary is deleted. Implementing it makes the runtime manage
// a finalizer on the primary.
type Cleaner interface {
	Cleanup(ctx context.Context, primary client.Object, rc *Context) (DeleteControl, error)
}

// Func adapts a function to the Reconciler interface.
type Func func(ctx context.Context, primary client.Object, rc *Context) (UpdateControl, error)

// Reconcile implements Reconciler.
func (f Func) Reconcile(ctx context.Context, primary client.Object, rc *Context) (UpdateControl, error) {
	return f(ctx, primary, rc)
}

// UpdateControl tells the runtime what to persist after a reconciliation.
type UpdateControl struct {
	updateResource  bool
	updateStatus    bool
	rescheduleAfter time.Duration
}

// NoUpdate leaves the primary untouched.
func NoUpdate() UpdateControl {
	return UpdateControl{}
}

// UpdateResource persists changes to the primary's metadata and spec.
func UpdateResource() UpdateControl {
	return UpdateControl{updateResource: true}
}

// UpdateStatus persists the primary's status subresource.
func UpdateStatus() UpdateControl {
	return UpdateControl{updateStatus: true}
}

// UpdateResourceAndStatus persists both the resource and its status.
func UpdateResourceAndStatus() UpdateControl {
	return UpdateControl{updateResource: true, updateStatus: true}
}

// RescheduleAfter asks for another reconciliation after d, even without a
// new event.
func (u UpdateControl) RescheduleAfter(d time.Duration) UpdateControl {
	u.rescheduleAfter = d
	return u
}

// IsUpdateResource reports whether the resource should be updated.
func (u UpdateControl) IsUpdateResource() bool { return u.updateResource }

// IsUpdateStatus reports whether the status should be updated.
func (u UpdateControl) IsUpdateStatus() bool { return u.updateStatus }

// ScheduleDelay returns the requested reschedule delay, if any.
func (u UpdateControl) ScheduleDelay() (time.Duration, bool) {
	return u.rescheduleAfter, u.rescheduleAfter > 0
}

// DeleteControl tells the runtime how to proceed after a cleanup.
type DeleteControl struct {
	keepFinalizer   bool
	rescheduleAfter time.Duration
}

// DefaultDelete lets the runtime remove the finalizer.
func DefaultDelete() DeleteControl {
	return DeleteControl{}
}

// NoFinalizerRemoval keeps the finalizer in place; cleanup will run again on
// the next event.
func NoFinalizerRemoval() DeleteControl {
	return DeleteControl{keepFinalizer: true}
}

// RescheduleAfter asks for another cleanup attempt after d. It only makes
// sense together with NoFinalizerRemoval.
func (d DeleteControl) RescheduleAfter(delay time.Duration) DeleteControl {
	d.rescheduleAfter = delay
	return d
}

// IsRemoveFinalizer reports whether the finalizer may be removed.
func (d DeleteControl) IsRemoveFinalizer() bool { return !d.keepFinalizer }

// ScheduleDelay returns the requested reschedule delay, if any.
func (d DeleteControl) ScheduleDelay() (time.Duration, bool) {
	return d.rescheduleAfter, d.rescheduleAfter > 0
}
