package controller

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"operatorkit/internal/event"
	"operatorkit/internal/events"
	"operatorkit/internal/reconcile"
	"operatorkit/internal/workflow"
	"operatorkit/pkg/logging"
)

// dispatcher runs one reconciliation of a primary: it reads the primary,
// maintains the finalizer, runs the managed workflow and the reconciler,
// and applies the resulting controls.
type dispatcher struct {
	name        string
	cfg         Configuration
	reconciler  reconcile.Reconciler
	cleaner     reconcile.Cleaner
	workflow    *workflow.Workflow
	secondaries map[string]reconcile.SecondarySource
	recorder    events.Recorder
}

func (d *dispatcher) record(ctx context.Context, primary client.Object, reason events.EventReason, data events.EventData) {
	if d.recorder == nil {
		return
	}
	data.Controller = d.name
	data.Finalizer = d.cfg.Finalizer
	d.recorder.Record(ctx, primary, reason, data)
}

// recordFailure reports a failed run. Failures of the managed workflow name
// the failing dependents.
func (d *dispatcher) recordFailure(ctx context.Context, primary client.Object, rc *reconcile.Context, err error) {
	data := events.EventData{Error: err.Error()}
	if info, ok := rc.RetryInfo(); ok {
		data.Attempt = info.Attempt()
	}
	var ce *workflow.CompositeError
	if errors.As(err, &ce) {
		data.Nodes = ce.Nodes()
		d.record(ctx, primary, events.ReasonDependentFailed, data)
		return
	}
	d.record(ctx, primary, events.ReasonReconcileFailed, data)
}

// retriesExhausted records the give-up on a reference built from the
// primary prototype; the primary itself may no longer be readable.
func (d *dispatcher) retriesExhausted(err *event.RetryExhaustedError) {
	if d.recorder == nil {
		return
	}
	ref := d.newPrimary()
	ref.SetName(err.ID.Name)
	ref.SetNamespace(err.ID.Namespace)
	data := events.EventData{Attempt: err.Attempts}
	if err.Err != nil {
		data.Error = err.Err.Error()
	}
	d.record(context.Background(), ref, events.ReasonRetriesExhausted, data)
}

// usesFinalizer reports whether deletion needs cleanup by this controller.
func (d *dispatcher) usesFinalizer() bool {
	return d.cleaner != nil || !d.workflow.IsEmpty()
}

func (d *dispatcher) newPrimary() client.Object {
	return d.cfg.Primary.DeepCopyObject().(client.Object)
}

// Dispatch implements event.Dispatcher.
func (d *dispatcher) Dispatch(ctx context.Context, req event.Request) (event.Outcome, error) {
	log := logging.With("Controller", "controller", d.name, "resource", req.ID.String(), "execution", req.ExecutionID)

	primary := d.newPrimary()
	if err := d.cfg.Client.Get(ctx, req.ID.NamespacedName(), primary); err != nil {
		if apierrors.IsNotFound(err) {
			log.Debug("Primary resource is gone")
			return event.Outcome{Gone: true}, nil
		}
		return event.Outcome{}, fmt.Errorf("reading primary: %w", err)
	}

	rc := reconcile.NewContext(req.ID, req.ExecutionID, d.cfg.Client, req.Retry, d.secondaries)

	var (
		out event.Outcome
		err error
	)
	if primary.GetDeletionTimestamp() != nil {
		out, err = d.cleanup(ctx, primary, rc, log)
	} else {
		out, err = d.reconcile(ctx, primary, rc, log)
	}
	if err != nil {
		d.recordFailure(ctx, primary, rc, err)
	}
	return out, err
}

func (d *dispatcher) reconcile(ctx context.Context, primary client.Object, rc *reconcile.Context, log logging.Scoped) (event.Outcome, error) {
	log.Debug("Reconciling")

	if d.usesFinalizer() && !controllerutil.ContainsFinalizer(primary, d.cfg.Finalizer) {
		if err := d.patchFinalizer(ctx, primary, controllerutil.AddFinalizer); err != nil {
			return event.Outcome{}, fmt.Errorf("adding finalizer: %w", err)
		}
		log.Debug("Added finalizer %s", d.cfg.Finalizer)
		d.record(ctx, primary, events.ReasonFinalizerAdded, events.EventData{})
	}

	if !d.workflow.IsEmpty() {
		res, err := d.workflow.Reconcile(ctx, primary, rc)
		workflow.StoreReconcileResult(rc, res)
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			return event.Outcome{}, fmt.Errorf("managed workflow: %w", err)
		}
		if !res.AllReady() {
			log.Debug("Dependents not ready: %v", res.NotReadyNodes())
		}
	}

	uc, err := d.reconciler.Reconcile(ctx, primary, rc)
	if err != nil {
		return event.Outcome{}, err
	}

	if uc.IsUpdateResource() {
		if err := d.cfg.Client.Update(ctx, primary); err != nil {
			return event.Outcome{}, fmt.Errorf("updating primary: %w", err)
		}
	}
	if uc.IsUpdateStatus() {
		if err := d.cfg.Client.Status().Update(ctx, primary); err != nil {
			return event.Outcome{}, fmt.Errorf("updating primary status: %w", err)
		}
	}

	var out event.Outcome
	if delay, ok := uc.ScheduleDelay(); ok {
		out.RescheduleAfter = delay
	}
	log.Debug("Reconciled")
	return out, nil
}

func (d *dispatcher) cleanup(ctx context.Context, primary client.Object, rc *reconcile.Context, log logging.Scoped) (event.Outcome, error) {
	if !controllerutil.ContainsFinalizer(primary, d.cfg.Finalizer) {
		log.Debug("Marked for deletion without our finalizer, nothing to clean up")
		return event.Outcome{}, nil
	}
	log.Debug("Cleaning up")

	complete := true
	var remaining []string
	if !d.workflow.IsEmpty() {
		res, err := d.workflow.Cleanup(ctx, primary, rc)
		workflow.StoreCleanupResult(rc, res)
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			return event.Outcome{}, fmt.Errorf("managed workflow cleanup: %w", err)
		}
		complete = res.AllDeleted()
		remaining = res.RemainingNodes()
	}

	dc := reconcile.DefaultDelete()
	if d.cleaner != nil {
		var err error
		dc, err = d.cleaner.Cleanup(ctx, primary, rc)
		if err != nil {
			return event.Outcome{}, err
		}
	}

	if complete && dc.IsRemoveFinalizer() {
		if err := d.patchFinalizer(ctx, primary, controllerutil.RemoveFinalizer); err != nil {
			if apierrors.IsNotFound(err) {
				return event.Outcome{Gone: true}, nil
			}
			return event.Outcome{}, fmt.Errorf("removing finalizer: %w", err)
		}
		log.Debug("Removed finalizer %s", d.cfg.Finalizer)
		d.record(ctx, primary, events.ReasonFinalizerRemoved, events.EventData{})
		return event.Outcome{}, nil
	}

	var out event.Outcome
	if delay, ok := dc.ScheduleDelay(); ok {
		out.RescheduleAfter = delay
	}
	log.Debug("Cleanup incomplete, keeping finalizer")
	if !complete {
		d.record(ctx, primary, events.ReasonCleanupPending, events.EventData{Nodes: remaining})
	}
	return out, nil
}

// patchFinalizer changes the finalizers of primary with an optimistically
// locked merge patch; a concurrent write makes it fail with a conflict.
func (d *dispatcher) patchFinalizer(ctx context.Context, primary client.Object, change func(client.Object, string) bool) error {
	base := primary.DeepCopyObject().(client.Object)
	if !change(primary, d.cfg.Finalizer) {
		return nil
	}
	return d.cfg.Client.Patch(ctx, primary, client.MergeFromWithOptions(base, client.MergeFromWithOptimisticLock{}))
}
