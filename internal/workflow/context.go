package workflow

import "operatorkit/internal/reconcile"

type reconcileResultKey struct{}

type cleanupResultKey struct{}

// StoreReconcileResult makes a managed workflow's reconcile result available
// to the reconciler through ReconcileResultFrom.
func StoreReconcileResult(rc *reconcile.Context, res *Result) {
	rc.Put(reconcileResultKey{}, res)
}

// StoreCleanupResult makes a managed workflow's cleanup result available to
// the cleaner through CleanupResultFrom.
func StoreCleanupResult(rc *reconcile.Context, res *Result) {
	rc.Put(cleanupResultKey{}, res)
}

// ReconcileResultFrom returns the managed workflow's reconcile result.
func ReconcileResultFrom(rc *reconcile.Context) (*Result, bool) {
	v, ok := rc.Get(reconcileResultKey{})
	if !ok {
		return nil, false
	}
	res, ok := v.(*Result)
	return res, ok
}

// CleanupResultFrom returns the managed workflow's cleanup result.
func CleanupResultFrom(rc *reconcile.Context) (*Result, bool) {
	v, ok := rc.Get(cleanupResultKey{})
	if !ok {
		return nil, false
	}
	res, ok := v.(*Result)
	return res, ok
}
