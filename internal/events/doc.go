// Package events publishes Kubernetes Events about the reconciliation of
// primary resources, so that `kubectl describe` shows why a resource is not
// converging.
//
// A controller created with controller.WithEventRecorder records:
//
//   - FinalizerAdded when the controller starts managing a primary
//   - DependentFailed when the managed workflow has failing dependents
//   - ReconcileFailed when the reconciler returns an error
//   - RetriesExhausted when the retry policy gives up
//   - CleanupPending while dependents are still being deleted
//   - FinalizerRemoved once cleanup is complete
//
// Messages are rendered from text/template templates with the sprig
// function library and can be replaced per reason:
//
//	rec := events.NewRecorder(cl, "webpage-operator")
//	rec.Templates().Set(events.ReasonReconcileFailed, `{{ .Error | trunc 80 }}`)
//
// Recording is best effort: failures are logged, never returned to the
// reconciliation.
package events
