// Package event schedules reconciliations of resources.
//
// A Processor receives Events from event sources and timers and decides,
// per resource, whether to dispatch a reconciliation now, remember that one
// is due once the running one finishes, or drop the event. Each resource
// moves through three phases:
//
//	Idle -> Processing -> ProcessingAndMarkedPending -> Processing -> Idle
//
// Every transition is a single compare-and-swap on the resource's entry, so
// HandleEvent is safe to call from any goroutine and never blocks on a
// running reconciliation.
//
// Failures are retried according to a retry.Policy. A fresh event (created,
// updated, generic) starts a new failure sequence; retry and reschedule
// timer events continue the current one. Dispatches may be deferred by a
// ratelimit.Limiter without consuming retry attempts.
package event
