package events

import (
	"time"
)

// EventType represents the type/severity of a Kubernetes Event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason is the machine readable reason of an event.
type EventReason string

const (
	ReasonFinalizerAdded   EventReason = "FinalizerAdded"
	ReasonDependentFailed  EventReason = "DependentFailed"
	ReasonReconcileFailed  EventReason = "ReconcileFailed"
	ReasonRetriesExhausted EventReason = "RetriesExhausted"
	ReasonCleanupPending   EventReason = "CleanupPending"
	ReasonFinalizerRemoved EventReason = "FinalizerRemoved"
)

// EventData holds contextual information for message templates.
type EventData struct {
	// Name and Namespace are filled from the involved object.
	Name      string
	Namespace string

	Controller string
	Finalizer  string

	// Nodes lists the dependents the event is about.
	Nodes []string

	// Attempt is the retry attempt of the failed reconciliation, 0 for the
	// first run.
	Attempt int

	Error string

	// RetryIn is the delay until the next attempt, if one is scheduled.
	RetryIn time.Duration
}

func eventType(reason EventReason) EventType {
	switch reason {
	case ReasonDependentFailed, ReasonReconcileFailed, ReasonRetriesExhausted:
		return EventTypeWarning
	default:
		return EventTypeNormal
	}
}
