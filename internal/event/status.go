package event

import (
	"sort"
	"sync"
	"time"

	"operatorkit/internal/resource"
)

// State describes where a resource is in its reconciliation lifecycle.
type State string

const (
	// StatePending means the resource is awaiting reconciliation.
	StatePending State = "Pending"

	// StateReconciling means reconciliation is in progress.
	StateReconciling State = "Reconciling"

	// StateSynced means the resource is successfully reconciled.
	StateSynced State = "Synced"

	// StateError means reconciliation failed and will be retried.
	StateError State = "Error"

	// StateFailed means reconciliation failed and retries are exhausted.
	StateFailed State = "Failed"
)

// Status is a snapshot of a resource's reconciliation status.
type Status struct {
	ID resource.ID

	State State

	// LastReconcileTime is when the resource was last successfully reconciled.
	LastReconcileTime *time.Time

	// LastError is the most recent error, if any.
	LastError string

	// RetryCount is the number of retries of the current failure sequence.
	RetryCount int
}

// statusTracker records per-resource statuses. It is observability only; the
// scheduling state lives in the processor's entries.
type statusTracker struct {
	mu       sync.RWMutex
	statuses map[resource.ID]*Status
	now      func() time.Time
}

func newStatusTracker(now func() time.Time) *statusTracker {
	return &statusTracker{statuses: make(map[resource.ID]*Status), now: now}
}

func (t *statusTracker) update(id resource.ID, state State, err error, retries int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, ok := t.statuses[id]
	if !ok {
		status = &Status{ID: id}
		t.statuses[id] = status
	}

	status.State = state
	status.LastError = ""
	if err != nil {
		status.LastError = err.Error()
	}

	switch state {
	case StateSynced:
		now := t.now()
		status.LastReconcileTime = &now
		status.RetryCount = 0
	case StateError, StateFailed:
		status.RetryCount = retries
	}
}

func (t *statusTracker) remove(id resource.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.statuses, id)
}

func (t *statusTracker) get(id resource.ID) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[id]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

func (t *statusTracker) all() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.statuses))
	for _, s := range t.statuses {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
