package workflow

import (
	"fmt"
	"sort"

	"operatorkit/internal/dependent"
)

// Outcome is the tag recorded for a node after a workflow run.
type Outcome string

const (
	// Reconciled means the node was created, updated or found up to date.
	Reconciled Outcome = "Reconciled"
	// SkippedPrecondition means the node or one of its ancestors had an unmet
	// reconcile precondition.
	SkippedPrecondition Outcome = "SkippedPrecondition"
	// SkippedDependencyNotReady means an ancestor failed or is not ready yet.
	SkippedDependencyNotReady Outcome = "SkippedDependencyNotReady"
	// Errored means the node's handle or one of its conditions failed.
	Errored Outcome = "Errored"
	// NotActivated means the node's activation condition was not met.
	NotActivated Outcome = "NotActivated"
	// Deleted means cleanup deleted the node's secondary resource.
	Deleted Outcome = "Deleted"
	// DeleteDeferred means cleanup left the node for a later pass, either
	// because its delete postcondition was not met or a node depending on it
	// is not deleted yet.
	DeleteDeferred Outcome = "DeleteDeferred"
)

// NodeResult is what happened to one node.
type NodeResult struct {
	Outcome Outcome
	// Ready is set for reconciled nodes whose ready postcondition held.
	Ready bool
	// Operation is what the handle did to the secondary resource.
	Operation dependent.Operation
	Err       error

	conditions map[ConditionKind]ConditionResult
}

// Condition returns the result of the condition of the given kind, if it was
// evaluated.
func (r NodeResult) Condition(kind ConditionKind) (ConditionResult, bool) {
	c, ok := r.conditions[kind]
	return c, ok
}

// Result is the outcome of one Reconcile or Cleanup run. It belongs to the
// reconciliation that produced it.
type Result struct {
	nodes   map[string]*NodeResult
	cleanup bool
}

func newResult(cleanup bool) *Result {
	return &Result{nodes: make(map[string]*NodeResult), cleanup: cleanup}
}

// Node returns the result of a single node. Nodes below a non-activated node
// have no result.
func (r *Result) Node(name string) (NodeResult, bool) {
	n, ok := r.nodes[name]
	if !ok {
		return NodeResult{}, false
	}
	return *n, true
}

// Outcome returns the outcome tag of a node.
func (r *Result) Outcome(name string) (Outcome, bool) {
	n, ok := r.nodes[name]
	if !ok {
		return "", false
	}
	return n.Outcome, true
}

// Outcomes returns every recorded node outcome.
func (r *Result) Outcomes() map[string]Outcome {
	out := make(map[string]Outcome, len(r.nodes))
	for name, n := range r.nodes {
		out[name] = n.Outcome
	}
	return out
}

// AllReady reports whether every node that was not skipped by a precondition
// or left inactive was reconciled and is ready.
func (r *Result) AllReady() bool {
	for _, n := range r.nodes {
		switch n.Outcome {
		case SkippedPrecondition, NotActivated:
			continue
		case Reconciled:
			if !n.Ready {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// NotReadyNodes returns the sorted names of nodes holding up AllReady.
func (r *Result) NotReadyNodes() []string {
	var out []string
	for name, n := range r.nodes {
		switch n.Outcome {
		case SkippedPrecondition, NotActivated:
		case Reconciled:
			if !n.Ready {
				out = append(out, name)
			}
		default:
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// AllDeleted reports whether cleanup finished: every node was deleted or
// never activated.
func (r *Result) AllDeleted() bool {
	for _, n := range r.nodes {
		if n.Outcome != Deleted && n.Outcome != NotActivated {
			return false
		}
	}
	return true
}

// RemainingNodes returns the nodes cleanup has not finished with, sorted.
func (r *Result) RemainingNodes() []string {
	var out []string
	for name, n := range r.nodes {
		if n.Outcome != Deleted && n.Outcome != NotActivated {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ErroredNodes returns the error of every failed node.
func (r *Result) ErroredNodes() map[string]error {
	out := make(map[string]error)
	for name, n := range r.nodes {
		if n.Outcome == Errored {
			out[name] = n.Err
		}
	}
	return out
}

// HasErrors reports whether any node failed.
func (r *Result) HasErrors() bool {
	for _, n := range r.nodes {
		if n.Outcome == Errored {
			return true
		}
	}
	return false
}

// Err returns a CompositeError naming every failed node, or nil.
func (r *Result) Err() error {
	if ce := newCompositeError(r.ErroredNodes()); ce != nil {
		return ce
	}
	return nil
}

// ConditionResult returns the evaluated condition of the given kind for a
// node.
func (r *Result) ConditionResult(node string, kind ConditionKind) (ConditionResult, bool) {
	n, ok := r.nodes[node]
	if !ok {
		return ConditionResult{}, false
	}
	return n.Condition(kind)
}

// ConditionDetail returns the typed payload a detailed condition produced.
func ConditionDetail[T any](r *Result, node string, kind ConditionKind) (T, error) {
	var zero T
	cr, ok := r.ConditionResult(node, kind)
	if !ok {
		return zero, fmt.Errorf("no %s result for dependent %q", kind, node)
	}
	detail, ok := cr.Detail.(T)
	if !ok {
		return zero, fmt.Errorf("%s result for dependent %q is %T, not %T", kind, node, cr.Detail, zero)
	}
	return detail, nil
}

func (r *Result) progressed() bool {
	for _, n := range r.nodes {
		switch n.Outcome {
		case Reconciled, Deleted:
			return true
		}
	}
	return false
}

// IsCleanup reports whether the result comes from Cleanup.
func (r *Result) IsCleanup() bool { return r.cleanup }
