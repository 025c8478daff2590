package workflow

import (
	"context"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/dependent"
	"operatorkit/internal/reconcile"
)

// ConditionKind identifies where a condition is attached to a node.
type ConditionKind string

const (
	// Activation decides whether the node takes part in the workflow at all.
	Activation ConditionKind = "activation"
	// ReconcilePrecondition gates create and update of the node.
	ReconcilePrecondition ConditionKind = "reconcilePrecondition"
	// ReadyPostcondition decides whether dependents of the node may run.
	ReadyPostcondition ConditionKind = "readyPostcondition"
	// DeletePostcondition gates deletion of the node during cleanup.
	DeletePostcondition ConditionKind = "deletePostcondition"
)

// Condition is a predicate over a dependent resource and its primary.
type Condition interface {
	IsMet(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) bool
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc func(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) bool

// IsMet implements Condition.
func (f ConditionFunc) IsMet(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) bool {
	return f(ctx, dep, primary, rc)
}

// ConditionResult is the outcome of evaluating a condition, with an optional
// payload the reconciler can fold into the primary's status.
type ConditionResult struct {
	Met    bool
	Detail any
}

// DetailedCondition is a Condition that also returns a payload.
type DetailedCondition interface {
	Condition
	Evaluate(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) ConditionResult
}

// DetailedFunc adapts a function to the DetailedCondition interface.
type DetailedFunc func(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) ConditionResult

// IsMet implements Condition.
func (f DetailedFunc) IsMet(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) bool {
	return f(ctx, dep, primary, rc).Met
}

// Evaluate implements DetailedCondition.
func (f DetailedFunc) Evaluate(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) ConditionResult {
	return f(ctx, dep, primary, rc)
}

// Not negates a condition. Payloads of detailed conditions are kept.
func Not(c Condition) Condition {
	return DetailedFunc(func(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) ConditionResult {
		res := evaluate(ctx, c, dep, primary, rc)
		res.Met = !res.Met
		return res
	})
}

// SecondaryCondition builds a condition over the actual secondary resource
// of type T. It is not met while the secondary does not exist.
func SecondaryCondition[T client.Object](fn func(secondary T, primary client.Object) bool) Condition {
	return ConditionFunc(func(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) bool {
		obj, found, err := dep.Secondary(ctx, primary, rc)
		if err != nil || !found {
			return false
		}
		typed, ok := obj.(T)
		if !ok {
			return false
		}
		return fn(typed, primary)
	})
}

// PrimaryCondition builds a condition that only looks at the primary.
func PrimaryCondition(fn func(primary client.Object) bool) Condition {
	return ConditionFunc(func(_ context.Context, _ dependent.Resource, primary client.Object, _ *reconcile.Context) bool {
		return fn(primary)
	})
}

func evaluate(ctx context.Context, c Condition, dep dependent.Resource, primary client.Object, rc *reconcile.Context) ConditionResult {
	if d, ok := c.(DetailedCondition); ok {
		return d.Evaluate(ctx, dep, primary, rc)
	}
	return ConditionResult{Met: c.IsMet(ctx, dep, primary, rc)}
}
