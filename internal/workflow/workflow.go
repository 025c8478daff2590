package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/dependent"
	"operatorkit/internal/reconcile"
	"operatorkit/pkg/logging"
)

// Workflow is an immutable DAG of dependent resources. It is safe for
// concurrent use by reconciliations of different primaries.
type Workflow struct {
	nodes       map[string]*Node
	dependents  map[string][]string
	levels      [][]string
	failFast    bool
	concurrency int
}

// Levels returns the node names grouped by topological level. Nodes of one
// level have no ordering between them.
func (w *Workflow) Levels() [][]string {
	out := make([][]string, len(w.levels))
	for i, l := range w.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Node returns a node by name.
func (w *Workflow) Node(name string) (*Node, bool) {
	n, ok := w.nodes[name]
	return n, ok
}

// Len returns the number of nodes.
func (w *Workflow) Len() int { return len(w.nodes) }

// IsEmpty reports whether the workflow has no nodes.
func (w *Workflow) IsEmpty() bool { return w == nil || len(w.nodes) == 0 }

// FailFast reports whether runs stop at the first node error.
func (w *Workflow) FailFast() bool { return w.failFast }

// Dependents returns the names of the nodes that depend on name.
func (w *Workflow) Dependents(name string) []string {
	return append([]string(nil), w.dependents[name]...)
}

// run holds the mutable state of one Reconcile or Cleanup call.
type run struct {
	w       *Workflow
	primary client.Object
	rc      *reconcile.Context

	mu     sync.Mutex
	result *Result
}

func (r *run) record(name string, nr *NodeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.nodes[name] = nr
}

func (r *run) lookup(name string) (*NodeResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	nr, ok := r.result.nodes[name]
	return nr, ok
}

// evaluate runs a condition, recording its result. A missing condition is
// met. Panics in user conditions are turned into errors.
func (r *run) evaluate(ctx context.Context, n *Node, kind ConditionKind, nr *NodeResult) (met bool, err error) {
	c, ok := n.conditions[kind]
	if !ok {
		return true, nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s condition panicked: %v", kind, p)
		}
	}()
	res := evaluate(ctx, c, n.resource, r.primary, r.rc)
	if nr.conditions == nil {
		nr.conditions = make(map[ConditionKind]ConditionResult)
	}
	nr.conditions[kind] = res
	return res.Met, nil
}

// levels executes fn for every node level by level, in the given order,
// waiting for a level to finish before starting the next one. In fail-fast
// mode the first error stops scheduling of further nodes.
func (r *run) levels(ctx context.Context, order [][]string, fn func(ctx context.Context, n *Node) error) error {
	for _, level := range order {
		g, gctx := errgroup.WithContext(ctx)
		if r.w.concurrency > 0 {
			g.SetLimit(r.w.concurrency)
		}
		for _, name := range level {
			n := r.w.nodes[name]
			g.Go(func() error {
				if r.w.failFast && gctx.Err() != nil {
					return nil
				}
				err := fn(gctx, n)
				if r.w.failFast {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile creates or updates the dependent resources of primary in
// dependency order.
//
// Node failures do not stop independent branches; they are collected in the
// result. Reconcile only returns an error when nodes failed and no node made
// progress, or, in fail-fast mode, at the first failure.
func (w *Workflow) Reconcile(ctx context.Context, primary client.Object, rc *reconcile.Context) (*Result, error) {
	r := &run{w: w, primary: primary, rc: rc, result: newResult(false)}

	if err := r.levels(ctx, w.levels, r.reconcileNode); err != nil {
		return r.result, err
	}

	if r.result.HasErrors() && !r.result.progressed() {
		return r.result, r.result.Err()
	}
	return r.result, nil
}

func (r *run) reconcileNode(ctx context.Context, n *Node) error {
	name := n.Name()
	log := logging.With("Workflow", "resource", r.rc.ID().String(), "dependent", name)

	// Parents are in earlier levels, so their results are final here.
	blocked := Outcome("")
	for _, parent := range n.dependsOn {
		pr, ok := r.lookup(parent)
		if !ok || pr.Outcome == NotActivated {
			log.Debug("Skipping, dependency %s is not active", parent)
			return nil
		}
		switch {
		case pr.Outcome == SkippedPrecondition:
			blocked = SkippedPrecondition
		case pr.Outcome == Reconciled && pr.Ready:
		default:
			if blocked == "" {
				blocked = SkippedDependencyNotReady
			}
		}
	}
	if blocked != "" {
		log.Debug("Skipping, outcome %s", blocked)
		r.record(name, &NodeResult{Outcome: blocked})
		return nil
	}

	nr := &NodeResult{}
	fail := func(err error) error {
		nr.Outcome = Errored
		nr.Err = err
		r.record(name, nr)
		log.Error(err, "Dependent failed")
		return &NodeError{Node: name, Err: err}
	}

	met, err := r.evaluate(ctx, n, Activation, nr)
	if err != nil {
		return fail(err)
	}
	if !met {
		nr.Outcome = NotActivated
		r.record(name, nr)
		log.Debug("Not activated")
		return nil
	}

	met, err = r.evaluate(ctx, n, ReconcilePrecondition, nr)
	if err != nil {
		return fail(err)
	}
	if !met {
		nr.Outcome = SkippedPrecondition
		r.record(name, nr)
		log.Debug("Reconcile precondition not met")
		return nil
	}

	op, err := reconcileResource(ctx, n.resource, r.primary, r.rc)
	if err != nil {
		return fail(err)
	}
	nr.Operation = op

	ready, err := r.evaluate(ctx, n, ReadyPostcondition, nr)
	if err != nil {
		return fail(err)
	}
	nr.Outcome = Reconciled
	nr.Ready = ready
	r.record(name, nr)
	log.Debug("Reconciled (%s), ready=%t", op, ready)
	return nil
}

func reconcileResource(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) (op dependent.Operation, err error) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("Workflow", nil, "Dependent %s panicked: %v\n%s", dep.Name(), p, debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	op, _, err = dependent.Reconcile(ctx, dep, primary, rc)
	return op, err
}

// Cleanup deletes the dependent resources of primary in the reverse order
// of Reconcile. A node is only deleted once every node depending on it is
// deleted or inactive, and its delete postcondition holds. Result.AllDeleted
// reports whether cleanup is complete.
func (w *Workflow) Cleanup(ctx context.Context, primary client.Object, rc *reconcile.Context) (*Result, error) {
	r := &run{w: w, primary: primary, rc: rc, result: newResult(true)}

	reversed := make([][]string, 0, len(w.levels))
	for i := len(w.levels) - 1; i >= 0; i-- {
		reversed = append(reversed, w.levels[i])
	}

	if err := r.levels(ctx, reversed, r.cleanupNode); err != nil {
		return r.result, err
	}

	if r.result.HasErrors() && !r.result.progressed() {
		return r.result, r.result.Err()
	}
	return r.result, nil
}

func (r *run) cleanupNode(ctx context.Context, n *Node) error {
	name := n.Name()
	log := logging.With("Workflow", "resource", r.rc.ID().String(), "dependent", name)
	nr := &NodeResult{}

	fail := func(err error) error {
		nr.Outcome = Errored
		nr.Err = err
		r.record(name, nr)
		log.Error(err, "Dependent cleanup failed")
		return &NodeError{Node: name, Err: err}
	}

	met, err := r.evaluate(ctx, n, Activation, nr)
	if err != nil {
		return fail(err)
	}
	if !met {
		nr.Outcome = NotActivated
		r.record(name, nr)
		return nil
	}

	// Dependents are in later levels, which cleanup has already finished.
	for _, child := range r.w.dependents[name] {
		cr, ok := r.lookup(child)
		if ok && (cr.Outcome == Deleted || cr.Outcome == NotActivated) {
			continue
		}
		nr.Outcome = DeleteDeferred
		r.record(name, nr)
		log.Debug("Deferring delete, dependent %s is not deleted", child)
		return nil
	}

	met, err = r.evaluate(ctx, n, DeletePostcondition, nr)
	if err != nil {
		return fail(err)
	}
	if !met {
		nr.Outcome = DeleteDeferred
		r.record(name, nr)
		log.Debug("Delete postcondition not met")
		return nil
	}

	if err := deleteResource(ctx, n.resource, r.primary, r.rc); err != nil {
		return fail(err)
	}
	nr.Outcome = Deleted
	r.record(name, nr)
	log.Debug("Deleted")
	return nil
}

func deleteResource(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return dep.Delete(ctx, primary, rc)
}
