package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/dependent"
	"operatorkit/internal/reconcile"
)

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

// diamond builds a -> {b, c} -> d.
func diamond(w *world, configure func(b *Builder)) *Workflow {
	b := NewBuilder()
	b.AddDependent(newFake(w, "a"))
	b.AddDependent(newFake(w, "b")).DependsOn("a")
	b.AddDependent(newFake(w, "c")).DependsOn("a")
	b.AddDependent(newFake(w, "d")).DependsOn("b", "c")
	if configure != nil {
		configure(b)
	}
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}

func TestReconcile_DependencyOrder(t *testing.T) {
	w := newWorld()
	wf := diamond(w, nil)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.True(t, res.AllReady())
	assert.False(t, res.HasErrors())
	assert.NoError(t, res.Err())

	calls := w.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "create:a", calls[0])
	assert.Equal(t, "create:d", calls[3])
	assert.ElementsMatch(t, []string{"create:b", "create:c"}, calls[1:3])

	for _, name := range []string{"a", "b", "c", "d"} {
		nr, ok := res.Node(name)
		require.True(t, ok, name)
		assert.Equal(t, Reconciled, nr.Outcome, name)
		assert.True(t, nr.Ready, name)
		assert.Equal(t, dependent.OperationCreated, nr.Operation, name)
	}

	// A second pass finds everything up to date.
	res, err = wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.True(t, res.AllReady())
	assert.Len(t, w.Calls(), 4)
	nr, _ := res.Node("d")
	assert.Equal(t, dependent.OperationNone, nr.Operation)
}

func TestReconcile_PreconditionSkipsSubtree(t *testing.T) {
	w := newWorld()
	createB := newFlag(false)
	b := NewBuilder()
	b.AddDependent(newFake(w, "a"))
	b.AddDependent(newFake(w, "b")).DependsOn("a").WithReconcilePrecondition(createB)
	b.AddDependent(newFake(w, "c")).DependsOn("a")
	b.AddDependent(newFake(w, "d")).DependsOn("b", "c")
	b.AddDependent(newFake(w, "e")).DependsOn("d")
	wf, err := b.Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)

	assert.Equal(t, map[string]Outcome{
		"a": Reconciled,
		"b": SkippedPrecondition,
		"c": Reconciled,
		"d": SkippedPrecondition,
		"e": SkippedPrecondition,
	}, res.Outcomes())
	assert.True(t, res.AllReady(), "precondition-skipped nodes do not count against readiness")
	assert.False(t, w.exists("b"))
	assert.False(t, w.exists("d"))
	assert.False(t, w.exists("e"))

	cr, ok := res.ConditionResult("b", ReconcilePrecondition)
	require.True(t, ok)
	assert.False(t, cr.Met)

	createB.set(true)
	_, err = wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.Equal(t, 1, w.count("create:b"))
	assert.Equal(t, 1, w.count("create:d"))
	assert.Equal(t, 1, w.count("create:e"))
}

func TestReconcile_ErrorDoesNotStopSiblings(t *testing.T) {
	w := newWorld()
	failing := newFake(w, "b").fail(errBoom)
	b := NewBuilder()
	b.AddDependent(newFake(w, "a"))
	b.AddDependent(failing).DependsOn("a")
	b.AddDependent(newFake(w, "c")).DependsOn("a")
	b.AddDependent(newFake(w, "d")).DependsOn("b")
	b.AddDependent(newFake(w, "e")).DependsOn("c")
	wf, err := b.Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err, "progress was made, so no error is returned")

	assert.Equal(t, map[string]Outcome{
		"a": Reconciled,
		"b": Errored,
		"c": Reconciled,
		"d": SkippedDependencyNotReady,
		"e": Reconciled,
	}, res.Outcomes())
	assert.False(t, res.AllReady())
	assert.Equal(t, []string{"b", "d"}, res.NotReadyNodes())

	errored := res.ErroredNodes()
	require.Len(t, errored, 1)
	assert.ErrorIs(t, errored["b"], errBoom)

	var ce *CompositeError
	require.True(t, errors.As(res.Err(), &ce))
	assert.Equal(t, []string{"b"}, ce.Nodes())
	assert.ErrorIs(t, res.Err(), errBoom)

	var ne *NodeError
	require.True(t, errors.As(res.Err(), &ne))
	assert.Equal(t, "b", ne.Node)
	assert.Contains(t, res.Err().Error(), `dependent "b"`)
}

func TestReconcile_ErrorWithoutProgressIsReturned(t *testing.T) {
	w := newWorld()
	wf, err := NewBuilder().
		AddDependent(newFake(w, "a").fail(errBoom)).
		AddDependent(newFake(w, "b").fail(errors.New("other"))).
		AddDependent(newFake(w, "c")).DependsOn("a").
		Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.Error(t, err)

	var ce *CompositeError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []string{"a", "b"}, ce.Nodes())
	assert.Equal(t, SkippedDependencyNotReady, res.Outcomes()["c"])
}

func TestReconcile_PanicIsErrored(t *testing.T) {
	w := newWorld()
	panicking := newFake(w, "a")
	panicking.panicWith = "kaboom"
	wf, err := NewBuilder().
		AddDependent(panicking).
		AddDependent(newFake(w, "b")).
		Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.Equal(t, Errored, res.Outcomes()["a"])
	assert.Contains(t, res.ErroredNodes()["a"].Error(), "kaboom")
	assert.Equal(t, Reconciled, res.Outcomes()["b"])
}

func TestReconcile_ReadinessGatesDependents(t *testing.T) {
	w := newWorld()
	aReady := newFlag(false)
	wf, err := NewBuilder().
		AddDependent(newFake(w, "a")).WithReadyPostcondition(aReady).
		AddDependent(newFake(w, "b")).DependsOn("a").
		Build()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
		require.NoError(t, err)
		assert.False(t, res.AllReady())
		nr, _ := res.Node("a")
		assert.Equal(t, Reconciled, nr.Outcome)
		assert.False(t, nr.Ready)
		assert.Equal(t, SkippedDependencyNotReady, res.Outcomes()["b"])
	}
	assert.False(t, w.exists("b"))
	assert.Equal(t, 1, w.count("create:a"))

	aReady.set(true)
	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.True(t, res.AllReady())
	assert.Equal(t, 1, w.count("create:b"))
}

func TestReconcile_ActivationRemovesSubtree(t *testing.T) {
	w := newWorld()
	active := newFlag(false)
	wf, err := NewBuilder().
		AddDependent(newFake(w, "a")).
		AddDependent(newFake(w, "b")).DependsOn("a").WithActivationCondition(active).
		AddDependent(newFake(w, "c")).DependsOn("b").
		Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]Outcome{"a": Reconciled, "b": NotActivated}, res.Outcomes())
	_, ok := res.Node("c")
	assert.False(t, ok, "nodes below an inactive node are absent")
	assert.True(t, res.AllReady())

	active.set(true)
	res, err = wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.Equal(t, Reconciled, res.Outcomes()["c"])
}

type replicaStatus struct {
	Ready   int
	Desired int
}

func TestReconcile_DetailedCondition(t *testing.T) {
	w := newWorld()
	ready := DetailedFunc(func(context.Context, dependent.Resource, client.Object, *reconcile.Context) ConditionResult {
		return ConditionResult{Met: false, Detail: replicaStatus{Ready: 1, Desired: 3}}
	})
	wf, err := NewBuilder().
		AddDependent(newFake(w, "deployment")).WithReadyPostcondition(ready).
		Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)

	status, err := ConditionDetail[replicaStatus](res, "deployment", ReadyPostcondition)
	require.NoError(t, err)
	assert.Equal(t, replicaStatus{Ready: 1, Desired: 3}, status)

	_, err = ConditionDetail[string](res, "deployment", ReadyPostcondition)
	assert.Error(t, err, "type mismatch")

	_, err = ConditionDetail[replicaStatus](res, "deployment", DeletePostcondition)
	assert.Error(t, err, "condition not evaluated")
}

func TestNot(t *testing.T) {
	detailed := DetailedFunc(func(context.Context, dependent.Resource, client.Object, *reconcile.Context) ConditionResult {
		return ConditionResult{Met: true, Detail: "payload"}
	})
	res := evaluate(context.Background(), Not(detailed), nil, nil, nil)
	assert.False(t, res.Met)
	assert.Equal(t, "payload", res.Detail)

	assert.True(t, Not(newFlag(false)).IsMet(context.Background(), nil, nil, nil))
}

func TestReconcile_FailFast(t *testing.T) {
	w := newWorld()
	wf, err := NewBuilder().WithFailFast(true).
		AddDependent(newFake(w, "a").fail(errBoom)).
		AddDependent(newFake(w, "b")).
		AddDependent(newFake(w, "c")).DependsOn("b").
		Build()
	require.NoError(t, err)

	res, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.Error(t, err)

	var ne *NodeError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, "a", ne.Node)
	assert.ErrorIs(t, err, errBoom)

	_, ok := res.Node("c")
	assert.False(t, ok, "later levels are not run")
	assert.False(t, w.exists("c"))
}

func TestReconcile_LevelRunsConcurrently(t *testing.T) {
	w := newWorld()
	var started sync.WaitGroup
	started.Add(2)
	release := make(chan struct{})
	go func() {
		started.Wait()
		close(release)
	}()

	// Each create blocks until both nodes of the level have started.
	barrier := func() {
		started.Done()
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}
	a, b := newFake(w, "a"), newFake(w, "b")
	a.hook, b.hook = barrier, barrier

	wf, err := NewBuilder().AddDependent(a).AddDependent(b).Build()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = wf.Reconcile(context.Background(), testPrimary(), testContext())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nodes of the same level did not run concurrently")
	}
}

func TestCleanup_ReverseOrder(t *testing.T) {
	w := newWorld()
	wf := diamond(w, nil)
	_, err := wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)

	res, err := wf.Cleanup(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.True(t, res.AllDeleted())
	assert.True(t, res.IsCleanup())

	calls := w.Calls()[4:]
	require.Len(t, calls, 4)
	assert.Equal(t, "delete:d", calls[0])
	assert.ElementsMatch(t, []string{"delete:b", "delete:c"}, calls[1:3])
	assert.Equal(t, "delete:a", calls[3])
	assert.Less(t, indexOf(calls, "delete:b"), indexOf(calls, "delete:a"))
}

func TestCleanup_DeletePostconditionDefers(t *testing.T) {
	w := newWorld()
	gate := SecondaryCondition(func(cm *corev1.ConfigMap, _ client.Object) bool {
		return cm.Annotations["delete-ok"] == "true"
	})
	wf, err := NewBuilder().
		AddDependent(newFake(w, "a")).
		AddDependent(newFake(w, "b")).DependsOn("a").WithDeletePostcondition(gate).
		Build()
	require.NoError(t, err)

	_, err = wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)

	res, err := wf.Cleanup(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.False(t, res.AllDeleted())
	assert.Equal(t, map[string]Outcome{"a": DeleteDeferred, "b": DeleteDeferred}, res.Outcomes())
	assert.True(t, w.exists("a"))
	assert.True(t, w.exists("b"))

	w.annotate("b", "delete-ok", "true")
	res, err = wf.Cleanup(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.True(t, res.AllDeleted())
	assert.False(t, w.exists("a"))
	assert.False(t, w.exists("b"))
}

func TestCleanup_ErrorBlocksParents(t *testing.T) {
	w := newWorld()
	child := newFake(w, "b")
	wf, err := NewBuilder().
		AddDependent(newFake(w, "a")).
		AddDependent(child).DependsOn("a").
		AddDependent(newFake(w, "x")).
		Build()
	require.NoError(t, err)
	_, err = wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)

	child.fail(errBoom)
	res, err := wf.Cleanup(context.Background(), testPrimary(), testContext())
	require.NoError(t, err, "x was deleted, so progress was made")
	assert.Equal(t, map[string]Outcome{"a": DeleteDeferred, "b": Errored, "x": Deleted}, res.Outcomes())
	assert.False(t, res.AllDeleted())
	assert.ErrorIs(t, res.Err(), errBoom)
}

func TestCleanup_InactiveNodesCountAsDeleted(t *testing.T) {
	w := newWorld()
	wf, err := NewBuilder().
		AddDependent(newFake(w, "a")).
		AddDependent(newFake(w, "b")).DependsOn("a").WithActivationCondition(newFlag(false)).
		Build()
	require.NoError(t, err)
	_, err = wf.Reconcile(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)

	res, err := wf.Cleanup(context.Background(), testPrimary(), testContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]Outcome{"a": Deleted, "b": NotActivated}, res.Outcomes())
	assert.True(t, res.AllDeleted())
	assert.Equal(t, 0, w.count("delete:b"))
}

func TestResultContext(t *testing.T) {
	rc := testContext()
	_, ok := ReconcileResultFrom(rc)
	assert.False(t, ok)

	res := newResult(false)
	StoreReconcileResult(rc, res)
	got, ok := ReconcileResultFrom(rc)
	require.True(t, ok)
	assert.Same(t, res, got)

	_, ok = CleanupResultFrom(rc)
	assert.False(t, ok)
	cleanup := newResult(true)
	StoreCleanupResult(rc, cleanup)
	got, ok = CleanupResultFrom(rc)
	require.True(t, ok)
	assert.Same(t, cleanup, got)
}
