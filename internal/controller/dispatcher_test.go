package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"operatorkit/internal/dependent"
	"operatorkit/internal/event"
	"operatorkit/internal/reconcile"
	"operatorkit/internal/resource"
	"operatorkit/internal/workflow"
)

var errBoom = errors.New("boom")

const finalizer = "pages" + FinalizerDomain

func page(name string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "default"},
		Data:       map[string]string{"html": "<h1>" + name + "</h1>"},
	}
}

func htmlKey(name string) types.NamespacedName {
	return types.NamespacedName{Name: name + "-html", Namespace: "default"}
}

func htmlDependent() dependent.Resource {
	return dependent.NewKubernetes("html", func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
		func(_ context.Context, primary client.Object, _ *reconcile.Context) (*corev1.ConfigMap, error) {
			p := primary.(*corev1.ConfigMap)
			return &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{Name: p.Name + "-html", Namespace: p.Namespace},
				Data:       map[string]string{"index.html": p.Data["html"]},
			}, nil
		})
}

// failing is a dependent whose reconciliation always fails.
type failing struct{ dependent.Resource }

func (failing) Name() string { return "broken" }

func (failing) Desired(context.Context, client.Object, *reconcile.Context) (client.Object, error) {
	return nil, errBoom
}

func htmlWorkflow(t *testing.T, deps ...dependent.Resource) *workflow.Workflow {
	t.Helper()
	b := workflow.NewBuilder()
	for _, d := range deps {
		b.AddDependent(d)
	}
	wf, err := b.Build()
	require.NoError(t, err)
	return wf
}

// pageReconciler records its calls and optionally cleans up.
type pageReconciler struct {
	reconcile func(ctx context.Context, primary client.Object, rc *reconcile.Context) (reconcile.UpdateControl, error)
	calls     int
}

func (r *pageReconciler) Reconcile(ctx context.Context, primary client.Object, rc *reconcile.Context) (reconcile.UpdateControl, error) {
	r.calls++
	if r.reconcile != nil {
		return r.reconcile(ctx, primary, rc)
	}
	return reconcile.NoUpdate(), nil
}

type cleaningReconciler struct {
	pageReconciler
	cleanup  func(ctx context.Context, primary client.Object, rc *reconcile.Context) (reconcile.DeleteControl, error)
	cleanups int
}

func (r *cleaningReconciler) Cleanup(ctx context.Context, primary client.Object, rc *reconcile.Context) (reconcile.DeleteControl, error) {
	r.cleanups++
	if r.cleanup != nil {
		return r.cleanup(ctx, primary, rc)
	}
	return reconcile.DefaultDelete(), nil
}

func newDispatcher(t *testing.T, c client.Client, r reconcile.Reconciler, opts ...Option) *dispatcher {
	t.Helper()
	ctrl, err := New("pages", r, Configuration{Primary: &corev1.ConfigMap{}, Client: c}, opts...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Stop)
	return ctrl.dispatcher
}

func request(name string) event.Request {
	return event.Request{ID: resource.New(name, "default"), ExecutionID: "exec-1"}
}

func getPage(t *testing.T, c client.Client, name string) *corev1.ConfigMap {
	t.Helper()
	var cm corev1.ConfigMap
	require.NoError(t, c.Get(context.Background(), types.NamespacedName{Name: name, Namespace: "default"}, &cm))
	return &cm
}

func TestDispatch_PrimaryGone(t *testing.T) {
	c := fake.NewClientBuilder().Build()
	r := &pageReconciler{}
	d := newDispatcher(t, c, r)

	out, err := d.Dispatch(context.Background(), request("web"))
	require.NoError(t, err)
	assert.True(t, out.Gone)
	assert.Equal(t, 0, r.calls)
}

func TestDispatch_PlainReconcilerNeedsNoFinalizer(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &pageReconciler{}
	d := newDispatcher(t, c, r)

	_, err := d.Dispatch(context.Background(), request("web"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
	assert.Empty(t, getPage(t, c, "web").Finalizers)
}

func TestDispatch_PassesRequestToContext(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	exec := &stubRetry{attempt: 2}
	r := &pageReconciler{reconcile: func(_ context.Context, _ client.Object, rc *reconcile.Context) (reconcile.UpdateControl, error) {
		assert.Equal(t, resource.New("web", "default"), rc.ID())
		assert.Equal(t, "exec-1", rc.ExecutionID())
		info, ok := rc.RetryInfo()
		require.True(t, ok)
		assert.Equal(t, 2, info.Attempt())
		return reconcile.NoUpdate(), nil
	}}
	d := newDispatcher(t, c, r)

	req := request("web")
	req.Retry = exec
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

type stubRetry struct{ attempt int }

func (s *stubRetry) Attempt() int        { return s.attempt }
func (s *stubRetry) IsLastAttempt() bool { return false }

func TestDispatch_AppliesUpdateControl(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &pageReconciler{reconcile: func(_ context.Context, primary client.Object, _ *reconcile.Context) (reconcile.UpdateControl, error) {
		primary.SetLabels(map[string]string{"reconciled": "true"})
		return reconcile.UpdateResource().RescheduleAfter(time.Minute), nil
	}}
	d := newDispatcher(t, c, r)

	out, err := d.Dispatch(context.Background(), request("web"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, out.RescheduleAfter)
	assert.Equal(t, "true", getPage(t, c, "web").Labels["reconciled"])
}

func TestDispatch_ReconcilerErrorIsReturned(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &pageReconciler{reconcile: func(context.Context, client.Object, *reconcile.Context) (reconcile.UpdateControl, error) {
		return reconcile.NoUpdate(), errBoom
	}}
	d := newDispatcher(t, c, r)

	_, err := d.Dispatch(context.Background(), request("web"))
	assert.ErrorIs(t, err, errBoom)
}

func TestDispatch_ManagedWorkflow(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &pageReconciler{reconcile: func(_ context.Context, _ client.Object, rc *reconcile.Context) (reconcile.UpdateControl, error) {
		res, ok := workflow.ReconcileResultFrom(rc)
		require.True(t, ok)
		assert.True(t, res.AllReady())
		outcome, _ := res.Outcome("html")
		assert.Equal(t, workflow.Reconciled, outcome)
		return reconcile.NoUpdate(), nil
	}}
	d := newDispatcher(t, c, r, WithWorkflow(htmlWorkflow(t, htmlDependent())))

	_, err := d.Dispatch(context.Background(), request("web"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)

	primary := getPage(t, c, "web")
	assert.True(t, controllerutil.ContainsFinalizer(primary, finalizer))

	var html corev1.ConfigMap
	require.NoError(t, c.Get(context.Background(), htmlKey("web"), &html))
	assert.Equal(t, "<h1>web</h1>", html.Data["index.html"])
	require.Len(t, html.OwnerReferences, 1)
	assert.Equal(t, "web", html.OwnerReferences[0].Name)
}

func TestDispatch_WorkflowErrorSkipsReconciler(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &pageReconciler{}
	d := newDispatcher(t, c, r, WithWorkflow(htmlWorkflow(t, htmlDependent(), failing{})))

	_, err := d.Dispatch(context.Background(), request("web"))
	require.Error(t, err)

	var composite *workflow.CompositeError
	require.ErrorAs(t, err, &composite)
	assert.Equal(t, []string{"broken"}, composite.Nodes())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, r.calls)

	// The independent dependent was still created.
	var html corev1.ConfigMap
	assert.NoError(t, c.Get(context.Background(), htmlKey("web"), &html))
}

// markDeleted deletes the primary, which only sets the deletion timestamp
// while a finalizer is present.
func markDeleted(t *testing.T, c client.Client, name string) {
	t.Helper()
	require.NoError(t, c.Delete(context.Background(), page(name)))
	require.NotNil(t, getPage(t, c, name).DeletionTimestamp)
}

func TestDispatch_CleanupRemovesDependentsAndFinalizer(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &cleaningReconciler{}
	r.cleanup = func(_ context.Context, _ client.Object, rc *reconcile.Context) (reconcile.DeleteControl, error) {
		res, ok := workflow.CleanupResultFrom(rc)
		require.True(t, ok)
		assert.True(t, res.AllDeleted())
		return reconcile.DefaultDelete(), nil
	}
	d := newDispatcher(t, c, r, WithWorkflow(htmlWorkflow(t, htmlDependent())))
	ctx := context.Background()

	_, err := d.Dispatch(ctx, request("web"))
	require.NoError(t, err)
	markDeleted(t, c, "web")

	_, err = d.Dispatch(ctx, request("web"))
	require.NoError(t, err)
	assert.Equal(t, 1, r.cleanups)

	var html corev1.ConfigMap
	err = c.Get(ctx, htmlKey("web"), &html)
	assert.True(t, apierrors.IsNotFound(err))

	var primary corev1.ConfigMap
	err = c.Get(ctx, types.NamespacedName{Name: "web", Namespace: "default"}, &primary)
	assert.True(t, apierrors.IsNotFound(err), "primary should be gone once the finalizer is removed")

	out, err := d.Dispatch(ctx, request("web"))
	require.NoError(t, err)
	assert.True(t, out.Gone)
}

func TestDispatch_CleanerKeepsFinalizer(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &cleaningReconciler{}
	r.cleanup = func(context.Context, client.Object, *reconcile.Context) (reconcile.DeleteControl, error) {
		return reconcile.NoFinalizerRemoval().RescheduleAfter(5 * time.Second), nil
	}
	d := newDispatcher(t, c, r)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, request("web"))
	require.NoError(t, err)
	assert.True(t, controllerutil.ContainsFinalizer(getPage(t, c, "web"), finalizer))
	markDeleted(t, c, "web")

	out, err := d.Dispatch(ctx, request("web"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, out.RescheduleAfter)
	assert.True(t, controllerutil.ContainsFinalizer(getPage(t, c, "web"), finalizer))
}

func TestDispatch_CleanerErrorIsReturned(t *testing.T) {
	c := fake.NewClientBuilder().WithObjects(page("web")).Build()
	r := &cleaningReconciler{}
	r.cleanup = func(context.Context, client.Object, *reconcile.Context) (reconcile.DeleteControl, error) {
		return reconcile.DefaultDelete(), errBoom
	}
	d := newDispatcher(t, c, r)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, request("web"))
	require.NoError(t, err)
	markDeleted(t, c, "web")

	_, err = d.Dispatch(ctx, request("web"))
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, controllerutil.ContainsFinalizer(getPage(t, c, "web"), finalizer))
}

func TestDispatch_DeletionWithoutOurFinalizer(t *testing.T) {
	foreign := page("web")
	foreign.Finalizers = []string{"someone.else/finalizer"}
	c := fake.NewClientBuilder().WithObjects(foreign).Build()
	r := &cleaningReconciler{}
	d := newDispatcher(t, c, r)
	markDeleted(t, c, "web")

	_, err := d.Dispatch(context.Background(), request("web"))
	require.NoError(t, err)
	assert.Equal(t, 0, r.cleanups)
	assert.Equal(t, 0, r.calls)
}
