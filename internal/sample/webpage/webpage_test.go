package webpage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"operatorkit/internal/config"
	"operatorkit/internal/event"
	"operatorkit/internal/reconcile"
	"operatorkit/internal/resource"
	"operatorkit/internal/source"
	"operatorkit/internal/workflow"
)

func newPage(name string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			UID:       types.UID(name + "-uid"),
			Labels:    map[string]string{LabelWebPage: "true"},
		},
		Data: map[string]string{KeyHTML: "<h1>" + name + "</h1>"},
	}
}

func key(name string) types.NamespacedName {
	return types.NamespacedName{Name: name, Namespace: "default"}
}

func newContext(c client.Client, primary client.Object) *reconcile.Context {
	return reconcile.NewContext(resource.FromObject(primary), "test", c, nil, nil)
}

func markReady(t *testing.T, c client.Client, name string) {
	t.Helper()
	var d appsv1.Deployment
	require.NoError(t, c.Get(context.Background(), key(name), &d))
	d.Status.ReadyReplicas = *d.Spec.Replicas
	require.NoError(t, c.Status().Update(context.Background(), &d))
}

func outcome(t *testing.T, res *workflow.Result, node string) workflow.Outcome {
	t.Helper()
	o, ok := res.Outcome(node)
	require.True(t, ok, "no result for %s", node)
	return o
}

func TestManifests(t *testing.T) {
	page := newPage("hello")
	page.Data[KeyReplicas] = "3"
	page.Data[KeyHost] = "hello.example.com"

	d, err := Deployment(page)
	require.NoError(t, err)
	assert.Equal(t, "hello", d.Name)
	assert.Equal(t, "default", d.Namespace)
	assert.Equal(t, int32(3), *d.Spec.Replicas)
	assert.Equal(t, map[string]string{"app": "hello"}, d.Spec.Selector.MatchLabels)
	assert.Equal(t, "hello-html", d.Spec.Template.Spec.Volumes[0].ConfigMap.Name)
	assert.Equal(t, "nginx", d.Spec.Template.Spec.Containers[0].Name)

	s, err := Service(page)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app": "hello"}, s.Spec.Selector)
	assert.Equal(t, int32(80), s.Spec.Ports[0].Port)

	ing, err := Ingress(page)
	require.NoError(t, err)
	assert.Equal(t, "hello.example.com", ing.Spec.Rules[0].Host)
	assert.Equal(t, "hello", ing.Spec.Rules[0].HTTP.Paths[0].Backend.Service.Name)

	delete(page.Data, KeyHost)
	ing, err = Ingress(page)
	require.NoError(t, err)
	assert.Equal(t, "hello.local", ing.Spec.Rules[0].Host)

	assert.Equal(t, "<h1>hello</h1>", HTMLConfigMap(page).Data["index.html"])
}

func TestReplicas(t *testing.T) {
	page := newPage("hello")
	n, err := Replicas(page)
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	page.Data[KeyReplicas] = "many"
	_, err = Replicas(page)
	assert.Error(t, err)

	page.Data[KeyReplicas] = "-1"
	_, err = Replicas(page)
	assert.Error(t, err)
}

func TestWorkflow_Levels(t *testing.T) {
	wf, err := Workflow(2, nil)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{DependentHTML},
		{DependentDeployment},
		{DependentService},
		{DependentIngress},
	}, wf.Levels())
}

func TestWorkflow_ServiceWaitsForReadyDeployment(t *testing.T) {
	ctx := context.Background()
	page := newPage("hello")
	c := fake.NewClientBuilder().WithObjects(page).Build()
	rc := newContext(c, page)
	wf, err := Workflow(0, nil)
	require.NoError(t, err)

	res, err := wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	assert.False(t, res.AllReady())
	assert.Equal(t, workflow.Reconciled, outcome(t, res, DependentDeployment))
	assert.Equal(t, workflow.SkippedDependencyNotReady, outcome(t, res, DependentService))
	assert.Equal(t, "Progressing: waiting for deployment, ingress, service (0 replicas)", Status(res))

	err = c.Get(ctx, key("hello"), &corev1.Service{})
	assert.True(t, apierrors.IsNotFound(err), "service must not exist before the deployment is ready")

	markReady(t, c, "hello")

	res, err = wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	assert.True(t, res.AllReady())
	assert.Equal(t, workflow.Reconciled, outcome(t, res, DependentService))
	assert.Equal(t, workflow.NotActivated, outcome(t, res, DependentIngress))
	assert.Equal(t, "Ready (1 replicas)", Status(res))

	var svc corev1.Service
	require.NoError(t, c.Get(ctx, key("hello"), &svc))
	require.Len(t, svc.OwnerReferences, 1)
	assert.Equal(t, "ConfigMap", svc.OwnerReferences[0].Kind)
	assert.Equal(t, "hello", svc.OwnerReferences[0].Name)
}

func TestWorkflow_IngressForExposedPages(t *testing.T) {
	ctx := context.Background()
	page := newPage("hello")
	page.Annotations = map[string]string{AnnotationExpose: "true"}
	c := fake.NewClientBuilder().WithObjects(page).Build()
	rc := newContext(c, page)
	wf, err := Workflow(0, nil)
	require.NoError(t, err)

	_, err = wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	markReady(t, c, "hello")

	res, err := wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	assert.True(t, res.AllReady())
	assert.Equal(t, workflow.Reconciled, outcome(t, res, DependentIngress))

	var ing networkingv1.Ingress
	require.NoError(t, c.Get(ctx, key("hello"), &ing))
	assert.Equal(t, "hello.local", ing.Spec.Rules[0].Host)
}

func TestWorkflow_CleanupDeletesEverything(t *testing.T) {
	ctx := context.Background()
	page := newPage("hello")
	page.Annotations = map[string]string{AnnotationExpose: "true"}
	c := fake.NewClientBuilder().WithObjects(page).Build()
	rc := newContext(c, page)
	wf, err := Workflow(0, nil)
	require.NoError(t, err)

	_, err = wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	markReady(t, c, "hello")
	_, err = wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)

	res, err := wf.Cleanup(ctx, page, rc)
	require.NoError(t, err)
	assert.True(t, res.AllDeleted())

	for name, obj := range map[string]client.Object{
		"hello-html": &corev1.ConfigMap{},
		"hello":      &appsv1.Deployment{},
	} {
		err := c.Get(ctx, key(name), obj)
		assert.True(t, apierrors.IsNotFound(err), "%T %s should be deleted", obj, name)
	}
	assert.True(t, apierrors.IsNotFound(c.Get(ctx, key("hello"), &corev1.Service{})))
	assert.True(t, apierrors.IsNotFound(c.Get(ctx, key("hello"), &networkingv1.Ingress{})))
}

func TestWorkflow_HTMLKeptWhileDeploymentExists(t *testing.T) {
	ctx := context.Background()
	page := newPage("hello")
	c := fake.NewClientBuilder().WithObjects(page).Build()
	rc := newContext(c, page)

	// A Deployment not managed by the workflow, e.g. one still terminating.
	d, err := Deployment(page)
	require.NoError(t, err)
	require.NoError(t, c.Create(ctx, d))
	require.NoError(t, c.Create(ctx, HTMLConfigMap(page)))

	b := workflow.NewBuilder()
	wf, err := Workflow(0, nil)
	require.NoError(t, err)
	node, ok := wf.Node(DependentHTML)
	require.True(t, ok)
	cond, ok := node.Condition(workflow.DeletePostcondition)
	require.True(t, ok)
	htmlOnly, err := b.AddDependent(node.Resource()).WithDeletePostcondition(cond).Build()
	require.NoError(t, err)

	res, err := htmlOnly.Cleanup(ctx, page, rc)
	require.NoError(t, err)
	assert.False(t, res.AllDeleted())
	assert.Equal(t, workflow.DeleteDeferred, outcome(t, res, DependentHTML))

	require.NoError(t, c.Delete(ctx, d))
	res, err = htmlOnly.Cleanup(ctx, page, rc)
	require.NoError(t, err)
	assert.True(t, res.AllDeleted())
}

func TestReconciler_WritesStatusAnnotation(t *testing.T) {
	ctx := context.Background()
	page := newPage("hello")
	c := fake.NewClientBuilder().WithObjects(page).Build()
	rc := newContext(c, page)
	wf, err := Workflow(0, nil)
	require.NoError(t, err)

	res, err := wf.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	workflow.StoreReconcileResult(rc, res)

	uc, err := Reconciler{}.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	assert.True(t, uc.IsUpdateResource())
	assert.Equal(t, Status(res), page.Annotations[AnnotationStatus])

	uc, err = Reconciler{}.Reconcile(ctx, page, rc)
	require.NoError(t, err)
	assert.False(t, uc.IsUpdateResource(), "unchanged status needs no update")
}

func TestReconciler_RequiresWorkflowResult(t *testing.T) {
	page := newPage("hello")
	rc := newContext(fake.NewClientBuilder().Build(), page)
	_, err := Reconciler{}.Reconcile(context.Background(), page, rc)
	assert.Error(t, err)
}

// fakeInformer hands out its single registered handler.
type fakeInformer struct {
	handlers []toolscache.ResourceEventHandler
}

type fakeRegistration struct{}

func (fakeRegistration) HasSynced() bool { return true }

func (f *fakeInformer) AddEventHandler(h toolscache.ResourceEventHandler) (toolscache.ResourceEventHandlerRegistration, error) {
	f.handlers = append(f.handlers, h)
	return fakeRegistration{}, nil
}

func (f *fakeInformer) RemoveEventHandler(toolscache.ResourceEventHandlerRegistration) error {
	return nil
}

func (f *fakeInformer) add(obj client.Object) {
	for _, h := range f.handlers {
		h.OnAdd(obj, false)
	}
}

type fakeCluster struct {
	client    client.Client
	informers map[string]*fakeInformer
}

func (f *fakeCluster) Informer(_ context.Context, obj client.Object) (source.Registrar, error) {
	kind := ""
	switch obj.(type) {
	case *corev1.ConfigMap:
		kind = "configmaps"
	case *appsv1.Deployment:
		kind = "deployments"
	case *corev1.Service:
		kind = "services"
	case *networkingv1.Ingress:
		kind = "ingresses"
	}
	if f.informers == nil {
		f.informers = make(map[string]*fakeInformer)
	}
	inf, ok := f.informers[kind]
	if !ok {
		inf = &fakeInformer{}
		f.informers[kind] = inf
	}
	return inf, nil
}

func (f *fakeCluster) Client() client.Client { return f.client }

func (f *fakeCluster) Reader() client.Reader { return f.client }

func TestNewController_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	page := newPage("hello")
	plain := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "plain", Namespace: "default"}}
	c := fake.NewClientBuilder().WithObjects(page, plain).Build()
	cl := &fakeCluster{client: c}

	settings := config.GetDefaultConfig().For(ControllerName)
	ctrl, err := NewController(ctx, cl, settings, nil)
	require.NoError(t, err)
	t.Cleanup(ctrl.Stop)

	assert.Equal(t, []string{"webpages", DependentHTML, DependentDeployment, DependentService, DependentIngress}, ctrl.Sources())
	assert.Equal(t, 4, ctrl.Workflow().Len())

	require.NoError(t, ctrl.Start(ctx))
	cl.informers["configmaps"].add(plain)
	cl.informers["configmaps"].add(page)

	require.Eventually(t, func() bool {
		var d appsv1.Deployment
		return c.Get(ctx, key("hello"), &d) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var got corev1.ConfigMap
		if err := c.Get(ctx, key("hello"), &got); err != nil {
			return false
		}
		return got.Annotations[AnnotationStatus] != ""
	}, 2*time.Second, 10*time.Millisecond)

	var got corev1.ConfigMap
	require.NoError(t, c.Get(ctx, key("hello"), &got))
	assert.Contains(t, got.Finalizers, ControllerName+"."+"operatorkit.dev/finalizer")
	assert.Contains(t, got.Annotations[AnnotationStatus], "Progressing")

	var untouched corev1.ConfigMap
	require.NoError(t, c.Get(ctx, key("plain"), &untouched))
	assert.Empty(t, untouched.Finalizers, "unlabeled ConfigMaps are not pages")

	// The deployment's readiness arrives through its secondary source.
	markReady(t, c, "hello")
	var d appsv1.Deployment
	require.NoError(t, c.Get(ctx, key("hello"), &d))
	cl.informers["deployments"].add(&d)

	require.Eventually(t, func() bool {
		return c.Get(ctx, key("hello"), &corev1.Service{}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		st, ok := ctrl.Processor().Status(resource.New("hello", "default"))
		return ok && st.State == event.StateSynced
	}, 2*time.Second, 10*time.Millisecond)
}

type pageFiles map[resource.ID]string

func (f pageFiles) Get(id resource.ID) ([]byte, bool) {
	s, ok := f[id]
	return []byte(s), ok
}

func TestWorkflow_HTMLFileOverridesPage(t *testing.T) {
	ctx := context.Background()
	page := newPage("hello")
	other := newPage("other")
	c := fake.NewClientBuilder().WithObjects(page, other).Build()
	wf, err := Workflow(0, pageFiles{resource.New("hello", "default"): "<h1>from disk</h1>"})
	require.NoError(t, err)

	_, err = wf.Reconcile(ctx, page, newContext(c, page))
	require.NoError(t, err)
	_, err = wf.Reconcile(ctx, other, newContext(c, other))
	require.NoError(t, err)

	var cm corev1.ConfigMap
	require.NoError(t, c.Get(ctx, key("hello-html"), &cm))
	assert.Equal(t, "<h1>from disk</h1>", cm.Data["index.html"])

	require.NoError(t, c.Get(ctx, key("other-html"), &cm))
	assert.Equal(t, "<h1>other</h1>", cm.Data["index.html"])
}
