package webpage

import (
	"context"
	"fmt"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/dependent"
	"operatorkit/internal/reconcile"
	"operatorkit/internal/resource"
	"operatorkit/internal/workflow"
	"operatorkit/pkg/logging"
)

const (
	// ControllerName is the name the controller is registered under.
	ControllerName = "webpage"

	// LabelWebPage marks a ConfigMap as a web page.
	LabelWebPage = "operatorkit.dev/webpage"
	// AnnotationExpose set to "true" creates an Ingress for the page.
	AnnotationExpose = "operatorkit.dev/expose"
	// AnnotationStatus is written by the reconciler.
	AnnotationStatus = "operatorkit.dev/status"

	KeyHTML     = "html"
	KeyHost     = "host"
	KeyReplicas = "replicas"
)

// Dependent names.
const (
	DependentHTML       = "html"
	DependentDeployment = "deployment"
	DependentService    = "service"
	DependentIngress    = "ingress"
)

func objectMeta(page *corev1.ConfigMap, name string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      name,
		Namespace: page.Namespace,
		Labels: map[string]string{
			"app":                          page.Name,
			"app.kubernetes.io/managed-by": "operatorkit",
		},
	}
}

func asPage(obj client.Object) (*corev1.ConfigMap, error) {
	page, ok := obj.(*corev1.ConfigMap)
	if !ok {
		return nil, fmt.Errorf("webpage primary must be a ConfigMap, got %T", obj)
	}
	return page, nil
}

func exposed(primary client.Object) bool {
	return primary.GetAnnotations()[AnnotationExpose] == "true"
}

// deploymentReady is met once every requested replica is ready. Its payload
// is the number of ready replicas.
func deploymentReady(ctx context.Context, dep dependent.Resource, primary client.Object, rc *reconcile.Context) workflow.ConditionResult {
	obj, found, err := dep.Secondary(ctx, primary, rc)
	if err != nil || !found {
		return workflow.ConditionResult{Detail: int32(0)}
	}
	d, ok := obj.(*appsv1.Deployment)
	if !ok {
		return workflow.ConditionResult{Detail: int32(0)}
	}
	want := int32(1)
	if d.Spec.Replicas != nil {
		want = *d.Spec.Replicas
	}
	return workflow.ConditionResult{
		Met:    d.Status.ReadyReplicas >= want,
		Detail: d.Status.ReadyReplicas,
	}
}

// deploymentGone is met once the page's Deployment no longer exists. A
// Deployment being deleted in the foreground still mounts the HTML.
func deploymentGone(ctx context.Context, _ dependent.Resource, primary client.Object, rc *reconcile.Context) bool {
	var d appsv1.Deployment
	err := rc.Client().Get(ctx, client.ObjectKey{Name: primary.GetName(), Namespace: primary.GetNamespace()}, &d)
	return apierrors.IsNotFound(err)
}

// HTMLFiles serves page content kept outside the cluster.
// source.Directory implements it.
type HTMLFiles interface {
	Get(id resource.ID) ([]byte, bool)
}

// Workflow builds the dependents of a web page:
//
//	html -> deployment -> service -> ingress
//
// The Service is only created once the Deployment is ready and the Ingress
// only for pages annotated with AnnotationExpose. On deletion the HTML is
// kept until the Deployment is gone. A page file in files, if any, replaces
// the page's html key.
func Workflow(concurrency int, files HTMLFiles) (*workflow.Workflow, error) {
	html := dependent.NewKubernetes(DependentHTML, func() *corev1.ConfigMap { return &corev1.ConfigMap{} },
		func(_ context.Context, primary client.Object, _ *reconcile.Context) (*corev1.ConfigMap, error) {
			page, err := asPage(primary)
			if err != nil {
				return nil, err
			}
			cm := HTMLConfigMap(page)
			if files != nil {
				if data, ok := files.Get(resource.FromObject(page)); ok {
					cm.Data[indexHTML] = string(data)
				}
			}
			return cm, nil
		})

	deployment := dependent.NewKubernetes(DependentDeployment, func() *appsv1.Deployment { return &appsv1.Deployment{} },
		func(_ context.Context, primary client.Object, _ *reconcile.Context) (*appsv1.Deployment, error) {
			page, err := asPage(primary)
			if err != nil {
				return nil, err
			}
			return Deployment(page)
		})

	service := dependent.NewKubernetes(DependentService, func() *corev1.Service { return &corev1.Service{} },
		func(_ context.Context, primary client.Object, _ *reconcile.Context) (*corev1.Service, error) {
			page, err := asPage(primary)
			if err != nil {
				return nil, err
			}
			return Service(page)
		})

	ingress := dependent.NewKubernetes(DependentIngress, func() *networkingv1.Ingress { return &networkingv1.Ingress{} },
		func(_ context.Context, primary client.Object, _ *reconcile.Context) (*networkingv1.Ingress, error) {
			page, err := asPage(primary)
			if err != nil {
				return nil, err
			}
			return Ingress(page)
		})

	b := workflow.NewBuilder().WithConcurrency(concurrency)
	b.AddDependent(html).
		WithDeletePostcondition(workflow.ConditionFunc(deploymentGone))
	b.AddDependent(deployment).
		DependsOn(DependentHTML).
		WithReadyPostcondition(workflow.DetailedFunc(deploymentReady))
	b.AddDependent(service).DependsOn(DependentDeployment)
	b.AddDependent(ingress).
		DependsOn(DependentService).
		WithActivationCondition(workflow.PrimaryCondition(exposed))
	return b.Build()
}

// Reconciler records the state of a page's dependents in AnnotationStatus.
type Reconciler struct{}

// Reconcile implements reconcile.Reconciler.
func (Reconciler) Reconcile(_ context.Context, primary client.Object, rc *reconcile.Context) (reconcile.UpdateControl, error) {
	res, ok := workflow.ReconcileResultFrom(rc)
	if !ok {
		return reconcile.NoUpdate(), fmt.Errorf("no workflow result for %s", rc.ID())
	}

	status := Status(res)
	if primary.GetAnnotations()[AnnotationStatus] == status {
		return reconcile.NoUpdate(), nil
	}

	annotations := primary.GetAnnotations()
	if annotations == nil {
		annotations = make(map[string]string)
	}
	annotations[AnnotationStatus] = status
	primary.SetAnnotations(annotations)

	logging.With("WebPage", "resource", rc.ID().String()).Info("Status changed to %q", status)
	return reconcile.UpdateResource(), nil
}

// Cleanup implements reconcile.Cleaner.
func (Reconciler) Cleanup(_ context.Context, _ client.Object, rc *reconcile.Context) (reconcile.DeleteControl, error) {
	if res, ok := workflow.CleanupResultFrom(rc); ok && !res.AllDeleted() {
		logging.Debug("WebPage", "Waiting for dependents of %s to be deleted", rc.ID())
	}
	return reconcile.DefaultDelete(), nil
}

// Status summarizes a reconcile result, e.g. "Ready (2 replicas)" or
// "Progressing: waiting for deployment (0 replicas)".
func Status(res *workflow.Result) string {
	replicas, err := workflow.ConditionDetail[int32](res, DependentDeployment, workflow.ReadyPostcondition)
	suffix := ""
	if err == nil {
		suffix = fmt.Sprintf(" (%d replicas)", replicas)
	}
	if res.AllReady() {
		return "Ready" + suffix
	}
	return "Progressing: waiting for " + strings.Join(res.NotReadyNodes(), ", ") + suffix
}

var (
	_ reconcile.Reconciler = Reconciler{}
	_ reconcile.Cleaner    = Reconciler{}
)
