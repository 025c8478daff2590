package webpage

import (
	"context"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/config"
	"operatorkit/internal/controller"
	"operatorkit/internal/source"
)

// Cluster provides the informers and clients the controller runs on.
// source.Cluster implements it.
type Cluster interface {
	Informer(ctx context.Context, obj client.Object) (source.Registrar, error)
	Client() client.Client
	Reader() client.Reader
}

// ownerKind is the kind in the owner references of a page's dependents.
const ownerKind = "ConfigMap"

func htmlKey(primary client.Object) types.NamespacedName {
	return types.NamespacedName{Name: primary.GetName() + "-html", Namespace: primary.GetNamespace()}
}

// NewController builds the web page controller: a primary source for
// labeled ConfigMaps, one secondary source per dependent kind and the
// managed workflow. With a non-nil pages directory, page files override the
// html key of their page and editing a file reconciles the page.
func NewController(ctx context.Context, cl Cluster, settings config.Settings, pages *source.Directory, opts ...controller.Option) (*controller.Controller, error) {
	var files HTMLFiles
	if pages != nil {
		files = pages
		opts = append(opts, controller.WithEventSource(pages))
	}

	wf, err := Workflow(settings.WorkflowWorkers, files)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}

	configMaps, err := cl.Informer(ctx, &corev1.ConfigMap{})
	if err != nil {
		return nil, err
	}
	deployments, err := cl.Informer(ctx, &appsv1.Deployment{})
	if err != nil {
		return nil, err
	}
	services, err := cl.Informer(ctx, &corev1.Service{})
	if err != nil {
		return nil, err
	}
	ingresses, err := cl.Informer(ctx, &networkingv1.Ingress{})
	if err != nil {
		return nil, err
	}

	owned := source.WithMapper(source.ControllerOwner(ownerKind))
	namespaces := source.WithNamespaces(settings.Namespaces...)

	opts = append([]controller.Option{
		controller.WithWorkflow(wf),
		controller.WithEventSource(source.NewPrimary("webpages", configMaps,
			source.WithLabelSelector(labels.SelectorFromSet(labels.Set{LabelWebPage: "true"})),
			namespaces)),
		controller.WithSecondarySource(source.NewSecondary(DependentHTML, configMaps, cl.Reader(),
			owned, namespaces, source.WithSecondaryKey(htmlKey))),
		controller.WithSecondarySource(source.NewSecondary(DependentDeployment, deployments, cl.Reader(), owned, namespaces)),
		controller.WithSecondarySource(source.NewSecondary(DependentService, services, cl.Reader(), owned, namespaces)),
		controller.WithSecondarySource(source.NewSecondary(DependentIngress, ingresses, cl.Reader(), owned, namespaces)),
	}, opts...)

	cfg := controller.Configuration{
		Primary: &corev1.ConfigMap{},
		Client:  cl.Client(),
	}.WithSettings(settings)

	return controller.New(ControllerName, Reconciler{}, cfg, opts...)
}
