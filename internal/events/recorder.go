package events

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"operatorkit/pkg/logging"
	"operatorkit/pkg/strings"
)

// MaxMessageLength bounds event messages; longer messages are cut.
const MaxMessageLength = 1024

// Recorder records events about primaries.
type Recorder interface {
	Record(ctx context.Context, obj client.Object, reason EventReason, data EventData)
}

// KubernetesRecorder creates core/v1 Events through a controller-runtime
// client.
type KubernetesRecorder struct {
	client    client.Client
	component string
	templates *Templates
	clock     clock.PassiveClock
}

// NewRecorder returns a recorder reporting as component.
func NewRecorder(c client.Client, component string) *KubernetesRecorder {
	return &KubernetesRecorder{
		client:    c,
		component: component,
		templates: NewTemplates(),
		clock:     clock.RealClock{},
	}
}

// Templates returns the message templates of the recorder.
func (r *KubernetesRecorder) Templates() *Templates { return r.templates }

// Record implements Recorder. Errors are logged.
func (r *KubernetesRecorder) Record(ctx context.Context, obj client.Object, reason EventReason, data EventData) {
	if err := r.create(ctx, obj, reason, data); err != nil {
		logging.Warn("Events", "Failed to record %s event for %s/%s: %v", reason, obj.GetNamespace(), obj.GetName(), err)
	}
}

func (r *KubernetesRecorder) create(ctx context.Context, obj client.Object, reason EventReason, data EventData) error {
	gvk, err := apiutil.GVKForObject(obj, r.client.Scheme())
	if err != nil {
		return fmt.Errorf("failed to get GroupVersionKind for object: %w", err)
	}

	data.Name = obj.GetName()
	data.Namespace = obj.GetNamespace()
	message := strings.Truncate(r.templates.Render(reason, data), MaxMessageLength)

	namespace := obj.GetNamespace()
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	now := metav1.NewTime(r.clock.Now())

	ev := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: obj.GetName() + "-",
			Namespace:    namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion:      gvk.GroupVersion().String(),
			Kind:            gvk.Kind,
			Name:            obj.GetName(),
			Namespace:       obj.GetNamespace(),
			UID:             obj.GetUID(),
			ResourceVersion: obj.GetResourceVersion(),
		},
		Reason:         string(reason),
		Message:        message,
		Type:           string(eventType(reason)),
		Source:         corev1.EventSource{Component: r.component},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}

	logging.Debug("Events", "Recording %s event for %s/%s: %s", reason, obj.GetNamespace(), obj.GetName(), message)
	if err := r.client.Create(ctx, ev); err != nil {
		return fmt.Errorf("failed to create Kubernetes Event: %w", err)
	}
	return nil
}

var _ Recorder = (*KubernetesRecorder)(nil)
