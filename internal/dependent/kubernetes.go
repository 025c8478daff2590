package dependent

import (
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"operatorkit/internal/reconcile"
)

// DesiredFunc computes the desired secondary object of type T.
type DesiredFunc[T client.Object] func(ctx context.Context, primary client.Object, rc *reconcile.Context) (T, error)

// KeyFunc names the secondary object belonging to a primary.
type KeyFunc func(primary client.Object) types.NamespacedName

// MatchFunc compares an actual object with the desired one.
type MatchFunc[T client.Object] func(actual, desired T) bool

// Kubernetes is a Resource managing a single Kubernetes object of type T per
// primary. Created objects carry a controller owner reference to the primary
// unless configured otherwise.
type Kubernetes[T client.Object] struct {
	name    string
	newObj  func() T
	desired DesiredFunc[T]
	key     KeyFunc
	match   MatchFunc[T]
	owned   bool
}

// KubernetesOption customizes a Kubernetes resource.
type KubernetesOption[T client.Object] func(*Kubernetes[T])

// WithKey sets how the secondary is located. By default the name and
// namespace of the desired object are used.
func WithKey[T client.Object](fn KeyFunc) KubernetesOption[T] {
	return func(k *Kubernetes[T]) { k.key = fn }
}

// WithMatcher replaces the default semantic matcher.
func WithMatcher[T client.Object](fn MatchFunc[T]) KubernetesOption[T] {
	return func(k *Kubernetes[T]) { k.match = fn }
}

// WithoutOwnerReference disables the controller reference on created objects.
func WithoutOwnerReference[T client.Object]() KubernetesOption[T] {
	return func(k *Kubernetes[T]) { k.owned = false }
}

// NewKubernetes creates a Kubernetes resource. newObj must return an empty
// object of type T.
func NewKubernetes[T client.Object](name string, newObj func() T, desired DesiredFunc[T], opts ...KubernetesOption[T]) *Kubernetes[T] {
	k := &Kubernetes[T]{
		name:    name,
		newObj:  newObj,
		desired: desired,
		owned:   true,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Name implements Resource.
func (k *Kubernetes[T]) Name() string { return k.name }

// Desired implements Resource.
func (k *Kubernetes[T]) Desired(ctx context.Context, primary client.Object, rc *reconcile.Context) (client.Object, error) {
	return k.desired(ctx, primary, rc)
}

// Secondary implements Resource.
func (k *Kubernetes[T]) Secondary(ctx context.Context, primary client.Object, rc *reconcile.Context) (client.Object, bool, error) {
	key, err := k.keyFor(ctx, primary, rc)
	if err != nil {
		return nil, false, err
	}

	obj := k.newObj()
	if err := rc.Client().Get(ctx, key, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return obj, true, nil
}

func (k *Kubernetes[T]) keyFor(ctx context.Context, primary client.Object, rc *reconcile.Context) (types.NamespacedName, error) {
	if k.key != nil {
		return k.key(primary), nil
	}
	desired, err := k.desired(ctx, primary, rc)
	if err != nil {
		return types.NamespacedName{}, fmt.Errorf("computing desired state: %w", err)
	}
	return client.ObjectKeyFromObject(desired), nil
}

// Match implements Resource.
func (k *Kubernetes[T]) Match(actual, desired client.Object, _ client.Object, _ *reconcile.Context) bool {
	a, ok := actual.(T)
	if !ok {
		return false
	}
	d, ok := desired.(T)
	if !ok {
		return false
	}
	if k.match != nil {
		return k.match(a, d)
	}
	return SemanticMatch(a, d)
}

// Create implements Resource.
func (k *Kubernetes[T]) Create(ctx context.Context, desired, primary client.Object, rc *reconcile.Context) (client.Object, error) {
	if k.owned {
		if err := controllerutil.SetControllerReference(primary, desired, rc.Client().Scheme()); err != nil {
			return nil, fmt.Errorf("setting owner reference: %w", err)
		}
	}
	if err := rc.Client().Create(ctx, desired); err != nil {
		return nil, err
	}
	return desired, nil
}

// Update implements Resource. The desired state is sent as a JSON merge
// patch so fields defaulted by the server are left alone.
func (k *Kubernetes[T]) Update(ctx context.Context, actual, desired, primary client.Object, rc *reconcile.Context) (client.Object, error) {
	if k.owned {
		if err := controllerutil.SetControllerReference(primary, desired, rc.Client().Scheme()); err != nil {
			return nil, fmt.Errorf("setting owner reference: %w", err)
		}
	}

	data, err := mergePatch(desired)
	if err != nil {
		return nil, err
	}
	if err := rc.Client().Patch(ctx, actual, client.RawPatch(types.MergePatchType, data)); err != nil {
		return nil, err
	}
	return actual, nil
}

// Delete implements Resource. A secondary that is already gone counts as
// deleted.
func (k *Kubernetes[T]) Delete(ctx context.Context, primary client.Object, rc *reconcile.Context) error {
	actual, found, err := k.Secondary(ctx, primary, rc)
	if err != nil || !found {
		return err
	}
	return client.IgnoreNotFound(rc.Client().Delete(ctx, actual))
}

// SemanticMatch reports whether every field set in desired has the same
// value in actual. Status, server-managed metadata and fields left empty in
// desired are ignored.
func SemanticMatch(actual, desired client.Object) bool {
	a, err := matchable(actual)
	if err != nil {
		return false
	}
	d, err := matchable(desired)
	if err != nil {
		return false
	}
	return equality.Semantic.DeepDerivative(d, a)
}

func matchable(obj client.Object) (map[string]interface{}, error) {
	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, err
	}
	delete(u, "status")
	delete(u, "apiVersion")
	delete(u, "kind")

	meta := map[string]interface{}{}
	if m, ok := u["metadata"].(map[string]interface{}); ok {
		for _, field := range []string{"labels", "annotations"} {
			if v, ok := m[field]; ok {
				meta[field] = v
			}
		}
	}
	u["metadata"] = meta

	return pruneNil(u), nil
}

func mergePatch(desired client.Object) ([]byte, error) {
	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(desired)
	if err != nil {
		return nil, fmt.Errorf("converting desired state: %w", err)
	}
	delete(u, "status")
	if m, ok := u["metadata"].(map[string]interface{}); ok {
		delete(m, "resourceVersion")
		delete(m, "creationTimestamp")
		delete(m, "managedFields")
		delete(m, "uid")
	}
	return json.Marshal(pruneNil(u))
}

// pruneNil drops nil values, which a merge patch would otherwise turn into
// field deletions.
func pruneNil(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			delete(m, k)
		case map[string]interface{}:
			m[k] = pruneNil(val)
		case []interface{}:
			for i, item := range val {
				if im, ok := item.(map[string]interface{}); ok {
					val[i] = pruneNil(im)
				}
			}
		}
	}
	return m
}
