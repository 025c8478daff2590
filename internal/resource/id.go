// Package resource defines the identity of primary resources handled by the
// reconciliation runtime.
package resource

import (
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ID identifies a primary resource. An empty Namespace means the resource is
// cluster scoped. ID is a comparable value type and is used as the map key
// for all per-resource state.
type ID struct {
	Name      string
	Namespace string
}

// New returns the ID for a namespaced resource.
func New(name, namespace string) ID {
	return ID{Name: name, Namespace: namespace}
}

// ClusterScoped returns the ID for a resource without namespace.
func ClusterScoped(name string) ID {
	return ID{Name: name}
}

// FromObject extracts the ID of a Kubernetes object.
func FromObject(obj client.Object) ID {
	return ID{Name: obj.GetName(), Namespace: obj.GetNamespace()}
}

// FromNamespacedName converts a types.NamespacedName into an ID.
func FromNamespacedName(nn types.NamespacedName) ID {
	return ID{Name: nn.Name, Namespace: nn.Namespace}
}

// NamespacedName returns the ID as a client key usable with client.Reader.Get.
func (id ID) NamespacedName() types.NamespacedName {
	return types.NamespacedName{Name: id.Name, Namespace: id.Namespace}
}

// IsClusterScoped reports whether the ID has no namespace.
func (id ID) IsClusterScoped() bool {
	return id.Namespace == ""
}

// String renders the ID as namespace/name, or just name for cluster scoped
// resources.
func (id ID) String() string {
	if id.Namespace == "" {
		return id.Name
	}
	return id.Namespace + "/" + id.Name
}
