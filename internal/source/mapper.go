package source

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/resource"
)

// ControllerOwner maps an object to the primary named in its controller
// owner reference. An empty kind accepts any owner kind. Owners of
// namespaced objects live in the same namespace.
func ControllerOwner(kind string) Mapper {
	return func(obj client.Object) []resource.ID {
		ref := metav1.GetControllerOf(obj)
		if ref == nil || (kind != "" && ref.Kind != kind) {
			return nil
		}
		return []resource.ID{resource.New(ref.Name, obj.GetNamespace())}
	}
}

// SameName maps an object to the primary with its own name and namespace.
func SameName(obj client.Object) []resource.ID {
	return []resource.ID{resource.FromObject(obj)}
}

// KeyFunc computes the key of the secondary object belonging to a primary.
type KeyFunc func(primary client.Object) types.NamespacedName

// PrimaryKey looks secondaries up under the primary's own name.
func PrimaryKey(primary client.Object) types.NamespacedName {
	return client.ObjectKeyFromObject(primary)
}
