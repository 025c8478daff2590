// Package source turns changes of Kubernetes objects and external state into
// events for a controller's processor.
//
// Informer sources watch Kubernetes objects through a shared informer; a
// primary informer emits events for the objects themselves, a secondary
// informer maps every change to the primary that owns the object. Polling
// sources periodically fetch state that has no watch API and emit events for
// entries that changed. Directory sources watch per-primary files on disk.
package source

import (
	"context"

	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/event"
	"operatorkit/internal/resource"
)

// EventSource delivers events to a handler until its context is done.
type EventSource interface {
	Name() string
	Start(ctx context.Context, handler event.Handler) error
}

// Registrar is the part of a shared informer a source needs. Both
// controller-runtime's cache.Informer and client-go's SharedInformer
// satisfy it.
type Registrar interface {
	AddEventHandler(handler toolscache.ResourceEventHandler) (toolscache.ResourceEventHandlerRegistration, error)
	RemoveEventHandler(handle toolscache.ResourceEventHandlerRegistration) error
}

// UpdateFilter decides whether an update of an object should be forwarded.
type UpdateFilter func(oldObj, newObj client.Object) bool

// Mapper returns the primaries affected by a change of obj.
type Mapper func(obj client.Object) []resource.ID

// objectFrom extracts the object of an informer notification, unwrapping
// tombstones of deletions observed only after a relist.
func objectFrom(obj any) (client.Object, bool) {
	if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}
	o, ok := obj.(client.Object)
	return o, ok
}
