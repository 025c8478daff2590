package source

import (
	"slices"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// GenerationOrMetadataChanged forwards an update when the spec generation,
// the finalizers, the labels or the annotations changed. Objects marked for
// deletion are always forwarded. For kinds that do not track generations
// (both generations zero) any new resource version is forwarded.
func GenerationOrMetadataChanged(oldObj, newObj client.Object) bool {
	if newObj.GetDeletionTimestamp() != nil {
		return true
	}
	if oldObj.GetGeneration() == 0 && newObj.GetGeneration() == 0 {
		return ResourceVersionChanged(oldObj, newObj)
	}
	if oldObj.GetGeneration() != newObj.GetGeneration() {
		return true
	}
	if !slices.Equal(oldObj.GetFinalizers(), newObj.GetFinalizers()) {
		return true
	}
	if !labels.Equals(oldObj.GetLabels(), newObj.GetLabels()) {
		return true
	}
	return !equality.Semantic.DeepEqual(oldObj.GetAnnotations(), newObj.GetAnnotations())
}

// ResourceVersionChanged drops periodic resyncs, which redeliver an object
// unchanged.
func ResourceVersionChanged(oldObj, newObj client.Object) bool {
	return oldObj.GetResourceVersion() != newObj.GetResourceVersion()
}

// AllUpdates forwards every update.
func AllUpdates(client.Object, client.Object) bool { return true }
