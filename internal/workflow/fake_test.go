package workflow

import (
	"context"
	"errors"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/dependent"
	"operatorkit/internal/reconcile"
	"operatorkit/internal/resource"
)

// world is an in-memory store of secondary resources shared by fake
// dependents. It records every mutating call in order.
type world struct {
	mu      sync.Mutex
	objects map[string]*corev1.ConfigMap
	calls   []string
}

func newWorld() *world {
	return &world{objects: make(map[string]*corev1.ConfigMap)}
}

func (w *world) record(call string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, call)
}

func (w *world) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func (w *world) count(call string) int {
	n := 0
	for _, c := range w.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (w *world) exists(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.objects[name]
	return ok
}

func (w *world) annotate(name, key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	obj := w.objects[name]
	if obj.Annotations == nil {
		obj.Annotations = map[string]string{}
	}
	obj.Annotations[key] = value
}

// fakeDependent manages one ConfigMap in a world.
type fakeDependent struct {
	name  string
	world *world

	mu        sync.Mutex
	failWith  error
	panicWith any
	hook      func()
}

func newFake(w *world, name string) *fakeDependent {
	return &fakeDependent{name: name, world: w}
}

func (f *fakeDependent) fail(err error) *fakeDependent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
	return f
}

func (f *fakeDependent) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.failWith
}

func (f *fakeDependent) Name() string { return f.name }

func (f *fakeDependent) Desired(context.Context, client.Object, *reconcile.Context) (client.Object, error) {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: f.name},
		Data:       map[string]string{"owner": f.name},
	}, nil
}

func (f *fakeDependent) Secondary(context.Context, client.Object, *reconcile.Context) (client.Object, bool, error) {
	f.world.mu.Lock()
	defer f.world.mu.Unlock()
	obj, ok := f.world.objects[f.name]
	if !ok {
		return nil, false, nil
	}
	return obj.DeepCopy(), true, nil
}

func (f *fakeDependent) Match(actual, desired client.Object, _ client.Object, _ *reconcile.Context) bool {
	return actual.(*corev1.ConfigMap).Data["owner"] == desired.(*corev1.ConfigMap).Data["owner"]
}

func (f *fakeDependent) Create(_ context.Context, desired, _ client.Object, _ *reconcile.Context) (client.Object, error) {
	if f.hook != nil {
		f.hook()
	}
	if err := f.err(); err != nil {
		return nil, err
	}
	f.world.record("create:" + f.name)
	f.world.mu.Lock()
	defer f.world.mu.Unlock()
	f.world.objects[f.name] = desired.(*corev1.ConfigMap)
	return desired, nil
}

func (f *fakeDependent) Update(_ context.Context, _, desired, _ client.Object, _ *reconcile.Context) (client.Object, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	f.world.record("update:" + f.name)
	f.world.mu.Lock()
	defer f.world.mu.Unlock()
	f.world.objects[f.name] = desired.(*corev1.ConfigMap)
	return desired, nil
}

func (f *fakeDependent) Delete(context.Context, client.Object, *reconcile.Context) error {
	if err := f.err(); err != nil {
		return err
	}
	f.world.record("delete:" + f.name)
	f.world.mu.Lock()
	defer f.world.mu.Unlock()
	delete(f.world.objects, f.name)
	return nil
}

var errBoom = errors.New("boom")

func testPrimary() *corev1.ConfigMap {
	return &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "primary", Namespace: "default"}}
}

func testContext() *reconcile.Context {
	return reconcile.NewContext(resource.New("primary", "default"), "test", nil, nil, nil)
}

// flag is a concurrency-safe boolean condition.
type flag struct {
	mu sync.Mutex
	v  bool
}

func newFlag(v bool) *flag { return &flag{v: v} }

func (f *flag) set(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.v = v
}

func (f *flag) IsMet(context.Context, dependent.Resource, client.Object, *reconcile.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}
