package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/labels"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/event"
	"operatorkit/pkg/logging"
)

// Informer emits events for changes seen by a shared informer.
type Informer struct {
	name     string
	informer Registrar
	reader   client.Reader
	primary  bool

	filter     UpdateFilter
	mapper     Mapper
	key        KeyFunc
	namespaces map[string]struct{}
	selector   labels.Selector

	mu           sync.Mutex
	registration toolscache.ResourceEventHandlerRegistration
}

// InformerOption configures an Informer.
type InformerOption func(*Informer)

// WithUpdateFilter replaces the filter applied to updates.
func WithUpdateFilter(f UpdateFilter) InformerOption {
	return func(i *Informer) { i.filter = f }
}

// WithMapper replaces how a secondary object is mapped to primaries.
func WithMapper(m Mapper) InformerOption {
	return func(i *Informer) { i.mapper = m }
}

// WithSecondaryKey sets how GetSecondaryResource locates the secondary of a
// primary.
func WithSecondaryKey(k KeyFunc) InformerOption {
	return func(i *Informer) { i.key = k }
}

// WithNamespaces drops objects outside the given namespaces. Without it all
// namespaces are watched.
func WithNamespaces(namespaces ...string) InformerOption {
	return func(i *Informer) {
		for _, ns := range namespaces {
			if ns == "" {
				continue
			}
			if i.namespaces == nil {
				i.namespaces = make(map[string]struct{})
			}
			i.namespaces[ns] = struct{}{}
		}
	}
}

// WithLabelSelector drops objects whose labels do not match selector.
func WithLabelSelector(selector labels.Selector) InformerOption {
	return func(i *Informer) { i.selector = selector }
}

// NewPrimary returns a source for the primary resources of a controller.
// Updates are filtered with GenerationOrMetadataChanged unless overridden.
func NewPrimary(name string, informer Registrar, opts ...InformerOption) *Informer {
	i := &Informer{
		name:     name,
		informer: informer,
		primary:  true,
		filter:   GenerationOrMetadataChanged,
		mapper:   SameName,
		key:      PrimaryKey,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// NewSecondary returns a source for objects owned by primaries. Changes are
// mapped to primaries through the controller owner reference unless a
// mapper is given; reader answers GetSecondaryResource.
func NewSecondary(name string, informer Registrar, reader client.Reader, opts ...InformerOption) *Informer {
	i := &Informer{
		name:     name,
		informer: informer,
		reader:   reader,
		filter:   ResourceVersionChanged,
		mapper:   ControllerOwner(""),
		key:      PrimaryKey,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Name returns the name of the source.
func (i *Informer) Name() string { return i.name }

// Start registers the source with the informer. The registration is removed
// when ctx is done.
func (i *Informer) Start(ctx context.Context, handler event.Handler) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.registration != nil {
		return fmt.Errorf("source %s already started", i.name)
	}

	reg, err := i.informer.AddEventHandler(toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			i.handle(handler, obj, event.Created)
		},
		UpdateFunc: func(oldObj, newObj any) {
			i.handleUpdate(handler, oldObj, newObj)
		},
		DeleteFunc: func(obj any) {
			i.handle(handler, obj, event.Deleted)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add event handler for %s: %w", i.name, err)
	}
	i.registration = reg

	go func() {
		<-ctx.Done()
		if err := i.informer.RemoveEventHandler(reg); err != nil {
			logging.Warn("Source", "Failed to remove event handler of %s: %v", i.name, err)
		}
	}()

	logging.Debug("Source", "Started informer source %s", i.name)
	return nil
}

// HasSynced reports whether the initial list was delivered.
func (i *Informer) HasSynced() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.registration != nil && i.registration.HasSynced()
}

// GetSecondaryResource reads the secondary object of primary into into. It
// reports false when the object does not exist.
func (i *Informer) GetSecondaryResource(ctx context.Context, primary client.Object, into client.Object) (bool, error) {
	if i.reader == nil {
		return false, errors.New("source " + i.name + " has no reader")
	}
	if err := i.reader.Get(ctx, i.key(primary), into); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (i *Informer) handleUpdate(handler event.Handler, oldObj, newObj any) {
	o, ok := objectFrom(oldObj)
	if !ok {
		logging.Warn("Source", "%s: update with unexpected old object %T", i.name, oldObj)
		return
	}
	n, ok := objectFrom(newObj)
	if !ok {
		logging.Warn("Source", "%s: update with unexpected object %T", i.name, newObj)
		return
	}
	if i.filter != nil && !i.filter(o, n) {
		return
	}
	i.emit(handler, n, event.Updated)
}

func (i *Informer) handle(handler event.Handler, obj any, action event.Action) {
	o, ok := objectFrom(obj)
	if !ok {
		logging.Warn("Source", "%s: %s with unexpected object %T", i.name, action, obj)
		return
	}
	i.emit(handler, o, action)
}

func (i *Informer) emit(handler event.Handler, obj client.Object, action event.Action) {
	if !i.watches(obj.GetNamespace()) {
		return
	}
	if i.selector != nil && !i.selector.Matches(labels.Set(obj.GetLabels())) {
		return
	}

	// A change of a secondary only asks for another look at its primary.
	if !i.primary {
		action = event.Generic
	}

	for _, id := range i.mapper(obj) {
		logging.Debug("Source", "%s: %s %s", i.name, action, id)
		handler.HandleEvent(event.Event{ID: id, Action: action})
	}
}

func (i *Informer) watches(namespace string) bool {
	if len(i.namespaces) == 0 {
		return true
	}
	_, ok := i.namespaces[namespace]
	return ok
}

var _ EventSource = (*Informer)(nil)

