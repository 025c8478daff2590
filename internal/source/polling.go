package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/util/wait"

	"operatorkit/internal/event"
	"operatorkit/internal/resource"
	"operatorkit/pkg/logging"
)

// FetchFunc returns the current external state, keyed by the primary it
// belongs to.
type FetchFunc[T any] func(ctx context.Context) (map[resource.ID]T, error)

// Polling periodically fetches external state and emits a Generic event for
// every primary whose entry was added, changed or removed since the last
// fetch. The latest state is cached and served by Get.
type Polling[T any] struct {
	name   string
	period time.Duration
	fetch  FetchFunc[T]
	equal  func(a, b T) bool

	mu      sync.RWMutex
	state   map[resource.ID]T
	started bool
}

// NewPolling returns a polling source. Entries are compared with
// equality.Semantic unless equal is given.
func NewPolling[T any](name string, period time.Duration, fetch FetchFunc[T], equal func(a, b T) bool) *Polling[T] {
	if equal == nil {
		equal = func(a, b T) bool { return equality.Semantic.DeepEqual(a, b) }
	}
	return &Polling[T]{
		name:   name,
		period: period,
		fetch:  fetch,
		equal:  equal,
		state:  make(map[resource.ID]T),
	}
}

// Name returns the name of the source.
func (p *Polling[T]) Name() string { return p.name }

// Start polls every period until ctx is done. The first fetch runs
// immediately.
func (p *Polling[T]) Start(ctx context.Context, handler event.Handler) error {
	if p.period <= 0 {
		return fmt.Errorf("polling source %s: period must be positive, got %v", p.name, p.period)
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("source %s already started", p.name)
	}
	p.started = true
	p.mu.Unlock()

	go wait.UntilWithContext(ctx, func(ctx context.Context) {
		p.poll(ctx, handler)
	}, p.period)

	logging.Debug("Source", "Started polling source %s every %v", p.name, p.period)
	return nil
}

// Get returns the cached state of a primary.
func (p *Polling[T]) Get(id resource.ID) (T, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.state[id]
	return v, ok
}

func (p *Polling[T]) poll(ctx context.Context, handler event.Handler) {
	fresh, err := p.fetch(ctx)
	if err != nil {
		// The previous state is kept so a failing backend does not look like
		// every entry was removed.
		logging.Warn("Source", "Polling source %s failed to fetch: %v", p.name, err)
		return
	}

	var changed []resource.ID

	p.mu.Lock()
	for id, v := range fresh {
		old, ok := p.state[id]
		if !ok || !p.equal(old, v) {
			changed = append(changed, id)
		}
	}
	for id := range p.state {
		if _, ok := fresh[id]; !ok {
			changed = append(changed, id)
		}
	}
	p.state = fresh
	p.mu.Unlock()

	for _, id := range changed {
		handler.HandleEvent(event.Event{ID: id, Action: event.Generic})
	}
	if len(changed) > 0 {
		logging.Debug("Source", "Polling source %s: %d entries changed", p.name, len(changed))
	}
}

var _ EventSource = (*Polling[struct{}])(nil)
