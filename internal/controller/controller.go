// Package controller binds a reconciler to its primary resource kind.
//
// A Controller owns an event processor, the event sources feeding it and
// optionally a managed workflow of dependent resources. The processor
// guarantees at most one reconciliation per primary at a time; the
// controller's dispatcher reads the primary, keeps the finalizer in place
// while cleanup is needed, runs the workflow and then the reconciler.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/utils/clock"

	"operatorkit/internal/event"
	"operatorkit/internal/events"
	"operatorkit/internal/reconcile"
	"operatorkit/internal/source"
	"operatorkit/internal/workflow"
	"operatorkit/pkg/logging"
)

// SecondarySource is an event source that can also look up the secondary
// resource of a primary.
type SecondarySource interface {
	source.EventSource
	reconcile.SecondarySource
}

// Controller reconciles the primaries of one kind.
type Controller struct {
	name string
	cfg  Configuration

	dispatcher *dispatcher
	processor  *event.Processor
	sources    []source.EventSource
	namespaces map[string]struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

type options struct {
	workflow       *workflow.Workflow
	sources        []source.EventSource
	secondaries    map[string]reconcile.SecondarySource
	processor      []event.Option
	recorder       events.Recorder
	retryExhausted func(*event.RetryExhaustedError)
}

// Option configures a Controller.
type Option func(*options)

// WithWorkflow makes the controller manage the dependents of wf before the
// reconciler runs and clean them up on deletion.
func WithWorkflow(wf *workflow.Workflow) Option {
	return func(o *options) { o.workflow = wf }
}

// WithEventSource adds a source of events for primaries.
func WithEventSource(src source.EventSource) Option {
	return func(o *options) { o.sources = append(o.sources, src) }
}

// WithSecondarySource adds a source whose secondaries reconcilers can read
// through reconcile.Context.SecondaryResource under the source's name.
func WithSecondarySource(src SecondarySource) Option {
	return func(o *options) {
		o.sources = append(o.sources, src)
		if o.secondaries == nil {
			o.secondaries = make(map[string]reconcile.SecondarySource)
		}
		o.secondaries[src.Name()] = src
	}
}

// WithMetrics installs a metrics sink on the controller's processor.
func WithMetrics(m event.Metrics) Option {
	return func(o *options) { o.processor = append(o.processor, event.WithMetrics(m)) }
}

// WithClock replaces the clock driving retries and reschedules.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) { o.processor = append(o.processor, event.WithClock(c)) }
}

// WithRetryExhaustedHandler is called when a primary runs out of retries.
func WithRetryExhaustedHandler(fn func(*event.RetryExhaustedError)) Option {
	return func(o *options) { o.retryExhausted = fn }
}

// WithEventRecorder publishes events about finalizers, failures and cleanup
// on the primaries.
func WithEventRecorder(rec events.Recorder) Option {
	return func(o *options) { o.recorder = rec }
}

// New creates a controller. The reconciler may also implement
// reconcile.Cleaner; cleanup then runs before the finalizer is removed.
func New(name string, reconciler reconcile.Reconciler, cfg Configuration, opts ...Option) (*Controller, error) {
	if name == "" {
		return nil, errors.New("controller name is required")
	}
	if reconciler == nil {
		return nil, errors.New("reconciler is required")
	}

	cfg = cfg.withDefaults(name)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration of controller %s: %w", name, err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	seen := make(map[string]struct{}, len(o.sources))
	for _, src := range o.sources {
		if _, dup := seen[src.Name()]; dup {
			return nil, fmt.Errorf("controller %s: duplicate event source %q", name, src.Name())
		}
		seen[src.Name()] = struct{}{}
	}

	d := &dispatcher{
		name:        name,
		cfg:         cfg,
		reconciler:  reconciler,
		workflow:    o.workflow,
		secondaries: o.secondaries,
		recorder:    o.recorder,
	}
	if cleaner, ok := reconciler.(reconcile.Cleaner); ok {
		d.cleaner = cleaner
	}

	popts := []event.Option{
		event.WithWorkers(cfg.Workers),
		event.WithRetry(*cfg.Retry),
		event.WithRateLimiter(cfg.RateLimiter),
		event.WithMaxReconciliationInterval(cfg.MaxReconciliationInterval),
	}
	if cfg.ReconcileTimeout > 0 {
		popts = append(popts, event.WithReconcileTimeout(cfg.ReconcileTimeout))
	}
	if o.retryExhausted != nil || o.recorder != nil {
		popts = append(popts, event.WithRetryExhaustedHandler(func(err *event.RetryExhaustedError) {
			d.retriesExhausted(err)
			if o.retryExhausted != nil {
				o.retryExhausted(err)
			}
		}))
	}
	popts = append(popts, o.processor...)

	c := &Controller{
		name:       name,
		cfg:        cfg,
		dispatcher: d,
		processor:  event.New(name, d, popts...),
		sources:    o.sources,
	}
	for _, ns := range cfg.Namespaces {
		if c.namespaces == nil {
			c.namespaces = make(map[string]struct{})
		}
		c.namespaces[ns] = struct{}{}
	}
	return c, nil
}

// Name returns the controller name.
func (c *Controller) Name() string { return c.name }

// Configuration returns the effective configuration.
func (c *Controller) Configuration() Configuration { return c.cfg }

// Workflow returns the managed workflow, or nil.
func (c *Controller) Workflow() *workflow.Workflow { return c.dispatcher.workflow }

// Sources returns the names of the controller's event sources.
func (c *Controller) Sources() []string {
	out := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src.Name())
	}
	return out
}

// EventHandler returns the handler feeding the controller's processor.
// Events for primaries outside the configured namespaces are dropped.
func (c *Controller) EventHandler() event.Handler {
	return event.HandlerFunc(func(e event.Event) {
		if len(c.namespaces) > 0 {
			if _, ok := c.namespaces[e.ID.Namespace]; !ok {
				return
			}
		}
		c.processor.HandleEvent(e)
	})
}

// Start starts the event sources and then the processor. Events delivered
// by the sources before the processor runs are dispatched once it starts.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("controller %s already started", c.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	handler := c.EventHandler()
	for _, src := range c.sources {
		if err := src.Start(ctx, handler); err != nil {
			cancel()
			return fmt.Errorf("controller %s: starting source %s: %w", c.name, src.Name(), err)
		}
	}

	if err := c.processor.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("controller %s: %w", c.name, err)
	}

	c.cancel = cancel
	c.started = true
	logging.Info("Controller", "Started controller %s with %d sources", c.name, len(c.sources))
	return nil
}

// Stop stops the sources and waits for running reconciliations.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.processor.Stop()
	logging.Info("Controller", "Stopped controller %s", c.name)
}

// Statuses returns the reconciliation status of every known primary.
func (c *Controller) Statuses() []event.Status { return c.processor.Statuses() }

// Processor exposes the controller's event processor.
func (c *Controller) Processor() *event.Processor { return c.processor }
