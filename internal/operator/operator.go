package operator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"operatorkit/internal/config"
	"operatorkit/internal/controller"
	"operatorkit/internal/event"
	"operatorkit/internal/resource"
	"operatorkit/pkg/logging"
)

// Operator coordinates the controllers of one process.
type Operator struct {
	mu sync.RWMutex

	config config.OperatorConfig

	// controllers maps controller names to controllers
	controllers map[string]*controller.Controller

	// order is the registration order
	order []string

	metrics *event.InMemoryMetrics

	running bool
}

// ResourceStatus is the reconciliation status of one primary resource.
type ResourceStatus struct {
	Controller string
	event.Status
}

// New creates an operator with the given configuration, usually the result
// of config.LoadConfig.
func New(cfg config.OperatorConfig) *Operator {
	return &Operator{
		config:      cfg,
		controllers: make(map[string]*controller.Controller),
		metrics:     event.NewInMemoryMetrics(),
	}
}

// Config returns the operator configuration.
func (o *Operator) Config() config.OperatorConfig { return o.config }

// Settings returns the effective settings of the named controller.
func (o *Operator) Settings(name string) config.Settings { return o.config.For(name) }

// Metrics returns the counters shared by the operator's controllers.
func (o *Operator) Metrics() *event.InMemoryMetrics { return o.metrics }

// Register adds a controller. Controllers must be registered before Start.
func (o *Operator) Register(c *controller.Controller) error {
	if c == nil {
		return fmt.Errorf("controller is required")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("cannot register controller %s: operator is running", c.Name())
	}
	if _, exists := o.controllers[c.Name()]; exists {
		return fmt.Errorf("controller %s already registered", c.Name())
	}

	o.controllers[c.Name()] = c
	o.order = append(o.order, c.Name())
	logging.Info("Operator", "Registered controller %s", c.Name())
	return nil
}

// Start starts every registered controller.
func (o *Operator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}
	if len(o.order) == 0 {
		return fmt.Errorf("no controllers registered")
	}

	for i, name := range o.order {
		if err := o.controllers[name].Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				o.controllers[o.order[j]].Stop()
			}
			return fmt.Errorf("failed to start controller %s: %w", name, err)
		}
	}

	o.running = true
	logging.Info("Operator", "Started %d controllers", len(o.order))
	return nil
}

// Stop stops every controller in reverse registration order.
func (o *Operator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	order := append([]string(nil), o.order...)
	o.mu.Unlock()

	logging.Info("Operator", "Stopping operator...")
	for i := len(order) - 1; i >= 0; i-- {
		o.Controller(order[i]).Stop()
	}
	logging.Info("Operator", "Operator stopped")
}

// IsRunning returns whether the operator is running.
func (o *Operator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Controller returns the named controller, or nil.
func (o *Operator) Controller(name string) *controller.Controller {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.controllers[name]
}

// Controllers returns the controller names in registration order.
func (o *Operator) Controllers() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.order...)
}

// TriggerReconcile asks the named controller to reconcile a primary.
func (o *Operator) TriggerReconcile(controllerName string, id resource.ID) error {
	c := o.Controller(controllerName)
	if c == nil {
		return fmt.Errorf("controller %s not registered", controllerName)
	}
	c.EventHandler().HandleEvent(event.Event{ID: id, Action: event.Generic})
	return nil
}

// Statuses returns the status of every primary known to any controller,
// sorted by controller and resource.
func (o *Operator) Statuses() []ResourceStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []ResourceStatus
	for _, name := range o.order {
		for _, st := range o.controllers[name].Statuses() {
			out = append(out, ResourceStatus{Controller: name, Status: st})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Controller != out[j].Controller {
			return out[i].Controller < out[j].Controller
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
