package reconcile

import (
	"context"
	"fmt"
	"sync"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/resource"
)

// RetryInfo describes the failure sequence the current reconciliation is
// part of.
type RetryInfo interface {
	Attempt() int
	IsLastAttempt() bool
}

// SecondarySource looks up a secondary resource belonging to a primary.
type SecondarySource interface {
	GetSecondaryResource(ctx context.Context, primary client.Object, into client.Object) (bool, error)
}

// Context is handed to every reconciliation. It lives for one invocation and
// is discarded afterwards. Values may be stored concurrently, e.g. by
// workflow nodes running in parallel.
type Context struct {
	id          resource.ID
	executionID string
	client      client.Client
	retry       RetryInfo
	sources     map[string]SecondarySource

	mu     sync.RWMutex
	values map[any]any
}

// NewContext builds a Context. retry may be nil for a first attempt.
func NewContext(id resource.ID, executionID string, c client.Client, retry RetryInfo, sources map[string]SecondarySource) *Context {
	return &Context{
		id:          id,
		executionID: executionID,
		client:      c,
		retry:       retry,
		sources:     sources,
		values:      make(map[any]any),
	}
}

// ID returns the primary's identity.
func (c *Context) ID() resource.ID { return c.id }

// ExecutionID identifies this reconciliation in logs.
func (c *Context) ExecutionID() string { return c.executionID }

// Client returns the client used to read and write resources.
func (c *Context) Client() client.Client { return c.client }

// RetryInfo returns the retry state when this run is a retry of a failure.
func (c *Context) RetryInfo() (RetryInfo, bool) {
	if c.retry == nil {
		return nil, false
	}
	return c.retry, true
}

// Source returns a registered secondary source by name.
func (c *Context) Source(name string) (SecondarySource, bool) {
	s, ok := c.sources[name]
	return s, ok
}

// SecondaryResource fetches the secondary resource for the primary from the
// named source. Asking for a source that was never registered is an error.
func (c *Context) SecondaryResource(ctx context.Context, sourceName string, primary, into client.Object) (bool, error) {
	s, ok := c.sources[sourceName]
	if !ok {
		return false, fmt.Errorf("no secondary source %q registered", sourceName)
	}
	return s.GetSecondaryResource(ctx, primary, into)
}

// Put stores a value for the rest of this reconciliation.
func (c *Context) Put(key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a value stored with Put.
func (c *Context) Get(key any) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}
