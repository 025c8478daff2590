package event

import (
	"sort"
	"sync"
	"time"

	"operatorkit/internal/resource"
	"operatorkit/pkg/logging"
)

// Metrics receives lifecycle notifications from a processor. Implementations
// must be safe for concurrent use and must not block.
type Metrics interface {
	EventReceived(controller string, ev Event)
	ReconcileStarted(controller string, id resource.ID, retry bool)
	ReconcileSucceeded(controller string, id resource.ID, duration time.Duration)
	ReconcileFailed(controller string, id resource.ID, err error)
	RetriesExhausted(controller string, id resource.ID)
	RateLimited(controller string, id resource.ID, delay time.Duration)
	Removed(controller string, id resource.ID)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) EventReceived(string, Event)                           {}
func (NoopMetrics) ReconcileStarted(string, resource.ID, bool)            {}
func (NoopMetrics) ReconcileSucceeded(string, resource.ID, time.Duration) {}
func (NoopMetrics) ReconcileFailed(string, resource.ID, error)            {}
func (NoopMetrics) RetriesExhausted(string, resource.ID)                  {}
func (NoopMetrics) RateLimited(string, resource.ID, time.Duration)        {}
func (NoopMetrics) Removed(string, resource.ID)                           {}

// InMemoryMetrics keeps per-controller counters.
//
// It provides visibility into reconciliation patterns, retry pressure and
// rate limiting without an external metrics backend.
type InMemoryMetrics struct {
	mu          sync.RWMutex
	controllers map[string]*controllerMetrics
}

type controllerMetrics struct {
	EventsReceived     int64
	ReconcileAttempts  int64
	ReconcileRetries   int64
	ReconcileSuccesses int64
	ReconcileFailures  int64
	RetriesExhausted   int64
	RateLimited        int64
	Removed            int64
	TotalDuration      time.Duration
	LastSuccessAt      time.Time
	LastFailureAt      time.Time
}

// MetricsSummary is a read-only view of one controller's counters.
type MetricsSummary struct {
	Controller         string        `json:"controller"`
	EventsReceived     int64         `json:"events_received"`
	ReconcileAttempts  int64         `json:"reconcile_attempts"`
	ReconcileRetries   int64         `json:"reconcile_retries"`
	ReconcileSuccesses int64         `json:"reconcile_successes"`
	ReconcileFailures  int64         `json:"reconcile_failures"`
	RetriesExhausted   int64         `json:"retries_exhausted"`
	RateLimited        int64         `json:"rate_limited"`
	Removed            int64         `json:"removed"`
	AverageDuration    time.Duration `json:"average_duration"`
	LastSuccessAt      time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt      time.Time     `json:"last_failure_at,omitempty"`
	FailureRate        float64       `json:"failure_rate"`
}

// NewInMemoryMetrics creates an empty InMemoryMetrics.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{controllers: make(map[string]*controllerMetrics)}
}

// getOrCreate must be called with mu held.
func (m *InMemoryMetrics) getOrCreate(controller string) *controllerMetrics {
	if cm, ok := m.controllers[controller]; ok {
		return cm
	}
	cm := &controllerMetrics{}
	m.controllers[controller] = cm
	return cm
}

func (m *InMemoryMetrics) EventReceived(controller string, _ Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(controller).EventsReceived++
}

func (m *InMemoryMetrics) ReconcileStarted(controller string, _ resource.ID, retry bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.getOrCreate(controller)
	cm.ReconcileAttempts++
	if retry {
		cm.ReconcileRetries++
	}
}

func (m *InMemoryMetrics) ReconcileSucceeded(controller string, _ resource.ID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.getOrCreate(controller)
	cm.ReconcileSuccesses++
	cm.TotalDuration += d
	cm.LastSuccessAt = time.Now()
}

func (m *InMemoryMetrics) ReconcileFailed(controller string, id resource.ID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cm := m.getOrCreate(controller)
	cm.ReconcileFailures++
	cm.LastFailureAt = time.Now()

	logging.Debug("Metrics", "Reconcile failure for %s %s (failures: %d): %v", controller, id, cm.ReconcileFailures, err)
}

func (m *InMemoryMetrics) RetriesExhausted(controller string, _ resource.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(controller).RetriesExhausted++
}

func (m *InMemoryMetrics) RateLimited(controller string, _ resource.ID, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(controller).RateLimited++
}

func (m *InMemoryMetrics) Removed(controller string, _ resource.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(controller).Removed++
}

// Summary returns the counters of one controller.
func (m *InMemoryMetrics) Summary(controller string) MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MetricsSummary{Controller: controller}
	cm, ok := m.controllers[controller]
	if !ok {
		return s
	}
	s.EventsReceived = cm.EventsReceived
	s.ReconcileAttempts = cm.ReconcileAttempts
	s.ReconcileRetries = cm.ReconcileRetries
	s.ReconcileSuccesses = cm.ReconcileSuccesses
	s.ReconcileFailures = cm.ReconcileFailures
	s.RetriesExhausted = cm.RetriesExhausted
	s.RateLimited = cm.RateLimited
	s.Removed = cm.Removed
	s.LastSuccessAt = cm.LastSuccessAt
	s.LastFailureAt = cm.LastFailureAt
	if cm.ReconcileSuccesses > 0 {
		s.AverageDuration = cm.TotalDuration / time.Duration(cm.ReconcileSuccesses)
	}
	if finished := cm.ReconcileSuccesses + cm.ReconcileFailures; finished > 0 {
		s.FailureRate = float64(cm.ReconcileFailures) / float64(finished)
	}
	return s
}

// Controllers returns the names of all controllers with recorded metrics.
func (m *InMemoryMetrics) Controllers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.controllers))
	for name := range m.controllers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
