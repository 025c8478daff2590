package event

import (
	"time"

	"k8s.io/utils/clock"

	"operatorkit/internal/ratelimit"
	"operatorkit/internal/retry"
)

const (
	// DefaultWorkers is the number of reconciliations run in parallel.
	DefaultWorkers = 10

	// DefaultReconcileTimeout bounds a single reconciliation.
	DefaultReconcileTimeout = 30 * time.Second

	// MinRescheduleDelay is the shortest delay used when a dispatch is rate
	// limited.
	MinRescheduleDelay = 50 * time.Millisecond
)

type options struct {
	workers          int
	retry            retry.Policy
	limiter          ratelimit.Limiter
	reconcileTimeout time.Duration
	maxInterval      time.Duration
	clock            clock.WithDelayedExecution
	metrics          Metrics
	onExhausted      func(*RetryExhaustedError)
}

func defaultOptions() options {
	return options{
		workers:          DefaultWorkers,
		retry:            retry.Default(),
		limiter:          ratelimit.Unlimited{},
		reconcileTimeout: DefaultReconcileTimeout,
		clock:            clock.RealClock{},
		metrics:          NoopMetrics{},
	}
}

// Option configures a Processor.
type Option func(*options)

// WithWorkers sets the size of the worker pool.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRetry sets the retry policy applied to failed reconciliations.
func WithRetry(p retry.Policy) Option {
	return func(o *options) { o.retry = p }
}

// WithRateLimiter sets the per-resource rate limiter.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		if l != nil {
			o.limiter = l
		}
	}
}

// WithReconcileTimeout bounds each reconciliation. Zero disables the bound.
func WithReconcileTimeout(d time.Duration) Option {
	return func(o *options) { o.reconcileTimeout = d }
}

// WithMaxReconciliationInterval reconciles every resource at least this
// often, even without events. Zero disables it.
func WithMaxReconciliationInterval(d time.Duration) Option {
	return func(o *options) { o.maxInterval = d }
}

// WithClock replaces the clock driving timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics installs a Metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRetryExhaustedHandler is called once each time a resource runs out of
// retries.
func WithRetryExhaustedHandler(fn func(*RetryExhaustedError)) Option {
	return func(o *options) { o.onExhausted = fn }
}
