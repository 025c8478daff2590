package config

import (
	"time"

	"operatorkit/internal/retry"
)

// Settings is the effective configuration of one controller: the operator
// values with the controller's overrides applied.
type Settings struct {
	Workers                   int
	WorkflowWorkers           int
	ReconcileTimeout          time.Duration
	Namespaces                []string
	Retry                     RetryConfig
	RateLimit                 RateLimitConfig
	MaxReconciliationInterval time.Duration
	Finalizer                 string
}

// For resolves the settings of the named controller.
func (c OperatorConfig) For(name string) Settings {
	s := Settings{
		Workers:                   c.Workers,
		WorkflowWorkers:           c.WorkflowWorkers,
		ReconcileTimeout:          c.ReconcileTimeout.D(),
		Namespaces:                c.Namespaces,
		Retry:                     c.Retry,
		RateLimit:                 c.RateLimit,
		MaxReconciliationInterval: c.MaxReconciliationInterval.D(),
	}

	o, ok := c.Controllers[name]
	if !ok {
		return s
	}
	if o.Workers > 0 {
		s.Workers = o.Workers
	}
	if o.WorkflowWorkers > 0 {
		s.WorkflowWorkers = o.WorkflowWorkers
	}
	if o.ReconcileTimeout > 0 {
		s.ReconcileTimeout = o.ReconcileTimeout.D()
	}
	if len(o.Namespaces) > 0 {
		s.Namespaces = o.Namespaces
	}
	if o.Retry != nil {
		s.Retry = mergeRetry(s.Retry, *o.Retry)
	}
	if o.RateLimit != nil {
		s.RateLimit = *o.RateLimit
	}
	if o.MaxReconciliationInterval > 0 {
		s.MaxReconciliationInterval = o.MaxReconciliationInterval.D()
	}
	s.Finalizer = o.Finalizer
	return s
}

func mergeRetry(base, o RetryConfig) RetryConfig {
	if o.MaxAttempts != nil {
		base.MaxAttempts = o.MaxAttempts
	}
	if o.InitialInterval > 0 {
		base.InitialInterval = o.InitialInterval
	}
	if o.Multiplier > 0 {
		base.Multiplier = o.Multiplier
	}
	if o.MaxInterval != 0 {
		base.MaxInterval = o.MaxInterval
	}
	return base
}

// IsSet reports whether any field is configured.
func (r RetryConfig) IsSet() bool {
	return r.MaxAttempts != nil || r.InitialInterval != 0 || r.Multiplier != 0 || r.MaxInterval != 0
}

// Policy builds the retry policy. Unset fields keep the retry package
// defaults; a negative MaxInterval removes the cap.
func (r RetryConfig) Policy() retry.Policy {
	var opts []retry.Option
	if r.MaxAttempts != nil {
		opts = append(opts, retry.WithMaxAttempts(*r.MaxAttempts))
	}
	if r.InitialInterval > 0 {
		opts = append(opts, retry.WithInitialInterval(r.InitialInterval.D()))
	}
	if r.Multiplier > 0 {
		opts = append(opts, retry.WithMultiplier(r.Multiplier))
	}
	switch {
	case r.MaxInterval < 0:
		opts = append(opts, retry.WithMaxInterval(retry.Unlimited))
	case r.MaxInterval > 0:
		opts = append(opts, retry.WithMaxInterval(r.MaxInterval.D()))
	}
	return retry.New(opts...)
}
