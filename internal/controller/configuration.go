package controller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/config"
	"operatorkit/internal/ratelimit"
	"operatorkit/internal/retry"
)

// FinalizerDomain is appended to the controller name to build the default
// finalizer.
const FinalizerDomain = ".operatorkit.dev/finalizer"

// Configuration is the process-local configuration of one controller. It is
// built once when the controller is created and never changes afterwards.
type Configuration struct {
	// Primary is a prototype of the primary resource kind; it is deep-copied
	// for every read.
	Primary client.Object
	// Client reads primaries and writes updates, finalizers and dependents.
	Client client.Client

	// Finalizer defaults to "<name>.operatorkit.dev/finalizer".
	Finalizer string
	// Namespaces restricts the primaries reconciled; empty means all.
	Namespaces []string

	Workers          int
	ReconcileTimeout time.Duration
	// MaxReconciliationInterval reconciles every resource at least this
	// often. Zero disables it.
	MaxReconciliationInterval time.Duration

	// Retry defaults to retry.Default().
	Retry *retry.Policy
	// RateLimiter defaults to no rate limiting.
	RateLimiter ratelimit.Limiter
}

// WithSettings returns a copy of c with every value set in s applied.
func (c Configuration) WithSettings(s config.Settings) Configuration {
	if s.Workers > 0 {
		c.Workers = s.Workers
	}
	if s.ReconcileTimeout > 0 {
		c.ReconcileTimeout = s.ReconcileTimeout
	}
	if s.MaxReconciliationInterval > 0 {
		c.MaxReconciliationInterval = s.MaxReconciliationInterval
	}
	if len(s.Namespaces) > 0 {
		c.Namespaces = s.Namespaces
	}
	if s.Finalizer != "" {
		c.Finalizer = s.Finalizer
	}
	if s.Retry.IsSet() {
		p := s.Retry.Policy()
		c.Retry = &p
	}
	if s.RateLimit.Period > 0 && s.RateLimit.Limit > 0 {
		c.RateLimiter = ratelimit.NewLinear(s.RateLimit.Period.D(), s.RateLimit.Limit)
	}
	return c
}

func (c Configuration) withDefaults(name string) Configuration {
	if c.Finalizer == "" {
		c.Finalizer = name + FinalizerDomain
	}
	if c.Retry == nil {
		p := retry.Default()
		c.Retry = &p
	}
	return c
}

// Validate checks that the configuration is usable.
func (c Configuration) Validate() error {
	var errs []error
	if c.Primary == nil {
		errs = append(errs, errors.New("primary resource prototype is required"))
	}
	if c.Client == nil {
		errs = append(errs, errors.New("client is required"))
	}
	if msgs := validation.IsQualifiedName(c.Finalizer); len(msgs) > 0 {
		errs = append(errs, fmt.Errorf("invalid finalizer %q: %s", c.Finalizer, strings.Join(msgs, ", ")))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Retry != nil {
		if err := c.Retry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("retry: %w", err))
		}
	}
	return errors.Join(errs...)
}
