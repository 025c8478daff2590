package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// OperatorConfig is the top-level configuration of an operator.
type OperatorConfig struct {
	// Workers is the number of reconciliations run in parallel per controller.
	Workers int `yaml:"workers,omitempty"`
	// WorkflowWorkers bounds the dependents reconciled in parallel within one
	// workflow level. Zero means unbounded.
	WorkflowWorkers  int      `yaml:"workflowWorkers,omitempty"`
	ReconcileTimeout Duration `yaml:"reconcileTimeout,omitempty"`
	LogLevel         string   `yaml:"logLevel,omitempty"`
	// Namespaces restricts the watched namespaces; empty watches all.
	Namespaces                []string        `yaml:"namespaces,omitempty"`
	Retry                     RetryConfig     `yaml:"retry,omitempty"`
	RateLimit                 RateLimitConfig `yaml:"rateLimit,omitempty"`
	MaxReconciliationInterval Duration        `yaml:"maxReconciliationInterval,omitempty"`

	// Controllers holds per-controller overrides keyed by controller name.
	Controllers map[string]ControllerConfig `yaml:"controllers,omitempty"`
}

// RetryConfig describes the retry policy for failed reconciliations.
type RetryConfig struct {
	// MaxAttempts is the number of retries; -1 retries forever.
	MaxAttempts     *int     `yaml:"maxAttempts,omitempty"`
	InitialInterval Duration `yaml:"initialInterval,omitempty"`
	Multiplier      float64  `yaml:"multiplier,omitempty"`
	MaxInterval     Duration `yaml:"maxInterval,omitempty"`
}

// RateLimitConfig allows Limit reconciliations of a resource per Period.
// A zero Period or Limit disables rate limiting.
type RateLimitConfig struct {
	Period Duration `yaml:"period,omitempty"`
	Limit  int      `yaml:"limit,omitempty"`
}

// ControllerConfig overrides operator-wide settings for one controller.
// Unset fields inherit the operator value.
type ControllerConfig struct {
	Workers                   int              `yaml:"workers,omitempty"`
	WorkflowWorkers           int              `yaml:"workflowWorkers,omitempty"`
	ReconcileTimeout          Duration         `yaml:"reconcileTimeout,omitempty"`
	Namespaces                []string         `yaml:"namespaces,omitempty"`
	Retry                     *RetryConfig     `yaml:"retry,omitempty"`
	RateLimit                 *RateLimitConfig `yaml:"rateLimit,omitempty"`
	MaxReconciliationInterval Duration         `yaml:"maxReconciliationInterval,omitempty"`
	Finalizer                 string           `yaml:"finalizer,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// D returns the duration as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", value.Line, err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// IsZero lets omitempty drop unset durations.
func (d Duration) IsZero() bool { return d == 0 }
