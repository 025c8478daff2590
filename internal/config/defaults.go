package config

import "time"

const (
	// DefaultWorkers is the default number of parallel reconciliations.
	DefaultWorkers = 10

	// DefaultReconcileTimeout bounds a single reconciliation.
	DefaultReconcileTimeout = 30 * time.Second

	DefaultLogLevel = "info"
)

// DefaultRetry mirrors retry.Default.
func DefaultRetry() RetryConfig {
	attempts := 5
	return RetryConfig{
		MaxAttempts:     &attempts,
		InitialInterval: Duration(time.Second),
		Multiplier:      2,
		MaxInterval:     Duration(5 * time.Minute),
	}
}

// GetDefaultConfig returns the configuration used when no config.yaml exists.
func GetDefaultConfig() OperatorConfig {
	return OperatorConfig{
		Workers:          DefaultWorkers,
		ReconcileTimeout: Duration(DefaultReconcileTimeout),
		LogLevel:         DefaultLogLevel,
		Retry:            DefaultRetry(),
	}
}
