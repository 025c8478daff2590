// Package config loads the operator configuration.
//
// Configuration is read from a single directory containing config.yaml. The
// default directory is ~/.config/operatorkit; commands accept --config to
// point elsewhere. A missing file yields the defaults.
//
// # File Format
//
//	workers: 10
//	workflowWorkers: 4
//	reconcileTimeout: 30s
//	logLevel: info
//	namespaces: [default]
//	retry:
//	  maxAttempts: 5
//	  initialInterval: 1s
//	  multiplier: 2
//	  maxInterval: 5m
//	rateLimit:
//	  period: 1s
//	  limit: 10
//	maxReconciliationInterval: 10h
//	controllers:
//	  webpage:
//	    workers: 2
//	    finalizer: pages.example.com/finalizer
//
// Durations are Go duration strings. Unknown fields are rejected.
//
// Per-controller entries override the operator-wide values;
// OperatorConfig.For resolves the effective Settings of a controller.
package config
