// Package logging provides the structured logging used throughout operatorkit.
//
// The package is a thin layer over the standard slog package. Every entry
// carries a subsystem attribute so output from the event processor, the
// workflow executor and the controllers can be told apart.
//
// # Log Levels
//   - **Debug**: event handling, state transitions, per-node workflow outcomes
//   - **Info**: controller lifecycle, successful reconciliations
//   - **Warn**: retries being scheduled, rate limiting
//   - **Error**: failed reconciliations and exhausted retries
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Operator", "Starting %d controllers", n)
//	logging.Error("EventProcessor", err, "Reconciliation of %s failed", id)
//
// A Scoped logger carries fixed attributes, such as the resource being
// reconciled and the execution id, into every message:
//
//	log := logging.With("Controller", "resource", id.String(), "execution", execID)
//	log.Debug("Running workflow")
//
// # Subsystems
//
//   - **Bootstrap**: application initialization and startup
//   - **Config**: configuration loading and validation
//   - **Operator**: controller registration and lifecycle
//   - **EventProcessor**: per-resource scheduling, retries and rate limiting
//   - **Controller**: reconciliation dispatch and finalizers
//   - **Workflow**: dependent resource workflow execution
//   - **Source**: informer and polling event sources
//
// # Controller-Runtime Integration
//
// Init also installs a logr bridge as the controller-runtime logger, so
// informers and caches log through the same handler. Logr returns the same
// bridge for code that expects a logr.Logger.
//
// # Thread Safety
//
// Logging functions are safe for concurrent use. Init is expected to run once
// before any goroutine logs.
package logging
