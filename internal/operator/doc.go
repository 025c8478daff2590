// Package operator runs a set of controllers as one process.
//
// # Overview
//
// An Operator holds the operator-wide configuration and the controllers
// registered with it. Controllers are built by the caller, usually with
// settings resolved through Operator.Settings so that the configuration file
// can override code defaults per controller:
//
//	op := operator.New(cfg)
//	ctrl, err := controller.New("webpages", reconciler,
//	    controller.Configuration{Primary: &corev1.ConfigMap{}, Client: c}.
//	        WithSettings(op.Settings("webpages")),
//	    controller.WithMetrics(op.Metrics()))
//	if err != nil {
//	    return err
//	}
//	if err := op.Register(ctrl); err != nil {
//	    return err
//	}
//	if err := op.Start(ctx); err != nil {
//	    return err
//	}
//	defer op.Stop()
//
// # Lifecycle
//
// Start starts the controllers in registration order. If one fails, the
// controllers already started are stopped again and the error is returned.
// Stop stops them in reverse order and waits for running reconciliations.
//
// # Status
//
// Statuses aggregates the per-resource reconciliation status of every
// controller, and Metrics exposes the counters shared by controllers that
// were created with controller.WithMetrics(op.Metrics()).
package operator
