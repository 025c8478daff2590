// Package workflow executes a DAG of dependent resources on behalf of a
// primary resource.
//
// A Workflow is declared with a Builder and validated once, when the owning
// controller is registered:
//
//	wf, err := workflow.NewBuilder().
//		AddDependent(deployment).WithReadyPostcondition(deploymentReady).
//		AddDependent(service).DependsOn("deployment").
//		Build()
//
// Reconcile walks the DAG level by level. Nodes of one level run
// concurrently and the next level starts only when the whole level is done.
// A node runs when every node it depends on is reconciled and ready; nodes
// below a failed, unready or precondition-skipped node are tagged instead of
// run, and nodes below an inactive node are left out of the result.
//
// Cleanup walks the levels in reverse. A node is deleted once everything
// depending on it is gone and its delete postcondition holds.
//
// Per-node failures never stop independent branches. They are reported
// through Result.ErroredNodes and Result.Err, which returns a CompositeError
// naming every failing node.
package workflow
