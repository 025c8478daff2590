// Package dependent models secondary resources managed on behalf of a
// primary resource.
package dependent

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"operatorkit/internal/reconcile"
)

// Resource is a handle to one kind of secondary resource. The same handle is
// used concurrently for different primaries, so implementations must be
// stateless or internally synchronized.
type Resource interface {
	// Name identifies the resource within a workflow.
	Name() string

	// Desired computes the state the secondary should have.
	Desired(ctx context.Context, primary client.Object, rc *reconcile.Context) (client.Object, error)

	// Secondary returns the actual secondary resource, if it exists.
	Secondary(ctx context.Context, primary client.Object, rc *reconcile.Context) (client.Object, bool, error)

	// Match reports whether actual already satisfies desired.
	Match(actual, desired client.Object, primary client.Object, rc *reconcile.Context) bool

	Create(ctx context.Context, desired, primary client.Object, rc *reconcile.Context) (client.Object, error)
	Update(ctx context.Context, actual, desired, primary client.Object, rc *reconcile.Context) (client.Object, error)
	Delete(ctx context.Context, primary client.Object, rc *reconcile.Context) error
}

// Operation describes what Reconcile did.
type Operation string

const (
	OperationNone    Operation = "unchanged"
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
)

// Reconcile converges one secondary resource: it computes the desired state,
// compares it with the actual one and creates or updates as needed.
func Reconcile(ctx context.Context, r Resource, primary client.Object, rc *reconcile.Context) (Operation, client.Object, error) {
	desired, err := r.Desired(ctx, primary, rc)
	if err != nil {
		return OperationNone, nil, fmt.Errorf("computing desired state: %w", err)
	}

	actual, found, err := r.Secondary(ctx, primary, rc)
	if err != nil {
		return OperationNone, nil, fmt.Errorf("reading actual state: %w", err)
	}

	if !found {
		created, err := r.Create(ctx, desired, primary, rc)
		if err != nil {
			return OperationNone, nil, fmt.Errorf("creating: %w", err)
		}
		return OperationCreated, created, nil
	}

	if r.Match(actual, desired, primary, rc) {
		return OperationNone, actual, nil
	}

	updated, err := r.Update(ctx, actual, desired, primary, rc)
	if err != nil {
		return OperationNone, nil, fmt.Errorf("updating: %w", err)
	}
	return OperationUpdated, updated, nil
}
