package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// BuildError reports an invalid workflow declaration.
type BuildError struct {
	Reason string
	Nodes  []string
}

func (e *BuildError) Error() string {
	if len(e.Nodes) == 0 {
		return "invalid workflow: " + e.Reason
	}
	return fmt.Sprintf("invalid workflow: %s: %s", e.Reason, strings.Join(e.Nodes, ", "))
}

// IsBuildError reports whether err is a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// NodeError is the failure of a single workflow node.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("dependent %q: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// CompositeError aggregates the failures of every failing node of one
// workflow run.
type CompositeError struct {
	Errors []*NodeError
}

func newCompositeError(errs map[string]error) *CompositeError {
	if len(errs) == 0 {
		return nil
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)

	ce := &CompositeError{}
	for _, name := range names {
		ce.Errors = append(ce.Errors, &NodeError{Node: name, Err: errs[name]})
	}
	return ce
}

func (e *CompositeError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ne := range e.Errors {
		parts = append(parts, ne.Error())
	}
	return fmt.Sprintf("%d dependent(s) failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Unwrap exposes the node errors to errors.Is and errors.As.
func (e *CompositeError) Unwrap() []error {
	out := make([]error, 0, len(e.Errors))
	for _, ne := range e.Errors {
		out = append(out, ne)
	}
	return out
}

// Nodes returns the names of the failing nodes.
func (e *CompositeError) Nodes() []string {
	out := make([]string, 0, len(e.Errors))
	for _, ne := range e.Errors {
		out = append(out, ne.Node)
	}
	return out
}
