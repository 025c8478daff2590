package event

import (
	"errors"
	"fmt"

	"operatorkit/internal/resource"
)

// RetryExhaustedError is reported when a resource keeps failing after every
// retry the policy allows. The resource stays idle until a new event
// arrives.
type RetryExhaustedError struct {
	ID       resource.ID
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("reconciliation of %s failed after %d retries: %v", e.ID, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted reports whether err is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

// PanicError wraps a value recovered from a panicking dispatcher.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("reconciliation panicked: %v", e.Value)
}

// TimeoutError is returned when a reconciliation outlives its deadline.
type TimeoutError struct {
	Timeout string
}

func (e *TimeoutError) Error() string {
	return "reconciliation timed out after " + e.Timeout
}
