package config

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"

	"operatorkit/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Suggestions returns the non-empty suggestions of all errors.
func (ve ValidationErrors) Suggestions() []string {
	var out []string
	for _, err := range ve {
		if err.Suggestion != "" {
			out = append(out, err.Suggestion)
		}
	}
	return out
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

func (ve *ValidationErrors) suggest(suggestion string) {
	if len(*ve) > 0 {
		(*ve)[len(*ve)-1].Suggestion = suggestion
	}
}

// Validate checks the whole configuration and reports every problem found.
func (c OperatorConfig) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.Workers < 0 {
		errs.Add("workers", "must not be negative", c.Workers)
	}
	if c.WorkflowWorkers < 0 {
		errs.Add("workflowWorkers", "must not be negative", c.WorkflowWorkers)
	}
	if c.ReconcileTimeout < 0 {
		errs.Add("reconcileTimeout", "must not be negative", c.ReconcileTimeout)
	}
	if c.MaxReconciliationInterval < 0 {
		errs.Add("maxReconciliationInterval", "must not be negative", c.MaxReconciliationInterval)
	}
	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			errs.Add("logLevel", err.Error(), c.LogLevel)
			errs.suggest("use one of debug, info, warn, error")
		}
	}
	validateNamespaces(&errs, "namespaces", c.Namespaces)
	validateRetry(&errs, "retry", c.Retry)
	validateRateLimit(&errs, "rateLimit", c.RateLimit)

	names := make([]string, 0, len(c.Controllers))
	for name := range c.Controllers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		o := c.Controllers[name]
		prefix := "controllers." + name
		if o.Workers < 0 {
			errs.Add(prefix+".workers", "must not be negative", o.Workers)
		}
		if o.WorkflowWorkers < 0 {
			errs.Add(prefix+".workflowWorkers", "must not be negative", o.WorkflowWorkers)
		}
		if o.ReconcileTimeout < 0 {
			errs.Add(prefix+".reconcileTimeout", "must not be negative", o.ReconcileTimeout)
		}
		validateNamespaces(&errs, prefix+".namespaces", o.Namespaces)
		if o.Retry != nil {
			validateRetry(&errs, prefix+".retry", mergeRetry(c.Retry, *o.Retry))
		}
		if o.RateLimit != nil {
			validateRateLimit(&errs, prefix+".rateLimit", *o.RateLimit)
		}
		if o.Finalizer != "" {
			if msgs := validation.IsQualifiedName(o.Finalizer); len(msgs) > 0 {
				errs.Add(prefix+".finalizer", strings.Join(msgs, ", "), o.Finalizer)
				errs.suggest("use a qualified name such as example.com/finalizer")
			}
		}
	}

	return errs
}

func validateNamespaces(errs *ValidationErrors, field string, namespaces []string) {
	for _, ns := range namespaces {
		if msgs := validation.IsDNS1123Label(ns); len(msgs) > 0 {
			errs.Add(field, fmt.Sprintf("invalid namespace %q: %s", ns, strings.Join(msgs, ", ")), ns)
		}
	}
}

func validateRetry(errs *ValidationErrors, field string, r RetryConfig) {
	if err := r.Policy().Validate(); err != nil {
		errs.Add(field, err.Error())
		errs.suggest("maxAttempts must be -1 or more, multiplier at least 1, maxInterval at least initialInterval")
	}
}

func validateRateLimit(errs *ValidationErrors, field string, r RateLimitConfig) {
	if r.Period < 0 {
		errs.Add(field+".period", "must not be negative", r.Period)
	}
	if r.Limit < 0 {
		errs.Add(field+".limit", "must not be negative", r.Limit)
	}
}
