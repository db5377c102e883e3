// Package errors provides lightweight, structured wrapping for the
// low-level failures components raise against their collaborators.
package errors

import (
	"fmt"
	"strings"
)

// OperationError describes a failed operation against an optional
// component and resource, with an optional underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedToWithDetails builds an *OperationError carrying component and
// resource context alongside the action and cause.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{
		Operation: action,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// Wrapf formats a message and wraps err, returning nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// NetworkError wraps a failure dialing an external endpoint.
func NetworkError(operation, endpoint string, cause error) error {
	return FailedToWithDetails(operation, "network", endpoint, cause)
}

// ParseError reports a failure decoding a resource in a given format.
func ParseError(resource, format string, cause error) error {
	return Wrapf(cause, "failed to parse %s as %s", resource, format)
}

var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"unavailable",
	"temporarily",
	"reset by peer",
	"broken pipe",
	"deadline exceeded",
}

// IsRetryable classifies an error as belonging to the Transient
// External outcome of the error taxonomy (spec §7): network hiccups
// and collaborator unavailability. It is the sole gate the Phase
// Runner's retry loop (pkg/phase) consults before retrying a
// prepare/act step; everything else is treated as a permanent
// failure and surfaces immediately.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range retryableSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
