// Package errors defines the orchestrator's application-facing error
// taxonomy: a typed AppError carrying an HTTP status code, mapped onto
// the outcomes this service actually raises (validation, conflict,
// admission, phase failure, rollback failure, shutdown override).
package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies an AppError for status-code mapping and
// programmatic handling.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"

	// Outcomes from the deployment error handling design (spec.md §7).
	ErrorTypeAdmission        ErrorType = "admission"
	ErrorTypePhaseFailure     ErrorType = "phase_failure"
	ErrorTypeRollbackFailure  ErrorType = "rollback_failure"
	ErrorTypeShutdownOverride ErrorType = "shutdown_override"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:       http.StatusBadRequest,
	ErrorTypeConflict:         http.StatusConflict,
	ErrorTypeAdmission:        http.StatusBadRequest,
	ErrorTypePhaseFailure:     http.StatusInternalServerError,
	ErrorTypeRollbackFailure:  http.StatusInternalServerError,
	ErrorTypeShutdownOverride: http.StatusServiceUnavailable,
}

// AppError is the application-facing error carried up from a
// component to whatever is driving the orchestrator.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodeFor(errType),
	}
}

func Wrap(cause error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		StatusCode: statusCodeFor(errType),
		Cause:      cause,
	}
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails sets Details in place and returns the same *AppError so
// call sites can chain construction.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func statusCodeFor(errType ErrorType) int {
	if code, ok := statusCodes[errType]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Chain joins non-nil errors with " -> ", returning nil when none are
// set and the bare error when exactly one is. Used to fold a rollback
// failure's error together with the phase failure that triggered it.
func Chain(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		messages := make([]string, len(nonNil))
		for i, err := range nonNil {
			messages[i] = err.Error()
		}
		return fmt.Errorf("%s", strings.Join(messages, " -> "))
	}
}
