// Package errors defines the error types shared by the reconciliation pipeline.
// Typed errors support errors.Is against the sentinels below so callers can
// branch on the error class without string matching.
package errors

import (
	"errors"
	"fmt"
)

// New is an alias for the standard library errors.New.
var New = errors.New

// Is reports whether any error in err's tree matches target.
var Is = errors.Is

// As finds the first error in err's tree that matches target.
var As = errors.As

var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfig indicates a configuration problem that no row-level fallback can fix.
	ErrConfig = errors.New("configuration error")

	// ErrOracleUnavailable indicates the classification oracle could not be reached.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrOracleMalformed indicates the oracle answered with invalid JSON or missing keys.
	ErrOracleMalformed = errors.New("oracle response malformed")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidTransition indicates a batch status change that is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value any, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Component string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap implements errors.Unwrap.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(component, message string, err error) *ConfigError {
	return &ConfigError{Component: component, Message: message, Err: err}
}

// OracleError wraps a failed classification oracle call.
type OracleError struct {
	Operation string
	Attempts  int
	Err       error
}

// Error implements the error interface.
func (e *OracleError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("oracle %s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
	}
	return fmt.Sprintf("oracle %s failed: %v", e.Operation, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *OracleError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support. Every oracle error counts as unavailable
// unless the wrapped error says otherwise.
func (e *OracleError) Is(target error) bool {
	return target == ErrOracleUnavailable
}

// NewOracleError creates a new OracleError.
func NewOracleError(operation string, attempts int, err error) *OracleError {
	return &OracleError{Operation: operation, Attempts: attempts, Err: err}
}
