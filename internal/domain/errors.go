package domain

import (
	"errors"
	"fmt"
)

// Common domain errors returned when constructing ensemble records.
var (
	// ErrInvalidConfidence indicates a confidence outside the closed
	// interval [0, 1].
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")

	// ErrNegativeDuration indicates a negative processing time.
	ErrNegativeDuration = errors.New("processing time cannot be negative")

	// ErrInvalidStatus indicates a status string that is not recognized.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrTypeMismatch indicates that a value's kind doesn't match the
	// expected kind.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrEmptyWorkerID indicates that a record was built without a worker id.
	ErrEmptyWorkerID = errors.New("worker id cannot be empty")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ResultError describes why a WorkerResult or AggregatedResult could not
// be constructed.
type ResultError struct {
	// Record names the record type, e.g. "WorkerResult".
	Record string

	// Field is the offending field.
	Field string

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface for ResultError.
func (e *ResultError) Error() string {
	return fmt.Sprintf("invalid %s: field=%s, err=%v", e.Record, e.Field, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is and errors.As.
func (e *ResultError) Unwrap() error { return e.Err }

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap lets callers match any ValidationError against ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
