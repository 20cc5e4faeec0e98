package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external interactions.
var (
	// ErrStateNotFound indicates that no learner snapshot has been saved.
	ErrStateNotFound = errors.New("learner state not found")

	// ErrStateCorrupted indicates that a stored snapshot could not be decoded.
	ErrStateCorrupted = errors.New("learner state corrupted")

	// ErrUnsupportedType indicates that no processor factory exists for a
	// worker type.
	ErrUnsupportedType = errors.New("unsupported worker type")

	// ErrRateLimited indicates that the request was rejected by a limiter.
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidResponse indicates that an external service returned a
	// response the processor could not interpret.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// StoreError represents a failed weight store operation.
type StoreError struct {
	// Backend names the store implementation, e.g. "file" or "redis".
	Backend string

	// Operation is the store operation that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: backend=%s, operation=%s, err=%v", e.Backend, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(backend, operation string, err error) *StoreError {
	return &StoreError{Backend: backend, Operation: operation, Err: err}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{ConfigKey: key, Err: err}
}
