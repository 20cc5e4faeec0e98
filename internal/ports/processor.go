// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-ensemble/internal/domain"
)

// Processor is the capability a worker wraps: a transform from the shared
// input to a value, plus a self-assessment of that value.
// Implementations may be called concurrently by overlapping dispatches and
// must be safe for concurrent use.
type Processor interface {
	// Process transforms the input. It may fail with a domain error for
	// any input it cannot handle; the wrapping worker converts the error
	// into a FAILED result. Implementations should return promptly once
	// ctx is done, although the pool never relies on it.
	Process(ctx context.Context, input domain.Input) (domain.Value, error)

	// Confidence returns the reliability of output for input in [0, 1].
	// It must not fail: when unsure, return a conservative value such as 0.
	Confidence(input domain.Input, output domain.Value) float64
}

// ProcessorFactory builds a Processor from a worker configuration. The
// factory receives the full config so it can read Parameters and Type.
type ProcessorFactory func(cfg domain.WorkerConfig) (Processor, error)

// ProcessorRegistry resolves worker types to processor implementations.
type ProcessorRegistry interface {
	// Create builds a processor for cfg.Type.
	Create(cfg domain.WorkerConfig) (Processor, error)

	// RegisterFactory adds or replaces the factory for a worker type.
	RegisterFactory(workerType string, factory ProcessorFactory) error

	// SupportedTypes lists the registered worker types.
	SupportedTypes() []string
}
