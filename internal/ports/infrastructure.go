package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-ensemble/internal/domain"
)

// LLMClient defines the interface for interacting with Large Language
// Model providers. Language-model backed processors depend on this port
// rather than on a concrete provider SDK.
type LLMClient interface {
	// Complete sends a completion request and returns the generated text.
	// Common options are "temperature" (float64), "max_tokens" (int),
	// "model" (string), and "system" (string).
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// WeightStore persists learner snapshots between process runs.
// The core never calls a store directly; trainers and the CLI do.
type WeightStore interface {
	// Save writes the snapshot, replacing any previous one.
	Save(ctx context.Context, state domain.LearnerState) error

	// Load returns the last saved snapshot. It returns an error wrapping
	// ErrStateNotFound when nothing has been saved yet.
	Load(ctx context.Context) (domain.LearnerState, error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
