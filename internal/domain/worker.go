package domain

import (
	"fmt"
	"maps"
	"time"
)

// WorkerStatus is the lifecycle state of a registered worker.
type WorkerStatus string

// Worker lifecycle states.
const (
	WorkerIdle        WorkerStatus = "idle"
	WorkerActive      WorkerStatus = "active"
	WorkerFailed      WorkerStatus = "failed"
	WorkerQuarantined WorkerStatus = "quarantined"
	WorkerDisabled    WorkerStatus = "disabled"
)

// Dispatchable reports whether a worker in this state may receive work.
func (s WorkerStatus) Dispatchable() bool {
	return s != WorkerQuarantined && s != WorkerDisabled
}

// ThresholdMinConfidence names the WorkerConfig threshold below which a
// successful invocation is reported as an anomaly instead.
const ThresholdMinConfidence = "min_confidence"

// WorkerConfig is the static configuration bound to a worker at
// registration. It is not modified after the worker is constructed.
type WorkerConfig struct {
	// ID is the worker's identity, unique within a pool.
	ID string `yaml:"id" json:"id" validate:"required,min=1,max=128"`

	// Type selects the processor implementation.
	Type string `yaml:"type" json:"type" validate:"required"`

	// Parameters holds processor-specific settings.
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`

	// Thresholds holds performance thresholds keyed by name.
	Thresholds map[string]float64 `yaml:"thresholds" json:"thresholds,omitempty" validate:"dive,min=0,max=1"`

	// Enabled excludes the worker from dispatch when false.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Timeout bounds a single invocation. Zero means the pool default.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`

	// RetryAttempts is the number of extra Process attempts after a
	// failure. Zero disables retries.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" validate:"min=0,max=10"`
}

// NewWorkerConfig returns an enabled config with the given identity.
func NewWorkerConfig(id, workerType string) WorkerConfig {
	return WorkerConfig{
		ID:         id,
		Type:       workerType,
		Parameters: make(map[string]any),
		Enabled:    true,
	}
}

// Validate checks the invariants that do not depend on the processor type.
func (c WorkerConfig) Validate() error {
	verr := NewValidationError(fmt.Sprintf("worker %q", c.ID))
	if c.ID == "" {
		verr.AddError("id is required")
	}
	if c.Type == "" {
		verr.AddError("type is required")
	}
	if c.Timeout < 0 {
		verr.AddError(fmt.Sprintf("timeout cannot be negative: %v", c.Timeout))
	}
	if c.RetryAttempts < 0 {
		verr.AddError(fmt.Sprintf("retry_attempts cannot be negative: %d", c.RetryAttempts))
	}
	for name, v := range c.Thresholds {
		if v < 0 || v > 1 {
			verr.AddError(fmt.Sprintf("threshold %s must be within [0,1]: %v", name, v))
		}
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

// Clone returns a deep enough copy that the maps can be modified freely.
func (c WorkerConfig) Clone() WorkerConfig {
	c.Parameters = maps.Clone(c.Parameters)
	c.Thresholds = maps.Clone(c.Thresholds)
	return c
}

// WithParameters returns a copy whose parameters are the receiver's
// overlaid with overrides.
func (c WorkerConfig) WithParameters(overrides map[string]any) WorkerConfig {
	out := c.Clone()
	if out.Parameters == nil {
		out.Parameters = make(map[string]any, len(overrides))
	}
	maps.Copy(out.Parameters, overrides)
	return out
}

// Observation is one ground-truth comparison for a worker, the unit of
// input to weight learning.
type Observation struct {
	WorkerID   string    `json:"worker_id"`
	Predicted  Value     `json:"predicted"`
	Actual     Value     `json:"actual"`
	Confidence float64   `json:"confidence"`
	Accuracy   float64   `json:"accuracy"`
	Timestamp  time.Time `json:"timestamp"`
}
