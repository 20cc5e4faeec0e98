package application

import (
	"time"

	"github.com/ahrav/go-ensemble/internal/domain"
)

// EnsembleConfig is the declarative description of an ensemble: its pool,
// aggregation strategy, weight learner and workers.
type EnsembleConfig struct {
	// Version is the configuration schema version in X.Y.Z form.
	Version string `yaml:"version" json:"version" validate:"required,semver"`

	// Name labels logs and metrics for the ensemble.
	Name string `yaml:"name" json:"name" validate:"required,min=1,max=255"`

	Description string `yaml:"description,omitempty" json:"description,omitempty" validate:"max=1000"`

	Pool PoolConfig `yaml:"pool" json:"pool"`

	Aggregation AggregationConfig `yaml:"aggregation" json:"aggregation" validate:"required"`

	// Learner configures weight learning. An empty type disables it and
	// every worker then carries weight 1.0.
	Learner LearnerConfig `yaml:"learner" json:"learner"`

	// Store names where learned weights are persisted between runs.
	Store StoreConfig `yaml:"store" json:"store"`

	Workers []WorkerSpec `yaml:"workers" json:"workers" validate:"required,min=1,dive"`
}

// PoolConfig configures the worker pool.
type PoolConfig struct {
	// MaxConcurrency bounds simultaneous invocations. Zero means NumCPU.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency" validate:"gte=0,lte=4096"`

	// DefaultTimeout applies to workers without their own timeout.
	DefaultTimeout string `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty" validate:"omitempty,duration"`
}

// AggregationConfig selects the aggregation strategy.
type AggregationConfig struct {
	Strategy   string         `yaml:"strategy" json:"strategy" validate:"required"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Learner types accepted in LearnerConfig.Type.
const (
	LearnerNone     = ""
	LearnerBayesian = "bayesian"
	LearnerAdaptive = "adaptive"
)

// LearnerConfig selects the weight learner. Settings holds the learner's
// own keys (alpha, prior_weight, ...) inline with type.
type LearnerConfig struct {
	Type     string         `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=bayesian adaptive"`
	Settings map[string]any `yaml:",inline" json:"-"`
}

// Store backends accepted in StoreConfig.Type.
const (
	StoreNone  = ""
	StoreFile  = "file"
	StoreRedis = "redis"
)

// StoreConfig locates the weight store.
type StoreConfig struct {
	Type string `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=file redis"`

	// Path is the JSON file used by the file store.
	Path string `yaml:"path,omitempty" json:"path,omitempty" validate:"required_if=Type file"`

	// Addr and Key locate the snapshot in Redis.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty" validate:"required_if=Type redis"`
	Key  string `yaml:"key,omitempty" json:"key,omitempty"`
}

// WorkerSpec is one worker entry. Variations expand into additional
// workers named <id>_var<N> that share everything but the overridden
// parameters.
type WorkerSpec struct {
	ID   string `yaml:"id" json:"id" validate:"required,min=1,max=128"`
	Type string `yaml:"type" json:"type" validate:"required"`

	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	Timeout       string             `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"omitempty,duration"`
	RetryAttempts int                `yaml:"retry_attempts,omitempty" json:"retry_attempts,omitempty" validate:"min=0,max=10"`
	Thresholds    map[string]float64 `yaml:"thresholds,omitempty" json:"thresholds,omitempty" validate:"dive,min=0,max=1"`
	Parameters    map[string]any     `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Variations    []map[string]any   `yaml:"variations,omitempty" json:"variations,omitempty"`
}

// WorkerConfig converts the entry into the domain configuration of the base
// worker. Durations must already have passed validation.
func (s WorkerSpec) WorkerConfig() domain.WorkerConfig {
	cfg := domain.NewWorkerConfig(s.ID, s.Type)
	for k, v := range s.Parameters {
		cfg.Parameters[k] = v
	}
	if len(s.Thresholds) > 0 {
		cfg.Thresholds = make(map[string]float64, len(s.Thresholds))
		for k, v := range s.Thresholds {
			cfg.Thresholds[k] = v
		}
	}
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	cfg.Timeout = parseDuration(s.Timeout)
	cfg.RetryAttempts = s.RetryAttempts
	return cfg
}

// WorkerConfigs expands the entry into its base config followed by its
// variations.
func (s WorkerSpec) WorkerConfigs() []domain.WorkerConfig {
	base := s.WorkerConfig()
	return append([]domain.WorkerConfig{base}, CreateVariations(base, s.Variations)...)
}

// parseDuration returns zero for empty or malformed input.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
