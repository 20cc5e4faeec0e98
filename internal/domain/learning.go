package domain

import "time"

// Trend labels reported in LearnerStats.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
)

// LearnerStats summarizes the observation history of one worker.
type LearnerStats struct {
	WorkerID       string  `json:"worker_id"`
	CurrentWeight  float64 `json:"current_weight"`
	Observations   int     `json:"num_observations"`
	MeanAccuracy   float64 `json:"mean_accuracy"`
	StdAccuracy    float64 `json:"std_accuracy"`
	MinAccuracy    float64 `json:"min_accuracy"`
	MaxAccuracy    float64 `json:"max_accuracy"`
	MeanConfidence float64 `json:"mean_confidence"`
	RecentAccuracy float64 `json:"recent_accuracy"`
	Trend          string  `json:"trend"`
}

// LearnerState is the persistable snapshot of a weight learner.
type LearnerState struct {
	// Weights maps worker id to its current weight.
	Weights map[string]float64 `json:"weights"`

	// History holds the observations per worker, oldest first.
	History map[string][]Observation `json:"history,omitempty"`

	// Alphas holds per-worker learning rates for adaptive learners.
	Alphas map[string]float64 `json:"alphas,omitempty"`

	// Config echoes the learner's settings at snapshot time.
	Config map[string]any `json:"config,omitempty"`

	// SavedAt records when the snapshot was taken.
	SavedAt time.Time `json:"saved_at"`
}
