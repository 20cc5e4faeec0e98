package ports

import (
	"github.com/ahrav/go-ensemble/internal/domain"
)

// AggregationStrategy combines worker results into one decision.
// Strategies are pure: they never mutate their inputs or learner state,
// and they never fail. When no valid result remains they return a sentinel
// AggregatedResult with an empty value, zero confidence, and an "error"
// metadata entry explaining why.
type AggregationStrategy interface {
	// Name returns the strategy identifier recorded in results.
	Name() string

	// Aggregate combines results using weights keyed by worker id. A nil
	// or incomplete weights map means missing workers weigh 1.0.
	Aggregate(results []domain.WorkerResult, weights map[string]float64) domain.AggregatedResult
}

// WeightLearner maintains per-worker influence weights from observed
// accuracy. Implementations must be safe for concurrent use: weights are
// read by aggregation while feedback writes them.
type WeightLearner interface {
	// UpdateWeight applies one observation and returns the new weight.
	UpdateWeight(obs domain.Observation) float64

	// BatchUpdate applies observations in order and returns the resulting
	// weight of every worker touched.
	BatchUpdate(obs []domain.Observation) map[string]float64

	// Weight returns the current weight, or the prior for unknown workers.
	Weight(workerID string) float64

	// AllWeights returns a copy of all known weights.
	AllWeights() map[string]float64

	// NormalizedWeights returns weights for ids scaled to sum to 1.
	NormalizedWeights(ids []string) map[string]float64

	// ResetWorker forgets a worker's weight and history.
	ResetWorker(workerID string)

	// Statistics summarizes a worker's history; false when it has none.
	Statistics(workerID string) (domain.LearnerStats, bool)

	// AllStatistics summarizes every worker with history.
	AllStatistics() map[string]domain.LearnerStats

	// Snapshot captures the learner state for persistence.
	Snapshot() domain.LearnerState

	// Restore replaces the learner state with a snapshot.
	Restore(state domain.LearnerState) error
}

// AccuracyScorer compares a prediction with ground truth and returns an
// accuracy in [0, 1]. Scoring is domain-specific and lives outside the
// core; the trainer only consumes it.
type AccuracyScorer interface {
	Score(predicted, actual domain.Value) (float64, error)
}
