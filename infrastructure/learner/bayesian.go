// Package learner provides weight learners that turn observed worker
// accuracy into aggregation weights.
package learner

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.WeightLearner = (*BayesianLearner)(nil)

// Package-level validator instance for configuration validation.
var validate = validator.New()

const (
	// recentWindow is the number of observations averaged into
	// LearnerStats.RecentAccuracy once enough history exists.
	recentWindow = 10
	// trendWindow is the tail compared against the rest of the history
	// when deciding whether a worker is improving.
	trendWindow = 5
)

// Config defines the configuration for BayesianLearner.
type Config struct {
	// Alpha is the learning rate in (0, 1]. Higher adapts faster.
	// Default: 0.1.
	Alpha float64 `yaml:"alpha" json:"alpha" validate:"gt=0,lte=1"`

	// PriorWeight is the weight of a worker with no observations.
	// Default: 1.0.
	PriorWeight float64 `yaml:"prior_weight" json:"prior_weight" validate:"gt=0"`

	// MinWeight is the floor applied after every update. Default: 0.01.
	MinWeight float64 `yaml:"min_weight" json:"min_weight" validate:"gt=0"`

	// ConfidenceScaling multiplies Alpha by the observation confidence.
	// Default: true.
	ConfidenceScaling bool `yaml:"confidence_scaling" json:"confidence_scaling"`

	// MaxHistory bounds the per-worker observation history. Zero keeps
	// every observation.
	MaxHistory int `yaml:"max_history" json:"max_history" validate:"gte=0"`
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{
		Alpha:             0.1,
		PriorWeight:       1.0,
		MinWeight:         0.01,
		ConfidenceScaling: true,
	}
}

// Option configures a learner.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for weight change events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// BayesianLearner maintains per-worker weights with an exponential moving
// average over observed accuracy:
//
//	effective = alpha * confidence   (alpha when scaling is off)
//	weight'   = weight*(1-effective) + accuracy*effective
//
// The result is floored at MinWeight. A single RWMutex guards all state;
// update frequency is bounded by feedback, not request rate.
type BayesianLearner struct {
	config Config
	logger *slog.Logger

	mu      sync.RWMutex
	weights map[string]float64
	history map[string][]domain.Observation

	// alphaFor overrides the learning rate per update. It is called with
	// mu held for writing.
	alphaFor func(workerID string) float64
}

// NewBayesianLearner creates a learner. An Alpha outside (0, 1] or a
// non-positive PriorWeight is a configuration error.
func NewBayesianLearner(config Config, opts ...Option) (*BayesianLearner, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: learner: %v", domain.ErrInvalidConfiguration, err)
	}
	o := buildOptions(opts)
	return &BayesianLearner{
		config:  config,
		logger:  o.logger,
		weights: make(map[string]float64),
		history: make(map[string][]domain.Observation),
	}, nil
}

// Config returns the learner configuration.
func (b *BayesianLearner) Config() Config { return b.config }

// Weight returns the current weight, or the prior for unknown workers.
func (b *BayesianLearner) Weight(workerID string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.weightLocked(workerID)
}

func (b *BayesianLearner) weightLocked(workerID string) float64 {
	if w, ok := b.weights[workerID]; ok {
		return w
	}
	return b.config.PriorWeight
}

// AllWeights returns a copy of every learned weight. Workers without
// observations are absent, so strategies fall back to 1.0 for them.
func (b *BayesianLearner) AllWeights() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.weights)
}

// NormalizedWeights returns the weights of ids scaled to sum to one, with
// an equal split when they sum to zero. A nil ids slice means every known
// worker.
func (b *BayesianLearner) NormalizedWeights(ids []string) map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ids == nil {
		ids = slices.Collect(maps.Keys(b.weights))
	}
	if len(ids) == 0 {
		return map[string]float64{}
	}

	out := make(map[string]float64, len(ids))
	var total float64
	for _, id := range ids {
		w := b.weightLocked(id)
		out[id] = w
		total += w
	}
	for id, w := range out {
		if total > 0 {
			out[id] = w / total
		} else {
			out[id] = 1.0 / float64(len(out))
		}
	}
	return out
}

// UpdateWeight applies one observation and returns the new weight.
func (b *BayesianLearner) UpdateWeight(obs domain.Observation) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateLocked(obs)
}

// BatchUpdate applies observations in order and returns the final weight
// of every worker touched.
func (b *BayesianLearner) BatchUpdate(obs []domain.Observation) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]float64)
	for _, o := range obs {
		out[o.WorkerID] = b.updateLocked(o)
	}
	return out
}

func (b *BayesianLearner) updateLocked(obs domain.Observation) float64 {
	obs.Accuracy = unit(obs.Accuracy)
	obs.Confidence = unit(obs.Confidence)
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now().UTC()
	}

	alpha := b.config.Alpha
	if b.alphaFor != nil {
		alpha = b.alphaFor(obs.WorkerID)
	}
	if b.config.ConfidenceScaling {
		alpha *= obs.Confidence
	}

	current := b.weightLocked(obs.WorkerID)
	next := math.Max(current*(1-alpha)+obs.Accuracy*alpha, b.config.MinWeight)
	b.weights[obs.WorkerID] = next

	h := append(b.history[obs.WorkerID], obs)
	if limit := b.config.MaxHistory; limit > 0 && len(h) > limit {
		h = slices.Clone(h[len(h)-limit:])
	}
	b.history[obs.WorkerID] = h

	b.logger.Debug("worker weight updated",
		"worker_id", obs.WorkerID,
		"previous", current,
		"weight", next,
		"accuracy", obs.Accuracy,
		"confidence", obs.Confidence,
	)
	return next
}

// ResetWorker forgets a worker's weight and history.
func (b *BayesianLearner) ResetWorker(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked(workerID)
}

func (b *BayesianLearner) resetLocked(workerID string) {
	delete(b.weights, workerID)
	delete(b.history, workerID)
	b.logger.Info("worker weight reset", "worker_id", workerID)
}

// Statistics summarizes a worker's observation history. It returns false
// when the worker has none.
func (b *BayesianLearner) Statistics(workerID string) (domain.LearnerStats, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statisticsLocked(workerID)
}

// AllStatistics summarizes every worker that has history.
func (b *BayesianLearner) AllStatistics() map[string]domain.LearnerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]domain.LearnerStats, len(b.history))
	for id := range b.history {
		if s, ok := b.statisticsLocked(id); ok {
			out[id] = s
		}
	}
	return out
}

func (b *BayesianLearner) statisticsLocked(workerID string) (domain.LearnerStats, bool) {
	h := b.history[workerID]
	if len(h) == 0 {
		return domain.LearnerStats{}, false
	}

	acc := make([]float64, len(h))
	var confSum float64
	for i, o := range h {
		acc[i] = o.Accuracy
		confSum += o.Confidence
	}

	mean, std := meanStd(acc)
	recent := mean
	if len(acc) >= recentWindow {
		recent, _ = meanStd(acc[len(acc)-recentWindow:])
	}
	trend := domain.TrendStable
	if len(acc) > trendWindow {
		tail, _ := meanStd(acc[len(acc)-trendWindow:])
		head, _ := meanStd(acc[:len(acc)-trendWindow])
		if tail > head {
			trend = domain.TrendImproving
		}
	}

	return domain.LearnerStats{
		WorkerID:       workerID,
		CurrentWeight:  b.weightLocked(workerID),
		Observations:   len(h),
		MeanAccuracy:   mean,
		StdAccuracy:    std,
		MinAccuracy:    slices.Min(acc),
		MaxAccuracy:    slices.Max(acc),
		MeanConfidence: confSum / float64(len(h)),
		RecentAccuracy: recent,
		Trend:          trend,
	}, true
}

// Snapshot captures weights, history and settings for persistence.
func (b *BayesianLearner) Snapshot() domain.LearnerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *BayesianLearner) snapshotLocked() domain.LearnerState {
	history := make(map[string][]domain.Observation, len(b.history))
	for id, h := range b.history {
		history[id] = slices.Clone(h)
	}
	return domain.LearnerState{
		Weights: maps.Clone(b.weights),
		History: history,
		Config: map[string]any{
			"alpha":              b.config.Alpha,
			"prior_weight":       b.config.PriorWeight,
			"min_weight":         b.config.MinWeight,
			"confidence_scaling": b.config.ConfidenceScaling,
			"max_history":        b.config.MaxHistory,
		},
		SavedAt: time.Now().UTC(),
	}
}

// Restore replaces weights and history with a snapshot. The learner's own
// configuration is kept. Non-finite or negative weights are rejected and
// leave the learner unchanged.
func (b *BayesianLearner) Restore(state domain.LearnerState) error {
	if err := checkState(state); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restoreLocked(state)
	return nil
}

func (b *BayesianLearner) restoreLocked(state domain.LearnerState) {
	b.weights = maps.Clone(state.Weights)
	if b.weights == nil {
		b.weights = make(map[string]float64)
	}
	b.history = make(map[string][]domain.Observation, len(state.History))
	for id, h := range state.History {
		if limit := b.config.MaxHistory; limit > 0 && len(h) > limit {
			h = h[len(h)-limit:]
		}
		b.history[id] = slices.Clone(h)
	}
	b.logger.Info("learner state restored", "workers", len(b.weights))
}

func checkState(state domain.LearnerState) error {
	for id, w := range state.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: weight for %s is %v", ports.ErrStateCorrupted, id, w)
		}
	}
	for id, a := range state.Alphas {
		if math.IsNaN(a) || a <= 0 || a > 1 {
			return fmt.Errorf("%w: alpha for %s is %v", ports.ErrStateCorrupted, id, a)
		}
	}
	return nil
}

// meanStd returns the mean and population standard deviation of xs.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func unit(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
