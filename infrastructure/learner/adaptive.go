package learner

import (
	"fmt"
	"maps"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.WeightLearner = (*AdaptiveLearner)(nil)

// AdaptiveConfig defines the configuration for AdaptiveLearner.
type AdaptiveConfig struct {
	Config `yaml:",inline" json:",inline"`

	// InitialAlpha is reported for workers that have not been updated yet
	// and seeds the embedded Config.Alpha. Default: 0.2.
	InitialAlpha float64 `yaml:"initial_alpha" json:"initial_alpha" validate:"gt=0,lte=1"`

	// MinAlpha and MaxAlpha bound the adapted learning rate.
	// Defaults: 0.01 and 0.5.
	MinAlpha float64 `yaml:"min_alpha" json:"min_alpha" validate:"gt=0,lte=1"`
	MaxAlpha float64 `yaml:"max_alpha" json:"max_alpha" validate:"gt=0,lte=1,gtefield=MinAlpha"`

	// StabilityWindow is the number of recent observations used to measure
	// stability. Default: 10.
	StabilityWindow int `yaml:"stability_window" json:"stability_window" validate:"min=1"`
}

// DefaultAdaptiveConfig returns the default adaptive configuration.
func DefaultAdaptiveConfig() AdaptiveConfig {
	base := DefaultConfig()
	base.Alpha = 0.2
	return AdaptiveConfig{
		Config:          base,
		InitialAlpha:    0.2,
		MinAlpha:        0.01,
		MaxAlpha:        0.5,
		StabilityWindow: 10,
	}
}

// AdaptiveLearner is a BayesianLearner whose learning rate follows each
// worker's stability. Before every update the coefficient of variation of
// the last StabilityWindow accuracies is mapped linearly into
// [MinAlpha, MaxAlpha], so volatile workers adapt faster than stable ones.
// Workers with less history than the window are treated as maximally
// unstable.
type AdaptiveLearner struct {
	*BayesianLearner
	adaptive AdaptiveConfig

	// alphas is guarded by BayesianLearner.mu.
	alphas map[string]float64
}

// NewAdaptiveLearner creates an adaptive learner.
func NewAdaptiveLearner(config AdaptiveConfig, opts ...Option) (*AdaptiveLearner, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: adaptive learner: %v", domain.ErrInvalidConfiguration, err)
	}
	base := config.Config
	base.Alpha = config.InitialAlpha
	b, err := NewBayesianLearner(base, opts...)
	if err != nil {
		return nil, err
	}

	a := &AdaptiveLearner{
		BayesianLearner: b,
		adaptive:        config,
		alphas:          make(map[string]float64),
	}
	b.alphaFor = a.adapt
	return a, nil
}

// Alpha returns the learning rate last used for workerID, or InitialAlpha
// when the worker has not been updated.
func (a *AdaptiveLearner) Alpha(workerID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if alpha, ok := a.alphas[workerID]; ok {
		return alpha
	}
	return a.adaptive.InitialAlpha
}

// adapt computes and caches the learning rate for the next update. It
// runs with mu held for writing.
func (a *AdaptiveLearner) adapt(workerID string) float64 {
	cv := a.variation(workerID)
	lo, hi := a.adaptive.MinAlpha, a.adaptive.MaxAlpha
	alpha := min(max(lo+(hi-lo)*cv, lo), hi)
	a.alphas[workerID] = alpha
	return alpha
}

// variation returns the coefficient of variation of the worker's recent
// accuracies; 1.0 when the history is shorter than the window or the mean
// is not positive.
func (a *AdaptiveLearner) variation(workerID string) float64 {
	h := a.history[workerID]
	window := a.adaptive.StabilityWindow
	if len(h) < window {
		return 1.0
	}
	acc := make([]float64, window)
	for i, o := range h[len(h)-window:] {
		acc[i] = o.Accuracy
	}
	mean, std := meanStd(acc)
	if mean <= 0 {
		return 1.0
	}
	return std / mean
}

// ResetWorker forgets a worker's weight, history and learning rate.
func (a *AdaptiveLearner) ResetWorker(workerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.alphas, workerID)
	a.resetLocked(workerID)
}

// Snapshot captures the learner state including per-worker learning rates.
func (a *AdaptiveLearner) Snapshot() domain.LearnerState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	state := a.snapshotLocked()
	state.Alphas = maps.Clone(a.alphas)
	state.Config["initial_alpha"] = a.adaptive.InitialAlpha
	state.Config["min_alpha"] = a.adaptive.MinAlpha
	state.Config["max_alpha"] = a.adaptive.MaxAlpha
	state.Config["stability_window"] = a.adaptive.StabilityWindow
	return state
}

// Restore replaces weights, history and learning rates with a snapshot.
func (a *AdaptiveLearner) Restore(state domain.LearnerState) error {
	if err := checkState(state); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restoreLocked(state)
	a.alphas = maps.Clone(state.Alphas)
	if a.alphas == nil {
		a.alphas = make(map[string]float64)
	}
	return nil
}
