package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// ErrNoLearner is returned when training an engine whose aggregator has no
// weight learner.
var ErrNoLearner = errors.New("engine has no weight learner")

// TrainingExample pairs an input with its ground truth.
type TrainingExample struct {
	Input  domain.Input
	Actual domain.Value
}

// TrainingReport describes one training step.
type TrainingReport struct {
	// Result is the ensemble decision made before the update.
	Result domain.AggregatedResult `json:"result"`

	// EnsembleAccuracy scores Result.Value against the ground truth. It is
	// zero when the ensemble produced no value.
	EnsembleAccuracy float64 `json:"ensemble_accuracy"`

	// Accuracies holds the score of every valid worker result.
	Accuracies map[string]float64 `json:"accuracies"`

	// Weights are the learner's raw weights after the update.
	Weights map[string]float64 `json:"weights"`

	// Skipped lists workers whose results could not be scored.
	Skipped []string `json:"skipped,omitempty"`
}

// BatchReport summarizes TrainBatch.
type BatchReport struct {
	Reports      []TrainingReport   `json:"reports"`
	MeanAccuracy float64            `json:"mean_accuracy"`
	Weights      map[string]float64 `json:"weights"`
	Duration     time.Duration      `json:"duration"`
}

// Trainer closes the feedback loop: it runs the engine on labeled inputs,
// scores each worker against the truth and feeds the observations to the
// engine's learner.
type Trainer struct {
	engine      *Engine
	learner     ports.WeightLearner
	scorer      ports.AccuracyScorer
	store       ports.WeightStore
	metrics     ports.MetricsCollector
	logger      *slog.Logger
	concurrency int
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithWeightStore persists weights after every batch.
func WithWeightStore(s ports.WeightStore) TrainerOption {
	return func(t *Trainer) { t.store = s }
}

// WithTrainerLogger sets the trainer's logger.
func WithTrainerLogger(l *slog.Logger) TrainerOption {
	return func(t *Trainer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTrainerMetrics publishes learned weights as the worker_weight gauge
// after every batch.
func WithTrainerMetrics(m ports.MetricsCollector) TrainerOption {
	return func(t *Trainer) { t.metrics = m }
}

// WithBatchConcurrency bounds how many examples TrainBatch runs at once.
func WithBatchConcurrency(n int) TrainerOption {
	return func(t *Trainer) { t.concurrency = n }
}

// NewTrainer creates a trainer for engine using scorer.
func NewTrainer(engine *Engine, scorer ports.AccuracyScorer, opts ...TrainerOption) (*Trainer, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if scorer == nil {
		return nil, fmt.Errorf("accuracy scorer cannot be nil")
	}
	wl := engine.Aggregator().WeightLearner()
	if wl == nil {
		return nil, ErrNoLearner
	}
	t := &Trainer{
		engine:      engine,
		learner:     wl,
		scorer:      scorer,
		logger:      slog.Default(),
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.concurrency < 1 {
		t.concurrency = 1
	}
	return t, nil
}

// TrainOnExample runs the engine on input and updates the learner from
// the scored worker results.
func (t *Trainer) TrainOnExample(ctx context.Context, input domain.Input, actual domain.Value) (TrainingReport, error) {
	res, err := t.engine.Run(ctx, input)
	if err != nil {
		return TrainingReport{}, err
	}

	report := TrainingReport{Result: res, Accuracies: make(map[string]float64)}
	obs := make([]domain.Observation, 0, len(res.WorkerResults))
	now := time.Now()
	for _, r := range res.WorkerResults {
		if !r.IsValid() {
			continue
		}
		acc, err := t.scorer.Score(r.Value, actual)
		if err != nil {
			t.logger.Debug("skipping unscorable result", "worker_id", r.WorkerID, "trace_id", r.TraceID, "error", err)
			report.Skipped = append(report.Skipped, r.WorkerID)
			continue
		}
		report.Accuracies[r.WorkerID] = acc
		obs = append(obs, domain.Observation{
			WorkerID:   r.WorkerID,
			Predicted:  r.Value,
			Actual:     actual,
			Confidence: r.Confidence,
			Accuracy:   acc,
			Timestamp:  now,
		})
	}
	if len(obs) > 0 {
		t.learner.BatchUpdate(obs)
	}
	report.Weights = t.learner.AllWeights()

	if !res.Value.IsEmpty() {
		if acc, err := t.scorer.Score(res.Value, actual); err == nil {
			report.EnsembleAccuracy = acc
		}
	}
	return report, nil
}

// TrainBatch trains on examples concurrently and then saves the learner
// state when a store is configured. Reports are returned in example order.
func (t *Trainer) TrainBatch(ctx context.Context, examples []TrainingExample) (BatchReport, error) {
	start := time.Now()
	reports := make([]TrainingReport, len(examples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, ex := range examples {
		g.Go(func() error {
			r, err := t.TrainOnExample(gctx, ex.Input, ex.Actual)
			if err != nil {
				return fmt.Errorf("example %d: %w", i, err)
			}
			reports[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchReport{}, err
	}

	out := BatchReport{Reports: reports, Weights: t.learner.AllWeights(), Duration: time.Since(start)}
	if len(reports) > 0 {
		var sum float64
		for _, r := range reports {
			sum += r.EnsembleAccuracy
		}
		out.MeanAccuracy = sum / float64(len(reports))
	}
	if t.metrics != nil {
		for id, w := range out.Weights {
			t.metrics.RecordGauge("worker_weight", w, map[string]string{"worker_id": id})
		}
		t.metrics.RecordGauge("training_mean_accuracy", out.MeanAccuracy, map[string]string{})
	}

	if err := t.SaveWeights(ctx); err != nil {
		return out, err
	}
	t.logger.Info("training batch complete",
		"examples", len(examples),
		"mean_accuracy", out.MeanAccuracy,
		"duration", out.Duration,
	)
	return out, nil
}

// SaveWeights writes the learner snapshot to the store. It is a no-op
// without a store.
func (t *Trainer) SaveWeights(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	if err := t.store.Save(ctx, t.learner.Snapshot()); err != nil {
		return fmt.Errorf("save weights: %w", err)
	}
	return nil
}

// LoadWeights restores the learner from the store. A store with nothing
// saved yet leaves the learner untouched and is not an error.
func (t *Trainer) LoadWeights(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	state, err := t.store.Load(ctx)
	if errors.Is(err, ports.ErrStateNotFound) {
		t.logger.Info("no saved weights, starting from priors")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}
	return t.learner.Restore(state)
}
