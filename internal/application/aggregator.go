package application

import (
	"fmt"
	"sync"
	"time"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Aggregator couples an aggregation strategy with an optional weight
// learner. It is the single entry point from raw worker results to a
// decision. Strategy and learner can be replaced at runtime; replacing
// the strategy never touches the learner's accumulated weights.
type Aggregator struct {
	mu       sync.RWMutex
	strategy ports.AggregationStrategy
	learner  ports.WeightLearner
}

// NewAggregator creates an aggregator. learner may be nil, in which case
// strategies weigh every worker equally.
func NewAggregator(strategy ports.AggregationStrategy, learner ports.WeightLearner) (*Aggregator, error) {
	if strategy == nil {
		return nil, fmt.Errorf("aggregation strategy cannot be nil")
	}
	return &Aggregator{strategy: strategy, learner: learner}, nil
}

// Aggregate combines results with the current strategy and learned
// weights, and stamps the time spent.
func (a *Aggregator) Aggregate(results []domain.WorkerResult) domain.AggregatedResult {
	a.mu.RLock()
	strategy, learner := a.strategy, a.learner
	a.mu.RUnlock()

	var weights map[string]float64
	if learner != nil {
		weights = learner.AllWeights()
	}

	start := time.Now()
	out := strategy.Aggregate(results, weights)
	out.ProcessingTime = time.Since(start)
	return out
}

// SetStrategy replaces the aggregation strategy.
func (a *Aggregator) SetStrategy(strategy ports.AggregationStrategy) error {
	if strategy == nil {
		return fmt.Errorf("aggregation strategy cannot be nil")
	}
	a.mu.Lock()
	a.strategy = strategy
	a.mu.Unlock()
	return nil
}

// SetWeightLearner replaces the learner. Passing nil detaches learning.
func (a *Aggregator) SetWeightLearner(learner ports.WeightLearner) {
	a.mu.Lock()
	a.learner = learner
	a.mu.Unlock()
}

// Strategy returns the current strategy.
func (a *Aggregator) Strategy() ports.AggregationStrategy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.strategy
}

// WeightLearner returns the current learner, which may be nil.
func (a *Aggregator) WeightLearner() ports.WeightLearner {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.learner
}
