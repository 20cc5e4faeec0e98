package strategies

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.AggregationStrategy = (*WeightedAverage)(nil)

// WeightedAverage combines numeric results into their weighted mean.
//
// Each valid result contributes with an effective weight of its base
// weight, multiplied by its confidence when UseConfidence is set. The
// effective weights are normalized to sum to one (equal weights when they
// sum to zero) and applied to both the values and the confidences.
//
// Number results produce a Number. Buffer results of identical length
// are averaged elementwise into a Buffer. Any other mix yields the
// sentinel result.
//
// Concurrency: the strategy is stateless and safe for concurrent use.
type WeightedAverage struct {
	config WeightedAverageConfig
}

// WeightedAverageConfig defines the configuration for WeightedAverage.
type WeightedAverageConfig struct {
	// UseConfidence multiplies each base weight by the result confidence.
	// Default: true.
	UseConfidence bool `yaml:"use_confidence" json:"use_confidence"`
}

// DefaultWeightedAverageConfig returns the default configuration.
func DefaultWeightedAverageConfig() WeightedAverageConfig {
	return WeightedAverageConfig{UseConfidence: true}
}

// NewWeightedAverage creates a WeightedAverage strategy.
func NewWeightedAverage(config WeightedAverageConfig) (*WeightedAverage, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &WeightedAverage{config: config}, nil
}

// NewWeightedAverageFromConfig is the boundary adapter for YAML/JSON
// parameter maps.
func NewWeightedAverageFromConfig(params map[string]any) (ports.AggregationStrategy, error) {
	cfg := DefaultWeightedAverageConfig()
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return NewWeightedAverage(cfg)
}

// Name returns MethodWeightedAverage.
func (wa *WeightedAverage) Name() string { return MethodWeightedAverage }

// Config returns the active configuration.
func (wa *WeightedAverage) Config() WeightedAverageConfig { return wa.config }

// UnmarshalParameters replaces the configuration from a YAML node.
// It is not safe to call while Aggregate is running.
func (wa *WeightedAverage) UnmarshalParameters(params yaml.Node) error {
	cfg := DefaultWeightedAverageConfig()
	if err := decodeNode(params, &cfg); err != nil {
		return err
	}
	wa.config = cfg
	return nil
}

// Aggregate implements ports.AggregationStrategy.
func (wa *WeightedAverage) Aggregate(
	results []domain.WorkerResult,
	weights map[string]float64,
) domain.AggregatedResult {
	valid := validResults(results)
	if len(valid) == 0 {
		return sentinel(MethodWeightedAverage, reasonNoValidResults, results)
	}

	normalized := wa.normalizedWeights(valid, weights)

	value, err := weightedMean(valid, normalized)
	if err != nil {
		return sentinel(MethodWeightedAverage, err.Error(), results)
	}

	var confidence float64
	for _, r := range valid {
		confidence += r.Confidence * normalized[r.WorkerID]
	}

	return build(domain.AggregatedResult{
		Value:         value,
		Confidence:    confidence,
		WorkerResults: results,
		Weights:       normalized,
		Method:        MethodWeightedAverage,
		Metadata: map[string]any{
			MetaValidResults: len(valid),
			"total_results":  len(results),
			"use_confidence": wa.config.UseConfidence,
		},
	})
}

// normalizedWeights returns effective weights scaled to sum to one.
func (wa *WeightedAverage) normalizedWeights(
	valid []domain.WorkerResult,
	weights map[string]float64,
) map[string]float64 {
	effective := make(map[string]float64, len(valid))
	var total float64
	for _, r := range valid {
		w := baseWeight(weights, r.WorkerID)
		if wa.config.UseConfidence {
			w *= r.Confidence
		}
		effective[r.WorkerID] += w
		total += w
	}

	if total <= 0 {
		equal := 1.0 / float64(len(effective))
		for id := range effective {
			effective[id] = equal
		}
		return effective
	}
	for id, w := range effective {
		effective[id] = w / total
	}
	return effective
}

// weightedMean combines the values of valid results. All values must be
// numbers, or all must be buffers of the same length.
func weightedMean(valid []domain.WorkerResult, weights map[string]float64) (domain.Value, error) {
	switch valid[0].Value.Kind() {
	case domain.KindNumber:
		var sum float64
		for _, r := range valid {
			f, ok := r.Value.Float()
			if !ok {
				return domain.Empty(), fmt.Errorf("non-numerical value from worker %s: %s", r.WorkerID, r.Value.Kind())
			}
			sum += f * weights[r.WorkerID]
		}
		return domain.Number(sum), nil

	case domain.KindBuffer:
		width := valid[0].Value.Len()
		sum := make([]float64, width)
		for _, r := range valid {
			xs, ok := r.Value.Floats()
			if !ok {
				return domain.Empty(), fmt.Errorf("non-numerical value from worker %s: %s", r.WorkerID, r.Value.Kind())
			}
			if len(xs) != width {
				return domain.Empty(), fmt.Errorf("buffer length mismatch from worker %s: got %d, want %d", r.WorkerID, len(xs), width)
			}
			w := weights[r.WorkerID]
			for i, x := range xs {
				sum[i] += x * w
			}
		}
		return domain.Buffer(sum), nil

	default:
		return domain.Empty(), fmt.Errorf("non-numerical value from worker %s: %s", valid[0].WorkerID, valid[0].Value.Kind())
	}
}
