package strategies

import (
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.AggregationStrategy = (*ConfidenceBased)(nil)

// ConfidenceBased selects the single result with the highest weighted
// confidence (confidence times base weight) and returns that worker's own
// value and confidence. Ties keep the earliest result.
//
// Metadata records the selected worker and its weighted confidence.
type ConfidenceBased struct {
	config ConfidenceBasedConfig
}

// ConfidenceBasedConfig defines the configuration for ConfidenceBased.
type ConfidenceBasedConfig struct {
	// MinConfidence discards results whose raw confidence is below the
	// threshold before selection. Default: 0 (keep all valid results).
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence" validate:"min=0,max=1"`
}

// DefaultConfidenceBasedConfig returns the default configuration.
func DefaultConfidenceBasedConfig() ConfidenceBasedConfig {
	return ConfidenceBasedConfig{}
}

// NewConfidenceBased creates a ConfidenceBased strategy.
func NewConfidenceBased(config ConfidenceBasedConfig) (*ConfidenceBased, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ConfidenceBased{config: config}, nil
}

// NewConfidenceBasedFromConfig is the boundary adapter for parameter maps.
func NewConfidenceBasedFromConfig(params map[string]any) (ports.AggregationStrategy, error) {
	cfg := DefaultConfidenceBasedConfig()
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return NewConfidenceBased(cfg)
}

// Name returns MethodConfidenceBased.
func (cb *ConfidenceBased) Name() string { return MethodConfidenceBased }

// UnmarshalParameters replaces the configuration from a YAML node.
func (cb *ConfidenceBased) UnmarshalParameters(params yaml.Node) error {
	cfg := DefaultConfidenceBasedConfig()
	if err := decodeNode(params, &cfg); err != nil {
		return err
	}
	cb.config = cfg
	return nil
}

// Aggregate implements ports.AggregationStrategy.
func (cb *ConfidenceBased) Aggregate(
	results []domain.WorkerResult,
	weights map[string]float64,
) domain.AggregatedResult {
	valid := validResults(results)
	candidates := valid[:0:0]
	for _, r := range valid {
		if r.Confidence >= cb.config.MinConfidence {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return sentinel(MethodConfidenceBased, reasonNoValidResults, results)
	}

	applied := make(map[string]float64, len(candidates))
	best := -1
	var bestScore float64
	for i, r := range candidates {
		base := baseWeight(weights, r.WorkerID)
		applied[r.WorkerID] = base
		score := r.Confidence * base
		if math.IsNaN(score) {
			continue
		}
		// Strict comparison keeps the first candidate on ties.
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return sentinel(MethodConfidenceBased, reasonNoUsableWeights, results)
	}
	selected := candidates[best]

	return build(domain.AggregatedResult{
		Value:         selected.Value,
		Confidence:    selected.Confidence,
		WorkerResults: results,
		Weights:       applied,
		Method:        MethodConfidenceBased,
		Metadata: map[string]any{
			MetaValidResults:      len(candidates),
			"total_results":       len(results),
			"selected_worker":     selected.WorkerID,
			"weighted_confidence": bestScore,
		},
	})
}
