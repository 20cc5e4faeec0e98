package strategies

import (
	"fmt"
	"math"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.AggregationStrategy = (*Median)(nil)

// Median combines numeric results into their median, which is robust to
// outlying workers.
//
// Confidence blends two signals. The spread signal is
// 1 - min(MAD/range, 1), where MAD is the median absolute deviation from
// the median and range is max - min; it is 1.0 when every value is equal.
// The spread signal is averaged with the mean worker confidence. A single
// valid result keeps its own confidence unchanged.
//
// Weights do not influence the median; they are reported as applied for
// auditing only.
type Median struct {
	config MedianConfig
}

// MedianConfig defines the configuration for Median.
type MedianConfig struct {
	// MinResults is the number of valid results required before a median
	// is reported. Default: 1.
	MinResults int `yaml:"min_results" json:"min_results" validate:"min=1"`
}

// DefaultMedianConfig returns the default configuration.
func DefaultMedianConfig() MedianConfig {
	return MedianConfig{MinResults: 1}
}

// NewMedian creates a Median strategy.
func NewMedian(config MedianConfig) (*Median, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &Median{config: config}, nil
}

// NewMedianFromConfig is the boundary adapter for parameter maps.
func NewMedianFromConfig(params map[string]any) (ports.AggregationStrategy, error) {
	cfg := DefaultMedianConfig()
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return NewMedian(cfg)
}

// Name returns MethodMedian.
func (m *Median) Name() string { return MethodMedian }

// UnmarshalParameters replaces the configuration from a YAML node.
func (m *Median) UnmarshalParameters(params yaml.Node) error {
	cfg := DefaultMedianConfig()
	if err := decodeNode(params, &cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Aggregate implements ports.AggregationStrategy.
func (m *Median) Aggregate(
	results []domain.WorkerResult,
	weights map[string]float64,
) domain.AggregatedResult {
	valid := validResults(results)
	if len(valid) == 0 {
		return sentinel(MethodMedian, reasonNoValidResults, results)
	}
	if len(valid) < m.config.MinResults {
		return sentinel(MethodMedian,
			fmt.Sprintf("need at least %d valid results, got %d", m.config.MinResults, len(valid)),
			results)
	}

	values := make([]float64, len(valid))
	applied := make(map[string]float64, len(valid))
	var confSum float64
	for i, r := range valid {
		f, ok := r.Value.Float()
		if !ok {
			return sentinel(MethodMedian,
				fmt.Sprintf("non-numerical value from worker %s: %s", r.WorkerID, r.Value.Kind()),
				results)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return sentinel(MethodMedian,
				fmt.Sprintf("invalid value from worker %s: %v", r.WorkerID, f),
				results)
		}
		values[i] = f
		applied[r.WorkerID] = baseWeight(weights, r.WorkerID)
		confSum += r.Confidence
	}

	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	mad := median(deviations)
	lo, hi := slices.Min(values), slices.Max(values)
	valueRange := hi - lo

	var confidence float64
	if len(valid) == 1 {
		confidence = valid[0].Confidence
	} else {
		spread := 1.0
		if valueRange > 0 {
			spread = 1 - math.Min(mad/valueRange, 1)
		}
		confidence = (spread + confSum/float64(len(valid))) / 2
	}

	return build(domain.AggregatedResult{
		Value:         domain.Number(med),
		Confidence:    confidence,
		WorkerResults: results,
		Weights:       applied,
		Method:        MethodMedian,
		Metadata: map[string]any{
			MetaValidResults: len(valid),
			"total_results":  len(results),
			"mad":            mad,
			"value_range":    valueRange,
		},
	})
}

// median returns the statistical median of xs without modifying it:
// the middle element for odd counts, the mean of the two middle elements
// for even counts, and 0 for an empty slice.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
