// Package strategies provides the aggregation strategies that implement
// ports.AggregationStrategy for the ensemble engine.
package strategies

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Method names recorded in AggregatedResult.Method.
const (
	MethodWeightedAverage = "weighted_average"
	MethodMajorityVote    = "majority_vote"
	MethodConfidenceBased = "confidence_based"
	MethodMedian          = "median"
)

// Metadata keys shared by every strategy.
const (
	// MetaError explains why a sentinel result was produced.
	MetaError = "error"
	// MetaValidResults is the number of results that took part.
	MetaValidResults = "valid_results"
)

// Sentinel explanations stored under MetaError.
const (
	reasonNoValidResults  = "no valid results to aggregate"
	reasonNoUsableWeights = "no candidate has a usable weight"
)

// ErrUnknownStrategy is returned by New for unregistered names.
var ErrUnknownStrategy = errors.New("unknown aggregation strategy")

// Package-level validator instance for configuration validation.
var validate = validator.New()

// Factory builds a strategy from a loosely typed parameter map.
type Factory func(params map[string]any) (ports.AggregationStrategy, error)

var factories = map[string]Factory{
	MethodWeightedAverage: NewWeightedAverageFromConfig,
	MethodMajorityVote:    NewMajorityVoteFromConfig,
	MethodConfidenceBased: NewConfidenceBasedFromConfig,
	MethodMedian:          NewMedianFromConfig,
}

// New builds the named strategy from params, overlaying them on the
// strategy's defaults.
func New(name string, params map[string]any) (ports.AggregationStrategy, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return factory(params)
}

// Names lists the built-in strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeParams overlays params onto cfg, which must be a pointer to a
// config struct pre-populated with defaults, and validates the result.
func decodeParams(params map[string]any, cfg any) error {
	if len(params) > 0 {
		data, err := yaml.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// decodeNode is the yaml.Node counterpart of decodeParams.
func decodeNode(params yaml.Node, cfg any) error {
	if params.Kind != 0 {
		if err := params.Decode(cfg); err != nil {
			return fmt.Errorf("failed to decode parameters: %w", err)
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	return nil
}

// validResults returns the results that may take part in aggregation.
func validResults(results []domain.WorkerResult) []domain.WorkerResult {
	out := make([]domain.WorkerResult, 0, len(results))
	for _, r := range results {
		if r.IsValid() {
			out = append(out, r)
		}
	}
	return out
}

// baseWeight returns the configured weight for id, defaulting to 1.0.
func baseWeight(weights map[string]float64, id string) float64 {
	if w, ok := weights[id]; ok {
		return w
	}
	return 1.0
}

// sentinel builds the zero-confidence result returned when aggregation
// cannot produce a value.
func sentinel(method, reason string, results []domain.WorkerResult) domain.AggregatedResult {
	return build(domain.AggregatedResult{
		Value:         domain.Empty(),
		Confidence:    0,
		WorkerResults: results,
		Method:        method,
		Metadata:      map[string]any{MetaError: reason},
	})
}

// build finalizes a strategy result. Strategies compute confidences that
// are within [0, 1] up to rounding, so the value is clamped before the
// constructor validates it.
func build(a domain.AggregatedResult) domain.AggregatedResult {
	a.Confidence = clamp01(a.Confidence)
	out, err := domain.NewAggregatedResult(a)
	if err != nil {
		// Unreachable after clamping; keep the result usable regardless.
		a.Confidence = 0
		a.Timestamp = time.Now().UTC()
		return a
	}
	return out
}

func clamp01(x float64) float64 {
	switch {
	case x != x:
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
