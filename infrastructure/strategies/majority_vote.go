package strategies

import (
	"fmt"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.AggregationStrategy = (*MajorityVote)(nil)

// MajorityVote selects the value with the highest weighted vote.
//
// Every valid result votes for its value with a score of its base weight,
// multiplied by its confidence when UseConfidence is set. The value with
// the highest total wins; ties go to the value seen first. The result
// confidence is the winner's share of the total score.
//
// Metadata:
//   - vote_distribution: map from value to accumulated score
//   - agreement: fraction of valid results whose value equals the winner
//   - total_votes: sum of all scores
//
// Concurrency: the strategy is stateless and safe for concurrent use.
type MajorityVote struct {
	config MajorityVoteConfig
}

// MajorityVoteConfig defines the configuration for MajorityVote.
type MajorityVoteConfig struct {
	// UseConfidence multiplies each base weight by the result confidence.
	// Default: true.
	UseConfidence bool `yaml:"use_confidence" json:"use_confidence"`

	// NormalizeLabels case-folds label values before counting, so "High"
	// and "high" vote together. The winning label is reported folded.
	// Default: false.
	NormalizeLabels bool `yaml:"normalize_labels" json:"normalize_labels"`
}

// DefaultMajorityVoteConfig returns the default configuration.
func DefaultMajorityVoteConfig() MajorityVoteConfig {
	return MajorityVoteConfig{UseConfidence: true}
}

// NewMajorityVote creates a MajorityVote strategy.
func NewMajorityVote(config MajorityVoteConfig) (*MajorityVote, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &MajorityVote{config: config}, nil
}

// NewMajorityVoteFromConfig is the boundary adapter for parameter maps.
func NewMajorityVoteFromConfig(params map[string]any) (ports.AggregationStrategy, error) {
	cfg := DefaultMajorityVoteConfig()
	if err := decodeParams(params, &cfg); err != nil {
		return nil, err
	}
	return NewMajorityVote(cfg)
}

// Name returns MethodMajorityVote.
func (mv *MajorityVote) Name() string { return MethodMajorityVote }

// Config returns the active configuration.
func (mv *MajorityVote) Config() MajorityVoteConfig { return mv.config }

// UnmarshalParameters replaces the configuration from a YAML node.
// It is not safe to call while Aggregate is running.
func (mv *MajorityVote) UnmarshalParameters(params yaml.Node) error {
	cfg := DefaultMajorityVoteConfig()
	if err := decodeNode(params, &cfg); err != nil {
		return err
	}
	mv.config = cfg
	return nil
}

type ballot struct {
	value domain.Value
	score float64
	count int
}

// Aggregate implements ports.AggregationStrategy.
func (mv *MajorityVote) Aggregate(
	results []domain.WorkerResult,
	weights map[string]float64,
) domain.AggregatedResult {
	valid := validResults(results)
	if len(valid) == 0 {
		return sentinel(MethodMajorityVote, reasonNoValidResults, results)
	}

	// Casers carry state and are not shared across goroutines.
	var fold cases.Caser
	if mv.config.NormalizeLabels {
		fold = cases.Fold()
	}

	applied := make(map[string]float64, len(valid))
	index := make(map[string]int)
	ballots := make([]*ballot, 0, len(valid))
	var total float64

	for _, r := range valid {
		value := r.Value
		if label, ok := value.Text(); ok && mv.config.NormalizeLabels {
			value = domain.Label(fold.String(label))
		}

		base := baseWeight(weights, r.WorkerID)
		applied[r.WorkerID] = base
		score := base
		if mv.config.UseConfidence {
			score *= r.Confidence
		}
		total += score

		key := value.Key()
		i, seen := index[key]
		if !seen {
			i = len(ballots)
			index[key] = i
			ballots = append(ballots, &ballot{value: value})
		}
		ballots[i].score += score
		ballots[i].count++
	}

	// Strict comparison keeps the first-seen value on ties.
	winner := ballots[0]
	for _, b := range ballots[1:] {
		if b.score > winner.score {
			winner = b
		}
	}

	var confidence float64
	if total > 0 {
		confidence = winner.score / total
	}

	distribution := make(map[string]float64, len(ballots))
	for _, b := range ballots {
		distribution[b.value.String()] += b.score
	}

	return build(domain.AggregatedResult{
		Value:         winner.value,
		Confidence:    confidence,
		WorkerResults: results,
		Weights:       applied,
		Method:        MethodMajorityVote,
		Metadata: map[string]any{
			MetaValidResults:    len(valid),
			"total_results":     len(results),
			"vote_distribution": distribution,
			"agreement":         float64(winner.count) / float64(len(valid)),
			"total_votes":       total,
			"use_confidence":    mv.config.UseConfidence,
		},
	})
}
