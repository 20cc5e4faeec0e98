// Package scoring turns a prediction and its ground truth into the accuracy
// consumed by weight learners. Scorers are stateless and safe for
// concurrent use.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Scorer names accepted by New.
const (
	NameNumeric = "numeric"
	NameExact   = "exact"
	NameFuzzy   = "fuzzy"
)

var (
	_ ports.AccuracyScorer = (*NumericScorer)(nil)
	_ ports.AccuracyScorer = (*ExactScorer)(nil)
	_ ports.AccuracyScorer = (*FuzzyLabelScorer)(nil)
)

// ErrUnknownScorer is returned by New for names it does not recognize.
var ErrUnknownScorer = errors.New("unknown scorer")

var validate = validator.New()

// NumericConfig configures NumericScorer.
type NumericConfig struct {
	// Scale is the absolute error at which accuracy reaches zero.
	Scale float64 `yaml:"scale" json:"scale" validate:"gt=0"`
}

// DefaultNumericConfig returns a scale of 10.
func DefaultNumericConfig() NumericConfig { return NumericConfig{Scale: 10} }

// NumericScorer scores numbers by linear error decay:
// max(0, 1 - |predicted-actual|/scale). Buffers of equal length score the
// mean of their elementwise accuracies.
type NumericScorer struct {
	config NumericConfig
}

// NewNumeric creates a NumericScorer.
func NewNumeric(config NumericConfig) (*NumericScorer, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return &NumericScorer{config: config}, nil
}

// Score implements ports.AccuracyScorer.
func (s *NumericScorer) Score(predicted, actual domain.Value) (float64, error) {
	if p, ok := predicted.Float(); ok {
		a, ok := actual.Float()
		if !ok {
			return 0, mismatch(predicted, actual)
		}
		return s.accuracy(p, a), nil
	}

	ps, ok := predicted.Floats()
	if !ok {
		return 0, mismatch(predicted, actual)
	}
	as, ok := actual.Floats()
	if !ok {
		return 0, mismatch(predicted, actual)
	}
	if len(ps) != len(as) {
		return 0, fmt.Errorf("%w: buffer length %d != %d", domain.ErrTypeMismatch, len(ps), len(as))
	}
	if len(ps) == 0 {
		return 1, nil
	}
	var sum float64
	for i := range ps {
		sum += s.accuracy(ps[i], as[i])
	}
	return sum / float64(len(ps)), nil
}

func (s *NumericScorer) accuracy(p, a float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	return math.Max(0, 1-math.Abs(p-a)/s.config.Scale)
}

// ExactConfig configures ExactScorer.
type ExactConfig struct {
	CaseSensitive  bool `yaml:"case_sensitive" json:"case_sensitive"`
	TrimWhitespace bool `yaml:"trim_whitespace" json:"trim_whitespace"`
}

// DefaultExactConfig compares labels case-insensitively after trimming.
func DefaultExactConfig() ExactConfig {
	return ExactConfig{TrimWhitespace: true}
}

// ExactScorer returns 1 when the prediction equals the truth and 0
// otherwise. Labels are normalized per ExactConfig; other kinds use
// domain.Value equality.
type ExactScorer struct {
	config ExactConfig
}

// NewExact creates an ExactScorer.
func NewExact(config ExactConfig) *ExactScorer {
	return &ExactScorer{config: config}
}

// Score implements ports.AccuracyScorer.
func (s *ExactScorer) Score(predicted, actual domain.Value) (float64, error) {
	if predicted.Kind() != actual.Kind() {
		return 0, mismatch(predicted, actual)
	}
	p, ok := predicted.Text()
	if !ok {
		if predicted.Equal(actual) {
			return 1, nil
		}
		return 0, nil
	}
	a, _ := actual.Text()
	if normalize(p, s.config.CaseSensitive, s.config.TrimWhitespace) ==
		normalize(a, s.config.CaseSensitive, s.config.TrimWhitespace) {
		return 1, nil
	}
	return 0, nil
}

// FuzzyConfig configures FuzzyLabelScorer.
type FuzzyConfig struct {
	// Threshold is the minimum similarity that earns credit. Similarities
	// below it score zero.
	Threshold float64 `yaml:"threshold" json:"threshold" validate:"min=0,max=1"`

	// Binary reports 1 for any similarity at or above Threshold instead of
	// the similarity itself.
	Binary bool `yaml:"binary" json:"binary"`

	CaseSensitive bool `yaml:"case_sensitive" json:"case_sensitive"`
}

// DefaultFuzzyConfig returns a graded, case-insensitive scorer with a 0.8
// threshold.
func DefaultFuzzyConfig() FuzzyConfig {
	return FuzzyConfig{Threshold: 0.8}
}

// FuzzyLabelScorer scores labels by normalized Levenshtein similarity,
// 1 - distance/max(runeLen). It tolerates typos and inflections in free
// text labels such as those returned by language models.
type FuzzyLabelScorer struct {
	config FuzzyConfig
}

// NewFuzzyLabel creates a FuzzyLabelScorer.
func NewFuzzyLabel(config FuzzyConfig) (*FuzzyLabelScorer, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return &FuzzyLabelScorer{config: config}, nil
}

// Score implements ports.AccuracyScorer.
func (s *FuzzyLabelScorer) Score(predicted, actual domain.Value) (float64, error) {
	p, ok := predicted.Text()
	if !ok {
		return 0, mismatch(predicted, actual)
	}
	a, ok := actual.Text()
	if !ok {
		return 0, mismatch(predicted, actual)
	}
	sim := Similarity(normalize(p, s.config.CaseSensitive, true), normalize(a, s.config.CaseSensitive, true))
	if sim < s.config.Threshold {
		return 0, nil
	}
	if s.config.Binary {
		return 1, nil
	}
	return sim, nil
}

// Similarity returns 1 - levenshtein(a, b)/max(runeLen(a), runeLen(b)).
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 1
	}
	sim := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// New builds the scorer called name, overlaying params on its defaults.
func New(name string, params map[string]any) (ports.AccuracyScorer, error) {
	switch name {
	case NameNumeric:
		cfg := DefaultNumericConfig()
		if err := decode(params, &cfg); err != nil {
			return nil, err
		}
		return NewNumeric(cfg)
	case NameExact:
		cfg := DefaultExactConfig()
		if err := decode(params, &cfg); err != nil {
			return nil, err
		}
		return NewExact(cfg), nil
	case NameFuzzy:
		cfg := DefaultFuzzyConfig()
		if err := decode(params, &cfg); err != nil {
			return nil, err
		}
		return NewFuzzyLabel(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScorer, name)
	}
}

// Names lists the scorers New accepts.
func Names() []string { return []string{NameExact, NameFuzzy, NameNumeric} }

func decode(params map[string]any, cfg any) error {
	if len(params) == 0 {
		return nil
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal scorer parameters: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

func normalize(s string, caseSensitive, trim bool) string {
	if trim {
		s = strings.TrimSpace(s)
	}
	if !caseSensitive {
		// A Caser carries state, so each call gets its own.
		s = cases.Fold().String(s)
	}
	return s
}

func mismatch(predicted, actual domain.Value) error {
	return fmt.Errorf("%w: cannot score %s against %s", domain.ErrTypeMismatch, predicted.Kind(), actual.Kind())
}
