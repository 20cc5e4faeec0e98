package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-ensemble/internal/domain"
)

func TestNumericScorer(t *testing.T) {
	s, err := NewNumeric(DefaultNumericConfig())
	require.NoError(t, err)

	tests := []struct {
		name      string
		predicted domain.Value
		actual    domain.Value
		want      float64
	}{
		{"exact", domain.Number(42), domain.Number(42), 1},
		{"small error", domain.Number(43), domain.Number(42), 0.9},
		{"error symmetric", domain.Number(40), domain.Number(42), 0.8},
		{"beyond scale", domain.Number(100), domain.Number(42), 0},
		{"nan", domain.Number(math.NaN()), domain.Number(1), 0},
		{"buffer mean", domain.Buffer([]float64{1, 2}), domain.Buffer([]float64{1, 7}), 0.75},
		{"empty buffers", domain.Buffer(nil), domain.Buffer(nil), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Score(tt.predicted, tt.actual)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestNumericScorer_Errors(t *testing.T) {
	s, err := NewNumeric(NumericConfig{Scale: 5})
	require.NoError(t, err)

	_, err = s.Score(domain.Label("a"), domain.Number(1))
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	_, err = s.Score(domain.Number(1), domain.Label("a"))
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	_, err = s.Score(domain.Buffer([]float64{1}), domain.Buffer([]float64{1, 2}))
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	_, err = NewNumeric(NumericConfig{Scale: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestExactScorer(t *testing.T) {
	tests := []struct {
		name      string
		config    ExactConfig
		predicted domain.Value
		actual    domain.Value
		want      float64
	}{
		{"same label", DefaultExactConfig(), domain.Label("high"), domain.Label("high"), 1},
		{"case folded", DefaultExactConfig(), domain.Label(" HIGH "), domain.Label("high"), 1},
		{"case sensitive", ExactConfig{CaseSensitive: true}, domain.Label("High"), domain.Label("high"), 0},
		{"different label", DefaultExactConfig(), domain.Label("low"), domain.Label("high"), 0},
		{"numbers equal", DefaultExactConfig(), domain.Number(3), domain.Number(3), 1},
		{"numbers differ", DefaultExactConfig(), domain.Number(3), domain.Number(4), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewExact(tt.config).Score(tt.predicted, tt.actual)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NewExact(DefaultExactConfig()).Score(domain.Label("1"), domain.Number(1))
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
}

func TestFuzzyLabelScorer(t *testing.T) {
	graded, err := NewFuzzyLabel(DefaultFuzzyConfig())
	require.NoError(t, err)
	binary, err := NewFuzzyLabel(FuzzyConfig{Threshold: 0.8, Binary: true})
	require.NoError(t, err)

	tests := []struct {
		name      string
		scorer    *FuzzyLabelScorer
		predicted string
		actual    string
		want      float64
	}{
		{"identical", graded, "positive", "positive", 1},
		{"one typo", graded, "positve", "positive", 0.875},
		{"below threshold", graded, "neg", "positive", 0},
		{"case insensitive", graded, "POSITIVE", "positive", 1},
		{"binary credit", binary, "positve", "positive", 1},
		{"unicode below threshold", graded, "café", "cafe", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.scorer.Score(domain.Label(tt.predicted), domain.Label(tt.actual))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err = graded.Score(domain.Number(1), domain.Label("a"))
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)

	_, err = NewFuzzyLabel(FuzzyConfig{Threshold: 1.5})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("abc", ""))
	assert.InDelta(t, 0.75, Similarity("café", "cafe"), 1e-9)
	assert.InDelta(t, 0.5, Similarity("ab", "ac"), 1e-9)
}

func TestNew(t *testing.T) {
	s, err := New(NameNumeric, map[string]any{"scale": 2.0})
	require.NoError(t, err)
	got, err := s.Score(domain.Number(1), domain.Number(2))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)

	s, err = New(NameFuzzy, map[string]any{"threshold": 0.5})
	require.NoError(t, err)
	assert.IsType(t, &FuzzyLabelScorer{}, s)

	s, err = New(NameExact, nil)
	require.NoError(t, err)
	assert.IsType(t, &ExactScorer{}, s)

	_, err = New("cosine", nil)
	assert.ErrorIs(t, err, ErrUnknownScorer)

	_, err = New(NameNumeric, map[string]any{"scale": -1})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	assert.Equal(t, []string{NameExact, NameFuzzy, NameNumeric}, Names())
}
