package processors

import (
	"context"
	"math"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.Processor = (*ThresholdClassifier)(nil)

// ThresholdClassifierConfig configures the three-band classifier.
type ThresholdClassifierConfig struct {
	// Low is the upper bound of the low band, exclusive.
	Low float64 `yaml:"low" json:"low"`

	// High is the lower bound of the high band, inclusive.
	High float64 `yaml:"high" json:"high" validate:"gtfield=Low"`

	LowLabel    string `yaml:"low_label" json:"low_label" validate:"required"`
	MediumLabel string `yaml:"medium_label" json:"medium_label" validate:"required"`
	HighLabel   string `yaml:"high_label" json:"high_label" validate:"required"`

	// BaseConfidence is reported for inputs far from either boundary.
	BaseConfidence float64 `yaml:"base_confidence" json:"base_confidence" validate:"gte=0,lte=1"`
}

// DefaultThresholdClassifierConfig splits at 30 and 70.
func DefaultThresholdClassifierConfig() ThresholdClassifierConfig {
	return ThresholdClassifierConfig{
		Low:            30,
		High:           70,
		LowLabel:       "low",
		MediumLabel:    "medium",
		HighLabel:      "high",
		BaseConfidence: 0.9,
	}
}

// ThresholdClassifier maps a number, or the mean of a buffer, to one of
// three labels.
type ThresholdClassifier struct {
	config ThresholdClassifierConfig
}

// NewThresholdClassifier validates config and returns the processor.
func NewThresholdClassifier(config ThresholdClassifierConfig) (*ThresholdClassifier, error) {
	if err := decodeParams(nil, &config); err != nil {
		return nil, err
	}
	return &ThresholdClassifier{config: config}, nil
}

// NewThresholdClassifierFromConfig is the ports.ProcessorFactory for
// TypeThresholdClassifier.
func NewThresholdClassifierFromConfig(cfg domain.WorkerConfig) (ports.Processor, error) {
	config := DefaultThresholdClassifierConfig()
	if err := decodeParams(cfg.Parameters, &config); err != nil {
		return nil, err
	}
	return &ThresholdClassifier{config: config}, nil
}

// Config returns the active configuration.
func (c *ThresholdClassifier) Config() ThresholdClassifierConfig { return c.config }

// Process implements ports.Processor.
func (c *ThresholdClassifier) Process(_ context.Context, input domain.Input) (domain.Value, error) {
	x, ok := scalar(input.Payload())
	if !ok {
		return domain.Empty(), unsupported(TypeThresholdClassifier, input.Payload())
	}
	switch {
	case x < c.config.Low:
		return domain.Label(c.config.LowLabel), nil
	case x >= c.config.High:
		return domain.Label(c.config.HighLabel), nil
	default:
		return domain.Label(c.config.MediumLabel), nil
	}
}

// Confidence falls from BaseConfidence to half of it as the input nears a
// band boundary. The margin is measured against half the medium band.
func (c *ThresholdClassifier) Confidence(input domain.Input, _ domain.Value) float64 {
	x, ok := scalar(input.Payload())
	if !ok || math.IsNaN(x) {
		return 0
	}
	half := (c.config.High - c.config.Low) / 2
	margin := math.Min(math.Abs(x-c.config.Low), math.Abs(x-c.config.High)) / half
	return c.config.BaseConfidence * (0.5 + 0.5*math.Min(margin, 1))
}
