package processors

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.Processor = (*Numeric)(nil)

// NumericConfig configures the affine numeric processor.
type NumericConfig struct {
	// Scale multiplies the payload.
	Scale float64 `yaml:"scale" json:"scale"`

	// Bias is added after scaling.
	Bias float64 `yaml:"bias" json:"bias"`

	// Noise is the standard deviation of Gaussian noise added to each
	// output element. Zero makes the processor deterministic.
	Noise float64 `yaml:"noise" json:"noise" validate:"gte=0"`

	// BaseConfidence is reported for noise-free outputs.
	BaseConfidence float64 `yaml:"base_confidence" json:"base_confidence" validate:"gte=0,lte=1"`
}

// DefaultNumericConfig returns the identity transform with confidence 0.8.
func DefaultNumericConfig() NumericConfig {
	return NumericConfig{Scale: 1, BaseConfidence: 0.8}
}

// Numeric applies scale*x + bias (+ noise) to number and buffer payloads.
// It stands in for any deterministic numeric estimator and is what the
// parameter variations of a worker usually tune.
type Numeric struct {
	config NumericConfig
}

// NewNumeric validates config and returns the processor.
func NewNumeric(config NumericConfig) (*Numeric, error) {
	if err := decodeParams(nil, &config); err != nil {
		return nil, err
	}
	return &Numeric{config: config}, nil
}

// NewNumericFromConfig is the ports.ProcessorFactory for TypeNumeric.
func NewNumericFromConfig(cfg domain.WorkerConfig) (ports.Processor, error) {
	config := DefaultNumericConfig()
	if err := decodeParams(cfg.Parameters, &config); err != nil {
		return nil, err
	}
	return &Numeric{config: config}, nil
}

// Config returns the active configuration.
func (n *Numeric) Config() NumericConfig { return n.config }

// Process implements ports.Processor.
func (n *Numeric) Process(_ context.Context, input domain.Input) (domain.Value, error) {
	payload := input.Payload()
	if f, ok := payload.Float(); ok {
		return domain.Number(n.apply(f)), nil
	}
	if xs, ok := payload.Floats(); ok {
		for i, x := range xs {
			xs[i] = n.apply(x)
		}
		return domain.Buffer(xs), nil
	}
	return domain.Empty(), unsupported(TypeNumeric, payload)
}

func (n *Numeric) apply(x float64) float64 {
	y := x*n.config.Scale + n.config.Bias
	if n.config.Noise > 0 {
		y += rand.NormFloat64() * n.config.Noise
	}
	return y
}

// Confidence decays BaseConfidence with the configured noise level and
// returns 0 for non-finite outputs.
func (n *Numeric) Confidence(_ domain.Input, output domain.Value) float64 {
	f, ok := scalar(output)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return n.config.BaseConfidence / (1 + n.config.Noise)
}
