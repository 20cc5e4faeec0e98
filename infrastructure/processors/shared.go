// Package processors provides the built-in ports.Processor implementations
// wrapped by ensemble workers, together with processor middleware for
// rate limiting, circuit breaking, timeouts and retries.
package processors

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Worker types served by this package.
const (
	TypeNumeric             = "numeric"
	TypeThresholdClassifier = "threshold_classifier"
	TypeLLM                 = "llm"
)

var (
	// ErrUnsupportedInput is returned when the input payload has a kind
	// the processor cannot transform.
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrMissingClient is returned when an LLM processor is built without
	// a client.
	ErrMissingClient = errors.New("LLM client is required")
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// decodeParams overlays params on cfg through a YAML round trip and
// validates the result.
func decodeParams(params map[string]any, cfg any) error {
	if len(params) > 0 {
		data, err := yaml.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal parameters: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse parameters: %w", err)
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

// unsupported wraps ErrUnsupportedInput with the offending kind.
func unsupported(processor string, v domain.Value) error {
	return fmt.Errorf("%w: %s cannot process %s payload", ErrUnsupportedInput, processor, v.Kind())
}

// scalar reduces a numeric payload to one float: the number itself or the
// mean of a buffer.
func scalar(v domain.Value) (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}
	xs, ok := v.Floats()
	if !ok || len(xs) == 0 {
		return 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), true
}

// Factories returns the factories for the processors that need no
// external collaborators.
func Factories() map[string]ports.ProcessorFactory {
	return map[string]ports.ProcessorFactory{
		TypeNumeric:             NewNumericFromConfig,
		TypeThresholdClassifier: NewThresholdClassifierFromConfig,
	}
}
