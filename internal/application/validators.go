package application

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-ensemble/infrastructure/strategies"
)

// RegisterConfigValidators adds the semver and duration tags used by
// EnsembleConfig to v.
func RegisterConfigValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("semver", validateSemver); err != nil {
		return fmt.Errorf("failed to register semver validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateSemver accepts X.Y.Z where each part is a non-negative integer.
func validateSemver(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	var major, minor, patch int
	var rest string
	n, _ := fmt.Sscanf(value, "%d.%d.%d%s", &major, &minor, &patch, &rest)
	return n == 3 && major >= 0 && minor >= 0 && patch >= 0
}

// validateDuration accepts non-negative Go duration strings such as "250ms".
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// validateSemantics checks the rules struct tags cannot express: worker ids
// (including expanded variations) are unique, the strategy exists and every
// worker config passes domain validation.
func validateSemantics(config *EnsembleConfig, supportedTypes []string) error {
	known := false
	for _, name := range strategies.Names() {
		if name == config.Aggregation.Strategy {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", strategies.ErrUnknownStrategy, config.Aggregation.Strategy)
	}

	types := make(map[string]struct{}, len(supportedTypes))
	for _, t := range supportedTypes {
		types[t] = struct{}{}
	}

	seen := make(map[string]string)
	for _, spec := range config.Workers {
		if len(types) > 0 {
			if _, ok := types[spec.Type]; !ok {
				return fmt.Errorf("worker %s: unsupported type %q", spec.ID, spec.Type)
			}
		}
		for _, cfg := range spec.WorkerConfigs() {
			if owner, dup := seen[cfg.ID]; dup {
				return fmt.Errorf("duplicate worker ID %q: already defined by %s", cfg.ID, owner)
			}
			seen[cfg.ID] = spec.ID
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandedWorkerCount returns the number of workers config describes once
// variations are expanded.
func expandedWorkerCount(config *EnsembleConfig) int {
	n := 0
	for _, spec := range config.Workers {
		n += 1 + len(spec.Variations)
	}
	return n
}
