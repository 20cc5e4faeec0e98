package application

import (
	"fmt"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// VariationID names the n-th (1-based) variation of base.
func VariationID(base string, n int) string {
	return fmt.Sprintf("%s_var%d", base, n)
}

// CreateVariations derives one config per entry of variations. Each copy is
// named VariationID(base.ID, i+1) and carries base's parameters overlaid
// with the entry.
func CreateVariations(base domain.WorkerConfig, variations []map[string]any) []domain.WorkerConfig {
	out := make([]domain.WorkerConfig, 0, len(variations))
	for i, overrides := range variations {
		cfg := base.WithParameters(overrides)
		cfg.ID = VariationID(base.ID, i+1)
		out = append(out, cfg)
	}
	return out
}

// RegisterVariations builds and registers a worker for every variation of
// base. Registration stops at the first error; workers registered before
// it stay in the pool.
func RegisterVariations(
	pool *WorkerPool,
	registry ports.ProcessorRegistry,
	base domain.WorkerConfig,
	variations []map[string]any,
	opts ...WorkerOption,
) ([]*Worker, error) {
	configs := CreateVariations(base, variations)
	workers := make([]*Worker, 0, len(configs))
	for _, cfg := range configs {
		w, err := newWorkerFromRegistry(registry, cfg, opts...)
		if err != nil {
			return workers, err
		}
		if err := pool.Register(w); err != nil {
			return workers, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// newWorkerFromRegistry resolves cfg's processor and wraps it in a Worker.
func newWorkerFromRegistry(registry ports.ProcessorRegistry, cfg domain.WorkerConfig, opts ...WorkerOption) (*Worker, error) {
	processor, err := registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	return NewWorker(cfg, processor, opts...)
}
