package application

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ahrav/go-ensemble/infrastructure/processors"
	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.ProcessorRegistry = (*DefaultProcessorRegistry)(nil)

// DefaultProcessorRegistry resolves worker types to processor factories.
// Every processor it creates is wrapped with the middleware described by
// the worker's "middleware" parameter.
type DefaultProcessorRegistry struct {
	mu        sync.RWMutex
	factories map[string]ports.ProcessorFactory
	llmClient ports.LLMClient
}

// NewDefaultProcessorRegistry returns a registry with the numeric,
// threshold_classifier and llm types registered. llmClient may be nil, in
// which case creating an llm worker fails.
func NewDefaultProcessorRegistry(llmClient ports.LLMClient) *DefaultProcessorRegistry {
	r := &DefaultProcessorRegistry{
		factories: make(map[string]ports.ProcessorFactory),
		llmClient: llmClient,
	}
	r.registerBuiltinFactories()
	return r
}

func (r *DefaultProcessorRegistry) registerBuiltinFactories() {
	for name, factory := range processors.Factories() {
		r.factories[name] = factory
	}
	r.factories[processors.TypeLLM] = processors.LLMFactory(r.llmClient)
}

// Create builds the processor for cfg.Type.
func (r *DefaultProcessorRegistry) Create(cfg domain.WorkerConfig) (ports.Processor, error) {
	if cfg.ID == "" {
		return nil, domain.ErrEmptyWorkerID
	}

	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrUnsupportedType, cfg.Type)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create processor for worker %s of type %s: %w", cfg.ID, cfg.Type, err)
	}
	mw, err := processors.MiddlewareFromParams(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("worker %s middleware: %w", cfg.ID, err)
	}
	return processors.Chain(p, mw...), nil
}

// RegisterFactory adds or replaces the factory for workerType.
func (r *DefaultProcessorRegistry) RegisterFactory(workerType string, factory ports.ProcessorFactory) error {
	if workerType == "" {
		return errors.New("worker type cannot be empty")
	}
	if factory == nil {
		return errors.New("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[workerType] = factory
	return nil
}

// SupportedTypes returns the registered worker types in sorted order.
func (r *DefaultProcessorRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// SetLLMClient swaps the client used by llm workers created afterwards.
func (r *DefaultProcessorRegistry) SetLLMClient(client ports.LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClient = client
	r.factories[processors.TypeLLM] = processors.LLMFactory(client)
}

// LLMClient returns the current client, which may be nil.
func (r *DefaultProcessorRegistry) LLMClient() ports.LLMClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llmClient
}
