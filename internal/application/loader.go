package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-ensemble/infrastructure/learner"
	"github.com/ahrav/go-ensemble/infrastructure/strategies"
	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// ConfigLoader parses, validates and caches ensemble configurations and
// builds engines from them.
//
// Validated configs are cached by the SHA-256 of their normalized YAML, so
// whitespace or key-order differences share an entry. Engines are never
// cached: every Build returns fresh workers and a fresh learner.
type ConfigLoader struct {
	validator *validator.Validate
	registry  ports.ProcessorRegistry
	logger    *slog.Logger
	metrics   ports.MetricsCollector

	// Cached configs MUST NOT be mutated.
	cache   map[string]*EnsembleConfig
	cacheMu sync.RWMutex
	sf      singleflight.Group
}

// LoaderOption configures a ConfigLoader.
type LoaderOption func(*ConfigLoader)

// WithLoaderLogger sets the logger handed to every component Build creates.
func WithLoaderLogger(l *slog.Logger) LoaderOption {
	return func(cl *ConfigLoader) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithLoaderMetrics sets the collector handed to built pools and engines.
func WithLoaderMetrics(m ports.MetricsCollector) LoaderOption {
	return func(cl *ConfigLoader) { cl.metrics = m }
}

// NewConfigLoader creates a loader resolving worker types through registry.
func NewConfigLoader(registry ports.ProcessorRegistry, opts ...LoaderOption) (*ConfigLoader, error) {
	if registry == nil {
		return nil, fmt.Errorf("processor registry cannot be nil")
	}
	v := validator.New()
	if err := RegisterConfigValidators(v); err != nil {
		return nil, fmt.Errorf("failed to register validators: %w", err)
	}
	cl := &ConfigLoader{
		validator: v,
		registry:  registry,
		logger:    slog.Default(),
		cache:     make(map[string]*EnsembleConfig),
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl, nil
}

// Load parses and validates data. The returned config may be shared with
// other callers and must be treated as read-only.
func (cl *ConfigLoader) Load(_ context.Context, data []byte) (*EnsembleConfig, error) {
	config, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	hash, err := configHash(config)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate hash: %w", err)
	}

	v, err, _ := cl.sf.Do(hash, func() (any, error) {
		if cached, ok := cl.cached(hash); ok {
			return cached, nil
		}
		if err := cl.validate(config); err != nil {
			return nil, err
		}
		cl.cacheMu.Lock()
		cl.cache[hash] = config
		cl.cacheMu.Unlock()
		return config, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EnsembleConfig), nil
}

// LoadFromFile reads and loads the YAML file at path.
func (cl *ConfigLoader) LoadFromFile(ctx context.Context, path string) (*EnsembleConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, ports.NewConfigError(path, err)
	}
	return cl.Load(ctx, data)
}

// LoadFromReader reads r fully and loads it.
func (cl *ConfigLoader) LoadFromReader(ctx context.Context, r io.Reader) (*EnsembleConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	return cl.Load(ctx, data)
}

// BuildFromFile loads path and builds an engine from it.
func (cl *ConfigLoader) BuildFromFile(ctx context.Context, path string) (*Engine, error) {
	config, err := cl.LoadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return cl.Build(ctx, config)
}

// Build wires a pool, learner, strategy and engine from config. Workers
// are created in file order, each followed by its variations.
func (cl *ConfigLoader) Build(ctx context.Context, config *EnsembleConfig) (*Engine, error) {
	if config == nil {
		return nil, ports.NewConfigError("ensemble", ports.ErrConfigNotFound)
	}

	strategy, err := strategies.New(config.Aggregation.Strategy, config.Aggregation.Parameters)
	if err != nil {
		return nil, fmt.Errorf("aggregation: %w", err)
	}
	wl, err := NewLearner(config.Learner, cl.logger)
	if err != nil {
		return nil, fmt.Errorf("learner: %w", err)
	}
	aggregator, err := NewAggregator(strategy, wl)
	if err != nil {
		return nil, err
	}

	pool := NewWorkerPool(
		WithMaxConcurrency(config.Pool.MaxConcurrency),
		WithDefaultTimeout(parseDuration(config.Pool.DefaultTimeout)),
		WithPoolLogger(cl.logger),
		WithMetrics(cl.metrics),
	)
	for _, spec := range config.Workers {
		for _, wc := range spec.WorkerConfigs() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			w, err := newWorkerFromRegistry(cl.registry, wc, WithWorkerLogger(cl.logger))
			if err != nil {
				return nil, fmt.Errorf("worker %s: %w", wc.ID, err)
			}
			if err := pool.Register(w); err != nil {
				return nil, err
			}
		}
	}

	cl.logger.Info("ensemble built",
		"name", config.Name,
		"workers", expandedWorkerCount(config),
		"strategy", strategy.Name(),
		"learner", config.Learner.Type,
	)
	return NewEngine(pool, aggregator,
		WithEngineName(config.Name),
		WithEngineLogger(cl.logger),
		WithEngineMetrics(cl.metrics),
	)
}

// ClearCache drops every cached config.
func (cl *ConfigLoader) ClearCache() {
	cl.cacheMu.Lock()
	defer cl.cacheMu.Unlock()
	cl.cache = make(map[string]*EnsembleConfig)
}

func (cl *ConfigLoader) cached(hash string) (*EnsembleConfig, bool) {
	cl.cacheMu.RLock()
	defer cl.cacheMu.RUnlock()
	c, ok := cl.cache[hash]
	return c, ok
}

func (cl *ConfigLoader) validate(config *EnsembleConfig) error {
	if err := cl.validator.Struct(config); err != nil {
		return fmt.Errorf("%w: struct validation failed: %w", domain.ErrInvalidConfiguration, err)
	}
	if err := validateSemantics(config, cl.registry.SupportedTypes()); err != nil {
		return fmt.Errorf("%w: semantic validation failed: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}

// parseYAML decodes strictly so that misspelled keys are reported instead
// of silently ignored.
func parseYAML(data []byte) (*EnsembleConfig, error) {
	var config EnsembleConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil {
		return nil, fmt.Errorf("YAML decode failed: %w", err)
	}
	return &config, nil
}

func configHash(config *EnsembleConfig) (string, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return "", fmt.Errorf("failed to encode config for hashing: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// NewLearner builds the learner named by config.Type, overlaying its
// settings on the learner defaults. Unknown settings are rejected. It
// returns a nil learner for LearnerNone.
func NewLearner(config LearnerConfig, logger *slog.Logger) (ports.WeightLearner, error) {
	opts := []learner.Option{learner.WithLogger(logger)}
	switch config.Type {
	case LearnerNone:
		return nil, nil
	case LearnerBayesian:
		cfg := learner.DefaultConfig()
		if err := decodeStrict(config.Settings, &cfg); err != nil {
			return nil, err
		}
		return learner.NewBayesianLearner(cfg, opts...)
	case LearnerAdaptive:
		cfg := learner.DefaultAdaptiveConfig()
		if err := decodeStrict(config.Settings, &cfg); err != nil {
			return nil, err
		}
		return learner.NewAdaptiveLearner(cfg, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown learner type %q", domain.ErrInvalidConfiguration, config.Type)
	}
}

// decodeStrict overlays settings on out, rejecting unknown keys.
func decodeStrict(settings map[string]any, out any) error {
	if len(settings) == 0 {
		return nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, err)
	}
	return nil
}
