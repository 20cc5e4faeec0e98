package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-ensemble/infrastructure/llm"
	"github.com/ahrav/go-ensemble/infrastructure/metrics"
	"github.com/ahrav/go-ensemble/infrastructure/store"
	"github.com/ahrav/go-ensemble/internal/application"
	"github.com/ahrav/go-ensemble/internal/ports"
	"github.com/ahrav/go-ensemble/internal/tracing"
)

// Environment variables read by the CLI.
const (
	envRedisAddr     = "ENSEMBLE_REDIS_ADDR"
	envRedisPassword = "ENSEMBLE_REDIS_PASSWORD"
)

// shutdownTimeout bounds how long the CLI waits on exit for in-flight
// workers and open resources.
var shutdownTimeout = 5 * time.Second

// providerEnv lists the providers tried, in order, when --llm-provider is
// not given.
var providerEnv = []struct{ provider, env string }{
	{"anthropic", "ANTHROPIC_API_KEY"},
	{"openai", "OPENAI_API_KEY"},
	{"google", "GOOGLE_API_KEY"},
}

// cli holds the flags and shared components of one invocation.
type cli struct {
	configPath   string
	logLevel     string
	logFormat    string
	noColor      bool
	metricsAddr  string
	tracing      bool
	otlpEndpoint string
	sampleRatio  float64
	provider     string
	model        string
	maxLLMCalls  int64
	maxLLMTokens int64

	out     io.Writer
	ui      *ui
	logger  *slog.Logger
	metrics *metrics.PrometheusMetrics
	budget  *llm.BudgetTracker
	closers []func(context.Context) error
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "ensemble",
		Short:         "Run, train and inspect worker ensembles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.out = cmd.OutOrStdout()
			return c.setup(cmd.Context(), cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "ensemble.yaml", "ensemble config file")
	pf.StringVar(&c.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	pf.StringVar(&c.logFormat, "log-format", "text", "log format: text|json")
	pf.BoolVar(&c.noColor, "no-color", false, "disable colored output")
	pf.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.BoolVar(&c.tracing, "tracing", false, "export OpenTelemetry traces over OTLP/gRPC")
	pf.StringVar(&c.otlpEndpoint, "otlp-endpoint", "", "OTLP collector endpoint (default $OTEL_EXPORTER_OTLP_ENDPOINT or localhost:4317)")
	pf.Float64Var(&c.sampleRatio, "trace-sample-ratio", 1, "fraction of root spans to sample")
	pf.StringVar(&c.provider, "llm-provider", "", "LLM provider for llm workers (default: first provider with an API key set)")
	pf.StringVar(&c.model, "llm-model", "", "default model for llm workers")
	pf.Int64Var(&c.maxLLMCalls, "llm-max-calls", 0, "stop calling the LLM after this many requests (0 = unlimited)")
	pf.Int64Var(&c.maxLLMTokens, "llm-max-tokens", 0, "stop calling the LLM after this many tokens (0 = unlimited)")

	root.AddCommand(newRunCmd(c))
	root.AddCommand(newTrainCmd(c))
	root.AddCommand(newWeightsCmd(c))
	root.AddCommand(newValidateCmd(c))
	root.AddCommand(newStrategiesCmd(c))
	return root
}

func (c *cli) setup(ctx context.Context, stderr io.Writer) error {
	logger, err := newLogger(stderr, c.logLevel, c.logFormat)
	if err != nil {
		return err
	}
	c.logger = logger
	slog.SetDefault(logger)
	c.ui = newUI(c.noColor)
	c.metrics = metrics.NewPrometheusMetrics()
	c.budget = llm.NewBudgetTracker(llm.Budget{MaxCalls: c.maxLLMCalls, MaxTokens: c.maxLLMTokens})

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     c.tracing,
		Endpoint:    c.otlpEndpoint,
		SampleRatio: c.sampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	c.closers = append(c.closers, shutdown)

	if c.metricsAddr != "" {
		c.serveMetrics()
	}
	return nil
}

// serveMetrics exposes /metrics until the command finishes.
func (c *cli) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.metrics.Handler())
	srv := &http.Server{
		Addr:              c.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server failed", "addr", c.metricsAddr, "error", err)
		}
	}()
	c.logger.Info("serving metrics", "addr", c.metricsAddr)
	c.closers = append(c.closers, srv.Shutdown)
}

// close releases everything setup acquired, newest first.
func (c *cli) close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// newLogger builds the process logger from the --log-level and
// --log-format flags.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

// llmClient returns a client for the selected provider, or nil when no
// provider is selected and no API key is present in the environment.
func (c *cli) llmClient() (ports.LLMClient, error) {
	provider, key := c.provider, ""
	if provider == "" {
		for _, p := range providerEnv {
			if v := os.Getenv(p.env); v != "" {
				provider, key = p.provider, v
				break
			}
		}
		if provider == "" {
			return nil, nil
		}
	} else {
		for _, p := range providerEnv {
			if p.provider == provider {
				key = os.Getenv(p.env)
			}
		}
	}

	client, err := llm.NewClient(provider, llm.ClientConfig{
		APIKey:  key,
		Model:   c.model,
		Timeout: time.Minute,
		Middleware: []llm.Middleware{
			llm.TracingMiddleware(provider),
			llm.MetricsMiddleware(provider, c.metrics),
			llm.RetryMiddleware(3, 500*time.Millisecond, 10*time.Second),
			c.budget.Middleware(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider %s: %w", provider, err)
	}
	c.logger.Debug("llm client ready", "provider", provider, "model", client.GetModel())
	return client, nil
}

// loader returns a config loader whose registry carries the LLM client.
func (c *cli) loader() (*application.ConfigLoader, error) {
	client, err := c.llmClient()
	if err != nil {
		return nil, err
	}
	return application.NewConfigLoader(
		application.NewDefaultProcessorRegistry(client),
		application.WithLoaderLogger(c.logger),
		application.WithLoaderMetrics(c.metrics),
	)
}

// loadConfig parses and validates the --config file.
func (c *cli) loadConfig(ctx context.Context) (*application.EnsembleConfig, *application.ConfigLoader, error) {
	cl, err := c.loader()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := cl.LoadFromFile(ctx, c.configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cl, nil
}

// openStore opens the weight store named by cfg. It returns a nil store
// when none is configured.
func (c *cli) openStore(cfg application.StoreConfig) (ports.WeightStore, error) {
	switch cfg.Type {
	case application.StoreNone:
		return nil, nil
	case application.StoreFile:
		return store.NewFileStore(cfg.Path)
	case application.StoreRedis:
		addr := cfg.Addr
		if v := os.Getenv(envRedisAddr); v != "" {
			addr = v
		}
		rs, err := store.NewRedisStore(store.RedisConfig{
			Addr:     addr,
			Password: os.Getenv(envRedisPassword),
			Key:      cfg.Key,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return rs.Close() })
		return rs, nil
	default:
		return nil, ports.NewConfigError("store.type", fmt.Errorf("unknown store type %q", cfg.Type))
	}
}

// requireStore is openStore for commands that cannot work without one.
func (c *cli) requireStore(cfg application.StoreConfig) (ports.WeightStore, error) {
	s, err := c.openStore(cfg)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ports.NewConfigError("store", ports.ErrConfigNotFound)
	}
	return s, nil
}

// shutdownEngine drains the engine's pool within shutdownTimeout. Workers
// that ignore cancellation are abandoned rather than blocking exit.
func (c *cli) shutdownEngine(ctx context.Context, engine *application.Engine) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		c.logger.Warn("engine shutdown", "error", err)
	}
}
