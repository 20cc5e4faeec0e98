package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Engine runs one request end to end: fan out through the pool, then
// aggregate with live weights.
type Engine struct {
	name       string
	pool       *WorkerPool
	aggregator *Aggregator
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    ports.MetricsCollector
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the engine's logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEngineMetrics sets the collector for request-level metrics.
func WithEngineMetrics(m ports.MetricsCollector) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineName labels logs and metrics with an ensemble name.
func WithEngineName(name string) EngineOption {
	return func(e *Engine) { e.name = name }
}

// NewEngine couples a pool with an aggregator.
func NewEngine(pool *WorkerPool, aggregator *Aggregator, opts ...EngineOption) (*Engine, error) {
	if pool == nil {
		return nil, fmt.Errorf("worker pool cannot be nil")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	e := &Engine{
		name:       "ensemble",
		pool:       pool,
		aggregator: aggregator,
		logger:     slog.Default(),
		tracer:     pool.tracer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns the ensemble name.
func (e *Engine) Name() string { return e.name }

// Pool returns the worker pool.
func (e *Engine) Pool() *WorkerPool { return e.pool }

// Aggregator returns the aggregator.
func (e *Engine) Aggregator() *Aggregator { return e.aggregator }

// Run dispatches input to the pool and aggregates the results. A trace id
// is generated unless one is supplied with WithTraceID. The error is
// non-nil only when ctx was already done before dispatch; every other
// failure is carried in the result.
func (e *Engine) Run(ctx context.Context, input domain.Input, opts ...ExecuteOption) (domain.AggregatedResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AggregatedResult{}, err
	}

	var o executeOptions
	for _, opt := range opts {
		opt(&o)
	}
	traceID := o.traceID
	if traceID == "" {
		traceID = uuid.NewString()
		opts = append(opts, WithTraceID(traceID))
	}

	ctx, span := e.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("ensemble.name", e.name),
			attribute.String("ensemble.trace_id", traceID),
		))
	defer span.End()

	results := e.pool.ExecuteParallel(ctx, input, opts...)
	out := e.aggregator.Aggregate(results)
	if out.TraceID == "" {
		out.TraceID = traceID
	}

	span.SetAttributes(
		attribute.String("ensemble.method", out.Method),
		attribute.Float64("ensemble.confidence", out.Confidence),
		attribute.Int("ensemble.valid_workers", out.ValidWorkers()),
	)
	if reason, failed := out.Metadata["error"]; failed {
		span.SetStatus(codes.Error, fmt.Sprint(reason))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if e.metrics != nil {
		labels := map[string]string{"ensemble": e.name, "method": out.Method}
		e.metrics.RecordHistogram("ensemble_confidence", out.Confidence, labels)
		e.metrics.RecordCounter("ensemble_requests_total", 1, labels)
	}

	e.logger.Info("ensemble request complete",
		"ensemble", e.name,
		"trace_id", traceID,
		"method", out.Method,
		"confidence", out.Confidence,
		"workers", out.NumWorkers(),
		"valid_workers", out.ValidWorkers(),
		"value", out.Value.String(),
	)
	return out, nil
}

// Shutdown stops the underlying pool.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.pool.Shutdown(ctx)
}
