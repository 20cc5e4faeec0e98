package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-ensemble/internal/ports"
)

const tracerName = "github.com/ahrav/go-ensemble/infrastructure/llm"

// retryLLM retries transient provider failures with exponential backoff.
type retryLLM struct {
	next       CoreLLM
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware retries requests that fail with a retryable ProviderError
// up to maxRetries times. Delays double from baseDelay, are capped at
// maxDelay and carry roughly 25% jitter.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &retryLLM{
			next:       next,
			maxRetries: max(maxRetries, 0),
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

func (r *retryLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		response, in, out, err := r.next.DoRequest(ctx, prompt, opts)
		if err == nil {
			return response, in, out, nil
		}
		lastErr = err
		if attempt == r.maxRetries || !IsRetryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return "", 0, 0, fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(r.delay(attempt)):
		}
	}
	if r.maxRetries == 0 {
		return "", 0, 0, lastErr
	}
	return "", 0, 0, fmt.Errorf("LLM call failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *retryLLM) delay(attempt int) time.Duration {
	d := r.baseDelay << attempt
	if d <= 0 || (r.maxDelay > 0 && d > r.maxDelay) {
		d = r.maxDelay
	}
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Float64() * float64(d) * 0.5)
	return d + jitter - d/4
}

func (r *retryLLM) GetModel() string { return r.next.GetModel() }

// metricsLLM records latency, request counts and token usage.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware reports every request to collector under the
// llm_latency_seconds, llm_requests_total and llm_tokens_total metrics.
func MetricsMiddleware(provider string, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, collector: collector, provider: provider}
	}
}

func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, in, out, err := m.next.DoRequest(ctx, prompt, opts)
	if m.collector == nil {
		return response, in, out, err
	}

	labels := map[string]string{
		"provider": m.provider,
		"model":    parseOptions(opts, m.next.GetModel()).model,
		"status":   requestStatus(err),
	}
	m.collector.RecordHistogram("llm_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		m.collector.RecordCounter("llm_tokens_total", float64(in), withLabel(labels, "token_type", "input"))
		m.collector.RecordCounter("llm_tokens_total", float64(out), withLabel(labels, "token_type", "output"))
	}
	return response, in, out, err
}

func (m *metricsLLM) GetModel() string { return m.next.GetModel() }

func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Type.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout.String()
	}
	return "error"
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

// tracedLLM wraps each request in an OpenTelemetry span.
type tracedLLM struct {
	next     CoreLLM
	provider string
	tracer   trace.Tracer
}

// TracingMiddleware starts an "llm.request" span per request using the
// global tracer provider.
func TracingMiddleware(provider string) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{next: next, provider: provider, tracer: otel.Tracer(tracerName)}
	}
}

func (t *tracedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", t.provider),
			attribute.String("llm.model", parseOptions(opts, t.next.GetModel()).model),
			attribute.Int("llm.prompt.length", len(prompt)),
		),
	)
	defer span.End()

	response, in, out, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, strings.SplitN(err.Error(), "\n", 2)[0])
		return response, in, out, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", in),
		attribute.Int("llm.tokens.output", out),
	)
	span.SetStatus(codes.Ok, "")
	return response, in, out, nil
}

func (t *tracedLLM) GetModel() string { return t.next.GetModel() }
