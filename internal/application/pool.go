package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// DefaultWorkerTimeout bounds a worker invocation when neither the worker
// nor the pool configures a timeout.
const DefaultWorkerTimeout = 30 * time.Second

const tracerName = "github.com/ahrav/go-ensemble/internal/application"

var (
	// ErrPoolClosed is reported once Shutdown has been called.
	ErrPoolClosed = errors.New("worker pool is shut down")
	// ErrDuplicateWorker is returned when registering an id twice.
	ErrDuplicateWorker = errors.New("worker already registered")
)

// WorkerPool registers workers and dispatches one input to many of them
// concurrently.
//
// Dispatch snapshots the target workers when ExecuteParallel is called, so
// registry changes never affect a batch in flight. Concurrency is bounded
// by a semaphore. Every dispatched worker yields exactly one result: its
// own, or a TIMEOUT result emitted when its timeout expires first. A
// worker's timeout runs from submission, so a batch finishes within the
// largest worker timeout even when queued workers never get a slot. A
// timed out invocation keeps its concurrency slot until it actually
// returns.
type WorkerPool struct {
	mu             sync.RWMutex
	workers        map[string]*Worker
	order          []string
	maxConcurrency int
	defaultTimeout time.Duration
	closed         bool

	// tasks counts invocations that have not returned, including those
	// the pool stopped waiting for.
	tasks sync.WaitGroup

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics ports.MetricsCollector
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithMaxConcurrency bounds simultaneous invocations. Values below one
// select runtime.NumCPU().
func WithMaxConcurrency(n int) PoolOption {
	return func(p *WorkerPool) { p.maxConcurrency = n }
}

// WithDefaultTimeout sets the timeout for workers that configure none.
func WithDefaultTimeout(d time.Duration) PoolOption {
	return func(p *WorkerPool) { p.defaultTimeout = d }
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the collector that receives per-worker latency and
// outcome counters.
func WithMetrics(m ports.MetricsCollector) PoolOption {
	return func(p *WorkerPool) { p.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) PoolOption {
	return func(p *WorkerPool) {
		if t != nil {
			p.tracer = t
		}
	}
}

// NewWorkerPool creates an empty pool.
func NewWorkerPool(opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		workers:        make(map[string]*Worker),
		maxConcurrency: runtime.NumCPU(),
		defaultTimeout: DefaultWorkerTimeout,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.maxConcurrency < 1 {
		p.maxConcurrency = runtime.NumCPU()
	}
	if p.defaultTimeout <= 0 {
		p.defaultTimeout = DefaultWorkerTimeout
	}
	return p
}

// Register adds w to the pool.
func (p *WorkerPool) Register(w *Worker) error {
	if w == nil {
		return fmt.Errorf("cannot register nil worker")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if _, exists := p.workers[w.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorker, w.ID())
	}
	p.workers[w.ID()] = w
	p.order = append(p.order, w.ID())
	p.logger.Info("worker registered", "worker_id", w.ID(), "worker_type", w.Type())
	return nil
}

// Unregister removes the worker with id and reports whether it existed.
// Batches already in flight are unaffected.
func (p *WorkerPool) Unregister(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.workers[id]; !exists {
		return false
	}
	delete(p.workers, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i:i], p.order[i+1:]...)
			break
		}
	}
	p.logger.Info("worker unregistered", "worker_id", id)
	return true
}

// Worker returns the registered worker with id.
func (p *WorkerPool) Worker(id string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[id]
	return w, ok
}

// Workers returns every registered worker in registration order.
func (p *WorkerPool) Workers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Worker, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.workers[id])
	}
	return out
}

// ActiveWorkers returns the workers that are enabled and not quarantined
// or disabled, in registration order.
func (p *WorkerPool) ActiveWorkers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.selectLocked(nil)
}

// SetMaxConcurrency changes the bound for subsequent batches.
func (p *WorkerPool) SetMaxConcurrency(n int) {
	if n < 1 {
		n = runtime.NumCPU()
	}
	p.mu.Lock()
	p.maxConcurrency = n
	p.mu.Unlock()
}

// MaxConcurrency returns the current concurrency bound.
func (p *WorkerPool) MaxConcurrency() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxConcurrency
}

// ExecuteOption tunes a single ExecuteParallel call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	workerIDs []string
	traceID   string
}

// WithWorkerIDs restricts dispatch to the named workers. Unknown and
// inactive ids are skipped.
func WithWorkerIDs(ids ...string) ExecuteOption {
	return func(o *executeOptions) { o.workerIDs = append(o.workerIDs, ids...) }
}

// WithTraceID sets the correlation id stamped on every result. A random
// UUID is used when none is given.
func WithTraceID(id string) ExecuteOption {
	return func(o *executeOptions) { o.traceID = id }
}

// selectLocked resolves dispatch targets. A nil ids slice selects every
// active worker. The caller must hold p.mu.
func (p *WorkerPool) selectLocked(ids []string) []*Worker {
	if ids == nil {
		out := make([]*Worker, 0, len(p.order))
		for _, id := range p.order {
			if w := p.workers[id]; w.Dispatchable() {
				out = append(out, w)
			}
		}
		return out
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]*Worker, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		w, ok := p.workers[id]
		if !ok {
			p.logger.Warn("skipping unknown worker", "worker_id", id)
			continue
		}
		if !w.Dispatchable() {
			p.logger.Debug("skipping inactive worker", "worker_id", id, "status", w.Status())
			continue
		}
		out = append(out, w)
	}
	return out
}

// ExecuteParallel runs input through the selected workers and returns
// their results in completion order. It never fails: with no eligible
// workers, or after Shutdown, it logs a warning and returns an empty
// slice.
func (p *WorkerPool) ExecuteParallel(ctx context.Context, input domain.Input, opts ...ExecuteOption) []domain.WorkerResult {
	var o executeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.traceID == "" {
		o.traceID = uuid.NewString()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.logger.Error("dispatch rejected", "trace_id", o.traceID, "error", ErrPoolClosed)
		return []domain.WorkerResult{}
	}
	targets := p.selectLocked(o.workerIDs)
	limit := p.maxConcurrency
	defaultTimeout := p.defaultTimeout
	// Registered under the read lock so Shutdown cannot start waiting
	// before these tasks are counted.
	p.tasks.Add(len(targets))
	p.mu.RUnlock()

	if len(targets) == 0 {
		p.logger.Warn("no active workers to execute", "trace_id", o.traceID)
		return []domain.WorkerResult{}
	}

	ctx, span := p.tracer.Start(ctx, "pool.execute_parallel",
		trace.WithAttributes(
			attribute.String("ensemble.trace_id", o.traceID),
			attribute.Int("ensemble.workers", len(targets)),
			attribute.Int("ensemble.max_concurrency", limit),
		))
	defer span.End()

	start := time.Now()
	results := make(chan domain.WorkerResult, len(targets))
	semaphore := make(chan struct{}, limit)

	for _, w := range targets {
		timeout := w.config.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		go p.dispatch(ctx, w, input, o.traceID, timeout, semaphore, results)
	}

	collected := make([]domain.WorkerResult, 0, len(targets))
	counts := make(map[domain.ResultStatus]int)
	for range targets {
		res := <-results
		counts[res.Status]++
		collected = append(collected, res)
	}

	elapsed := time.Since(start)
	span.SetAttributes(
		attribute.Int("ensemble.results.success", counts[domain.StatusSuccess]),
		attribute.Int("ensemble.results.failed", counts[domain.StatusFailed]),
		attribute.Int("ensemble.results.timeout", counts[domain.StatusTimeout]),
		attribute.Int("ensemble.results.anomaly", counts[domain.StatusAnomaly]),
	)
	span.SetStatus(codes.Ok, "")
	if p.metrics != nil {
		p.metrics.RecordLatency("pool_execute", elapsed, map[string]string{})
		p.metrics.RecordGauge("pool_dispatched_workers", float64(len(targets)), map[string]string{})
	}
	p.logger.Debug("parallel execution complete",
		"trace_id", o.traceID,
		"workers", len(targets),
		"succeeded", counts[domain.StatusSuccess],
		"duration", elapsed,
	)
	return collected
}

// dispatch runs one worker and sends exactly one result. The worker's
// deadline starts at submission, so time spent waiting for a concurrency
// slot counts against its timeout. The invocation itself runs in a
// separate goroutine that owns the slot, so giving up on a slow worker
// does not free capacity it still uses.
func (p *WorkerPool) dispatch(
	ctx context.Context,
	w *Worker,
	input domain.Input,
	traceID string,
	timeout time.Duration,
	semaphore chan struct{},
	results chan<- domain.WorkerResult,
) {
	ctx, span := p.tracer.Start(ctx, "worker.execute",
		trace.WithAttributes(
			attribute.String("worker.id", w.ID()),
			attribute.String("worker.type", w.Type()),
			attribute.String("ensemble.trace_id", traceID),
		))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	queued := time.Now()
	select {
	case semaphore <- struct{}{}:
	case <-runCtx.Done():
		p.tasks.Done()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			w.recordTimeout()
			p.logger.Warn("worker timed out waiting for a slot",
				"worker_id", w.ID(), "trace_id", traceID, "timeout", timeout)
		}
		results <- p.finish(span, w, abandoned(w, runCtx.Err(), time.Since(queued), timeout, traceID))
		return
	}

	done := make(chan domain.WorkerResult, 1)
	go func() {
		defer p.tasks.Done()
		defer func() { <-semaphore }()
		defer func() {
			if r := recover(); r != nil {
				done <- w.failure(&PanicError{Value: r}, 0, traceID, 1)
			}
		}()
		done <- w.Execute(runCtx, input, traceID)
	}()

	select {
	case res := <-done:
		results <- p.finish(span, w, res)
	case <-runCtx.Done():
		// Prefer a result that raced with the deadline.
		select {
		case res := <-done:
			results <- p.finish(span, w, res)
			return
		default:
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			w.recordTimeout()
			p.logger.Warn("worker timed out",
				"worker_id", w.ID(), "trace_id", traceID, "timeout", timeout)
		}
		results <- p.finish(span, w, abandoned(w, runCtx.Err(), time.Since(queued), timeout, traceID))
	}
}

// abandoned builds the result for a worker the pool stopped waiting for.
// Deadline expiry reports TIMEOUT with the configured timeout as its
// processing time; cancellation of the caller's context reports FAILED.
func abandoned(w *Worker, cause error, elapsed, timeout time.Duration, traceID string) domain.WorkerResult {
	res := domain.WorkerResult{
		WorkerID:       w.ID(),
		Value:          domain.Empty(),
		Status:         domain.StatusFailed,
		ProcessingTime: elapsed,
		TraceID:        traceID,
		Timestamp:      time.Now().UTC(),
		Metadata: map[string]any{
			MetaError:      fmt.Sprint(cause),
			MetaErrorType:  fmt.Sprintf("%T", cause),
			MetaWorkerType: w.Type(),
		},
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		res.Status = domain.StatusTimeout
		res.ProcessingTime = timeout
		res.Metadata[MetaError] = fmt.Sprintf("worker exceeded timeout of %v", timeout)
		res.Metadata["timeout"] = timeout.String()
	}
	return res
}

func (p *WorkerPool) finish(span trace.Span, w *Worker, res domain.WorkerResult) domain.WorkerResult {
	span.SetAttributes(
		attribute.String("worker.status", string(res.Status)),
		attribute.Float64("worker.confidence", res.Confidence),
		attribute.Int64("worker.duration_ms", res.ProcessingTime.Milliseconds()),
	)
	if res.Status == domain.StatusSuccess {
		span.SetStatus(codes.Ok, "")
	} else {
		if msg, ok := res.Metadata[MetaError].(string); ok {
			span.AddEvent("worker.error", trace.WithAttributes(attribute.String("error", msg)))
		}
		span.SetStatus(codes.Error, string(res.Status))
	}

	if p.metrics != nil {
		labels := map[string]string{
			"worker_id":   w.ID(),
			"worker_type": w.Type(),
			"status":      string(res.Status),
		}
		p.metrics.RecordLatency("worker_execute", res.ProcessingTime, labels)
		p.metrics.RecordCounter("worker_results_total", 1, labels)
		if res.Status == domain.StatusSuccess {
			p.metrics.RecordHistogram("worker_confidence", res.Confidence, map[string]string{
				"worker_id":   w.ID(),
				"worker_type": w.Type(),
			})
		}
	}
	return res
}

// PoolStatistics summarizes the pool and its workers.
type PoolStatistics struct {
	TotalWorkers       int                         `json:"total_workers"`
	ActiveWorkers      int                         `json:"active_workers"`
	MaxConcurrency     int                         `json:"max_concurrency"`
	TotalExecutions    int64                       `json:"total_executions"`
	TotalFailures      int64                       `json:"total_failures"`
	TotalTimeouts      int64                       `json:"total_timeouts"`
	FailureRate        float64                     `json:"failure_rate"`
	StatusDistribution map[domain.WorkerStatus]int `json:"status_distribution"`
	Workers            map[string]WorkerStats      `json:"workers"`
}

// Statistics returns a snapshot of pool-wide counters.
func (p *WorkerPool) Statistics() PoolStatistics {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := PoolStatistics{
		TotalWorkers:       len(p.workers),
		MaxConcurrency:     p.maxConcurrency,
		StatusDistribution: make(map[domain.WorkerStatus]int),
		Workers:            make(map[string]WorkerStats, len(p.workers)),
	}
	for _, id := range p.order {
		w := p.workers[id]
		ws := w.Statistics()
		s.Workers[id] = ws
		s.StatusDistribution[ws.Status]++
		s.TotalExecutions += ws.Executions
		s.TotalFailures += ws.Failures
		s.TotalTimeouts += ws.Timeouts
		if w.Dispatchable() {
			s.ActiveWorkers++
		}
	}
	if s.TotalExecutions > 0 {
		s.FailureRate = float64(s.TotalFailures) / float64(s.TotalExecutions)
	}
	return s
}

// Shutdown stops accepting work, waits for every outstanding invocation
// (including timed out ones) or for ctx, then clears the registry. It is
// safe to call more than once.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.tasks.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for in-flight workers: %w", ctx.Err())
	}

	p.mu.Lock()
	p.workers = make(map[string]*Worker)
	p.order = nil
	p.mu.Unlock()

	p.logger.Info("worker pool shut down", "error", err)
	return err
}
