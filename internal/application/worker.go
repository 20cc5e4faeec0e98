package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// Backoff bounds for opt-in worker retries.
const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// Metadata keys written by Worker.Execute.
const (
	MetaWorkerType     = "worker_type"
	MetaExecutionCount = "execution_count"
	MetaParameters     = "parameters"
	MetaError          = "error"
	MetaErrorType      = "error_type"
	MetaFailureCount   = "failure_count"
	MetaAttempts       = "attempts"
	MetaThreshold      = "threshold"
)

// PanicError reports a panic recovered from a processor.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("processor panicked: %v", e.Value)
}

// WorkerStats is a point-in-time view of a worker's counters.
type WorkerStats struct {
	WorkerID       string              `json:"worker_id"`
	Type           string              `json:"worker_type"`
	Status         domain.WorkerStatus `json:"status"`
	Enabled        bool                `json:"enabled"`
	Executions     int64               `json:"execution_count"`
	Failures       int64               `json:"failure_count"`
	Timeouts       int64               `json:"timeout_count"`
	FailureRate    float64             `json:"failure_rate"`
	AverageLatency time.Duration       `json:"average_latency"`
	TotalTime      time.Duration       `json:"total_time"`
}

// Worker wraps a Processor with failure isolation, timing, counters and
// lifecycle status. Execute never panics and never returns an error: every
// outcome is reported as a domain.WorkerResult.
//
// A Worker may be dispatched by overlapping batches; its counters are
// atomic and its status is guarded by a mutex.
type Worker struct {
	config    domain.WorkerConfig
	processor ports.Processor
	logger    *slog.Logger

	executions atomic.Int64
	failures   atomic.Int64
	timeouts   atomic.Int64
	totalNanos atomic.Int64

	mu     sync.Mutex
	status domain.WorkerStatus
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker binds processor to a validated configuration. A disabled
// configuration produces a worker in the DISABLED state.
func NewWorker(config domain.WorkerConfig, processor ports.Processor, opts ...WorkerOption) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if processor == nil {
		return nil, fmt.Errorf("worker %s: processor cannot be nil", config.ID)
	}

	w := &Worker{
		config:    config.Clone(),
		processor: processor,
		logger:    slog.Default(),
		status:    domain.WorkerIdle,
	}
	if !config.Enabled {
		w.status = domain.WorkerDisabled
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("worker_id", config.ID, "worker_type", config.Type)
	return w, nil
}

// ID returns the worker's identity.
func (w *Worker) ID() string { return w.config.ID }

// Type returns the worker type.
func (w *Worker) Type() string { return w.config.Type }

// Config returns a copy of the worker configuration.
func (w *Worker) Config() domain.WorkerConfig { return w.config.Clone() }

// Status returns the current lifecycle status.
func (w *Worker) Status() domain.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// SetStatus moves the worker to status unconditionally. It is the
// administrative path for quarantining, disabling and reinstating workers.
func (w *Worker) SetStatus(status domain.WorkerStatus) error {
	switch status {
	case domain.WorkerIdle, domain.WorkerActive, domain.WorkerFailed,
		domain.WorkerQuarantined, domain.WorkerDisabled:
	default:
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	w.mu.Lock()
	prev := w.status
	w.status = status
	w.mu.Unlock()
	w.logger.Info("worker status changed", "from", prev, "to", status)
	return nil
}

// Dispatchable reports whether the pool may send work to this worker.
func (w *Worker) Dispatchable() bool {
	return w.config.Enabled && w.Status().Dispatchable()
}

// transition applies a runtime status change. Administrative states set
// through SetStatus are never overwritten by execution.
func (w *Worker) transition(to domain.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status.Dispatchable() {
		w.status = to
	}
}

// Execute runs the processor on input and reports the outcome. Errors and
// panics from the processor become FAILED results with zero confidence.
// A success whose confidence is below the configured min_confidence
// threshold is reported as ANOMALY.
func (w *Worker) Execute(ctx context.Context, input domain.Input, traceID string) domain.WorkerResult {
	start := time.Now()
	w.transition(domain.WorkerActive)
	count := w.executions.Add(1)

	value, confidence, attempts, err := w.run(ctx, input)
	elapsed := time.Since(start)
	w.totalNanos.Add(int64(elapsed))

	if err != nil {
		return w.failure(err, elapsed, traceID, attempts)
	}

	status := domain.StatusSuccess
	meta := map[string]any{
		MetaWorkerType:     w.config.Type,
		MetaExecutionCount: count,
		MetaParameters:     w.config.Clone().Parameters,
	}
	if attempts > 1 {
		meta[MetaAttempts] = attempts
	}
	if threshold, ok := w.config.Thresholds[domain.ThresholdMinConfidence]; ok && confidence < threshold {
		status = domain.StatusAnomaly
		meta[MetaThreshold] = threshold
	}

	res, err := domain.NewWorkerResult(domain.WorkerResult{
		WorkerID:       w.config.ID,
		Value:          value,
		Confidence:     confidence,
		ProcessingTime: elapsed,
		Status:         status,
		Metadata:       meta,
		TraceID:        traceID,
	})
	if err != nil {
		// The processor reported an out-of-range confidence.
		return w.failure(err, elapsed, traceID, attempts)
	}

	w.transition(domain.WorkerIdle)
	if status == domain.StatusAnomaly {
		w.logger.Warn("worker confidence below threshold",
			"trace_id", traceID, "confidence", confidence, "threshold", meta[MetaThreshold])
	}
	return res
}

// run invokes the processor, retrying failed attempts when RetryAttempts
// is set. Retries stop as soon as ctx is done.
func (w *Worker) run(ctx context.Context, input domain.Input) (domain.Value, float64, int, error) {
	attempts := w.config.RetryAttempts + 1
	var lastErr error
	for attempt := range attempts {
		value, confidence, err := w.invoke(ctx, input)
		if err == nil {
			return value, confidence, attempt + 1, nil
		}
		lastErr = err

		if attempt == attempts-1 || ctx.Err() != nil {
			return domain.Empty(), 0, attempt + 1, lastErr
		}

		delay := backoff(attempt)
		w.logger.Debug("retrying worker", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return domain.Empty(), 0, attempt + 1, errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
	}
	return domain.Empty(), 0, attempts, lastErr
}

// invoke makes one Process plus Confidence call, converting panics into
// errors.
func (w *Worker) invoke(ctx context.Context, input domain.Input) (value domain.Value, confidence float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, confidence = domain.Empty(), 0
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	value, err = w.processor.Process(ctx, input)
	if err != nil {
		return domain.Empty(), 0, err
	}
	return value, w.processor.Confidence(input, value), nil
}

func (w *Worker) failure(err error, elapsed time.Duration, traceID string, attempts int) domain.WorkerResult {
	failures := w.failures.Add(1)
	w.transition(domain.WorkerFailed)

	meta := map[string]any{
		MetaError:        err.Error(),
		MetaErrorType:    fmt.Sprintf("%T", err),
		MetaFailureCount: failures,
	}
	if attempts > 1 {
		meta[MetaAttempts] = attempts
	}
	w.logger.Warn("worker execution failed", "trace_id", traceID, "error", err, "attempts", attempts)

	return domain.WorkerResult{
		WorkerID:       w.config.ID,
		Value:          domain.Empty(),
		Confidence:     0,
		ProcessingTime: elapsed,
		Status:         domain.StatusFailed,
		Metadata:       meta,
		TraceID:        traceID,
		Timestamp:      time.Now().UTC(),
	}
}

// recordTimeout is called by the pool when it gave up waiting.
func (w *Worker) recordTimeout() {
	w.timeouts.Add(1)
}

// Statistics returns a snapshot of the worker's counters.
func (w *Worker) Statistics() WorkerStats {
	executions := w.executions.Load()
	failures := w.failures.Load()
	total := time.Duration(w.totalNanos.Load())

	s := WorkerStats{
		WorkerID:   w.config.ID,
		Type:       w.config.Type,
		Status:     w.Status(),
		Enabled:    w.config.Enabled,
		Executions: executions,
		Failures:   failures,
		Timeouts:   w.timeouts.Load(),
		TotalTime:  total,
	}
	if executions > 0 {
		s.FailureRate = float64(failures) / float64(executions)
		s.AverageLatency = total / time.Duration(executions)
	}
	return s
}

// backoff returns the exponential delay for attempt with +/-25% jitter,
// capped at retryMaxDelay.
func backoff(attempt int) time.Duration {
	delay := retryBaseDelay << attempt
	if delay <= 0 || delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	return delay + jitter - delay/4
}
