package application

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// stubProcessor returns a fixed value and confidence, optionally after a
// delay or with an error.
type stubProcessor struct {
	value      domain.Value
	confidence float64
	err        error
	delay      time.Duration
	panicWith  any

	// failFirst makes the first n calls fail with err.
	failFirst int32

	calls atomic.Int32
}

func (s *stubProcessor) Process(ctx context.Context, _ domain.Input) (domain.Value, error) {
	n := s.calls.Add(1)
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.Empty(), ctx.Err()
		}
	}
	if s.err != nil && (s.failFirst == 0 || n <= s.failFirst) {
		return domain.Empty(), s.err
	}
	return s.value, nil
}

func (s *stubProcessor) Confidence(domain.Input, domain.Value) float64 { return s.confidence }

// blockingProcessor ignores ctx and blocks until release is closed.
type blockingProcessor struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{release: make(chan struct{})}
}

func (b *blockingProcessor) Process(context.Context, domain.Input) (domain.Value, error) {
	n := b.running.Add(1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-b.release
	b.running.Add(-1)
	return domain.Number(1), nil
}

func (b *blockingProcessor) Confidence(domain.Input, domain.Value) float64 { return 1 }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWorker(t interface {
	Helper()
	Fatalf(string, ...any)
}, id string, p ports.Processor, mutate ...func(*domain.WorkerConfig)) *Worker {
	t.Helper()
	cfg := domain.NewWorkerConfig(id, "stub")
	for _, m := range mutate {
		m(&cfg)
	}
	w, err := NewWorker(cfg, p, WithWorkerLogger(discardLogger()))
	if err != nil {
		t.Fatalf("new worker %s: %v", id, err)
	}
	return w
}

func byWorker(results []domain.WorkerResult) map[string]domain.WorkerResult {
	out := make(map[string]domain.WorkerResult, len(results))
	for _, r := range results {
		out[r.WorkerID] = r
	}
	return out
}

// memCollector records metric names for assertions.
type memCollector struct {
	mu     sync.Mutex
	events map[string]int
	gauges map[string]float64
}

func newMemCollector() *memCollector {
	return &memCollector{events: map[string]int{}, gauges: map[string]float64{}}
}

func (m *memCollector) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[name]++
}

func (m *memCollector) RecordLatency(op string, _ time.Duration, _ map[string]string) { m.record(op) }
func (m *memCollector) RecordCounter(metric string, _ float64, _ map[string]string)   { m.record(metric) }
func (m *memCollector) RecordHistogram(metric string, _ float64, _ map[string]string) { m.record(metric) }

func (m *memCollector) RecordGauge(metric string, v float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[metric]++
	key := metric
	if id, ok := labels["worker_id"]; ok {
		key += ":" + id
	}
	m.gauges[key] = v
}

func (m *memCollector) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[name]
}

// memStore is an in-memory ports.WeightStore.
type memStore struct {
	mu    sync.Mutex
	state *domain.LearnerState
	saves int
}

func (s *memStore) Save(_ context.Context, state domain.LearnerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
	s.saves++
	return nil
}

func (s *memStore) Load(context.Context) (domain.LearnerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return domain.LearnerState{}, ports.NewStoreError("memory", "load", ports.ErrStateNotFound)
	}
	return *s.state, nil
}
