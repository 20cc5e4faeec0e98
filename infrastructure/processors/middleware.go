package processors

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Middleware wraps a Processor with additional behavior. Confidence is
// always delegated unchanged.
type Middleware func(ports.Processor) ports.Processor

// Chain applies middleware so that the first one is outermost.
func Chain(p ports.Processor, middleware ...Middleware) ports.Processor {
	for i := len(middleware) - 1; i >= 0; i-- {
		p = middleware[i](p)
	}
	return p
}

// processFunc adapts a Process implementation around an inner processor.
type processFunc struct {
	next    ports.Processor
	process func(ctx context.Context, input domain.Input) (domain.Value, error)
}

func (f *processFunc) Process(ctx context.Context, input domain.Input) (domain.Value, error) {
	return f.process(ctx, input)
}

func (f *processFunc) Confidence(input domain.Input, output domain.Value) float64 {
	return f.next.Confidence(input, output)
}

// RateLimit paces calls with a token bucket. Callers block until a token
// is available or ctx is done, in which case the error wraps
// ports.ErrRateLimited.
func RateLimit(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)
	return func(next ports.Processor) ports.Processor {
		return &processFunc{next: next, process: func(ctx context.Context, input domain.Input) (domain.Value, error) {
			if err := limiter.Wait(ctx); err != nil {
				return domain.Empty(), fmt.Errorf("%w: %w", ports.ErrRateLimited, err)
			}
			return next.Process(ctx, input)
		}}
	}
}

// Timeout bounds each call with d.
func Timeout(d time.Duration) Middleware {
	return func(next ports.Processor) ports.Processor {
		return &processFunc{next: next, process: func(ctx context.Context, input domain.Input) (domain.Value, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Process(ctx, input)
		}}
	}
}

// Retry re-invokes a failing processor up to attempts extra times with
// jittered exponential backoff. Context errors, open circuits and
// rate-limit rejections are not retried.
func Retry(attempts int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next ports.Processor) ports.Processor {
		return &processFunc{next: next, process: func(ctx context.Context, input domain.Input) (domain.Value, error) {
			var lastErr error
			for attempt := 0; attempt <= attempts; attempt++ {
				v, err := next.Process(ctx, input)
				if err == nil {
					return v, nil
				}
				lastErr = err
				if attempt == attempts || !retryable(err) {
					break
				}
				select {
				case <-ctx.Done():
					return domain.Empty(), ctx.Err()
				case <-time.After(jitter(baseDelay<<attempt, maxDelay)):
				}
			}
			return domain.Empty(), lastErr
		}}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, ports.ErrRateLimited) &&
		!errors.Is(err, ErrUnsupportedInput)
}

func jitter(d, limit time.Duration) time.Duration {
	if d <= 0 || (limit > 0 && d > limit) {
		d = limit
	}
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Float64()*float64(d)*0.5) - d/4
}

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

// Circuit breaker states.
const (
	// CircuitClosed passes every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen lets one trial call decide between closed and open.
	CircuitHalfOpen
)

// String returns the lowercase state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after maxFailures consecutive failures and probes
// recovery once cooldown has elapsed.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Call runs fn unless the circuit is open. Only one trial call runs while
// half-open; concurrent callers are rejected until it finishes. A panic in
// fn counts as a failure and is re-raised.
func (cb *CircuitBreaker) Call(fn func() error) (err error) {
	if rejected := cb.acquire(); rejected != nil {
		return rejected
	}
	defer func() {
		if r := recover(); r != nil {
			cb.record(fmt.Errorf("panic: %v", r))
			panic(r)
		}
		cb.record(err)
	}()
	return fn()
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = CircuitClosed
		cb.probing = false
		return
	}
	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
	cb.probing = false
}

// State returns the current state. An open circuit whose cooldown has
// elapsed still reports CircuitOpen until the next call.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Breaker routes calls through cb.
func Breaker(cb *CircuitBreaker) Middleware {
	return func(next ports.Processor) ports.Processor {
		return &processFunc{next: next, process: func(ctx context.Context, input domain.Input) (domain.Value, error) {
			var out domain.Value
			err := cb.Call(func() error {
				var err error
				out, err = next.Process(ctx, input)
				return err
			})
			if err != nil {
				return domain.Empty(), err
			}
			return out, nil
		}}
	}
}

// MiddlewareConfig is the optional "middleware" section of a worker's
// parameters.
type MiddlewareConfig struct {
	// RateLimit is the sustained calls per second. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" json:"burst" validate:"gte=0"`

	// MaxFailures opens the circuit after that many consecutive failures.
	// Zero disables the breaker.
	MaxFailures int           `yaml:"max_failures" json:"max_failures" validate:"gte=0"`
	Cooldown    time.Duration `yaml:"cooldown" json:"cooldown" validate:"gte=0"`

	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	Retries    int           `yaml:"retries" json:"retries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" validate:"gte=0"`
}

// ParamMiddleware is the WorkerConfig.Parameters key read by
// MiddlewareFromParams.
const ParamMiddleware = "middleware"

// MiddlewareFromParams builds the middleware stack described by the
// worker's "middleware" parameter: rate limit, then circuit breaker, then
// retry, then per-call timeout. A missing section yields nil.
func MiddlewareFromParams(params map[string]any) ([]Middleware, error) {
	raw, ok := params[ParamMiddleware]
	if !ok || raw == nil {
		return nil, nil
	}
	section, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a mapping, got %T", domain.ErrInvalidConfiguration, ParamMiddleware, raw)
	}

	cfg := MiddlewareConfig{Cooldown: 30 * time.Second, RetryDelay: 100 * time.Millisecond}
	if err := decodeParams(section, &cfg); err != nil {
		return nil, err
	}

	var mw []Middleware
	if cfg.RateLimit > 0 {
		mw = append(mw, RateLimit(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1)))
	}
	if cfg.MaxFailures > 0 {
		mw = append(mw, Breaker(NewCircuitBreaker(cfg.MaxFailures, cfg.Cooldown)))
	}
	if cfg.Retries > 0 {
		mw = append(mw, Retry(cfg.Retries, cfg.RetryDelay, 10*cfg.RetryDelay))
	}
	if cfg.Timeout > 0 {
		mw = append(mw, Timeout(cfg.Timeout))
	}
	return mw, nil
}
