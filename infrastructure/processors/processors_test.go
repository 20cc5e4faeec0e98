package processors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

func TestNumeric_Process(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]any
		payload domain.Value
		want    domain.Value
		conf    float64
	}{
		{
			name:    "identity",
			payload: domain.Number(12),
			want:    domain.Number(12),
			conf:    0.8,
		},
		{
			name:    "bias and scale",
			params:  map[string]any{"bias": 1.5, "scale": 2},
			payload: domain.Number(10),
			want:    domain.Number(21.5),
			conf:    0.8,
		},
		{
			name:    "buffer elementwise",
			params:  map[string]any{"bias": -1, "base_confidence": 0.6},
			payload: domain.Buffer([]float64{1, 2, 3}),
			want:    domain.Buffer([]float64{0, 1, 2}),
			conf:    0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewNumericFromConfig(domain.WorkerConfig{ID: "n", Type: TypeNumeric, Parameters: tt.params})
			require.NoError(t, err)

			in := domain.NewInput(tt.payload)
			out, err := p.Process(context.Background(), in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(out), "got %v want %v", out, tt.want)
			assert.InDelta(t, tt.conf, p.Confidence(in, out), 1e-9)
		})
	}
}

func TestNumeric_NoiseLowersConfidence(t *testing.T) {
	p, err := NewNumeric(NumericConfig{Scale: 1, Noise: 1, BaseConfidence: 0.8})
	require.NoError(t, err)

	in := domain.NewInput(domain.Number(5))
	out, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, p.Confidence(in, out), 1e-9)
}

func TestNumeric_Errors(t *testing.T) {
	_, err := NewNumericFromConfig(domain.WorkerConfig{Parameters: map[string]any{"noise": -1}})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	p, err := NewNumeric(DefaultNumericConfig())
	require.NoError(t, err)
	_, err = p.Process(context.Background(), domain.NewInput(domain.Label("x")))
	require.ErrorIs(t, err, ErrUnsupportedInput)
	assert.Zero(t, p.Confidence(domain.Input{}, domain.Empty()))
}

func TestThresholdClassifier(t *testing.T) {
	p, err := NewThresholdClassifier(DefaultThresholdClassifierConfig())
	require.NoError(t, err)

	tests := []struct {
		payload domain.Value
		label   string
		conf    float64
	}{
		{domain.Number(10), "low", 0.9},
		{domain.Number(29.9), "low", 0.45 + 0.45*0.1/20},
		{domain.Number(30), "medium", 0.45},
		{domain.Number(50), "medium", 0.9},
		{domain.Number(70), "high", 0.45},
		{domain.Number(95), "high", 0.9},
		{domain.Buffer([]float64{90, 100, 110}), "high", 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.payload.String(), func(t *testing.T) {
			in := domain.NewInput(tt.payload)
			out, err := p.Process(context.Background(), in)
			require.NoError(t, err)
			label, ok := out.Text()
			require.True(t, ok)
			assert.Equal(t, tt.label, label)
			assert.InDelta(t, tt.conf, p.Confidence(in, out), 1e-9)
		})
	}
}

func TestThresholdClassifier_Config(t *testing.T) {
	_, err := NewThresholdClassifierFromConfig(domain.WorkerConfig{Parameters: map[string]any{"low": 80, "high": 20}})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	p, err := NewThresholdClassifierFromConfig(domain.WorkerConfig{Parameters: map[string]any{
		"low": 0.3, "high": 0.7, "high_label": "pass",
	}})
	require.NoError(t, err)
	out, err := p.Process(context.Background(), domain.NewInput(domain.Number(0.9)))
	require.NoError(t, err)
	assert.Equal(t, "pass", out.String())

	_, err = p.Process(context.Background(), domain.NewInput(domain.Empty()))
	require.ErrorIs(t, err, ErrUnsupportedInput)
}

type stubClient struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
	opts    []map[string]any
}

func (s *stubClient) Complete(_ context.Context, prompt string, opts map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *stubClient) GetModel() string { return "stub" }

func TestLLM_NumberOutput(t *testing.T) {
	client := &stubClient{replies: []string{"The score is 0.82.", "no idea", "7"}}
	p, err := LLMFactory(client)(domain.WorkerConfig{Parameters: map[string]any{
		"prompt": "Rate {{.Payload}} for {{.Prompt}} ({{index .Attributes \"source\"}})",
		"min":    0,
		"max":    1,
		"model":  "small",
	}})
	require.NoError(t, err)

	in := domain.With(domain.NewInput(domain.Number(3)), domain.KeyPrompt, "quality")
	in = domain.With(in, domain.KeyAttributes, map[string]string{"source": "test"})

	out, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	f, ok := out.Float()
	require.True(t, ok)
	assert.InDelta(t, 0.82, f, 1e-9)
	assert.InDelta(t, 0.7, p.Confidence(in, out), 1e-9)
	assert.Equal(t, "Rate 3 for quality (test)", client.prompts[0])
	assert.Equal(t, "small", client.opts[0]["model"])

	_, err = p.Process(context.Background(), in)
	require.ErrorIs(t, err, ports.ErrInvalidResponse)

	_, err = p.Process(context.Background(), in)
	require.ErrorIs(t, err, ports.ErrInvalidResponse, "7 is outside [0, 1]")
}

func TestLLM_LabelOutput(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		labels []string
		want   string
		err    error
	}{
		{name: "exact", reply: "high", labels: []string{"low", "high"}, want: "high"},
		{name: "case folded", reply: "HIGH.\nbecause...", labels: []string{"low", "high"}, want: "high"},
		{name: "in sentence", reply: "I would say it is low overall", labels: []string{"low", "high"}, want: "low"},
		{name: "free form", reply: "  Amber  ", want: "Amber"},
		{name: "not allowed", reply: "purple", labels: []string{"low", "high"}, err: ports.ErrInvalidResponse},
		{name: "empty", reply: "  ", err: ports.ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{replies: []string{tt.reply}}
			p, err := NewLLM(LLMConfig{
				Prompt:     "Classify {{.Payload}}",
				Output:     OutputLabel,
				Labels:     tt.labels,
				MaxTokens:  8,
				Confidence: 0.6,
			}, client)
			require.NoError(t, err)

			out, err := p.Process(context.Background(), domain.NewInput(domain.Number(1)))
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				assert.Zero(t, p.Confidence(domain.Input{}, out))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestLLM_Errors(t *testing.T) {
	_, err := NewLLM(DefaultLLMConfig(), nil)
	require.ErrorIs(t, err, ErrMissingClient)

	_, err = LLMFactory(&stubClient{})(domain.WorkerConfig{})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration, "prompt is required")

	_, err = NewLLM(LLMConfig{Prompt: "{{.Broken", Output: OutputNumber, MaxTokens: 1}, &stubClient{})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	boom := errors.New("provider down")
	p, err := NewLLM(LLMConfig{Prompt: "x", Output: OutputNumber, MaxTokens: 1}, &stubClient{err: boom})
	require.NoError(t, err)
	_, err = p.Process(context.Background(), domain.Input{})
	require.ErrorIs(t, err, boom)
}

// flaky fails the first n calls.
type flaky struct {
	n     int32
	calls atomic.Int32
	err   error
}

func (f *flaky) Process(ctx context.Context, _ domain.Input) (domain.Value, error) {
	if f.calls.Add(1) <= f.n {
		return domain.Empty(), f.err
	}
	if err := ctx.Err(); err != nil {
		return domain.Empty(), err
	}
	return domain.Number(1), nil
}

func (f *flaky) Confidence(domain.Input, domain.Value) float64 { return 0.5 }

func TestRetry(t *testing.T) {
	inner := &flaky{n: 2, err: errors.New("transient")}
	p := Chain(inner, Retry(3, time.Millisecond, 2*time.Millisecond))

	out, err := p.Process(context.Background(), domain.Input{})
	require.NoError(t, err)
	assert.Equal(t, "1", out.String())
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.Equal(t, 0.5, p.Confidence(domain.Input{}, out))

	unsupportedErr := &flaky{n: 5, err: ErrUnsupportedInput}
	_, err = Chain(unsupportedErr, Retry(3, time.Millisecond, time.Millisecond)).Process(context.Background(), domain.Input{})
	require.ErrorIs(t, err, ErrUnsupportedInput)
	assert.Equal(t, int32(1), unsupportedErr.calls.Load())
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	fail := func() error { return boom }
	ok := func() error { return nil }

	require.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Call(fail), boom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.ErrorIs(t, cb.Call(fail), boom, "failed probe reopens")
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreaker_PanickingTrialCallReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	require.Error(t, cb.Call(func() error { return errors.New("boom") }))
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(time.Minute)
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = cb.Call(func() error { panic("kaboom") })
	})
	assert.Equal(t, CircuitOpen, cb.State(), "a panicking trial call counts as a failure")

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	for range 2 {
		assert.Panics(t, func() {
			_ = cb.Call(func() error { panic("kaboom") })
		})
	}
	assert.Equal(t, CircuitOpen, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)
}

func TestBreakerMiddleware(t *testing.T) {
	inner := &flaky{n: 100, err: errors.New("down")}
	p := Chain(inner, Breaker(NewCircuitBreaker(3, time.Hour)))

	for range 3 {
		_, err := p.Process(context.Background(), domain.Input{})
		require.Error(t, err)
	}
	_, err := p.Process(context.Background(), domain.Input{})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestRateLimit_RespectsContext(t *testing.T) {
	p := Chain(&flaky{}, RateLimit(rate.Every(time.Hour), 1))

	_, err := p.Process(context.Background(), domain.Input{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Process(ctx, domain.Input{})
	require.ErrorIs(t, err, ports.ErrRateLimited)
}

func TestTimeout(t *testing.T) {
	slow := &blocking{}
	p := Chain(slow, Timeout(10*time.Millisecond))

	start := time.Now()
	_, err := p.Process(context.Background(), domain.Input{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

type blocking struct{}

func (blocking) Process(ctx context.Context, _ domain.Input) (domain.Value, error) {
	<-ctx.Done()
	return domain.Empty(), ctx.Err()
}

func (blocking) Confidence(domain.Input, domain.Value) float64 { return 0 }

func TestMiddlewareFromParams(t *testing.T) {
	mw, err := MiddlewareFromParams(nil)
	require.NoError(t, err)
	assert.Empty(t, mw)

	mw, err = MiddlewareFromParams(map[string]any{ParamMiddleware: map[string]any{
		"rate_limit":   10.0,
		"burst":        2,
		"max_failures": 3,
		"cooldown":     "5s",
		"retries":      1,
		"retry_delay":  "1ms",
		"timeout":      "250ms",
	}})
	require.NoError(t, err)
	assert.Len(t, mw, 4)

	_, err = MiddlewareFromParams(map[string]any{ParamMiddleware: "fast"})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = MiddlewareFromParams(map[string]any{ParamMiddleware: map[string]any{"retries": 50}})
	require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestFactories(t *testing.T) {
	f := Factories()
	assert.Contains(t, f, TypeNumeric)
	assert.Contains(t, f, TypeThresholdClassifier)
}
