package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-ensemble/internal/application"
	"github.com/ahrav/go-ensemble/internal/domain"
	"github.com/ahrav/go-ensemble/internal/ports"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want domain.Value
	}{
		{"42", domain.Number(42)},
		{" -1.5 ", domain.Number(-1.5)},
		{"1,2,3", domain.Buffer([]float64{1, 2, 3})},
		{"0.5, 0.25", domain.Buffer([]float64{0.5, 0.25})},
		{"high", domain.Label("high")},
		{"a,b", domain.Label("a,b")},
		{"", domain.Empty()},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseValue(tt.in)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseAttributes(t *testing.T) {
	got, err := parseAttributes([]string{"source=cli", "empty=", "eq=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "cli", "empty": "", "eq": "a=b"}, got)

	got, err = parseAttributes(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseAttributes([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAttributes([]string{"=x"})
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"scale=100", "binary=true", "name=x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"scale": 100.0, "binary": true, "name": "x"}, got)
}

func TestBuildInput(t *testing.T) {
	in := buildInput(domain.Number(1), "estimate", map[string]string{"k": "v"})
	p, ok := domain.Get(in, domain.KeyPrompt)
	require.True(t, ok)
	assert.Equal(t, "estimate", p)
	attrs, ok := domain.Get(in, domain.KeyAttributes)
	require.True(t, ok)
	assert.Equal(t, "v", attrs["k"])

	bare := buildInput(domain.Number(1), "", nil)
	_, ok = domain.Get(bare, domain.KeyPrompt)
	assert.False(t, ok)
}

func TestReadExamples(t *testing.T) {
	data := `
# comment
{"input": 10, "actual": 20}
{"input": [1, 2], "actual": "high", "prompt": "classify", "attributes": {"set": "a"}}
`
	got, err := readExamples(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Input.Payload().Equal(domain.Number(10)))
	assert.True(t, got[0].Actual.Equal(domain.Number(20)))
	assert.True(t, got[1].Input.Payload().Equal(domain.Buffer([]float64{1, 2})))
	assert.True(t, got[1].Actual.Equal(domain.Label("high")))

	_, err = readExamples(strings.NewReader(`{"input": 1}`))
	assert.ErrorContains(t, err, "line 1: actual is required")

	_, err = readExamples(strings.NewReader("{\"input\": 1, \"actual\": 2}\nnot json"))
	assert.ErrorContains(t, err, "line 2")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	_, err = newLogger(io.Discard, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(io.Discard, "info", "xml")
	assert.Error(t, err)
}

const testConfig = `
version: "1.0.0"
name: cli-test
aggregation:
  strategy: weighted_average
learner:
  type: bayesian
store:
  type: file
  path: %s
workers:
  - id: est
    type: numeric
    variations:
      - scale: 2
`

// execute runs the CLI with args and returns stdout.
func executeCLI(t *testing.T, args ...string) string {
	t.Helper()
	c := &cli{}
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	require.NoError(t, c.close(context.Background()))
	require.NoError(t, err, "ensemble %s", strings.Join(args, " "))
	return out.String()
}

func writeTestConfig(t *testing.T) (cfgPath, weightsPath string) {
	t.Helper()
	dir := t.TempDir()
	weightsPath = filepath.Join(dir, "weights.json")
	cfgPath = filepath.Join(dir, "ensemble.yaml")
	cfg := strings.Replace(testConfig, "%s", weightsPath, 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath, weightsPath
}

func TestCLI_RunJSON(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	out := executeCLI(t, "run", "-c", cfgPath, "--no-color", "--input", "10", "--trace-id", "t-1", "--json")

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.InDelta(t, 15.0, res["value"], 1e-9)
	assert.Equal(t, "weighted_average", res["aggregation_method"])
	assert.Equal(t, "t-1", res["trace_id"])
	assert.EqualValues(t, 2, res["num_workers"])
}

func TestCLI_RunText(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	out := executeCLI(t, "run", "-c", cfgPath, "--no-color", "--input", "10", "--workers", "est")
	assert.Contains(t, out, "[OK] 10")
	assert.Contains(t, out, "workers=1/1")
	assert.NotContains(t, out, "est_var1")
}

func TestCLI_TrainAndShowWeights(t *testing.T) {
	cfgPath, weightsPath := writeTestConfig(t)
	data := filepath.Join(filepath.Dir(cfgPath), "train.jsonl")
	require.NoError(t, os.WriteFile(data, []byte(`{"input": 10, "actual": 10}
{"input": 4, "actual": 4}
`), 0o600))

	out := executeCLI(t, "train", "-c", cfgPath, "--no-color", "--data", data, "--epochs", "3", "--scorer-opt", "scale=100")
	assert.Contains(t, out, "3 epoch(s) over 2 example(s)")
	assert.FileExists(t, weightsPath)

	out = executeCLI(t, "weights", "show", "-c", cfgPath, "--json")
	var state domain.LearnerState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Greater(t, state.Weights["est"], state.Weights["est_var1"])

	out = executeCLI(t, "weights", "reset", "-c", cfgPath, "--no-color", "est_var1")
	assert.Contains(t, out, "reset 1 worker(s)")

	out = executeCLI(t, "weights", "show", "-c", cfgPath, "--json")
	state = domain.LearnerState{}
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.NotContains(t, state.Weights, "est_var1")
	assert.Contains(t, state.Weights, "est")
}

func TestCLI_Validate(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	out := executeCLI(t, "validate", "-c", cfgPath, "--no-color")
	assert.Contains(t, out, "cli-test v1.0.0")
	assert.Contains(t, out, "workers=2 strategy=weighted_average learner=bayesian store=file")
}

func TestCLI_Strategies(t *testing.T) {
	out := executeCLI(t, "strategies", "--no-color")
	for _, want := range []string{"weighted_average", "majority_vote", "threshold_classifier", "fuzzy", "anthropic", "redis"} {
		assert.Contains(t, out, want)
	}
}

func TestCLI_Errors(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"missing input", []string{"run", "-c", cfgPath}, "--input is required"},
		{"missing data", []string{"train", "-c", cfgPath}, "--data is required"},
		{"unknown scorer", []string{"train", "-c", cfgPath, "--data", "x", "--scorer", "psychic"}, "psychic"},
		{"reset needs ids", []string{"weights", "reset", "-c", cfgPath}, "--all"},
		{"bad log level", []string{"strategies", "--log-level", "loud"}, "--log-level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cli{}
			root := newRootCmd(c)
			root.SetOut(io.Discard)
			root.SetErr(io.Discard)
			root.SetArgs(tt.args)
			err := root.ExecuteContext(context.Background())
			require.NoError(t, c.close(context.Background()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

// hungProcessor ignores cancellation until release is closed.
type hungProcessor struct{ release chan struct{} }

func (h hungProcessor) Process(context.Context, domain.Input) (domain.Value, error) {
	<-h.release
	return domain.Number(1), nil
}

func (hungProcessor) Confidence(domain.Input, domain.Value) float64 { return 1 }

func TestShutdownEngine_BoundedByTimeout(t *testing.T) {
	prev := shutdownTimeout
	shutdownTimeout = 50 * time.Millisecond
	t.Cleanup(func() { shutdownTimeout = prev })

	release := make(chan struct{})
	defer close(release)

	reg := application.NewDefaultProcessorRegistry(nil)
	require.NoError(t, reg.RegisterFactory("hung", func(domain.WorkerConfig) (ports.Processor, error) {
		return hungProcessor{release: release}, nil
	}))
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	cl, err := application.NewConfigLoader(reg, application.WithLoaderLogger(logger))
	require.NoError(t, err)

	ctx := context.Background()
	cfg, err := cl.Load(ctx, []byte(`
version: "1.0.0"
name: hung
aggregation:
  strategy: median
workers:
  - id: stuck
    type: hung
    timeout: 10ms
`))
	require.NoError(t, err)
	engine, err := cl.Build(ctx, cfg)
	require.NoError(t, err)

	_, err = engine.Run(ctx, domain.NewInput(domain.Number(1)))
	require.NoError(t, err)

	c := &cli{logger: logger}
	start := time.Now()
	c.shutdownEngine(ctx, engine)
	assert.Less(t, time.Since(start), time.Second)
	assert.Contains(t, logs.String(), "engine shutdown")
}
