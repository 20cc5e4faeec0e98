package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSanitizeEndpoint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"localhost:4317", "localhost:4317"},
		{"http://collector:4317", "collector:4317"},
		{"https://collector.example.com:443/", "collector.example.com:443"},
		{"collector:4317/", "collector:4317"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeEndpoint(tt.in))
		})
	}
}

func TestEndpoint_Defaults(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", endpoint(Config{}))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel:4317")
	assert.Equal(t, "otel:4317", endpoint(Config{}))
	assert.Equal(t, "explicit:4317", endpoint(Config{Endpoint: "explicit:4317"}))
}

func TestServiceName(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "")
	assert.Equal(t, DefaultServiceName, serviceName(Config{}))

	t.Setenv("OTEL_SERVICE_NAME", "from-env")
	assert.Equal(t, "from-env", serviceName(Config{}))
	assert.Equal(t, "explicit", serviceName(Config{ServiceName: " explicit "}))
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "YES", " on "} {
		assert.True(t, parseBool(v), v)
	}
	for _, v := range []string{"false", "0", "", "nope"} {
		assert.False(t, parseBool(v), v)
	}
}

func TestSampler(t *testing.T) {
	assert.Contains(t, Sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(2).Description(), "AlwaysOnSampler")
	assert.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTraceID(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	id := TraceID(ctx)
	assert.Len(t, id, 32)
	assert.Equal(t, span.SpanContext().TraceID().String(), id)
}
