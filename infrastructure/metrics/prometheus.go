// Package metrics exports ensemble telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-ensemble/internal/ports"
)

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "ensemble"

// confidenceBuckets cover [0, 1] in tenths.
var confidenceBuckets = prometheus.LinearBuckets(0.1, 0.1, 10)

// PrometheusMetrics implements ports.MetricsCollector. Metrics emitted by
// the worker pool, the engine and the LLM client get dedicated vectors;
// any other name lands in a generic vector keyed by a "metric" label.
type PrometheusMetrics struct {
	registry prometheus.Gatherer

	workerDuration   *prometheus.HistogramVec
	workerResults    *prometheus.CounterVec
	workerConfidence *prometheus.HistogramVec

	ensembleRequests   *prometheus.CounterVec
	ensembleConfidence *prometheus.HistogramVec

	llmLatency  *prometheus.HistogramVec
	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec

	workerWeight *prometheus.GaugeVec

	operationLatency *prometheus.HistogramVec
	counters         *prometheus.CounterVec
	gauges           *prometheus.GaugeVec
	histograms       *prometheus.HistogramVec
}

// NewPrometheusMetrics registers the ensemble metrics with a fresh registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	return NewPrometheusMetricsWith(reg, reg, DefaultNamespace)
}

// NewPrometheusMetricsWith registers the metrics with reg under namespace.
// gatherer backs Handler and is usually the same registry.
func NewPrometheusMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer, namespace string) *PrometheusMetrics {
	f := promauto.With(reg)
	workerLabels := []string{"worker_id", "worker_type", "status"}
	llmLabels := []string{"provider", "model", "status"}

	return &PrometheusMetrics{
		registry: gatherer,

		workerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_duration_seconds",
			Help:      "Processing time of individual worker invocations.",
			Buckets:   prometheus.DefBuckets,
		}, workerLabels),
		workerResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_results_total",
			Help:      "Worker results by terminal status.",
		}, workerLabels),
		workerConfidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_confidence",
			Help:      "Confidence reported by successful workers.",
			Buckets:   confidenceBuckets,
		}, []string{"worker_id", "worker_type"}),

		ensembleRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Aggregated ensemble decisions.",
		}, []string{"ensemble", "method"}),
		ensembleConfidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confidence",
			Help:      "Confidence of aggregated ensemble decisions.",
			Buckets:   confidenceBuckets,
		}, []string{"ensemble", "method"}),

		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_latency_seconds",
			Help:      "Latency of LLM provider requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, llmLabels),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM provider requests by outcome.",
		}, llmLabels),
		llmTokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by LLM requests.",
		}, []string{"provider", "model", "token_type"}),

		workerWeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_weight",
			Help:      "Learned aggregation weight per worker.",
		}, []string{"worker_id"}),

		operationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of other ensemble operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		counters: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Counters without a dedicated metric.",
		}, []string{"metric"}),
		gauges: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Gauges without a dedicated metric.",
		}, []string{"metric"}),
		histograms: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "values",
			Help:      "Histograms without a dedicated metric.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"metric"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// RecordLatency implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	switch operation {
	case "worker_execute":
		pm.workerDuration.WithLabelValues(workerValues(labels)...).Observe(duration.Seconds())
	default:
		pm.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
	}
}

// RecordCounter implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "worker_results_total":
		pm.workerResults.WithLabelValues(workerValues(labels)...).Add(value)
	case "ensemble_requests_total":
		pm.ensembleRequests.WithLabelValues(labels["ensemble"], labels["method"]).Add(value)
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(llmValues(labels)...).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(labels["provider"], labels["model"], labels["token_type"]).Add(value)
	default:
		pm.counters.WithLabelValues(metric).Add(value)
	}
}

// RecordGauge implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	switch metric {
	case "worker_weight":
		pm.workerWeight.WithLabelValues(labels["worker_id"]).Set(value)
	default:
		pm.gauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram implements ports.MetricsCollector.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "worker_confidence":
		pm.workerConfidence.WithLabelValues(labels["worker_id"], labels["worker_type"]).Observe(value)
	case "ensemble_confidence":
		pm.ensembleConfidence.WithLabelValues(labels["ensemble"], labels["method"]).Observe(value)
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(llmValues(labels)...).Observe(value)
	default:
		pm.histograms.WithLabelValues(metric).Observe(value)
	}
}

func workerValues(labels map[string]string) []string {
	return []string{labels["worker_id"], labels["worker_type"], labels["status"]}
}

func llmValues(labels map[string]string) []string {
	return []string{labels["provider"], labels["model"], labels["status"]}
}
