package domain

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// ResultStatus is the outcome of a single worker invocation.
type ResultStatus string

// Result statuses.
const (
	StatusSuccess ResultStatus = "success"
	StatusFailed  ResultStatus = "failed"
	StatusAnomaly ResultStatus = "anomaly"
	StatusTimeout ResultStatus = "timeout"
)

// Valid reports whether s is one of the known statuses.
func (s ResultStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusAnomaly, StatusTimeout:
		return true
	default:
		return false
	}
}

// WorkerResult is the output of one worker invocation. The pool creates
// exactly one per dispatched worker; it is treated as immutable afterwards.
type WorkerResult struct {
	// WorkerID identifies the producing worker, unique within a pool.
	WorkerID string `json:"worker_id"`

	// Value is the produced payload. Empty for failed and timed out runs.
	Value Value `json:"value"`

	// Confidence is the worker's self-assessed reliability in [0, 1].
	Confidence float64 `json:"confidence"`

	// ProcessingTime is the wall-clock duration of the invocation.
	ProcessingTime time.Duration `json:"processing_time"`

	// Status is the invocation outcome.
	Status ResultStatus `json:"status"`

	// Metadata carries diagnostics such as error text or parameters used.
	Metadata map[string]any `json:"metadata,omitempty"`

	// TraceID correlates all results produced for one logical request.
	TraceID string `json:"trace_id"`

	// Timestamp records when the result was produced.
	Timestamp time.Time `json:"timestamp"`
}

// NewWorkerResult validates r and returns a copy with its metadata cloned
// and Timestamp defaulted to now. Out-of-range confidence and negative
// processing time are rejected rather than clamped: they indicate a bug
// in the worker that produced them.
func NewWorkerResult(r WorkerResult) (WorkerResult, error) {
	if r.WorkerID == "" {
		return WorkerResult{}, &ResultError{Record: "WorkerResult", Field: "worker_id", Err: ErrEmptyWorkerID}
	}
	if err := checkConfidence(r.Confidence); err != nil {
		return WorkerResult{}, &ResultError{Record: "WorkerResult", Field: "confidence", Err: err}
	}
	if r.ProcessingTime < 0 {
		return WorkerResult{}, &ResultError{
			Record: "WorkerResult",
			Field:  "processing_time",
			Err:    fmt.Errorf("%w: %v", ErrNegativeDuration, r.ProcessingTime),
		}
	}
	if r.Status == "" {
		r.Status = StatusSuccess
	}
	if !r.Status.Valid() {
		return WorkerResult{}, &ResultError{
			Record: "WorkerResult",
			Field:  "status",
			Err:    fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status),
		}
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.Metadata = maps.Clone(r.Metadata)
	return r, nil
}

// IsValid reports whether the result can take part in aggregation.
func (r WorkerResult) IsValid() bool {
	return r.Status == StatusSuccess && r.Confidence > 0
}

// ToMap flattens the result for transport.
func (r WorkerResult) ToMap() map[string]any {
	return map[string]any{
		"worker_id":          r.WorkerID,
		"value":              r.Value.Interface(),
		"value_kind":         r.Value.Kind().String(),
		"confidence":         r.Confidence,
		"processing_time_ms": durationMillis(r.ProcessingTime),
		"status":             string(r.Status),
		"metadata":           maps.Clone(r.Metadata),
		"timestamp":          r.Timestamp.Format(time.RFC3339Nano),
		"trace_id":           r.TraceID,
	}
}

// AggregatedResult is the combined outcome across a batch of WorkerResults.
type AggregatedResult struct {
	// Value is the combined payload.
	Value Value `json:"value"`

	// Confidence is the overall confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// WorkerResults holds every contributing result, failures included.
	WorkerResults []WorkerResult `json:"worker_results"`

	// Weights maps worker id to the normalized weight actually applied.
	Weights map[string]float64 `json:"weights"`

	// Method names the aggregation strategy used.
	Method string `json:"aggregation_method"`

	// Metadata carries strategy diagnostics (vote distribution, MAD, ...).
	Metadata map[string]any `json:"metadata,omitempty"`

	// ProcessingTime is the time spent aggregating.
	ProcessingTime time.Duration `json:"processing_time"`

	// TraceID is the request correlation id, copied from the worker results.
	TraceID string `json:"trace_id,omitempty"`

	// Timestamp records when aggregation completed.
	Timestamp time.Time `json:"timestamp"`
}

// NewAggregatedResult validates a and returns a copy with its slices and maps
// cloned.
func NewAggregatedResult(a AggregatedResult) (AggregatedResult, error) {
	if err := checkConfidence(a.Confidence); err != nil {
		return AggregatedResult{}, &ResultError{Record: "AggregatedResult", Field: "confidence", Err: err}
	}
	if a.ProcessingTime < 0 {
		return AggregatedResult{}, &ResultError{
			Record: "AggregatedResult",
			Field:  "processing_time",
			Err:    fmt.Errorf("%w: %v", ErrNegativeDuration, a.ProcessingTime),
		}
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.TraceID == "" {
		for _, r := range a.WorkerResults {
			if r.TraceID != "" {
				a.TraceID = r.TraceID
				break
			}
		}
	}
	a.WorkerResults = slices.Clone(a.WorkerResults)
	a.Weights = maps.Clone(a.Weights)
	if a.Weights == nil {
		a.Weights = make(map[string]float64)
	}
	a.Metadata = maps.Clone(a.Metadata)
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	return a, nil
}

// NumWorkers returns the number of contributing results.
func (a AggregatedResult) NumWorkers() int { return len(a.WorkerResults) }

// ValidWorkers returns how many contributing results were valid.
func (a AggregatedResult) ValidWorkers() int {
	n := 0
	for _, r := range a.WorkerResults {
		if r.IsValid() {
			n++
		}
	}
	return n
}

// AverageWorkerConfidence averages confidence over all contributing
// results, or returns 0 when there are none.
func (a AggregatedResult) AverageWorkerConfidence() float64 {
	if len(a.WorkerResults) == 0 {
		return 0
	}
	var sum float64
	for _, r := range a.WorkerResults {
		sum += r.Confidence
	}
	return sum / float64(len(a.WorkerResults))
}

// WorkerSummary is a statistical summary of the results behind an
// aggregation.
type WorkerSummary struct {
	TotalWorkers          int                  `json:"total_workers"`
	ValidWorkers          int                  `json:"valid_workers"`
	FailedWorkers         int                  `json:"failed_workers"`
	StatusCounts          map[ResultStatus]int `json:"status_counts"`
	AverageConfidence     float64              `json:"average_confidence"`
	MinConfidence         float64              `json:"min_confidence"`
	MaxConfidence         float64              `json:"max_confidence"`
	AverageProcessingTime time.Duration        `json:"average_processing_time"`
	TotalProcessingTime   time.Duration        `json:"total_processing_time"`
}

// WorkerStatistics summarizes the contributing results. Min and max
// confidence are taken over valid results only and are 0 when none are
// valid.
func (a AggregatedResult) WorkerStatistics() WorkerSummary {
	s := WorkerSummary{
		TotalWorkers:        len(a.WorkerResults),
		StatusCounts:        make(map[ResultStatus]int),
		TotalProcessingTime: a.ProcessingTime,
	}
	if s.TotalWorkers == 0 {
		return s
	}

	var latency time.Duration
	first := true
	for _, r := range a.WorkerResults {
		s.StatusCounts[r.Status]++
		latency += r.ProcessingTime
		if !r.IsValid() {
			continue
		}
		s.ValidWorkers++
		if first {
			s.MinConfidence, s.MaxConfidence = r.Confidence, r.Confidence
			first = false
			continue
		}
		s.MinConfidence = math.Min(s.MinConfidence, r.Confidence)
		s.MaxConfidence = math.Max(s.MaxConfidence, r.Confidence)
	}
	s.FailedWorkers = s.TotalWorkers - s.ValidWorkers
	s.AverageConfidence = a.AverageWorkerConfidence()
	s.AverageProcessingTime = latency / time.Duration(s.TotalWorkers)
	return s
}

// ToMap flattens the aggregated result into plain key/value pairs for
// downstream consumers.
func (a AggregatedResult) ToMap() map[string]any {
	results := make([]map[string]any, len(a.WorkerResults))
	for i, r := range a.WorkerResults {
		results[i] = r.ToMap()
	}
	stats := a.WorkerStatistics()
	return map[string]any{
		"value":                     a.Value.Interface(),
		"value_kind":                a.Value.Kind().String(),
		"confidence":                a.Confidence,
		"worker_results":            results,
		"weights":                   maps.Clone(a.Weights),
		"aggregation_method":        a.Method,
		"processing_time_ms":        durationMillis(a.ProcessingTime),
		"metadata":                  maps.Clone(a.Metadata),
		"num_workers":               a.NumWorkers(),
		"valid_workers":             a.ValidWorkers(),
		"average_worker_confidence": a.AverageWorkerConfidence(),
		"statistics": map[string]any{
			"total_workers":              stats.TotalWorkers,
			"valid_workers":              stats.ValidWorkers,
			"failed_workers":             stats.FailedWorkers,
			"average_confidence":         stats.AverageConfidence,
			"min_confidence":             stats.MinConfidence,
			"max_confidence":             stats.MaxConfidence,
			"average_processing_time_ms": durationMillis(stats.AverageProcessingTime),
		},
		"timestamp": a.Timestamp.Format(time.RFC3339Nano),
		"trace_id":  a.TraceID,
	}
}

func checkConfidence(c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidConfidence, c)
	}
	return nil
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
