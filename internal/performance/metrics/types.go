// Package metrics aggregates request latencies, outcomes and response checks
// for a load test.
package metrics

import "time"

// Phase is the stage of a run a metric was recorded in.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	SteadyStateRPS  float64       `json:"steadyStateRps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`

	// Checks are the response-check counters keyed by check name.
	Checks map[string]CheckStats `json:"checks,omitempty"`

	// CheckRate is the fraction of passed checks across all check names.
	CheckRate float64 `json:"checkRate"`

	// Failures lists distinct failure messages, most frequent first.
	Failures []FailureStats `json:"failures,omitempty"`
}

// LatencyStats summarizes a latency histogram.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// LatencyPercentiles is the subset of LatencyStats stored per time bucket.
type LatencyPercentiles struct {
	Min time.Duration
	Max time.Duration
	P50 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// CheckStats counts the outcomes of one response check.
type CheckStats struct {
	Passed int64 `json:"passed"`
	Failed int64 `json:"failed"`
}

// Rate returns the fraction of passed checks, or 1 when none ran.
func (c CheckStats) Rate() float64 {
	total := c.Passed + c.Failed
	if total == 0 {
		return 1
	}
	return float64(c.Passed) / float64(total)
}

// FailureStats counts occurrences of one failure message for one request name.
type FailureStats struct {
	Request     string `json:"request"`
	Message     string `json:"message"`
	Occurrences int64  `json:"occurrences"`
}

// TimeBucket holds the state of a run at the end of one interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	TotalRequests  int64 `json:"totalRequests"`
	TotalSuccesses int64 `json:"totalSuccesses"`
	TotalFailures  int64 `json:"totalFailures"`
	TotalBytes     int64 `json:"totalBytes"`

	IntervalRequests int64   `json:"intervalRequests"`
	IntervalRPS      float64 `json:"intervalRPS"`

	LatencyMin time.Duration `json:"latencyMin"`
	LatencyMax time.Duration `json:"latencyMax"`
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP90 time.Duration `json:"latencyP90"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`

	IntervalErrorRate float64 `json:"intervalErrorRate"`
}

// PhaseChange records a phase transition.
type PhaseChange struct {
	Phase     Phase
	Timestamp time.Time
	Requests  int64
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// BucketInterval is the time-series resolution.
	BucketInterval time.Duration

	// MaxBuckets bounds the time series; older buckets are dropped.
	MaxBuckets int

	// HistogramMin and HistogramMax bound recordable latencies in microseconds.
	HistogramMin int64
	HistogramMax int64

	// HistogramSigFigs is the HDR histogram precision.
	HistogramSigFigs int

	// MaxFailureMessages bounds the failure table. Further distinct messages
	// are folded into one overflow entry per request name.
	MaxFailureMessages int
}

// DefaultEngineConfig returns 1s buckets for an hour and a 1µs–1h histogram.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:     time.Second,
		MaxBuckets:         3600,
		HistogramMin:       1,
		HistogramMax:       3_600_000_000,
		HistogramSigFigs:   3,
		MaxFailureMessages: 100,
	}
}
