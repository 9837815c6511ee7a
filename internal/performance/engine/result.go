package engine

import (
	"sort"
	"time"

	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// TestResult contains the complete test results.
type TestResult struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Fixture FixtureInfo `json:"fixture"`

	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Aggregated metrics across all scenarios.
	Metrics      *metrics.Snapshot       `json:"metrics"`
	TimeSeries   []*metrics.TimeBucket   `json:"timeSeries,omitempty"`
	RequestStats map[string]RequestStats `json:"requestStats,omitempty"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`

	// Error is set when a scenario could not run to completion.
	Error string `json:"error,omitempty"`
}

// FixtureInfo describes the fixture a run sampled from.
type FixtureInfo struct {
	Path    string `json:"path"`
	Rows    int    `json:"rows"`
	Skipped int    `json:"skipped,omitempty"`
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name              string        `json:"name"`
	Driver            string        `json:"driver"`
	Host              string        `json:"host"`
	Request           string        `json:"request"`
	Executor          string        `json:"executor"`
	Pacing            string        `json:"pacing"`
	Duration          time.Duration `json:"duration"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations,omitempty"`
	MaxVUs            int           `json:"maxVUs"`
	Error             string        `json:"error,omitempty"`
}

// RequestStats contains statistics for one request name.
type RequestStats struct {
	Name    string               `json:"name"`
	Count   int64                `json:"count"`
	Latency metrics.LatencyStats `json:"latency"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// ScenarioNames returns the scenario names in order.
func (r *TestResult) ScenarioNames() []string {
	names := make([]string, 0, len(r.Scenarios))
	for name := range r.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestNames returns the request names in order.
func (r *TestResult) RequestNames() []string {
	names := make([]string, 0, len(r.RequestStats))
	for name := range r.RequestStats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FailedThresholds returns the thresholds that did not pass.
func (r *TestResult) FailedThresholds() []ThresholdResult {
	var out []ThresholdResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			out = append(out, t)
		}
	}
	return out
}
