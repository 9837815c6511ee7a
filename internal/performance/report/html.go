// Package report writes run results as JSON or a self-contained HTML page.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wesleyorama2/matchload/internal/performance/engine"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// ReportData contains all data needed to render the HTML report.
type ReportData struct {
	*engine.TestResult
	TimeSeriesJSON template.JS
}

// TimeSeriesPoint is one chart sample.
type TimeSeriesPoint struct {
	Second            int     `json:"second"`
	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalRPS       float64 `json:"intervalRPS"`
	LatencyP50        float64 `json:"latencyP50Ms"`
	LatencyP95        float64 `json:"latencyP95Ms"`
	LatencyP99        float64 `json:"latencyP99Ms"`
	ActiveVUs         int     `json:"activeVUs"`
	Phase             string  `json:"phase"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`
}

var errNilResult = errors.New("result cannot be nil")

// GenerateHTML renders the report and writes it to outputPath, creating
// parent directories as needed.
func GenerateHTML(result *engine.TestResult, outputPath string) error {
	html, err := GenerateHTMLString(result)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}

	if err := writeFile(outputPath, []byte(html)); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders the report.
func GenerateHTMLString(result *engine.TestResult) (string, error) {
	if result == nil {
		return "", errNilResult
	}

	tmpl, err := template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	timeSeriesJSON, err := convertTimeSeriesJSON(result.TimeSeries)
	if err != nil {
		return "", fmt.Errorf("failed to convert time series: %w", err)
	}

	data := ReportData{
		TestResult:     result,
		TimeSeriesJSON: template.JS(timeSeriesJSON),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func convertTimeSeriesJSON(timeSeries []*metrics.TimeBucket) (string, error) {
	if len(timeSeries) == 0 {
		return "[]", nil
	}

	start := timeSeries[0].Timestamp
	points := make([]TimeSeriesPoint, len(timeSeries))
	for i, b := range timeSeries {
		points[i] = TimeSeriesPoint{
			Second:            int(b.Timestamp.Sub(start).Seconds()),
			IntervalRequests:  b.IntervalRequests,
			IntervalRPS:       b.IntervalRPS,
			LatencyP50:        toMillis(b.LatencyP50),
			LatencyP95:        toMillis(b.LatencyP95),
			LatencyP99:        toMillis(b.LatencyP99),
			ActiveVUs:         b.ActiveVUs,
			Phase:             string(b.Phase),
			IntervalErrorRate: b.IntervalErrorRate,
		}
	}

	out, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(out), nil
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatNumber":   humanize.Comma,
		"int64":          func(n int) int64 { return int64(n) },
		"formatLatency":  formatLatency,
		"formatBytes":    formatBytes,
		"percent":        percent,
		"successRate":    successRate,
		"sortedChecks":   sortedChecks,
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// formatLatency keeps three significant digits.
func formatLatency(d time.Duration) string {
	switch {
	case d == 0:
		return "0"
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < 10*time.Millisecond:
		return fmt.Sprintf("%.2fms", toMillis(d))
	case d < 100*time.Millisecond:
		return fmt.Sprintf("%.1fms", toMillis(d))
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func percent(rate float64) string {
	return fmt.Sprintf("%.2f%%", rate*100)
}

func successRate(m *metrics.Snapshot) float64 {
	if m == nil || m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessRequests) / float64(m.TotalRequests)
}

// namedCheck pairs a check name with its counters for ordered rendering.
type namedCheck struct {
	Name string
	metrics.CheckStats
}

func sortedChecks(checks map[string]metrics.CheckStats) []namedCheck {
	out := make([]namedCheck, 0, len(checks))
	for name, cs := range checks {
		out = append(out, namedCheck{Name: name, CheckStats: cs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
