package config

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Threshold metric names.
const (
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
	MetricHTTPReqs        = "http_reqs"
	MetricChecks          = "checks"
)

var thresholdExpr = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

var (
	validOps = []string{"<", ">", "<=", ">=", "==", "!="}

	// validStats lists the statistics each metric can be compared on.
	validStats = map[string][]string{
		MetricHTTPReqDuration: {"p50", "p90", "p95", "p99", "min", "max", "avg", "med"},
		MetricHTTPReqFailed:   {"rate"},
		MetricHTTPReqs:        {"count", "rate"},
		MetricChecks:          {"rate"},
	}
)

// Threshold is a parsed pass/fail criterion such as "p95 < 500ms".
type Threshold struct {
	Metric     string
	Stat       string
	Op         string
	Expression string

	// Value is nanoseconds for http_req_duration and a plain number otherwise.
	Value float64
}

// ParseThreshold parses expr as a threshold on metric.
//
// Valid formats:
//   - "p95 < 500ms" (http_req_duration; a bare number is milliseconds)
//   - "rate < 0.01" (http_req_failed, checks)
//   - "count > 1000", "rate > 10" (http_reqs)
func ParseThreshold(metric, expr string) (Threshold, error) {
	t := Threshold{Metric: metric, Expression: strings.TrimSpace(expr)}
	if t.Expression == "" {
		return t, fmt.Errorf("threshold expression cannot be empty")
	}

	stats, ok := validStats[metric]
	if !ok {
		return t, fmt.Errorf("unknown threshold metric: %s", metric)
	}

	m := thresholdExpr.FindStringSubmatch(t.Expression)
	if m == nil {
		return t, fmt.Errorf("invalid expression format: %s", t.Expression)
	}
	t.Stat, t.Op = m[1], m[2]
	raw := strings.TrimSpace(m[3])

	if !slices.Contains(stats, t.Stat) {
		return t, fmt.Errorf("%s supports %s, got: %s", metric, strings.Join(stats, ", "), t.Stat)
	}
	if !slices.Contains(validOps, t.Op) {
		return t, fmt.Errorf("threshold must use a comparison operator (%s), got: %s", strings.Join(validOps, ", "), t.Op)
	}

	if metric == MetricHTTPReqDuration {
		d, err := parseThresholdDuration(raw)
		if err != nil {
			return t, err
		}
		t.Value = float64(d)
		return t, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return t, fmt.Errorf("failed to parse threshold value: %s", raw)
	}
	t.Value = v
	return t, nil
}

func parseThresholdDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	return 0, fmt.Errorf("failed to parse threshold duration: %s", s)
}

// Compare applies the threshold operator to actual.
func (t Threshold) Compare(actual float64) bool {
	switch t.Op {
	case "<":
		return actual < t.Value
	case "<=":
		return actual <= t.Value
	case ">":
		return actual > t.Value
	case ">=":
		return actual >= t.Value
	case "==":
		return actual == t.Value
	case "!=":
		return actual != t.Value
	default:
		return false
	}
}

// All parses every threshold in the configuration in a stable order.
func (t *ThresholdsConfig) All() ([]Threshold, error) {
	if t == nil {
		return nil, nil
	}

	var out []Threshold
	for _, g := range t.groups() {
		for _, expr := range g.exprs {
			th, err := ParseThreshold(g.metric, expr)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", g.metric, err)
			}
			out = append(out, th)
		}
	}
	return out, nil
}

type thresholdGroup struct {
	metric string
	exprs  []string
}

func (t *ThresholdsConfig) groups() []thresholdGroup {
	return []thresholdGroup{
		{MetricHTTPReqDuration, t.HTTPReqDuration},
		{MetricHTTPReqFailed, t.HTTPReqFailed},
		{MetricHTTPReqs, t.HTTPReqs},
		{MetricChecks, t.Checks},
	}
}
