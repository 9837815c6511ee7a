package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseThreshold(t *testing.T) {
	tests := []struct {
		metric string
		expr   string
		stat   string
		op     string
		value  float64
	}{
		{MetricHTTPReqDuration, "p95 < 500ms", "p95", "<", float64(500 * time.Millisecond)},
		{MetricHTTPReqDuration, "avg<=2s", "avg", "<=", float64(2 * time.Second)},
		{MetricHTTPReqDuration, "max < 250", "max", "<", float64(250 * time.Millisecond)},
		{MetricHTTPReqFailed, "rate < 0.01", "rate", "<", 0.01},
		{MetricHTTPReqs, "count >= 1000", "count", ">=", 1000},
		{MetricChecks, " rate != 0 ", "rate", "!=", 0},
	}

	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.expr, func(t *testing.T) {
			th, err := ParseThreshold(tt.metric, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.metric, th.Metric)
			assert.Equal(t, tt.stat, th.Stat)
			assert.Equal(t, tt.op, th.Op)
			assert.InDelta(t, tt.value, th.Value, 1e-9)
		})
	}
}

func TestParseThreshold_Errors(t *testing.T) {
	tests := []struct {
		metric string
		expr   string
	}{
		{MetricHTTPReqDuration, ""},
		{MetricHTTPReqDuration, "p95"},
		{MetricHTTPReqDuration, "p42 < 1s"},
		{MetricHTTPReqDuration, "p95 < soon"},
		{MetricHTTPReqDuration, "p95 => 1s"},
		{MetricHTTPReqFailed, "count < 1"},
		{MetricHTTPReqFailed, "rate < 1%"},
		{"vus", "max < 10"},
	}

	for _, tt := range tests {
		t.Run(tt.metric+"/"+tt.expr, func(t *testing.T) {
			_, err := ParseThreshold(tt.metric, tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestThreshold_Compare(t *testing.T) {
	tests := []struct {
		op     string
		actual float64
		want   bool
	}{
		{"<", 1, true},
		{"<", 2, false},
		{"<=", 2, true},
		{">", 3, true},
		{">=", 2, true},
		{">=", 1, false},
		{"==", 2, true},
		{"!=", 2, false},
		{"~", 2, false},
	}

	for _, tt := range tests {
		th := Threshold{Op: tt.op, Value: 2}
		assert.Equal(t, tt.want, th.Compare(tt.actual), "%v %s 2", tt.actual, tt.op)
	}
}

func TestThresholdsConfig_All(t *testing.T) {
	var nilConfig *ThresholdsConfig
	all, err := nilConfig.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	cfg := &ThresholdsConfig{
		Checks:          []string{"rate > 0.9"},
		HTTPReqDuration: []string{"p95 < 1s", "p99 < 2s"},
		HTTPReqFailed:   []string{"rate < 0.01"},
	}
	all, err = cfg.All()
	require.NoError(t, err)

	var metrics []string
	for _, th := range all {
		metrics = append(metrics, th.Metric)
	}
	assert.Equal(t, []string{MetricHTTPReqDuration, MetricHTTPReqDuration, MetricHTTPReqFailed, MetricChecks}, metrics)

	cfg.HTTPReqs = []string{"bogus"}
	_, err = cfg.All()
	assert.ErrorContains(t, err, MetricHTTPReqs)
}
