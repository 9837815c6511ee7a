// Package config loads and validates matchload test definitions.
package config

import (
	"time"

	"github.com/wesleyorama2/matchload/internal/driver"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "CTS-Lite remote match"
//	settings:
//	  fixture: data/test_data/loadtest_pubchemlite.csv
//	  timeout: 30s
//	scenarios:
//	  remote:
//	    driver: remote
//	    executor: ramping-vus
//	    stages:
//	      - duration: 1m
//	        target: 50
//	    pacing:
//	      type: random
//	      min: 1s
//	      max: 5s
//	    checks:
//	      - type: schema
//	thresholds:
//	  http_req_failed: ["rate < 0.01"]
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Scenarios run independently, each with its own driver and executor.
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Options    *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings apply to every scenario.
type GlobalSettings struct {
	// Host overrides the driver's default target for all scenarios.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Fixture is the CSV of identifiers to sample from.
	Fixture string `json:"fixture,omitempty" yaml:"fixture,omitempty"`

	// SkipIncomplete drops fixture rows with an empty identifier instead of
	// failing the load.
	SkipIncomplete bool `json:"skipIncomplete,omitempty" yaml:"skipIncomplete,omitempty"`

	MaxConnectionsPerHost int  `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
	MaxIdleConnsPerHost   int  `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	InsecureSkipVerify    bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	UserAgent string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// RequestIDs adds an X-Request-ID header to every request.
	RequestIDs bool `json:"requestIds,omitempty" yaml:"requestIds,omitempty"`

	// Seed makes sampling reproducible. Zero picks a random seed.
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// ScenarioConfig defines one driver running under one executor.
type ScenarioConfig struct {
	// Driver is "local" or "remote".
	Driver string `json:"driver" yaml:"driver"`

	// Host overrides settings.host for this scenario.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Executor is one of constant-vus, ramping-vus, constant-arrival-rate,
	// ramping-arrival-rate.
	Executor string `json:"executor" yaml:"executor"`

	VUs             int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration        string        `json:"duration,omitempty" yaml:"duration,omitempty"`
	Rate            float64       `json:"rate,omitempty" yaml:"rate,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`
	Stages          []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
	GracefulStop    string        `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing is the think time between iterations. Unset means random 1s–5s.
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Fields restricts the identifier columns sampled.
	Fields []string `json:"fields,omitempty" yaml:"fields,omitempty"`

	// MaxBatch bounds identifiers per remote query.
	MaxBatch int `json:"maxBatch,omitempty" yaml:"maxBatch,omitempty"`

	// Checks inspect successful responses without affecting success.
	Checks []driver.CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	Duration string `json:"duration" yaml:"duration"`
	Target   int    `json:"target" yaml:"target"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is "none", "constant" or "random".
	Type     string `json:"type" yaml:"type"`
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      string `json:"min,omitempty" yaml:"min,omitempty"`
	Max      string `json:"max,omitempty" yaml:"max,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// HTTPReqDuration, e.g. ["p95 < 500ms", "avg < 200ms"].
	HTTPReqDuration []string `json:"http_req_duration,omitempty" yaml:"http_req_duration,omitempty"`

	// HTTPReqFailed, e.g. ["rate < 0.01"].
	HTTPReqFailed []string `json:"http_req_failed,omitempty" yaml:"http_req_failed,omitempty"`

	// HTTPReqs, e.g. ["count > 1000", "rate > 10"].
	HTTPReqs []string `json:"http_reqs,omitempty" yaml:"http_reqs,omitempty"`

	// Checks applies to the pass rate of response checks, e.g. ["rate > 0.95"].
	Checks []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// Sequential runs scenarios one after another instead of in parallel.
	Sequential bool `json:"sequential,omitempty" yaml:"sequential,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
