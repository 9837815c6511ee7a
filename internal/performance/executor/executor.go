// Package executor provides load shapes for running a scenario's VUs.
package executor

import (
	"context"
	"time"

	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of VUs for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps the VU count according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps the iteration rate according to stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

// DefaultGracefulStop bounds the wait for in-flight iterations at the end.
const DefaultGracefulStop = 30 * time.Second

// Executor drives a VUScheduler with one load shape.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(ctx context.Context, config *Config) error

	// Run blocks until the configured duration elapses or ctx ends.
	Run(ctx context.Context, scheduler *performance.VUScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the run early and waits for in-flight iterations.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`

	// VU-based executors.
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Arrival-rate executors. Rate is iterations per second.
	Rate            float64 `json:"rate,omitempty" yaml:"rate,omitempty"`
	PreAllocatedVUs int     `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int     `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages for ramping executors.
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Pacing between iterations of VU-based executors. Nil means
	// performance.DefaultPacing.
	Pacing *performance.Pacing `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// Stage is one segment of a ramping executor.
type Stage struct {
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (ramping-vus) or rate (ramping-arrival-rate) at the
	// end of the stage.
	Target int `json:"target" yaml:"target"`

	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	Iterations int64 `json:"iterations"`

	// DroppedIterations counts arrivals skipped because every VU was busy.
	DroppedIterations int64 `json:"droppedIterations"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	CurrentRate float64 `json:"currentRate"`
	TargetRate  float64 `json:"targetRate"`
}

// PacingOrDefault returns the configured pacing or the 1–5 s default.
func (c *Config) PacingOrDefault() performance.Pacing {
	if c.Pacing == nil {
		return performance.DefaultPacing()
	}
	return *c.Pacing
}

func (c *Config) gracefulStop() time.Duration {
	if c.GracefulStop <= 0 {
		return DefaultGracefulStop
	}
	return c.GracefulStop
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs, TypeRampingArrivalRate:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for _, s := range c.Stages {
			if s.Duration <= 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be > 0"}
			}
			if s.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.MaxVUs < 0 || c.PreAllocatedVUs < 0 {
		return &ValidationError{Field: "maxVUs", Message: "VU limits must be >= 0"}
	}

	if c.Pacing != nil {
		if err := c.Pacing.Validate(); err != nil {
			return &ValidationError{Field: "pacing", Message: err.Error()}
		}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration
	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	default:
		return 0
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
