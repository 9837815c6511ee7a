package performance

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// PacingType identifies how think time between iterations is chosen.
type PacingType string

const (
	PacingNone     PacingType = "none"
	PacingConstant PacingType = "constant"
	PacingRandom   PacingType = "random"
)

// Pacing controls the wait between two iterations of one VU.
type Pacing struct {
	Type PacingType `json:"type" yaml:"type"`

	// Duration is the wait for constant pacing.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min and Max bound the uniform wait for random pacing.
	Min time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// DefaultPacing waits uniformly between 1 and 5 seconds.
func DefaultPacing() Pacing {
	return Pacing{Type: PacingRandom, Min: time.Second, Max: 5 * time.Second}
}

// Next returns the next wait.
func (p Pacing) Next(rng *rand.Rand) time.Duration {
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff <= 0 {
			return p.Min
		}
		return p.Min + time.Duration(rng.Int64N(int64(diff)+1))
	default:
		return 0
	}
}

// Validate checks the pacing bounds.
func (p Pacing) Validate() error {
	switch p.Type {
	case "", PacingNone:
	case PacingConstant:
		if p.Duration < 0 {
			return fmt.Errorf("pacing duration must be >= 0")
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < p.Min {
			return fmt.Errorf("pacing requires 0 <= min <= max, got %v..%v", p.Min, p.Max)
		}
	default:
		return fmt.Errorf("unknown pacing type: %q", p.Type)
	}
	return nil
}

func (p Pacing) String() string {
	switch p.Type {
	case PacingConstant:
		return fmt.Sprintf("constant %v", p.Duration)
	case PacingRandom:
		return fmt.Sprintf("random %v..%v", p.Min, p.Max)
	default:
		return "none"
	}
}
