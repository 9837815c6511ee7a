package executor

import (
	"time"

	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// interpolate returns the linearly interpolated target at elapsed and the
// index of the active stage. from is the value before the first stage.
// Past the last stage the final target is returned with index len(stages)-1.
func interpolate(stages []Stage, elapsed time.Duration, from float64) (float64, int) {
	var stageStart time.Duration
	prev := from

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			return prev + (float64(stage.Target)-prev)*progress, i
		}
		prev = float64(stage.Target)
		stageStart = stageEnd
	}

	if len(stages) == 0 {
		return from, 0
	}
	return float64(stages[len(stages)-1].Target), len(stages) - 1
}

// stagePhase classifies stage idx by comparing its target with the value the
// stage starts from.
func stagePhase(stages []Stage, idx int, from int) metrics.Phase {
	if idx < 0 || idx >= len(stages) {
		return metrics.PhaseSteady
	}
	if idx > 0 {
		from = stages[idx-1].Target
	}

	target := stages[idx].Target
	switch {
	case target > from:
		return metrics.PhaseRampUp
	case target < from:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
