package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

func TestInterpolate(t *testing.T) {
	stages := []Stage{
		{Duration: 10 * time.Second, Target: 50},
		{Duration: 10 * time.Second, Target: 50},
		{Duration: 10 * time.Second, Target: 0},
	}

	tests := []struct {
		elapsed   time.Duration
		wantValue float64
		wantStage int
	}{
		{0, 0, 0},
		{5 * time.Second, 25, 0},
		{10 * time.Second, 50, 1},
		{15 * time.Second, 50, 1},
		{25 * time.Second, 25, 2},
		{time.Minute, 0, 2},
	}

	for _, tt := range tests {
		got, idx := interpolate(stages, tt.elapsed, 0)
		assert.InDelta(t, tt.wantValue, got, 0.001, "elapsed %v", tt.elapsed)
		assert.Equal(t, tt.wantStage, idx, "elapsed %v", tt.elapsed)
	}

	got, _ := interpolate([]Stage{{Duration: 10 * time.Second, Target: 20}}, 5*time.Second, 10)
	assert.InDelta(t, 15, got, 0.001)

	got, idx := interpolate(nil, time.Second, 7)
	assert.Equal(t, 7.0, got)
	assert.Zero(t, idx)
}

func TestStagePhase(t *testing.T) {
	stages := []Stage{{Target: 10}, {Target: 10}, {Target: 20}, {Target: 0}}

	assert.Equal(t, metrics.PhaseRampUp, stagePhase(stages, 0, 0))
	assert.Equal(t, metrics.PhaseSteady, stagePhase(stages, 0, 10))
	assert.Equal(t, metrics.PhaseSteady, stagePhase(stages, 1, 0))
	assert.Equal(t, metrics.PhaseRampUp, stagePhase(stages, 2, 0))
	assert.Equal(t, metrics.PhaseRampDown, stagePhase(stages, 3, 0))
	assert.Equal(t, metrics.PhaseSteady, stagePhase(stages, 9, 0))
}
