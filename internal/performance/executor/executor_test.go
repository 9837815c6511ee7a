package executor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/executor"
)

func TestConfig_Validate(t *testing.T) {
	stages := []executor.Stage{{Duration: time.Second, Target: 5}}

	tests := []struct {
		name      string
		config    executor.Config
		wantField string
	}{
		{"missing type", executor.Config{}, "type"},
		{"unknown type", executor.Config{Type: "shared-iterations"}, "type"},
		{"constant ok", executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second}, ""},
		{"constant no vus", executor.Config{Type: executor.TypeConstantVUs, Duration: time.Second}, "vus"},
		{"constant no duration", executor.Config{Type: executor.TypeConstantVUs, VUs: 1}, "duration"},
		{"ramping ok", executor.Config{Type: executor.TypeRampingVUs, Stages: stages}, ""},
		{"ramping no stages", executor.Config{Type: executor.TypeRampingVUs}, "stages"},
		{"ramping zero stage", executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Target: 1}}}, "stages"},
		{"ramping negative target", executor.Config{Type: executor.TypeRampingArrivalRate, Stages: []executor.Stage{{Duration: time.Second, Target: -1}}}, "stages"},
		{"arrival ok", executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 5, Duration: time.Second}, ""},
		{"arrival no rate", executor.Config{Type: executor.TypeConstantArrivalRate, Duration: time.Second}, "rate"},
		{"negative max vus", executor.Config{Type: executor.TypeConstantArrivalRate, Rate: 1, Duration: time.Second, MaxVUs: -1}, "maxVUs"},
		{
			"bad pacing",
			executor.Config{
				Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second,
				Pacing: &performance.Pacing{Type: performance.PacingRandom, Min: 2 * time.Second, Max: time.Second},
			},
			"pacing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *executor.ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestConfig_TotalDuration(t *testing.T) {
	assert.Equal(t, time.Minute, (&executor.Config{Type: executor.TypeConstantVUs, Duration: time.Minute}).TotalDuration())

	ramp := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 30 * time.Second, Target: 10},
			{Duration: time.Minute, Target: 10},
		},
	}
	assert.Equal(t, 90*time.Second, ramp.TotalDuration())
	assert.Zero(t, (&executor.Config{Type: "x"}).TotalDuration())
}

func TestConfig_PacingOrDefault(t *testing.T) {
	cfg := &executor.Config{}
	assert.Equal(t, performance.DefaultPacing(), cfg.PacingOrDefault())

	cfg.Pacing = &performance.Pacing{Type: performance.PacingNone}
	assert.Equal(t, performance.PacingNone, cfg.PacingOrDefault().Type)
}

func TestNewExecutor(t *testing.T) {
	for _, typ := range executor.GetSupportedExecutors() {
		e, err := executor.NewExecutor(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, e.Type())
		assert.True(t, executor.IsValidExecutorType(string(typ)))
	}

	_, err := executor.NewExecutor("per-vu-iterations")
	assert.Error(t, err)
	assert.False(t, executor.IsValidExecutorType("per-vu-iterations"))
}

func TestCreateAndInitExecutor(t *testing.T) {
	e, err := executor.CreateAndInitExecutor(context.Background(), &executor.Config{
		Type: executor.TypeConstantVUs, VUs: 2, Duration: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, executor.TypeConstantVUs, e.Type())
	assert.Zero(t, e.GetProgress())

	_, err = executor.CreateAndInitExecutor(context.Background(), &executor.Config{Type: executor.TypeConstantVUs})
	assert.ErrorContains(t, err, "failed to initialize executor")
}

func TestInit_WrongType(t *testing.T) {
	cfg := &executor.Config{Type: executor.TypeConstantVUs, VUs: 1, Duration: time.Second}

	for _, e := range []executor.Executor{
		executor.NewRampingVUs(),
		executor.NewConstantArrivalRate(),
		executor.NewRampingArrivalRate(),
	} {
		assert.Error(t, e.Init(context.Background(), cfg), e.Type())
	}
	assert.Error(t, executor.NewConstantVUs().Init(context.Background(), &executor.Config{Type: executor.TypeRampingVUs}))
}

func TestCalculateMaxVUs(t *testing.T) {
	assert.Equal(t, 7, executor.CalculateMaxVUs(&executor.Config{Type: executor.TypeConstantVUs, VUs: 7}))
	assert.Equal(t, 20, executor.CalculateMaxVUs(&executor.Config{
		Type:   executor.TypeRampingVUs,
		Stages: []executor.Stage{{Target: 5}, {Target: 20}, {Target: 0}},
	}))
	assert.Equal(t, 50, executor.CalculateMaxVUs(&executor.Config{Type: executor.TypeConstantArrivalRate, MaxVUs: 50}))
	assert.Equal(t, 1, executor.CalculateMaxVUs(&executor.Config{Type: executor.TypeRampingArrivalRate}))
}
