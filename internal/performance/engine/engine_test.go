package engine

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/fixture"
	"github.com/wesleyorama2/matchload/internal/performance/config"
)

const fixtureCSV = `InChIKey,InChI,SMILES,MolecularFormula,Name
AAAAAAAAAAAAAA-UHFFFAOYSA-N,InChI=1S/CH4/h1H4,C,CH4,methane
BBBBBBBBBBBBBB-UHFFFAOYSA-N,InChI=1S/C2H6/c1-2/h1-2H3,CC,C2H6,ethane
CCCCCCCCCCCCCC-UHFFFAOYSA-N,InChI=1S/H2O/h1H2,O,H2O,water
`

// Test server types for different scenarios
type serverType int

const (
	serverMatch serverType = iota
	serverNoMatch
	serverError
)

type testServer struct {
	*httptest.Server
	posts atomic.Int64
	gets  atomic.Int64
}

// createTestServer answers the match endpoint according to st.
func createTestServer(t *testing.T, st serverType) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != driver.MatchPath {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost:
			ts.posts.Add(1)
		case http.MethodGet:
			ts.gets.Add(1)
		}

		switch st {
		case serverError:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		case serverNoMatch:
			_, _ = w.Write([]byte(`[{"query":"x","query_type":"smiles","found_match":false}]`))
		default:
			_, _ = w.Write([]byte(`[{"query":"x","query_type":"smiles","found_match":true}]`))
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fastScenario(drv string, d string) *config.ScenarioConfig {
	return &config.ScenarioConfig{
		Driver:   drv,
		Executor: "constant-vus",
		VUs:      2,
		Duration: d,
		Pacing:   &config.PacingConfig{Type: "constant", Duration: "20ms"},
	}
}

func newTestConfig(t *testing.T, host string, scenarios map[string]*config.ScenarioConfig) *config.TestConfig {
	t.Helper()
	return &config.TestConfig{
		Name: t.Name(),
		Settings: config.GlobalSettings{
			Host:    host,
			Fixture: writeFixture(t, fixtureCSV),
			Timeout: config.Duration(5 * time.Second),
			Seed:    7,
		},
		Scenarios: scenarios,
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	_, err := NewEngine(&config.TestConfig{Name: "empty"})
	require.Error(t, err)

	var verrs *config.ValidationErrors
	assert.True(t, errors.As(err, &verrs))
}

func TestNewEngine_FixtureErrors(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1", map[string]*config.ScenarioConfig{
		"local": fastScenario("local", "1s"),
	})
	cfg.Settings.Fixture = filepath.Join(t.TempDir(), "missing.csv")

	_, err := NewEngine(cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to load fixture")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	cfg.Settings.Fixture = writeFixture(t, "InChIKey,InChI,SMILES,MolecularFormula\n")
	_, err = NewEngine(cfg)
	assert.True(t, errors.Is(err, fixture.ErrEmpty))

	cfg.Settings.Fixture = writeFixture(t, "InChIKey,SMILES\nA,C\n")
	_, err = NewEngine(cfg)
	assert.True(t, errors.Is(err, fixture.ErrMissingColumn))
}

func TestNewEngine_SharesFixture(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1", map[string]*config.ScenarioConfig{
		"local":  fastScenario("local", "1s"),
		"remote": fastScenario("remote", "1s"),
	})

	e1, err := NewEngine(cfg)
	require.NoError(t, err)
	e2, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.Same(t, e1.Fixture(), e2.Fixture())
	assert.Equal(t, 3, e1.Fixture().Len())
	assert.NotEqual(t, e1.RunID(), e2.RunID())

	require.Len(t, e1.Scenarios(), 2)
	assert.Equal(t, "local", e1.Scenarios()[0].Name)
	assert.Equal(t, "remote", e1.Scenarios()[1].Name)
	assert.Equal(t, uint64(7), e1.Scenarios()[0].Scenario.Seed)
	assert.Equal(t, uint64(8), e1.Scenarios()[1].Scenario.Seed)
}

func TestEngine_RunLocal(t *testing.T) {
	server := createTestServer(t, serverMatch)
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{
		"local": fastScenario("local", "300ms"),
	})
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqDuration: []string{"p95 < 2s"},
		HTTPReqFailed:   []string{"rate < 0.01"},
		HTTPReqs:        []string{"count > 0"},
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)
	assert.Nil(t, e.GetMetrics())

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Empty(t, result.Error)
	_, err = uuid.Parse(result.RunID)
	assert.NoError(t, err)
	assert.Equal(t, 3, result.Fixture.Rows)

	assert.Positive(t, result.Metrics.TotalRequests)
	assert.Equal(t, result.Metrics.TotalRequests, result.Metrics.SuccessRequests)
	assert.GreaterOrEqual(t, server.posts.Load(), result.Metrics.TotalRequests)
	assert.Zero(t, server.gets.Load())

	require.Contains(t, result.Scenarios, "local")
	sr := result.Scenarios["local"]
	assert.Equal(t, "local", sr.Driver)
	assert.Equal(t, server.URL, sr.Host)
	assert.Equal(t, "POST /match", sr.Request)
	assert.Equal(t, "constant-vus", sr.Executor)
	assert.Equal(t, "constant 20ms", sr.Pacing)
	assert.Equal(t, 2, sr.MaxVUs)
	assert.GreaterOrEqual(t, sr.Iterations, result.Metrics.TotalRequests)

	assert.Equal(t, []string{"POST /match"}, result.RequestNames())
	assert.Len(t, result.Thresholds, 3)
	assert.Empty(t, result.FailedThresholds())
	assert.False(t, e.IsRunning())
}

func TestEngine_RunConcurrentDrivers(t *testing.T) {
	server := createTestServer(t, serverMatch)
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{
		"local":  fastScenario("local", "300ms"),
		"remote": fastScenario("remote", "300ms"),
	})

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	start := time.Now()
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "scenarios should overlap")
	assert.Positive(t, server.posts.Load())
	assert.Positive(t, server.gets.Load())
	assert.Equal(t, []string{"local", "remote"}, result.ScenarioNames())
	assert.Equal(t, []string{"GET /match", "POST /match"}, result.RequestNames())
	assert.Equal(t, "GET /match", result.Scenarios["remote"].Request)
}

func TestEngine_RunSequential(t *testing.T) {
	server := createTestServer(t, serverMatch)
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{
		"a": fastScenario("local", "200ms"),
		"b": fastScenario("local", "200ms"),
	})
	cfg.Options = &config.ExecutionOptions{Sequential: true}

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	start := time.Now()
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, result.Scenarios, 2)
}

func TestEngine_FailuresAndThresholds(t *testing.T) {
	server := createTestServer(t, serverError)
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{
		"local": fastScenario("local", "200ms"),
	})
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqFailed: []string{"rate < 0.01"},
		HTTPReqs:      []string{"count > 0"},
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err, "failed requests are not an engine error")

	assert.False(t, result.Passed)
	assert.Equal(t, result.Metrics.TotalRequests, result.Metrics.FailedRequests)
	assert.InDelta(t, 1.0, result.Metrics.ErrorRate, 0.0001)

	require.NotEmpty(t, result.Metrics.Failures)
	f := result.Metrics.Failures[0]
	assert.Equal(t, "POST /match", f.Request)
	assert.Equal(t, "Failed with status 500: boom", f.Message)
	assert.Equal(t, result.Metrics.FailedRequests, f.Occurrences)

	failed := result.FailedThresholds()
	require.Len(t, failed, 1)
	assert.Equal(t, config.MetricHTTPReqFailed, failed[0].Metric)
	assert.Equal(t, "1.0000", failed[0].Value)
	assert.NotEmpty(t, failed[0].Message)
}

func TestEngine_ChecksDoNotAffectSuccess(t *testing.T) {
	server := createTestServer(t, serverNoMatch)
	sc := fastScenario("remote", "200ms")
	sc.Checks = []driver.CheckConfig{{Type: driver.CheckMatchHits}, {Type: driver.CheckSchema}}
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{"remote": sc})
	cfg.Thresholds = &config.ThresholdsConfig{
		HTTPReqFailed: []string{"rate == 0"},
		Checks:        []string{"rate > 0.9"},
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	m := result.Metrics
	assert.Positive(t, m.TotalRequests)
	assert.Equal(t, m.TotalRequests, m.SuccessRequests)
	assert.Equal(t, m.TotalRequests, m.Checks[driver.CheckMatchHits].Failed)
	assert.Equal(t, m.TotalRequests, m.Checks[driver.CheckSchema].Passed)
	assert.InDelta(t, 0.5, m.CheckRate, 0.0001)

	assert.False(t, result.Passed)
	failed := result.FailedThresholds()
	require.Len(t, failed, 1)
	assert.Equal(t, config.MetricChecks, failed[0].Metric)
}

func TestEngine_StopAndAlreadyRunning(t *testing.T) {
	server := createTestServer(t, serverMatch)
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{
		"local": fastScenario("local", "1m"),
	})

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	done := make(chan *TestResult, 1)
	go func() {
		result, _ := e.Run(context.Background())
		done <- result
	}()

	require.Eventually(t, func() bool { return e.ActiveVUs() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, e.IsRunning())
	assert.NotNil(t, e.GetMetrics())
	assert.Contains(t, e.GetScenarioStats(), "local")
	assert.Greater(t, e.GetProgress(), 0.0)

	_, err = e.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, e.Stop(context.Background()))
	select {
	case result := <-done:
		require.NotNil(t, result)
		assert.Less(t, result.Duration, 10*time.Second)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.False(t, e.IsRunning())
	assert.NoError(t, e.Stop(context.Background()))
}

func TestEngine_ContextCancel(t *testing.T) {
	server := createTestServer(t, serverMatch)
	cfg := newTestConfig(t, server.URL, map[string]*config.ScenarioConfig{
		"local": fastScenario("local", "1m"),
	})

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, _ := e.Run(ctx)
	require.NotNil(t, result)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Positive(t, result.Metrics.TotalRequests)
}
