package performance

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/fixture"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// getTask issues a GET to url on every iteration.
type getTask struct {
	url      string
	buildErr error
}

func (t *getTask) Name() string { return "GET /" }

func (t *getTask) NewRequest(ctx context.Context, _ *rand.Rand) (*http.Request, error) {
	if t.buildErr != nil {
		return nil, t.buildErr
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
}

func (t *getTask) Evaluate(status int, body []byte) (bool, string) {
	return driver.Evaluate(status, body)
}

func statusServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func newTestVU(t *testing.T, scenario *Scenario) (*VirtualUser, *metrics.Engine) {
	t.Helper()
	engine := metrics.NewEngine()
	t.Cleanup(engine.Stop)
	return NewVirtualUser(1, scenario, http.DefaultClient, engine, 42), engine
}

func TestVUState_String(t *testing.T) {
	assert.Equal(t, "idle", VUStateIdle.String())
	assert.Equal(t, "running", VUStateRunning.String())
	assert.Equal(t, "stopping", VUStateStopping.String())
	assert.Equal(t, "stopped", VUStateStopped.String())
	assert.Equal(t, "unknown", VUState(99).String())
}

func TestVirtualUser_RunIteration_Success(t *testing.T) {
	server, hits := statusServer(t, http.StatusOK, `[{"query":"ABC","found_match":true}]`)
	vu, engine := newTestVU(t, &Scenario{Name: "s", Task: &getTask{url: server.URL}})

	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.Failure)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, int64(1), vu.GetIteration())
	assert.Equal(t, VUStateIdle, vu.GetState())

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.SuccessRequests)
	assert.Equal(t, result.BytesReceived, snapshot.TotalBytes)
	assert.Empty(t, snapshot.Failures)
}

func TestVirtualUser_RunIteration_Non200(t *testing.T) {
	server, _ := statusServer(t, http.StatusInternalServerError, "database unavailable")
	vu, engine := newTestVU(t, &Scenario{Task: &getTask{url: server.URL}})

	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Failed with status 500: database unavailable", result.Failure)

	snapshot := engine.GetSnapshot()
	assert.Equal(t, int64(1), snapshot.FailedRequests)
	require.Len(t, snapshot.Failures, 1)
	assert.Equal(t, metrics.FailureStats{
		Request:     "GET /",
		Message:     "Failed with status 500: database unavailable",
		Occurrences: 1,
	}, snapshot.Failures[0])
}

func TestVirtualUser_RunIteration_TransportError(t *testing.T) {
	server, _ := statusServer(t, http.StatusOK, "")
	url := server.URL
	server.Close()

	vu, engine := newTestVU(t, &Scenario{Task: &getTask{url: url}})

	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Error(t, result.Error)
	assert.NotEmpty(t, result.Failure)
	assert.Equal(t, int64(1), engine.GetSnapshot().FailedRequests)
}

func TestVirtualUser_RunIteration_BuildError(t *testing.T) {
	vu, engine := newTestVU(t, &Scenario{Task: &getTask{buildErr: errors.New("no rows")}})

	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result.Failure, "failed to build request: no rows")
	assert.Equal(t, int64(1), engine.GetSnapshot().FailedRequests)
}

func TestVirtualUser_RunIteration_CancelledNotRecorded(t *testing.T) {
	server, _ := statusServer(t, http.StatusOK, "")
	vu, engine := newTestVU(t, &Scenario{Task: &getTask{url: server.URL}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := vu.RunIteration(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, engine.GetSnapshot().TotalRequests)
}

func TestVirtualUser_Checks(t *testing.T) {
	body := `[{"query":"ABC","query_type":"inchikey","found_match":false}]`
	server, _ := statusServer(t, http.StatusOK, body)

	hits, err := driver.NewCheck(driver.CheckConfig{Type: driver.CheckMatchHits})
	require.NoError(t, err)
	schema, err := driver.NewCheck(driver.CheckConfig{Type: driver.CheckSchema})
	require.NoError(t, err)

	vu, engine := newTestVU(t, &Scenario{
		Task:   &getTask{url: server.URL},
		Checks: []driver.Check{hits, schema},
	})

	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)

	// A failed check leaves the request successful.
	assert.True(t, result.Success)
	assert.Error(t, result.Checks[driver.CheckMatchHits])
	assert.NoError(t, result.Checks[driver.CheckSchema])

	checks, rate := engine.GetChecks()
	assert.Equal(t, metrics.CheckStats{Failed: 1}, checks[driver.CheckMatchHits])
	assert.Equal(t, metrics.CheckStats{Passed: 1}, checks[driver.CheckSchema])
	assert.InDelta(t, 0.5, rate, 0.0001)
	assert.Zero(t, engine.GetSnapshot().FailedRequests)
}

func TestVirtualUser_ChecksSkippedOnFailure(t *testing.T) {
	server, _ := statusServer(t, http.StatusBadGateway, "")
	vu, engine := newTestVU(t, &Scenario{
		Task:   &getTask{url: server.URL},
		Checks: []driver.Check{driver.MatchHits{}},
	})

	_, err := vu.RunIteration(context.Background())
	require.NoError(t, err)

	checks, _ := engine.GetChecks()
	assert.Empty(t, checks)
}

func TestVirtualUser_LocalDriver(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Method + " " + r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	set := fixture.NewSet([]fixture.Row{{
		"InChIKey": "ABC", "InChI": "InChI=1S/X", "SMILES": "C", "MolecularFormula": "CH4",
	}})
	d, err := driver.New(driver.Config{Kind: driver.KindLocal, Host: server.URL}, set)
	require.NoError(t, err)

	vu, engine := newTestVU(t, &Scenario{Task: d})
	result, err := vu.RunIteration(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "POST /match", got.Load())
	assert.Contains(t, engine.GetRequestStats(), "POST /match")
}

func TestVirtualUser_StopLifecycle(t *testing.T) {
	vu, _ := newTestVU(t, &Scenario{Task: &getTask{url: "http://127.0.0.1:1"}})

	vu.RequestStop()
	assert.Equal(t, VUStateStopping, vu.GetState())
	assert.True(t, vu.Stopping())

	// A second request is a no-op.
	vu.RequestStop()

	_, err := vu.RunIteration(context.Background())
	assert.Error(t, err)

	assert.False(t, vu.WaitForStop(10*time.Millisecond))
	vu.MarkStopped()
	vu.MarkStopped()
	assert.True(t, vu.WaitForStop(10*time.Millisecond))
	assert.Equal(t, VUStateStopped, vu.GetState())
}

func TestVirtualUser_Pace(t *testing.T) {
	vu, _ := newTestVU(t, &Scenario{})

	start := time.Now()
	assert.True(t, vu.Pace(context.Background(), Pacing{Type: PacingConstant, Duration: 20 * time.Millisecond}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	assert.True(t, vu.Pace(context.Background(), Pacing{Type: PacingNone}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		vu.RequestStop()
	}()
	start = time.Now()
	assert.False(t, vu.Pace(context.Background(), Pacing{Type: PacingConstant, Duration: 5 * time.Second}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestVirtualUser_SeededRandomness(t *testing.T) {
	a := NewVirtualUser(3, &Scenario{}, nil, nil, 7)
	b := NewVirtualUser(3, &Scenario{}, nil, nil, 7)
	c := NewVirtualUser(4, &Scenario{}, nil, nil, 7)

	p := DefaultPacing()
	var sameAB, sameAC = true, true
	for i := 0; i < 20; i++ {
		x, y, z := p.Next(a.rng), p.Next(b.rng), p.Next(c.rng)
		sameAB = sameAB && x == y
		sameAC = sameAC && x == z
	}
	assert.True(t, sameAB, "same seed and id must repeat")
	assert.False(t, sameAC, "different ids must diverge")
}
