package executor_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/fixture"
	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// matchServer answers every request with 200 after delay and counts hits.
func matchServer(t *testing.T, delay time.Duration) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"query":"ABC","query_type":"inchikey","found_match":true}]`))
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

// newScheduler builds a scheduler running the local driver against url.
func newScheduler(t *testing.T, url string) (*performance.VUScheduler, *metrics.Engine) {
	t.Helper()

	set := fixture.NewSet([]fixture.Row{{
		"InChIKey": "ABC", "InChI": "InChI=1S/X", "SMILES": "C", "MolecularFormula": "CH4",
	}})
	d, err := driver.New(driver.Config{Kind: driver.KindLocal, Host: url}, set)
	require.NoError(t, err)

	engine := metrics.NewEngine()
	t.Cleanup(engine.Stop)

	scenario := &performance.Scenario{Name: t.Name(), Task: d, Seed: 1}
	return performance.NewVUScheduler(scenario, engine, performance.DefaultHTTPClientConfig()), engine
}

func constantPacing(d time.Duration) *performance.Pacing {
	return &performance.Pacing{Type: performance.PacingConstant, Duration: d}
}
