package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/config"
	"github.com/wesleyorama2/matchload/internal/performance/engine"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

const testFixture = `InChIKey,InChI,SMILES,MolecularFormula
BSYNRYMUTXBXSQ-UHFFFAOYSA-N,"InChI=1S/C9H8O4/c1-6(10)13-8-5-3-2-4-7(8)9(11)12/h2-5H,1H3,(H,11,12)",CC(=O)OC1=CC=CC=C1C(=O)O,C9H8O4
RYYVLZVUVIJVGH-UHFFFAOYSA-N,"InChI=1S/C8H10N4O2/c1-10-4-9-6-5(10)7(13)12(3)8(14)11(6)2/h4H,1-3H3",CN1C=NC2=C1C(=O)N(C(=O)N2C)C,C8H10N4O2
`

func writeTestFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.csv")
	require.NoError(t, os.WriteFile(path, []byte(testFixture), 0o644))
	return path
}

type matchServer struct {
	*httptest.Server
	posts atomic.Int64
	gets  atomic.Int64
}

func newMatchServer(t *testing.T, status int) *matchServer {
	t.Helper()
	s := &matchServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			s.posts.Add(1)
		case http.MethodGet:
			s.gets.Add(1)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	if args == nil {
		args = []string{}
	}
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		name       string
		stagesStr  string
		wantStages int
		wantErr    bool
	}{
		{"Single stage", "30s:10", 1, false},
		{"Multiple stages", "30s:10,2m:50,30s:0", 3, false},
		{"Stage with spaces", " 30s:10 , 2m:50 , 30s:0 ", 3, false},
		{"Invalid format - no colon", "30s10", 0, true},
		{"Invalid duration", "invalid:10", 0, true},
		{"Invalid target", "30s:abc", 0, true},
		{"Empty string", "", 0, true},
		{"Complex durations", "1h30m:100,45m:200,15m30s:0", 3, false},
		{"Whitespace only", "   ", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := parseStages(tt.stagesStr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, stages, tt.wantStages)
		})
	}
}

func TestParseStages_Values(t *testing.T) {
	stages, err := parseStages("30s:10,2m:50")
	require.NoError(t, err)

	assert.Equal(t, config.StageConfig{Duration: "30s", Target: 10, Name: "stage-1"}, stages[0])
	assert.Equal(t, config.StageConfig{Duration: "2m", Target: 50, Name: "stage-2"}, stages[1])
}

func TestPacingFromFlags(t *testing.T) {
	tests := []struct {
		min, max string
		want     config.PacingConfig
	}{
		{"1s", "5s", config.PacingConfig{Type: string(performance.PacingRandom), Min: "1s", Max: "5s"}},
		{"2s", "2s", config.PacingConfig{Type: string(performance.PacingConstant), Duration: "2s"}},
		{"0", "0s", config.PacingConfig{Type: string(performance.PacingNone)}},
		{"bogus", "5s", config.PacingConfig{Type: string(performance.PacingRandom), Min: "bogus", Max: "5s"}},
	}

	for _, tt := range tests {
		assert.Equal(t, &tt.want, pacingFromFlags(tt.min, tt.max), tt.min+".."+tt.max)
	}
}

func TestBuildConfigFromFlags_Defaults(t *testing.T) {
	cmd := newPresetCmd(presetLocal)
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := buildConfigFromFlags(cmd, presetLocal)
	require.NoError(t, err)

	assert.Equal(t, "matchload local", cfg.Name)
	assert.Equal(t, driver.LocalHost, cfg.Settings.Host)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Settings.Timeout))
	assert.Nil(t, cfg.Thresholds)

	sc := cfg.Scenarios["local"]
	require.NotNil(t, sc)
	assert.Equal(t, "local", sc.Driver)
	assert.Equal(t, "constant-vus", sc.Executor)
	assert.Equal(t, 10, sc.VUs)
	assert.Equal(t, "1m", sc.Duration)
	assert.Zero(t, sc.MaxBatch)
	assert.Equal(t, string(performance.PacingRandom), sc.Pacing.Type)
	assert.Nil(t, cmd.Flags().Lookup("max-batch"), "local has no batches")

	require.NoError(t, cfg.Validate())
}

func TestBuildConfigFromFlags_Remote(t *testing.T) {
	cmd := newPresetCmd(presetRemote)
	require.NoError(t, cmd.ParseFlags([]string{
		"--max-batch", "12",
		"--fields", "InChIKey,SMILES",
		"--seed", "42",
		"--max-error-rate", "0.05",
	}))

	cfg, err := buildConfigFromFlags(cmd, presetRemote)
	require.NoError(t, err)

	assert.Equal(t, driver.RemoteHost, cfg.Settings.Host)
	assert.Equal(t, uint64(42), cfg.Settings.Seed)

	sc := cfg.Scenarios["remote"]
	assert.Equal(t, 12, sc.MaxBatch)
	assert.Equal(t, []string{"InChIKey", "SMILES"}, sc.Fields)
	require.NotNil(t, cfg.Thresholds)
	assert.Equal(t, []string{"rate <= 0.05"}, cfg.Thresholds.HTTPReqFailed)

	require.NoError(t, cfg.Validate())
}

func TestBuildConfigFromFlags_Executors(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, sc *config.ScenarioConfig)
	}{
		{
			name: "stages imply ramping-vus",
			args: []string{"--stages", "10s:5,20s:0"},
			check: func(t *testing.T, sc *config.ScenarioConfig) {
				assert.Equal(t, "ramping-vus", sc.Executor)
				assert.Len(t, sc.Stages, 2)
				assert.Empty(t, sc.Duration)
			},
		},
		{
			name: "constant arrival rate",
			args: []string{"--executor", "constant-arrival-rate", "--rate", "25", "--vus", "4", "--max-vus", "40"},
			check: func(t *testing.T, sc *config.ScenarioConfig) {
				assert.Equal(t, 25.0, sc.Rate)
				assert.Equal(t, 4, sc.PreAllocatedVUs)
				assert.Equal(t, 40, sc.MaxVUs)
				assert.Equal(t, "1m", sc.Duration)
			},
		},
		{
			name: "ramping arrival rate",
			args: []string{"--executor", "ramping-arrival-rate", "--stages", "30s:10,1m:50", "--pre-allocated-vus", "8"},
			check: func(t *testing.T, sc *config.ScenarioConfig) {
				assert.Equal(t, 8, sc.PreAllocatedVUs)
				assert.Len(t, sc.Stages, 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newPresetCmd(presetLocal)
			require.NoError(t, cmd.ParseFlags(tt.args))

			cfg, err := buildConfigFromFlags(cmd, presetLocal)
			require.NoError(t, err)
			tt.check(t, cfg.Scenarios["local"])
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestBuildConfigFromFlags_Errors(t *testing.T) {
	cmd := newPresetCmd(presetLocal)
	require.NoError(t, cmd.ParseFlags([]string{"--timeout", "soon"}))
	_, err := buildConfigFromFlags(cmd, presetLocal)
	assert.ErrorContains(t, err, "--timeout")

	cmd = newPresetCmd(presetLocal)
	require.NoError(t, cmd.ParseFlags([]string{"--stages", "10s"}))
	_, err = buildConfigFromFlags(cmd, presetLocal)
	assert.ErrorContains(t, err, "invalid stages format")
}

func TestGenerateDefaultHTMLPath(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	assert.Equal(t, "matchload-report-matchload-local-20240506-070809.html",
		generateDefaultHTMLPath("matchload local", now))
	assert.Equal(t, "matchload-report-a-b-20240506-070809.html",
		generateDefaultHTMLPath("A/B", now))
}

func sampleResult() *engine.TestResult {
	return &engine.TestResult{
		RunID:     "run-1",
		Name:      "cli",
		Scenarios: map[string]*engine.ScenarioResult{},
		Metrics:   &metrics.Snapshot{TotalRequests: 3},
		Passed:    true,
	}
}

func TestWriteReports(t *testing.T) {
	dir := t.TempDir()

	t.Run("json to writer", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeReports(&buf, sampleResult(), "cli", outputOptions{jsonOutput: true}))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "run-1", decoded["runId"])
	})

	t.Run("json by extension", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(dir, "out", "result.json")
		require.NoError(t, writeReports(&buf, sampleResult(), "cli", outputOptions{outputPath: path}))
		assert.FileExists(t, path)
		assert.Equal(t, "Report: "+path+"\n", buf.String())
	})

	t.Run("html by extension", func(t *testing.T) {
		var buf bytes.Buffer
		path := filepath.Join(dir, "result.HTML")
		require.NoError(t, writeReports(&buf, sampleResult(), "cli", outputOptions{outputPath: path, quiet: true}))
		assert.FileExists(t, path)
		assert.Empty(t, buf.String())
	})

	t.Run("both without extension", func(t *testing.T) {
		var buf bytes.Buffer
		base := filepath.Join(dir, "both")
		require.NoError(t, writeReports(&buf, sampleResult(), "cli", outputOptions{outputPath: base}))
		assert.FileExists(t, base+".html")
		assert.FileExists(t, base+".json")
	})

	t.Run("nothing requested", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, writeReports(&buf, sampleResult(), "cli", outputOptions{}))
		assert.Empty(t, buf.String())
	})
}

func TestLocalCommand_WithTestServer(t *testing.T) {
	server := newMatchServer(t, http.StatusOK)
	fixturePath := writeTestFixture(t)

	out, err := execute(t, "local",
		"--host", server.URL,
		"--fixture", fixturePath,
		"--vus", "2",
		"--duration", "300ms",
		"--wait-min", "10ms",
		"--wait-max", "20ms",
		"--quiet",
	)
	require.NoError(t, err)

	assert.Equal(t, "PASSED\n", out)
	assert.Positive(t, server.posts.Load())
	assert.Zero(t, server.gets.Load())
}

func TestRemoteCommand_FailsOnErrorRate(t *testing.T) {
	server := newMatchServer(t, http.StatusInternalServerError)
	fixturePath := writeTestFixture(t)

	out, err := execute(t, "remote",
		"--host", server.URL,
		"--fixture", fixturePath,
		"--vus", "1",
		"--duration", "200ms",
		"--wait-min", "10ms",
		"--wait-max", "10ms",
		"--max-error-rate", "0",
		"--quiet",
	)
	assert.ErrorIs(t, err, ErrTestFailed)
	assert.Equal(t, "FAILED\n", out)
	assert.Positive(t, server.gets.Load())
}

func TestLocalCommand_MissingFixture(t *testing.T) {
	_, err := execute(t, "local", "--fixture", filepath.Join(t.TempDir(), "missing.csv"), "--quiet")
	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to load fixture")
}

func TestRunCommand_Config(t *testing.T) {
	server := newMatchServer(t, http.StatusOK)
	fixturePath := writeTestFixture(t)

	cfgPath := filepath.Join(t.TempDir(), "loadtest.yaml")
	cfgYAML := `name: config run
settings:
  host: ` + server.URL + `
  fixture: ` + fixturePath + `
scenarios:
  local:
    driver: local
    vus: 1
    duration: 200ms
    pacing:
      type: constant
      duration: 10ms
  remote:
    driver: remote
    maxBatch: 5
    vus: 1
    duration: 200ms
    pacing:
      type: none
thresholds:
  http_req_failed:
    - rate < 0.01
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	out, err := execute(t, "run", "--config", cfgPath, "--json", "--quiet")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "PASSED\n"))
	var result engine.TestResult
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(out, "PASSED\n")), &result))
	assert.Equal(t, "config run", result.Name)
	assert.Len(t, result.Scenarios, 2)
	assert.Positive(t, server.posts.Load())
	assert.Positive(t, server.gets.Load())
}

func TestRunCommand_RequiresConfig(t *testing.T) {
	_, err := execute(t, "run")
	assert.ErrorContains(t, err, "config")
}

func TestFixtureCommand(t *testing.T) {
	out, err := execute(t, "fixture", writeTestFixture(t))
	require.NoError(t, err)

	assert.Contains(t, out, "Rows:     2")
	assert.Contains(t, out, "Columns:  InChIKey, InChI, SMILES, MolecularFormula")
	assert.Contains(t, out, "BSYNRYMUTXBXSQ-UHFFFAOYSA-N")
	assert.NotContains(t, out, "Skipped")
}

func TestFixtureCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("InChIKey,SMILES\nA,B\n"), 0o644))

	_, err := execute(t, "fixture", path)
	assert.ErrorContains(t, err, "missing required column")
}
