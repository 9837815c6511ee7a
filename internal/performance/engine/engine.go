// Package engine runs matchload tests: it loads the fixture, builds a driver
// and executor per scenario, runs them and evaluates thresholds.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/fixture"
	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/config"
	"github.com/wesleyorama2/matchload/internal/performance/executor"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// shutdownTimeout bounds how long a scheduler waits for VUs after its executor
// returned.
const shutdownTimeout = 30 * time.Second

// ErrAlreadyRunning is returned by Run when a run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// Engine is the orchestrator of a load test.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("test.yaml")
//	eng, _ := engine.NewEngine(cfg)
//	result, _ := eng.Run(context.Background())
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	httpConfig performance.HTTPClientConfig
	fixture    *fixture.Set
	thresholds []config.Threshold
	runID      string

	// Runners in name order.
	runners []*ScenarioRunner

	mu            sync.RWMutex
	metricsEngine *metrics.Engine
	startTime     time.Time
	running       bool
}

// ScenarioRunner holds everything needed to run one scenario.
type ScenarioRunner struct {
	Name      string
	Config    *config.ScenarioConfig
	Driver    driver.Driver
	Host      string
	Scenario  *performance.Scenario
	ExecCfg   *executor.Config
	Executor  executor.Executor
	Scheduler *performance.VUScheduler
}

// NewEngine validates cfg, applies defaults and loads the fixture. A fixture
// that cannot be loaded fails here, before any VU exists.
func NewEngine(cfg *config.TestConfig) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	thresholds, err := cfg.Thresholds.All()
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	set, err := fixture.Shared(cfg.Settings.Fixture, fixture.Options{SkipIncomplete: cfg.Settings.SkipIncomplete})
	if err != nil {
		return nil, fmt.Errorf("failed to load fixture: %w", err)
	}

	e := &Engine{
		config:     cfg,
		httpConfig: config.HTTPClientConfig(&cfg.Settings),
		fixture:    set,
		thresholds: thresholds,
		runID:      uuid.NewString(),
	}

	names := make([]string, 0, len(cfg.Scenarios))
	for name := range cfg.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		runner, err := e.newRunner(name, cfg.Scenarios[name], i)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		e.runners = append(e.runners, runner)
	}

	return e, nil
}

func (e *Engine) newRunner(name string, sc *config.ScenarioConfig, index int) (*ScenarioRunner, error) {
	driverCfg, err := config.DriverConfig(sc, &e.config.Settings)
	if err != nil {
		return nil, err
	}
	drv, err := driver.New(driverCfg, e.fixture)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	var checks []driver.Check
	for _, cc := range sc.Checks {
		check, err := driver.NewCheck(cc)
		if err != nil {
			return nil, fmt.Errorf("failed to create check: %w", err)
		}
		checks = append(checks, check)
	}

	execCfg, err := config.ExecutorConfig(name, sc)
	if err != nil {
		return nil, err
	}

	var seed uint64
	if e.config.Settings.Seed != 0 {
		seed = e.config.Settings.Seed + uint64(index)
	}

	host := driverCfg.Host
	if host == "" {
		host = driver.DefaultHost(driverCfg.Kind)
	}

	return &ScenarioRunner{
		Name:   name,
		Config: sc,
		Driver: drv,
		Host:   host,
		Scenario: &performance.Scenario{
			Name:   name,
			Task:   drv,
			Checks: checks,
			Seed:   seed,
		},
		ExecCfg: execCfg,
	}, nil
}

// Run executes all scenarios and returns the test results.
//
// Scenarios run concurrently unless Options.Sequential is set. Cancelling ctx
// stops every scenario; the partial result is still returned.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.startTime = time.Now()
	e.metricsEngine = metrics.NewEngine()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	me := e.metricsEngine
	me.SetPhase(metrics.PhaseInit)

	if err := e.initializeScenarios(ctx, me); err != nil {
		me.Stop()
		return nil, fmt.Errorf("failed to initialize scenarios: %w", err)
	}

	log.WithFields(log.Fields{
		"run":       e.runID,
		"scenarios": len(e.runners),
		"rows":      e.fixture.Len(),
	}).Info("Starting test")

	var results map[string]*ScenarioResult
	var runErr error
	if e.config.Options != nil && e.config.Options.Sequential {
		results, runErr = e.runScenariosSequentially(ctx, me)
	} else {
		results, runErr = e.runScenariosConcurrently(ctx, me)
	}

	me.SetPhase(metrics.PhaseDone)
	me.Stop()

	snapshot := me.GetSnapshot()
	thresholdResults := e.evaluateThresholds(snapshot)

	passed := runErr == nil
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
		}
	}

	end := time.Now()
	result := &TestResult{
		RunID:       e.runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   e.startTime,
		EndTime:     end,
		Duration:    end.Sub(e.startTime),
		Fixture: FixtureInfo{
			Path:    e.fixture.Path(),
			Rows:    e.fixture.Len(),
			Skipped: e.fixture.Skipped(),
		},
		Scenarios:    results,
		Metrics:      snapshot,
		TimeSeries:   me.GetTimeSeries(),
		RequestStats: requestStats(me.GetRequestStats()),
		Passed:       passed,
		Thresholds:   thresholdResults,
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	log.WithFields(log.Fields{
		"run":      e.runID,
		"requests": snapshot.TotalRequests,
		"failed":   snapshot.FailedRequests,
		"passed":   passed,
	}).Info("Test finished")

	return result, runErr
}

func (e *Engine) initializeScenarios(ctx context.Context, me *metrics.Engine) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range e.runners {
		exec, err := executor.CreateAndInitExecutor(ctx, r.ExecCfg)
		if err != nil {
			return fmt.Errorf("scenario %s: %w", r.Name, err)
		}
		r.Executor = exec
		r.Scheduler = performance.NewVUScheduler(r.Scenario, me, e.httpConfig)
	}
	return nil
}

func (e *Engine) runScenariosConcurrently(ctx context.Context, me *metrics.Engine) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult, len(e.runners))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	for _, r := range e.runners {
		wg.Add(1)
		go func(r *ScenarioRunner) {
			defer wg.Done()

			result, err := e.runScenario(ctx, r, me)

			resultsMu.Lock()
			defer resultsMu.Unlock()
			results[r.Name] = result
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("scenario %s failed: %w", r.Name, err)
			}
		}(r)
	}

	wg.Wait()
	return results, firstErr
}

func (e *Engine) runScenariosSequentially(ctx context.Context, me *metrics.Engine) (map[string]*ScenarioResult, error) {
	results := make(map[string]*ScenarioResult, len(e.runners))

	for _, r := range e.runners {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := e.runScenario(ctx, r, me)
		results[r.Name] = result
		if err != nil {
			return results, fmt.Errorf("scenario %s failed: %w", r.Name, err)
		}
	}

	return results, nil
}

func (e *Engine) runScenario(ctx context.Context, r *ScenarioRunner, me *metrics.Engine) (*ScenarioResult, error) {
	logger := log.WithFields(log.Fields{
		"scenario": r.Name,
		"driver":   r.Driver.Kind(),
		"host":     r.Host,
		"executor": r.Executor.Type(),
	})
	logger.Info("Scenario started")

	start := time.Now()
	err := r.Executor.Run(ctx, r.Scheduler, me)
	duration := time.Since(start)

	r.Scheduler.Shutdown(shutdownTimeout)

	stats := r.Executor.GetStats()
	result := &ScenarioResult{
		Name:              r.Name,
		Driver:            string(r.Driver.Kind()),
		Host:              r.Host,
		Request:           r.Driver.Name(),
		Executor:          string(r.Executor.Type()),
		Pacing:            r.ExecCfg.PacingOrDefault().String(),
		Duration:          duration,
		Iterations:        r.Scheduler.TotalIterations(),
		DroppedIterations: stats.DroppedIterations,
		MaxVUs:            executor.CalculateMaxVUs(r.ExecCfg),
	}
	if stats.Iterations > result.Iterations {
		result.Iterations = stats.Iterations
	}
	if err != nil {
		result.Error = err.Error()
		logger.WithError(err).Error("Scenario failed")
	} else {
		logger.WithField("duration", duration.Round(time.Millisecond)).Info("Scenario finished")
	}

	return result, err
}

// evaluateThresholds evaluates all configured thresholds against snapshot.
func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateThreshold(t, snapshot))
	}
	return results
}

func evaluateThreshold(t config.Threshold, s *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{Metric: t.Metric, Expression: t.Expression}

	var actual float64
	switch t.Metric {
	case config.MetricHTTPReqDuration:
		d := latencyStat(s.Latency, t.Stat)
		actual = float64(d)
		result.Value = d.String()

	case config.MetricHTTPReqFailed:
		actual = s.ErrorRate
		result.Value = fmt.Sprintf("%.4f", actual)

	case config.MetricHTTPReqs:
		if t.Stat == "count" {
			actual = float64(s.TotalRequests)
			result.Value = fmt.Sprintf("%d", s.TotalRequests)
		} else {
			actual = s.RPS
			result.Value = fmt.Sprintf("%.2f", actual)
		}

	case config.MetricChecks:
		actual = s.CheckRate
		result.Value = fmt.Sprintf("%.4f", actual)
	}

	result.Passed = t.Compare(actual)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s %s is %s, threshold: %s", t.Metric, t.Stat, result.Value, t.Expression)
	}
	return result
}

func latencyStat(l metrics.LatencyStats, stat string) time.Duration {
	switch stat {
	case "min":
		return l.Min
	case "max":
		return l.Max
	case "avg":
		return l.Mean
	case "med", "p50":
		return l.P50
	case "p90":
		return l.P90
	case "p95":
		return l.P95
	case "p99":
		return l.P99
	default:
		return 0
	}
}

func requestStats(in map[string]metrics.LatencyStats) map[string]RequestStats {
	out := make(map[string]RequestStats, len(in))
	for name, stats := range in {
		out[name] = RequestStats{Name: name, Count: stats.Count, Latency: stats}
	}
	return out
}

// GetConfig returns the test configuration.
func (e *Engine) GetConfig() *config.TestConfig {
	return e.config
}

// RunID identifies this engine's run in logs and reports.
func (e *Engine) RunID() string {
	return e.runID
}

// Fixture returns the loaded fixture.
func (e *Engine) Fixture() *fixture.Set {
	return e.fixture
}

// Scenarios returns the scenario runners in name order.
func (e *Engine) Scenarios() []*ScenarioRunner {
	return e.runners
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	me := e.metricsEngine
	e.mu.RUnlock()
	if me == nil {
		return nil
	}
	return me.GetSnapshot()
}

// GetTimeSeries returns the time series data.
func (e *Engine) GetTimeSeries() []*metrics.TimeBucket {
	e.mu.RLock()
	me := e.metricsEngine
	e.mu.RUnlock()
	if me == nil {
		return nil
	}
	return me.GetTimeSeries()
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Stop gracefully stops all running scenarios.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	if !e.running {
		e.mu.RUnlock()
		return nil
	}
	var execs []executor.Executor
	for _, r := range e.runners {
		if r.Executor != nil {
			execs = append(execs, r.Executor)
		}
	}
	e.mu.RUnlock()

	var errs []error
	for _, exec := range execs {
		if err := exec.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetProgress returns the overall test progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var total float64
	var n int
	for _, r := range e.runners {
		if r.Executor == nil {
			continue
		}
		total += r.Executor.GetProgress()
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// GetScenarioStats returns current executor stats keyed by scenario name.
func (e *Engine) GetScenarioStats() map[string]*executor.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := make(map[string]*executor.Stats, len(e.runners))
	for _, r := range e.runners {
		if r.Executor != nil {
			stats[r.Name] = r.Executor.GetStats()
		}
	}
	return stats
}

// ActiveVUs sums the VUs of all running scenarios.
func (e *Engine) ActiveVUs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var n int
	for _, r := range e.runners {
		if r.Executor != nil {
			n += r.Executor.GetActiveVUs()
		}
	}
	return n
}
