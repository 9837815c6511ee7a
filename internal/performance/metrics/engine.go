package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// overflowMessage replaces failure messages once the table is full.
const overflowMessage = "(other failures)"

// Engine collects latencies into HDR histograms and keeps counters, a
// time series, a failure table and response-check counters.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters are atomic, histograms and
// tables are mutex protected, and the bucket emitter runs in its own
// goroutine until Stop.
type Engine struct {
	config EngineConfig

	// HDR histograms are not safe for concurrent writes.
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	requestHists   map[string]*hdrhistogram.Histogram
	requestHistsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64
	activeVUs       atomic.Int32

	failures   map[failureKey]int64
	failuresMu sync.Mutex

	checks   map[string]*CheckStats
	checksMu sync.Mutex

	buckets *bucketRing

	phase        Phase
	phaseHistory []PhaseChange
	phaseMu      sync.RWMutex

	startTime time.Time

	stopEmitter context.CancelFunc
	emitterWg   sync.WaitGroup
	stopOnce    sync.Once
}

type failureKey struct {
	request string
	message string
}

// NewEngine creates an engine with DefaultEngineConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates an engine and starts its bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}
	if config.MaxFailureMessages <= 0 {
		config.MaxFailureMessages = def.MaxFailureMessages
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:       config,
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		requestHists: make(map[string]*hdrhistogram.Histogram),
		failures:     make(map[failureKey]int64),
		checks:       make(map[string]*CheckStats),
		buckets:      newBucketRing(config.MaxBuckets),
		phase:        PhaseInit,
		startTime:    time.Now(),
		stopEmitter:  cancel,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)
	return e
}

// RecordLatency records one request.
//
// requestName selects the per-request histogram; empty skips it.
func (e *Engine) RecordLatency(duration time.Duration, requestName string, success bool, bytes int64) {
	micros := e.clamp(duration.Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if requestName != "" {
		e.requestHistsMu.Lock()
		hist, ok := e.requestHists[requestName]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.requestHists[requestName] = hist
		}
		_ = hist.RecordValue(micros)
		e.requestHistsMu.Unlock()
	}

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
	e.buckets.record(success)
}

// RecordFailure adds one occurrence of message to the failure table.
func (e *Engine) RecordFailure(requestName, message string) {
	e.failuresMu.Lock()
	defer e.failuresMu.Unlock()

	key := failureKey{request: requestName, message: message}
	if _, ok := e.failures[key]; !ok && len(e.failures) >= e.config.MaxFailureMessages {
		key.message = overflowMessage
	}
	e.failures[key]++
}

// RecordCheck counts one response-check outcome.
func (e *Engine) RecordCheck(name string, passed bool) {
	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	c, ok := e.checks[name]
	if !ok {
		c = &CheckStats{}
		e.checks[name] = c
	}
	if passed {
		c.Passed++
	} else {
		c.Failed++
	}
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// SetPhase records a phase transition. Setting the current phase is a no-op.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// GetPhaseHistory returns a copy of all phase transitions.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phaseHistory))
	copy(out, e.phaseHistory)
	return out
}

// SetActiveVUs stores the number of running virtual users.
func (e *Engine) SetActiveVUs(count int) {
	e.activeVUs.Store(int32(count))
}

// GetActiveVUs returns the number of running virtual users.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	p := e.GetLatencyPercentiles()
	e.buckets.close(TimeBucket{
		TotalRequests:  e.totalRequests.Load(),
		TotalSuccesses: e.successRequests.Load(),
		TotalFailures:  e.failedRequests.Load(),
		TotalBytes:     e.totalBytes.Load(),
		LatencyMin:     p.Min,
		LatencyMax:     p.Max,
		LatencyP50:     p.P50,
		LatencyP90:     p.P90,
		LatencyP95:     p.P95,
		LatencyP99:     p.P99,
		ActiveVUs:      e.GetActiveVUs(),
		Phase:          e.GetPhase(),
	})
}

// GetLatencyPercentiles returns the current overall percentiles.
func (e *Engine) GetLatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	h := e.latencyHist
	return LatencyPercentiles{
		Min: micros(h.Min()),
		Max: micros(h.Max()),
		P50: micros(h.ValueAtQuantile(50)),
		P90: micros(h.ValueAtQuantile(90)),
		P95: micros(h.ValueAtQuantile(95)),
		P99: micros(h.ValueAtQuantile(99)),
	}
}

// GetSnapshot returns the current state of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsOf(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	steady, n := e.buckets.steadyRPS()
	if n > 0 {
		rps = steady
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	checks, checkRate := e.GetChecks()

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		SteadyStateRPS:  steady,
		ErrorRate:       errorRate,
		ActiveVUs:       e.GetActiveVUs(),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
		Checks:          checks,
		CheckRate:       checkRate,
		Failures:        e.GetFailures(),
	}
}

// GetFailures returns the failure table, most frequent first.
func (e *Engine) GetFailures() []FailureStats {
	e.failuresMu.Lock()
	out := make([]FailureStats, 0, len(e.failures))
	for k, n := range e.failures {
		out = append(out, FailureStats{Request: k.request, Message: k.message, Occurrences: n})
	}
	e.failuresMu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		if out[i].Request != out[j].Request {
			return out[i].Request < out[j].Request
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// GetChecks returns per-check counters and the overall pass rate.
func (e *Engine) GetChecks() (map[string]CheckStats, float64) {
	e.checksMu.Lock()
	defer e.checksMu.Unlock()

	var all CheckStats
	out := make(map[string]CheckStats, len(e.checks))
	for name, c := range e.checks {
		out[name] = *c
		all.Passed += c.Passed
		all.Failed += c.Failed
	}
	return out, all.Rate()
}

// GetTimeSeries returns the retained buckets, oldest first.
func (e *Engine) GetTimeSeries() []*TimeBucket {
	return e.buckets.all()
}

// GetRequestStats returns latency stats per request name.
func (e *Engine) GetRequestStats() map[string]LatencyStats {
	e.requestHistsMu.Lock()
	defer e.requestHistsMu.Unlock()

	out := make(map[string]LatencyStats, len(e.requestHists))
	for name, h := range e.requestHists {
		out[name] = statsOf(h)
	}
	return out
}

// Stop stops the emitter and closes a final bucket. It is safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopEmitter()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}

// Reset clears every metric and restarts the clock.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.requestHistsMu.Lock()
	e.requestHists = make(map[string]*hdrhistogram.Histogram)
	e.requestHistsMu.Unlock()

	e.failuresMu.Lock()
	e.failures = make(map[failureKey]int64)
	e.failuresMu.Unlock()

	e.checksMu.Lock()
	e.checks = make(map[string]*CheckStats)
	e.checksMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.totalBytes.Store(0)
	e.activeVUs.Store(0)

	e.phaseMu.Lock()
	e.phase = PhaseInit
	e.phaseHistory = nil
	e.phaseMu.Unlock()

	e.buckets.reset()
	e.startTime = time.Now()
}

func statsOf(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
