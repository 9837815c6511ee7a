package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// minRate is the slowest arrival rate a ramp releases iterations at.
const minRate = 0.01

// RampingArrivalRate moves the arrival rate linearly between stage targets.
// The first stage starts from the Rate field (zero by default).
type RampingArrivalRate struct {
	config *Config
	pool   atomic.Pointer[vuPool]

	startTime    atomic.Pointer[time.Time]
	running      atomic.Bool
	started      atomic.Int64
	currentStage atomic.Int32
	currentRate  atomic.Uint64

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return TypeRampingArrivalRate
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingArrivalRate, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	normalizePool(config)
	e.config = config
	return nil
}

// Run follows the stages and blocks until the last one ends.
func (e *RampingArrivalRate) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	now := time.Now()
	e.startTime.Store(&now)
	e.running.Store(true)
	defer e.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	pool := newVUPool(scheduler, metricsEngine, e.config.PreAllocatedVUs, e.config.MaxVUs)
	e.pool.Store(pool)
	limiter := rate.NewLimiter(rate.Limit(minRate), 1)

	log.WithFields(log.Fields{
		"scenario": e.config.Name,
		"stages":   len(e.config.Stages),
		"maxVUs":   e.config.MaxVUs,
	}).Info("Starting ramping arrival rate")

	for runCtx.Err() == nil {
		current := e.calculateTargetRate()
		metricsEngine.SetPhase(stagePhase(e.config.Stages, int(e.currentStage.Load()), int(e.config.Rate)))

		if current < minRate {
			sleepCtx(runCtx, rampInterval)
			continue
		}
		limiter.SetLimit(rate.Limit(current))

		// Reservations further out than one ramp step are re-evaluated at
		// the new rate.
		r := limiter.Reserve()
		delay := r.Delay()
		if delay > rampInterval {
			r.Cancel()
			sleepCtx(runCtx, rampInterval)
			continue
		}
		if !sleepCtx(runCtx, delay) {
			break
		}

		if pool.start(ctx) {
			e.started.Add(1)
		}
	}

	if err := waitGroup(context.Background(), &pool.wg, e.config.gracefulStop()); err != nil {
		log.WithField("scenario", e.config.Name).Warn(err)
	}
	pool.stop()

	metricsEngine.SetPhase(metrics.PhaseDone)
	return nil
}

// calculateTargetRate returns the arrival rate for the current elapsed time.
func (e *RampingArrivalRate) calculateTargetRate() float64 {
	start := e.startTime.Load()
	if start == nil {
		return e.config.Rate
	}
	r, idx := interpolate(e.config.Stages, time.Since(*start), e.config.Rate)
	e.currentStage.Store(int32(idx))
	e.currentRate.Store(math.Float64bits(r))
	return r
}

// sleepCtx sleeps for d. It returns false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	return progress(e.startTime.Load(), e.running.Load(), e.config.TotalDuration())
}

// GetActiveVUs returns the number of VUs allocated.
func (e *RampingArrivalRate) GetActiveVUs() int {
	if p := e.pool.Load(); p != nil {
		return p.size()
	}
	return 0
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
	stats := baseStats(e.startTime.Load(), e.config.TotalDuration())
	stats.ActiveVUs = e.GetActiveVUs()
	stats.TargetVUs = e.config.MaxVUs
	stats.Iterations = e.started.Load()
	if p := e.pool.Load(); p != nil {
		stats.DroppedIterations = p.dropped.Load()
	}

	idx := int(e.currentStage.Load())
	stats.CurrentStage = idx
	stats.TotalStages = len(e.config.Stages)
	if idx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[idx].Name
		stats.TargetRate = float64(e.config.Stages[idx].Target)
	}
	stats.CurrentRate = math.Float64frombits(e.currentRate.Load())
	return stats
}

// Stop ends the run early.
func (e *RampingArrivalRate) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()

	return waitDone(ctx, e.done, e.config.gracefulStop(), e.startTime.Load() != nil)
}

var _ Executor = (*RampingArrivalRate)(nil)
