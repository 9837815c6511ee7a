package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// ConstantArrivalRate starts iterations at a fixed rate (open model).
//
// Throughput does not depend on response time: iterations are released by a
// token-bucket limiter and run on pooled VUs. Pacing does not apply. When all
// MaxVUs are busy, iterations are dropped and counted.
//
//	executor: constant-arrival-rate
//	rate: 20
//	duration: 5m
//	preAllocatedVUs: 10
//	maxVUs: 50
type ConstantArrivalRate struct {
	config *Config
	pool   atomic.Pointer[vuPool]

	startTime atomic.Pointer[time.Time]
	running   atomic.Bool
	started   atomic.Int64

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{done: make(chan struct{})}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	normalizePool(config)
	e.config = config
	return nil
}

// normalizePool defaults PreAllocatedVUs to 1 and MaxVUs to PreAllocatedVUs.
func normalizePool(config *Config) {
	if config.PreAllocatedVUs <= 0 {
		config.PreAllocatedVUs = 1
	}
	if config.MaxVUs < config.PreAllocatedVUs {
		config.MaxVUs = config.PreAllocatedVUs
	}
}

// Run releases iterations until the duration elapses, then waits for the
// in-flight ones.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	defer close(e.done)

	now := time.Now()
	e.startTime.Store(&now)
	e.running.Store(true)
	defer e.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	pool := newVUPool(scheduler, metricsEngine, e.config.PreAllocatedVUs, e.config.MaxVUs)
	e.pool.Store(pool)
	limiter := rate.NewLimiter(rate.Limit(e.config.Rate), 1)

	metricsEngine.SetPhase(metrics.PhaseSteady)
	log.WithFields(log.Fields{
		"scenario": e.config.Name,
		"rate":     e.config.Rate,
		"maxVUs":   e.config.MaxVUs,
		"duration": e.config.Duration,
	}).Info("Starting constant arrival rate")

	for {
		if err := limiter.Wait(runCtx); err != nil {
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

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
	return progress(e.startTime.Load(), e.running.Load(), e.config.Duration)
}

// GetActiveVUs returns the number of VUs allocated.
func (e *ConstantArrivalRate) GetActiveVUs() int {
	if p := e.pool.Load(); p != nil {
		return p.size()
	}
	return 0
}

// GetDroppedIterations returns iterations skipped because all VUs were busy.
func (e *ConstantArrivalRate) GetDroppedIterations() int64 {
	if p := e.pool.Load(); p != nil {
		return p.dropped.Load()
	}
	return 0
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	stats := baseStats(e.startTime.Load(), e.config.Duration)
	stats.ActiveVUs = e.GetActiveVUs()
	stats.TargetVUs = e.config.MaxVUs
	stats.Iterations = e.started.Load()
	stats.DroppedIterations = e.GetDroppedIterations()
	stats.CurrentRate = e.config.Rate
	stats.TargetRate = e.config.Rate
	return stats
}

// Stop ends the run early.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()

	return waitDone(ctx, e.done, e.config.gracefulStop(), e.startTime.Load() != nil)
}

var _ Executor = (*ConstantArrivalRate)(nil)

// waitDone waits for done when the executor was started.
func waitDone(ctx context.Context, done <-chan struct{}, timeout time.Duration, started bool) error {
	if !started {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("graceful stop timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
