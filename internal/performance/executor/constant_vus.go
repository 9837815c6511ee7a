package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// ConstantVUs runs a fixed number of VUs for a duration (closed model).
//
// Every VU loops: one request, then a think time drawn from the pacing
// config. With the default pacing this is a user waiting 1–5 s between
// requests.
type ConstantVUs struct {
	config    *Config
	scheduler atomic.Pointer[performance.VUScheduler]

	startTime atomic.Pointer[time.Time]
	running   atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	e.config = config
	return nil
}

// Run spawns all VUs and blocks until the duration elapses.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler.Store(scheduler)
	now := time.Now()
	e.startTime.Store(&now)
	e.running.Store(true)
	defer e.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	metricsEngine.SetPhase(metrics.PhaseSteady)

	pacing := e.config.PacingOrDefault()
	log.WithFields(log.Fields{
		"scenario": e.config.Name,
		"vus":      e.config.VUs,
		"duration": e.config.Duration,
		"pacing":   pacing.String(),
	}).Info("Starting constant VUs")

	for i := 0; i < e.config.VUs; i++ {
		vu := scheduler.SpawnVU()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			scheduler.RunVU(runCtx, vu, pacing)
		}()
	}

	e.wg.Wait()
	metricsEngine.SetPhase(metrics.PhaseDone)
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	return progress(e.startTime.Load(), e.running.Load(), e.config.Duration)
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	s := e.scheduler.Load()
	if s == nil {
		return 0
	}
	return s.GetRunningVUCount()
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	stats := baseStats(e.startTime.Load(), e.config.Duration)
	stats.ActiveVUs = e.GetActiveVUs()
	stats.TargetVUs = e.config.VUs
	stats.Iterations = iterations(e.scheduler.Load())
	return stats
}

// Stop ends the run and waits for VUs to finish their current iteration.
func (e *ConstantVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()

	return waitGroup(ctx, &e.wg, e.config.gracefulStop())
}

var _ Executor = (*ConstantVUs)(nil)

// progress returns elapsed/total clamped to [0, 1].
func progress(start *time.Time, running bool, total time.Duration) float64 {
	if start == nil {
		return 0
	}
	if !running || total <= 0 {
		return 1
	}
	p := float64(time.Since(*start)) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}

func baseStats(start *time.Time, total time.Duration) *Stats {
	stats := &Stats{CurrentTime: time.Now(), TotalDuration: total}
	if start != nil {
		stats.StartTime = *start
		stats.Elapsed = time.Since(*start)
	}
	return stats
}

// iterations sums the iterations of every VU the scheduler spawned.
func iterations(s *performance.VUScheduler) int64 {
	if s == nil {
		return 0
	}
	return s.TotalIterations()
}

// waitGroup waits for wg up to timeout or until ctx ends.
func waitGroup(ctx context.Context, wg *sync.WaitGroup, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("graceful stop timeout after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
