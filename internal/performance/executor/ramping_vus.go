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

// rampInterval is how often the VU count is adjusted.
const rampInterval = 100 * time.Millisecond

// RampingVUs moves the VU count linearly between stage targets, starting
// from zero. A stage ramping from 0 to 50 VUs over 10s spawns users at 5/s.
//
//	stages:
//	  - duration: 30s
//	    target: 10
//	  - duration: 2m
//	    target: 10
//	  - duration: 30s
//	    target: 0
type RampingVUs struct {
	config    *Config
	scheduler atomic.Pointer[performance.VUScheduler]
	metrics   *metrics.Engine
	pacing    performance.Pacing

	startTime    atomic.Pointer[time.Time]
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	vus   []*performance.VirtualUser
	vusMu sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	e.config = config
	e.pacing = config.PacingOrDefault()
	return nil
}

// Run follows the stages and blocks until the last one ends.
func (e *RampingVUs) Run(ctx context.Context, scheduler *performance.VUScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler.Store(scheduler)
	e.metrics = metricsEngine
	now := time.Now()
	e.startTime.Store(&now)
	e.running.Store(true)
	defer e.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()

	log.WithFields(log.Fields{
		"scenario": e.config.Name,
		"stages":   len(e.config.Stages),
		"duration": e.config.TotalDuration(),
	}).Info("Starting ramping VUs")

	e.tick(runCtx)

	ticker := time.NewTicker(rampInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			e.tick(runCtx)
		}
	}

	e.stopAll()
	if err := waitGroup(context.Background(), &e.wg, e.config.gracefulStop()); err != nil {
		log.WithField("scenario", e.config.Name).Warn(err)
	}

	metricsEngine.SetPhase(metrics.PhaseDone)
	return nil
}

func (e *RampingVUs) tick(ctx context.Context) {
	target := e.calculateTargetVUs()
	e.targetVUs.Store(int32(target))
	e.adjustVUs(ctx, target)
	e.metrics.SetPhase(stagePhase(e.config.Stages, int(e.currentStage.Load()), 0))
}

// calculateTargetVUs returns the VU count for the current elapsed time.
func (e *RampingVUs) calculateTargetVUs() int {
	start := e.startTime.Load()
	if start == nil {
		return 0
	}
	target, idx := interpolate(e.config.Stages, time.Since(*start), 0)
	e.currentStage.Store(int32(idx))
	return int(target + 0.5)
}

// adjustVUs spawns or stops VUs to reach target. The newest VUs stop first.
func (e *RampingVUs) adjustVUs(ctx context.Context, target int) {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()

	scheduler := e.scheduler.Load()
	current := len(e.vus)
	switch {
	case target > current:
		for i := current; i < target; i++ {
			vu := scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				scheduler.RunVU(ctx, vu, e.pacing)
			}()
		}
	case target < current:
		for i := current - 1; i >= target; i-- {
			e.vus[i].RequestStop()
		}
		e.vus = e.vus[:target]
	}
}

func (e *RampingVUs) stopAll() {
	e.vusMu.Lock()
	defer e.vusMu.Unlock()
	for _, vu := range e.vus {
		vu.RequestStop()
	}
	e.vus = nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	return progress(e.startTime.Load(), e.running.Load(), e.config.TotalDuration())
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	s := e.scheduler.Load()
	if s == nil {
		return 0
	}
	return s.GetRunningVUCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	stats := baseStats(e.startTime.Load(), e.config.TotalDuration())
	stats.ActiveVUs = e.GetActiveVUs()
	stats.TargetVUs = int(e.targetVUs.Load())
	stats.Iterations = iterations(e.scheduler.Load())

	idx := int(e.currentStage.Load())
	stats.CurrentStage = idx
	stats.TotalStages = len(e.config.Stages)
	if idx < len(e.config.Stages) {
		stats.CurrentStageName = e.config.Stages[idx].Name
	}
	return stats
}

// Stop ends the run early.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()

	e.stopAll()
	return waitGroup(ctx, &e.wg, e.config.gracefulStop())
}

var _ Executor = (*RampingVUs)(nil)
