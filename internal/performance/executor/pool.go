package executor

import (
	"context"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/matchload/internal/performance"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// vuPool hands idle VUs to arrival-rate iterations. It grows on demand up to
// max VUs. When every VU is busy the iteration is dropped instead of delaying
// the arrival schedule.
type vuPool struct {
	scheduler *performance.VUScheduler
	metrics   *metrics.Engine
	max       int

	idle chan *performance.VirtualUser

	mu  sync.Mutex
	all []*performance.VirtualUser

	busy    atomic.Int32
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func newVUPool(s *performance.VUScheduler, m *metrics.Engine, preAllocated, max int) *vuPool {
	p := &vuPool{
		scheduler: s,
		metrics:   m,
		max:       max,
		idle:      make(chan *performance.VirtualUser, max),
	}
	for i := 0; i < preAllocated; i++ {
		vu := s.SpawnVU()
		p.all = append(p.all, vu)
		p.idle <- vu
	}
	return p
}

// acquire returns an idle VU, spawning one if the pool may still grow.
func (p *vuPool) acquire() (*performance.VirtualUser, bool) {
	select {
	case vu := <-p.idle:
		return vu, true
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.all) >= p.max {
		return nil, false
	}
	vu := p.scheduler.SpawnVU()
	p.all = append(p.all, vu)
	return vu, true
}

// start runs one iteration on a pooled VU. It reports false when the
// iteration was dropped.
func (p *vuPool) start(ctx context.Context) bool {
	vu, ok := p.acquire()
	if !ok {
		if p.dropped.Add(1) == 1 {
			log.WithField("maxVUs", p.max).Warn("All VUs busy, dropping iterations")
		}
		return false
	}

	p.wg.Add(1)
	p.metrics.SetActiveVUs(int(p.busy.Add(1)))
	go func() {
		defer p.wg.Done()
		defer func() {
			p.metrics.SetActiveVUs(int(p.busy.Add(-1)))
			p.idle <- vu
		}()
		_, _ = vu.RunIteration(ctx)
	}()
	return true
}

// size returns the number of VUs allocated so far.
func (p *vuPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// stop marks every VU stopped once in-flight iterations finished.
func (p *vuPool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, vu := range p.all {
		vu.MarkStopped()
	}
}
