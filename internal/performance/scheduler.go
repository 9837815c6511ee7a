package performance

import (
	"context"
	"crypto/tls"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// VUScheduler owns the VUs of one scenario and the HTTP client they share.
type VUScheduler struct {
	scenario *Scenario
	metrics  *metrics.Engine
	config   HTTPClientConfig
	seed     uint64

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32
	running  atomic.Int32

	client *http.Client

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout bounds one request including reading the body.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits connections per host. Zero is unlimited.
	MaxConnsPerHost int

	IdleConnTimeout    time.Duration
	DisableKeepAlives  bool
	DisableCompression bool

	// InsecureSkipVerify skips TLS certificate verification.
	InsecureSkipVerify bool
}

// DefaultHTTPClientConfig returns defaults suited to load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewHTTPClient builds a client from cfg.
func NewHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
		DisableCompression:  cfg.DisableCompression,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// NewVUScheduler creates a scheduler. All VUs share one HTTP client.
func NewVUScheduler(scenario *Scenario, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig) *VUScheduler {
	seed := scenario.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &VUScheduler{
		scenario:   scenario,
		metrics:    metricsEngine,
		config:     httpConfig,
		seed:       seed,
		vus:        make(map[int]*VirtualUser),
		client:     NewHTTPClient(httpConfig),
		shutdownCh: make(chan struct{}),
	}
}

// Client returns the shared HTTP client.
func (s *VUScheduler) Client() *http.Client {
	return s.client
}

// SpawnVU creates and registers a VU without starting it.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	vu := NewVirtualUser(id, s.scenario, s.client, s.metrics, s.seed)

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	return vu
}

// GetVU returns a VU by ID, or nil if not found.
func (s *VUScheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// GetActiveVUCount returns the count of non-stopped VUs.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// GetRunningVUCount returns the number of VUs inside RunVU.
func (s *VUScheduler) GetRunningVUCount() int {
	return int(s.running.Load())
}

// TotalIterations sums the iterations started by registered VUs.
func (s *VUScheduler) TotalIterations() int64 {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	var total int64
	for _, vu := range s.vus {
		total += vu.GetIteration()
	}
	return total
}

// StopAllVUs requests all VUs to stop.
func (s *VUScheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// RemoveVU forgets a VU and marks it stopped.
func (s *VUScheduler) RemoveVU(id int) {
	s.vusMu.Lock()
	defer s.vusMu.Unlock()

	if vu, ok := s.vus[id]; ok {
		vu.MarkStopped()
		delete(s.vus, id)
	}
}

// RunVU runs iterations on vu until it is stopped, ctx ends or the scheduler
// shuts down. pacing is applied after every iteration.
func (s *VUScheduler) RunVU(ctx context.Context, vu *VirtualUser, pacing Pacing) {
	s.wg.Add(1)
	defer s.wg.Done()
	defer vu.MarkStopped()

	s.metrics.SetActiveVUs(int(s.running.Add(1)))
	defer func() {
		s.metrics.SetActiveVUs(int(s.running.Add(-1)))
	}()

	logger := log.WithFields(log.Fields{"scenario": s.scenario.Name, "vu": vu.ID})
	logger.Debug("VU started")
	defer logger.Debug("VU stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		default:
		}

		if vu.Stopping() {
			return
		}

		if _, err := vu.RunIteration(ctx); err != nil {
			return
		}

		if !vu.Pace(ctx, pacing) {
			return
		}
	}
}

// WaitForAllVUs waits for VUs started with RunVU. It returns false on timeout.
func (s *VUScheduler) WaitForAllVUs(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Shutdown stops all VUs, waits up to timeout and releases idle connections.
func (s *VUScheduler) Shutdown(timeout time.Duration) {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
	s.StopAllVUs()

	if !s.WaitForAllVUs(timeout) {
		log.WithField("scenario", s.scenario.Name).Warnf("VUs still running after %v", timeout)
	}
	s.client.CloseIdleConnections()
}
