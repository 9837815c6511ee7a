// Package performance runs virtual users against a match endpoint driver.
package performance

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesleyorama2/matchload/internal/driver"
	"github.com/wesleyorama2/matchload/internal/performance/metrics"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is in the middle of an iteration.
	VUStateRunning
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Task is the unit of work a VU repeats. driver.Driver satisfies it.
type Task interface {
	Name() string
	NewRequest(ctx context.Context, rng *rand.Rand) (*http.Request, error)
	Evaluate(status int, body []byte) (bool, string)
}

// Scenario defines what a VU executes during each iteration.
type Scenario struct {
	Name string

	// Task issues one request per iteration.
	Task Task

	// Checks inspect successful responses. They never change the outcome.
	Checks []driver.Check

	// Seed makes VU randomness reproducible. Zero picks a random seed.
	Seed uint64
}

// VirtualUser is a single simulated client.
//
// Each VU owns its random source, so sampling never contends on a shared
// generator. The fixture behind the Task is the only state VUs share.
type VirtualUser struct {
	ID         int
	Scenario   *Scenario
	HTTPClient *http.Client
	Metrics    *metrics.Engine

	rng *rand.Rand

	state     atomic.Int32
	stopCh    chan struct{}
	doneCh    chan struct{}
	iteration atomic.Int64
}

// NewVirtualUser creates a VU whose randomness is derived from seed and id.
func NewVirtualUser(id int, scenario *Scenario, httpClient *http.Client, metricsEngine *metrics.Engine, seed uint64) *VirtualUser {
	return &VirtualUser{
		ID:         id,
		Scenario:   scenario,
		HTTPClient: httpClient,
		Metrics:    metricsEngine,
		rng:        rand.New(rand.NewPCG(seed, uint64(id))),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Stopping reports whether the VU was asked to stop or has stopped.
func (vu *VirtualUser) Stopping() bool {
	s := vu.GetState()
	return s == VUStateStopping || s == VUStateStopped
}

// RunIteration issues one request and records its outcome.
//
// Requests cut short by ctx are not recorded. Any other transport error is
// recorded as a failure.
func (vu *VirtualUser) RunIteration(ctx context.Context) (*RequestResult, error) {
	if vu.Stopping() {
		return nil, fmt.Errorf("VU %d is stopping or stopped", vu.ID)
	}

	vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning))
	defer vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))
	vu.iteration.Add(1)

	result := vu.executeRequest(ctx)
	if result.Error != nil && ctx.Err() != nil {
		return result, ctx.Err()
	}

	vu.record(result)
	return result, nil
}

func (vu *VirtualUser) executeRequest(ctx context.Context) *RequestResult {
	task := vu.Scenario.Task
	result := &RequestResult{
		VUID:        vu.ID,
		Iteration:   vu.iteration.Load(),
		RequestName: task.Name(),
		StartTime:   time.Now(),
	}

	req, err := task.NewRequest(ctx, vu.rng)
	if err != nil {
		result.Duration = time.Since(result.StartTime)
		result.Error = fmt.Errorf("failed to build request: %w", err)
		result.Failure = result.Error.Error()
		return result
	}

	resp, err := vu.HTTPClient.Do(req)
	if err != nil {
		result.Duration = time.Since(result.StartTime)
		result.Error = err
		result.Failure = err.Error()
		return result
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	result.Duration = time.Since(result.StartTime)
	result.StatusCode = resp.StatusCode
	result.BytesReceived = int64(len(body))
	if err != nil {
		result.Error = fmt.Errorf("failed to read response body: %w", err)
		result.Failure = result.Error.Error()
		return result
	}

	result.Success, result.Failure = task.Evaluate(resp.StatusCode, body)
	if result.Success {
		result.Checks = vu.runChecks(body)
	}
	return result
}

func (vu *VirtualUser) runChecks(body []byte) map[string]error {
	if len(vu.Scenario.Checks) == 0 {
		return nil
	}
	out := make(map[string]error, len(vu.Scenario.Checks))
	for _, c := range vu.Scenario.Checks {
		out[c.Name()] = c.Check(body)
	}
	return out
}

func (vu *VirtualUser) record(r *RequestResult) {
	vu.Metrics.RecordLatency(r.Duration, r.RequestName, r.Success, r.BytesReceived)

	if !r.Success {
		vu.Metrics.RecordFailure(r.RequestName, r.Failure)
		log.WithFields(log.Fields{
			"vu":      vu.ID,
			"request": r.RequestName,
			"status":  r.StatusCode,
		}).Debug(r.Failure)
	}

	for name, err := range r.Checks {
		vu.Metrics.RecordCheck(name, err == nil)
		if err != nil {
			log.WithFields(log.Fields{"vu": vu.ID, "check": name}).Debug(err)
		}
	}
}

// Pace sleeps for the next think time drawn from p. It returns false when the
// VU was stopped or ctx ended while waiting.
func (vu *VirtualUser) Pace(ctx context.Context, p Pacing) bool {
	wait := p.Next(vu.rng)
	if wait <= 0 {
		return ctx.Err() == nil && !vu.Stopping()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// RequestStop signals the VU to stop after its current iteration.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// WaitForStop waits for the VU to stop. It returns false on timeout.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
	select {
	case <-vu.doneCh:
	default:
		close(vu.doneCh)
	}
}

// RequestResult is the outcome of one iteration.
type RequestResult struct {
	VUID          int              `json:"vuId"`
	Iteration     int64            `json:"iteration"`
	RequestName   string           `json:"requestName"`
	StartTime     time.Time        `json:"startTime"`
	Duration      time.Duration    `json:"duration"`
	StatusCode    int              `json:"statusCode"`
	BytesReceived int64            `json:"bytesReceived"`
	Success       bool             `json:"success"`
	Failure       string           `json:"failure,omitempty"`
	Checks        map[string]error `json:"-"`
	Error         error            `json:"-"`
}
