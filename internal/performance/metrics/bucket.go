package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// bucketRing keeps the most recent time buckets in a fixed-size ring.
//
// Requests are counted into lock-free interval accumulators; close() turns
// the accumulators into a TimeBucket and resets them.
type bucketRing struct {
	mu      sync.RWMutex
	buckets []*TimeBucket
	head    int
	count   int
	last    time.Time

	requests atomic.Int64
	failures atomic.Int64
}

func newBucketRing(size int) *bucketRing {
	if size <= 0 {
		size = 3600
	}
	return &bucketRing{
		buckets: make([]*TimeBucket, size),
		last:    time.Now(),
	}
}

// record counts one request into the open interval.
func (r *bucketRing) record(success bool) {
	r.requests.Add(1)
	if !success {
		r.failures.Add(1)
	}
}

// close ends the open interval. tmpl carries the cumulative totals.
func (r *bucketRing) close(tmpl TimeBucket) *TimeBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	reqs := r.requests.Swap(0)
	fails := r.failures.Swap(0)

	secs := now.Sub(r.last).Seconds()
	if secs <= 0 {
		secs = 1
	}

	b := tmpl
	b.Timestamp = now
	b.IntervalRequests = reqs
	b.IntervalRPS = float64(reqs) / secs
	if reqs > 0 {
		b.IntervalErrorRate = float64(fails) / float64(reqs)
	}

	r.buckets[r.head] = &b
	r.head = (r.head + 1) % len(r.buckets)
	if r.count < len(r.buckets) {
		r.count++
	}
	r.last = now
	return &b
}

// all returns the buckets oldest first.
func (r *bucketRing) all() []*TimeBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	out := make([]*TimeBucket, r.count)
	start := 0
	if r.count == len(r.buckets) {
		start = r.head
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.buckets[(start+i)%len(r.buckets)]
	}
	return out
}

// steadyRPS averages the interval rate of buckets taken in the steady phase.
func (r *bucketRing) steadyRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range r.all() {
		if b.Phase == PhaseSteady {
			sum += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

func (r *bucketRing) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets = make([]*TimeBucket, len(r.buckets))
	r.head = 0
	r.count = 0
	r.last = time.Now()
	r.requests.Store(0)
	r.failures.Store(0)
}
