// Package telemetry keeps recent hash counter samples for each worker and
// turns them into hash rates.
package telemetry

import (
	"math"
	"time"
)

// DefaultBucketSize is the number of samples kept per worker.
const DefaultBucketSize = 4096

type sample struct {
	count   uint64
	stampMs uint64
}

type ring struct {
	buf    []sample
	head   int
	filled int
}

// Telemetry holds one ring of samples per worker. It is owned by the executor
// and is not safe for concurrent use.
type Telemetry struct {
	rings []ring
	now   func() uint64
}

// New creates telemetry for threads workers keeping bucketSize samples each.
func New(threads, bucketSize int) *Telemetry {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	t := &Telemetry{
		rings: make([]ring, threads),
		now:   func() uint64 { return uint64(time.Now().UnixMilli()) },
	}
	for i := range t.rings {
		t.rings[i].buf = make([]sample, bucketSize)
	}
	return t
}

// Threads returns the number of workers tracked.
func (t *Telemetry) Threads() int {
	return len(t.rings)
}

// Push records a worker's counter snapshot, overwriting the oldest sample
// once the ring is full.
func (t *Telemetry) Push(thread int, count, stampMs uint64) {
	r := &t.rings[thread]
	r.buf[r.head] = sample{count: count, stampMs: stampMs}
	r.head = (r.head + 1) % len(r.buf)
	if r.filled < len(r.buf) {
		r.filled++
	}
}

// Rate returns the hash rate of thread over the last windowMs, in hashes per
// second. It returns NaN when fewer than two samples fall in the window.
func (t *Telemetry) Rate(windowMs uint64, thread int) float64 {
	return t.RateAt(t.now(), windowMs, thread)
}

// RateAt is Rate evaluated at the given time.
func (t *Telemetry) RateAt(nowMs, windowMs uint64, thread int) float64 {
	r := &t.rings[thread]
	if r.filled < 2 {
		return math.NaN()
	}

	var newest, oldest sample
	found := 0
	for i := 0; i < r.filled; i++ {
		idx := (r.head - 1 - i + len(r.buf)) % len(r.buf)
		s := r.buf[idx]
		if nowMs > s.stampMs && nowMs-s.stampMs > windowMs {
			break
		}
		if found == 0 {
			newest = s
		}
		oldest = s
		found++
	}

	if found < 2 || newest.stampMs <= oldest.stampMs {
		return math.NaN()
	}

	hashes := float64(newest.count) - float64(oldest.count)
	seconds := float64(newest.stampMs-oldest.stampMs) / 1000.0
	return hashes / seconds
}
