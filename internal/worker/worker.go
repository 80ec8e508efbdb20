// Package worker runs the hash loop on each mining thread.
package worker

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/kernel"
	"github.com/djkazic/cpuminer-go/internal/types"
	"github.com/djkazic/cpuminer-go/internal/work"
	"github.com/djkazic/cpuminer-go/pkg/util"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval bounds how long a stalled worker sleeps between
	// generation checks.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultNonceChunk is how many nonces a worker reserves at a time.
	DefaultNonceChunk = 4096

	// statsEvery is the number of batches between counter snapshots. Must be
	// a power of two.
	statsEvery = 8
)

// Config describes one worker.
type Config struct {
	ID          int
	BatchFactor int
	// Affinity is the CPU to pin to, or -1 for none.
	Affinity     int
	PollInterval time.Duration
	NonceChunk   uint32
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NonceChunk == 0 {
		c.NonceChunk = DefaultNonceChunk
	}
	if c.NonceChunk < uint32(c.BatchFactor) {
		c.NonceChunk = uint32(c.BatchFactor)
	}
}

// Worker hashes the current job in batches of N lanes and pushes every
// winning nonce to its sink.
type Worker struct {
	cfg    Config
	state  *work.State
	batch  *kernel.Batch
	sink   event.Sink
	logger *zap.Logger
	nowMs  func() uint64

	hashCount atomic.Uint64
	stampMs   atomic.Uint64
	abandoned atomic.Uint64

	quit     atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	jobGen uint64
}

// New creates a worker. batch.Size() is the worker's batching factor.
func New(cfg Config, state *work.State, batch *kernel.Batch, sink event.Sink, logger *zap.Logger) *Worker {
	cfg.BatchFactor = batch.Size()
	cfg.applyDefaults()
	return &Worker{
		cfg:    cfg,
		state:  state,
		batch:  batch,
		sink:   sink,
		logger: logger.With(zap.Int("worker", cfg.ID)),
		nowMs:  nowMs,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

// ID returns the worker index.
func (w *Worker) ID() int { return w.cfg.ID }

// BatchFactor returns the number of lanes hashed per kernel call.
func (w *Worker) BatchFactor() int { return w.cfg.BatchFactor }

// Affinity returns the pinned CPU, or -1.
func (w *Worker) Affinity() int { return w.cfg.Affinity }

// Stats returns the last snapshot of the hash counter and its timestamp in
// milliseconds. The counter only includes finished batches; the timestamp is
// zero until the worker starts hashing.
func (w *Worker) Stats() (hashes, stampMs uint64) {
	return w.hashCount.Load(), w.stampMs.Load()
}

// Abandoned returns the number of digests that did not meet the target.
func (w *Worker) Abandoned() uint64 {
	return w.abandoned.Load()
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Stop asks the worker to exit after its current batch.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.quit.Store(true)
		close(w.stopCh)
	})
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)

	if w.cfg.Affinity >= 0 {
		runtime.LockOSThread()
		if err := setAffinity(w.cfg.Affinity); err != nil {
			w.logger.Warn("setting affinity failed", zap.Int("cpu", w.cfg.Affinity), zap.Error(err))
		}
	}

	n := w.cfg.BatchFactor
	lanes := make([][]byte, n)
	nonces := make([]uint32, n)
	out := make([]kernel.Digest, n)

	cur := w.consume(lanes)

	var (
		iCount    uint64
		next      uint32
		remaining uint32
	)

	for !w.quit.Load() {
		if cur.Stalled {
			if !w.waitForJob() {
				return
			}
			cur = w.consume(lanes)
			continue
		}

		remaining = 0
		for w.state.CurrentGeneration() == w.jobGen && !w.quit.Load() {
			if iCount&(statsEvery-1) == 0 {
				w.hashCount.Store(iCount * uint64(n))
				w.stampMs.Store(w.nowMs())
			}
			iCount++

			if remaining < uint32(n) {
				next = w.state.ReserveNonceRange(w.cfg.NonceChunk)
				remaining = w.cfg.NonceChunk
			}
			for i := range n {
				nonces[i] = next
				types.PutNonce(lanes[i], next)
				next++
			}
			remaining -= uint32(n)

			w.batch.Hash(lanes, out)

			for i := range n {
				if util.MeetsTarget(out[i], cur.Target) {
					w.sink.Push(event.Result{Result: types.JobResult{
						JobID:    cur.JobID,
						Nonce:    nonces[i],
						Digest:   out[i],
						WorkerID: w.cfg.ID,
					}})
				} else {
					w.abandoned.Add(1)
				}
			}

			runtime.Gosched()
		}

		cur = w.consume(lanes)
	}
}

// consume picks up the current work and prepares one blob copy per lane.
func (w *Worker) consume(lanes [][]byte) *types.MinerWork {
	gen, cur := w.state.Snapshot()
	w.jobGen = gen
	w.state.MarkConsumed()

	if !cur.Stalled {
		for i := range lanes {
			lanes[i] = cur.WithNonce(lanes[i], 0)
		}
		w.logger.Debug("consumed work", zap.String("job_id", cur.JobID), zap.Uint64("generation", gen))
	}
	return cur
}

// waitForJob sleeps until the generation moves past the one this worker last
// consumed. It returns false if the worker was stopped first.
func (w *Worker) waitForJob() bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()

	for {
		changed := w.state.Changed()
		if w.state.CurrentGeneration() != w.jobGen {
			return true
		}
		if w.quit.Load() {
			return false
		}

		select {
		case <-changed:
		case <-w.stopCh:
			return false
		case <-timer.C:
			timer.Reset(w.cfg.PollInterval)
		}
	}
}
