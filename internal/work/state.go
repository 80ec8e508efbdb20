package work

import (
	"sync"
	"sync/atomic"

	"github.com/djkazic/cpuminer-go/internal/types"

	"go.uber.org/zap"
)

// State is the job shared by the executor and all workers.
//
// Only the executor calls SwitchWork. Any number of workers call
// ReserveNonceRange, CurrentGeneration and Snapshot concurrently; none of
// those take a lock.
type State struct {
	logger *zap.Logger

	work       atomic.Pointer[types.MinerWork]
	generation atomic.Uint64
	nonce      atomic.Uint32
	consumed   atomic.Uint64

	changedMu sync.Mutex
	changed   chan struct{}
}

// NewState creates a state holding stalled work at generation 0.
func NewState(logger *zap.Logger) *State {
	s := &State{
		logger:  logger,
		changed: make(chan struct{}),
	}
	s.work.Store(types.StalledWork())
	return s
}

// SwitchWork publishes new work. The nonce cursor restarts at savedNonce and
// the generation is bumped exactly once, after the work is visible.
func (s *State) SwitchWork(w *types.MinerWork, savedNonce uint32) {
	s.work.Store(w)
	s.nonce.Store(savedNonce)
	gen := s.generation.Add(1)

	s.changedMu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.changedMu.Unlock()

	s.logger.Debug("work switched",
		zap.String("job_id", w.JobID),
		zap.Uint64("generation", gen),
		zap.Uint32("saved_nonce", savedNonce),
	)
}

// ReserveNonceRange hands out the half-open range [start, start+count).
// Ranges are disjoint within a generation; the cursor wraps at 2^32.
func (s *State) ReserveNonceRange(count uint32) uint32 {
	return s.nonce.Add(count) - count
}

// Nonce returns the next nonce the cursor will hand out.
func (s *State) Nonce() uint32 {
	return s.nonce.Load()
}

// CurrentGeneration returns the number of switches so far.
func (s *State) CurrentGeneration() uint64 {
	return s.generation.Load()
}

// Snapshot returns the generation and the work belonging to it. The
// generation is loaded first so that a caller never pairs old work with a
// generation it has not yet seen.
func (s *State) Snapshot() (uint64, *types.MinerWork) {
	gen := s.generation.Load()
	return gen, s.work.Load()
}

// Changed returns a channel that is closed by the next SwitchWork.
func (s *State) Changed() <-chan struct{} {
	s.changedMu.Lock()
	defer s.changedMu.Unlock()
	return s.changed
}

// MarkConsumed records that a worker picked up the current work.
func (s *State) MarkConsumed() {
	s.consumed.Add(1)
}

// Consumed returns how many times workers picked up work.
func (s *State) Consumed() uint64 {
	return s.consumed.Load()
}
