// Package event defines the messages the executor loop consumes and the queue
// that carries them.
package event

import (
	"github.com/djkazic/cpuminer-go/internal/types"
)

// Event is one of the executor's message types. The set is closed: only
// types in this package implement it.
type Event interface {
	Name() string
	event()
}

// Sink accepts events from any goroutine without blocking.
type Sink interface {
	Push(Event)
}

// SockReady signals that the pool connection is open and login can start.
type SockReady struct{}

// SockError signals that the pool connection ended. Silent is set for
// planned disconnects, which are not logged. Epoch is the session epoch of
// the connection that ended; an older epoch means a newer connection is
// already up.
type SockError struct {
	Message string
	Silent  bool
	Epoch   uint64
}

// PoolJob carries a validated job pushed by the pool.
type PoolJob struct {
	Job types.PoolJob
}

// Result carries a winning nonce from a worker.
type Result struct {
	Result types.JobResult
}

// PerfTick is emitted on every clock tick.
type PerfTick struct{}

// EvalPoolChoice asks the executor to check the pool connection.
type EvalPoolChoice struct{}

// HashrateLoop prints the hashrate report and schedules the next one.
type HashrateLoop struct{}

// UserHashrate requests the hashrate report. If Reply is non-nil the text is
// sent there instead of the console.
type UserHashrate struct {
	Reply chan<- string
}

// UserResults requests the result report.
type UserResults struct {
	Reply chan<- string
}

// UserConnStat requests the connection report.
type UserConnStat struct {
	Reply chan<- string
}

func (SockReady) Name() string      { return "sock_ready" }
func (SockError) Name() string      { return "sock_error" }
func (PoolJob) Name() string        { return "pool_job" }
func (Result) Name() string         { return "result" }
func (PerfTick) Name() string       { return "perf_tick" }
func (EvalPoolChoice) Name() string { return "eval_pool_choice" }
func (HashrateLoop) Name() string   { return "hashrate_loop" }
func (UserHashrate) Name() string   { return "user_hashrate" }
func (UserResults) Name() string    { return "user_results" }
func (UserConnStat) Name() string   { return "user_connstat" }

func (SockReady) event()      {}
func (SockError) event()      {}
func (PoolJob) event()        {}
func (Result) event()         {}
func (PerfTick) event()       {}
func (EvalPoolChoice) event() {}
func (HashrateLoop) event()   {}
func (UserHashrate) event()   {}
func (UserResults) event()    {}
func (UserConnStat) event()   {}
