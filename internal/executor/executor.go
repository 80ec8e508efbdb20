// Package executor runs the miner's event loop. A single goroutine consumes
// every event (pool socket changes, new jobs, worker results, clock ticks and
// report requests), so the pool session, the job state and all tallies have
// exactly one writer.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/metrics"
	"github.com/djkazic/cpuminer-go/internal/pool"
	"github.com/djkazic/cpuminer-go/internal/telemetry"
	"github.com/djkazic/cpuminer-go/internal/types"
	"github.com/djkazic/cpuminer-go/internal/work"

	"github.com/hako/durafmt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultTick       = 500 * time.Millisecond
	DefaultNetRetry   = 30 * time.Second
	DefaultMaxBackoff = 5 * time.Minute
	DefaultAutohash   = 60 * time.Second

	// aggregateWindowMs is the window of the aggregate rate tracked for the
	// highest-hashrate figure.
	aggregateWindowMs = 10000
)

// ErrGaveUp is returned by Run when the pool could not be reached within the
// configured number of connect attempts.
var ErrGaveUp = errors.New("pool is over the give up limit")

// PoolClient is the pool session as seen by the executor.
type PoolClient interface {
	Address() string
	Connect() error
	Login() error
	Submit(res *types.JobResult) error
	Disconnect(quiet bool)
	State() pool.State
	IsRunning() bool
	IsLoggedIn() bool
	HaveSockError() bool
	CallError() string
	CurrentDiff() uint64
	CurrentJob() (types.PoolJob, bool)
	Motd() (string, bool)
	ConnectAttempts() int
	Epoch() uint64
}

// Worker is the part of a worker the executor samples on every tick.
type Worker interface {
	Stats() (hashes, stampMs uint64)
	Abandoned() uint64
}

// Config controls timing, reconnect policy and reporting.
type Config struct {
	// Tick is the clock interval. It must divide one second.
	Tick time.Duration
	// NetRetry is the wait after the first failed connect; it doubles per
	// further failure up to MaxBackoff.
	NetRetry   time.Duration
	MaxBackoff time.Duration
	// GiveUpLimit stops the miner once this many connects in a row failed.
	// Zero retries forever.
	GiveUpLimit int
	// ConnectRate and ConnectBurst bound connect attempts independently of
	// the backoff.
	ConnectRate  rate.Limit
	ConnectBurst int

	Verbose   int
	Autohash  time.Duration
	PrintMotd bool
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.NetRetry <= 0 {
		c.NetRetry = DefaultNetRetry
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.ConnectRate == 0 {
		c.ConnectRate = rate.Every(time.Second)
	}
	if c.ConnectBurst <= 0 {
		c.ConnectBurst = 1
	}
	if c.Autohash <= 0 {
		c.Autohash = DefaultAutohash
	}
}

type timedEvent struct {
	ev        event.Event
	ticksLeft int
}

// Executor owns the pool session lifecycle, the job state and the result
// tallies. All handlers run on the goroutine calling Run.
type Executor struct {
	cfg     Config
	logger  *zap.Logger
	queue   *event.Queue
	state   *work.State
	pool    PoolClient
	workers []Worker
	tele    *telemetry.Telemetry
	out     io.Writer
	now     func() time.Time
	limiter *rate.Limiter

	timedMu sync.Mutex
	timed   []timedEvent

	started     time.Time
	perfCount   uint64
	highest     float64
	lastConnect time.Time
	current     *types.MinerWork

	poolDiff   uint64
	poolHashes uint64
	connTime   time.Time
	callTimes  []uint16
	results    []resultTally
	topDiff    [topResults]uint64
	sockLog    []sockError
}

// New creates an executor. Reports are written to out.
func New(cfg Config, queue *event.Queue, state *work.State, p PoolClient, workers []Worker, out io.Writer, logger *zap.Logger) *Executor {
	cfg.applyDefaults()
	e := &Executor{
		cfg:     cfg,
		logger:  logger.Named("executor"),
		queue:   queue,
		state:   state,
		pool:    p,
		workers: workers,
		tele:    telemetry.New(len(workers), telemetry.DefaultBucketSize),
		out:     out,
		now:     time.Now,
		results: []resultTally{{msg: resultOK}},
	}
	e.limiter = rate.NewLimiter(cfg.ConnectRate, cfg.ConnectBurst)
	e.started = e.now()
	e.connTime = e.started
	return e
}

// Push queues an event for the loop. It never blocks.
func (e *Executor) Push(ev event.Event) {
	e.queue.Push(ev)
}

// Run processes events until ctx is cancelled or the miner gives up on the
// pool, in which case the final report is printed and ErrGaveUp returned.
func (e *Executor) Run(ctx context.Context) error {
	if ms := e.cfg.Tick.Milliseconds(); ms <= 0 || 1000%ms != 0 {
		return fmt.Errorf("tick %v does not divide one second", e.cfg.Tick)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.started = e.now()
	go e.clock(ctx)

	e.evalPoolChoice()
	if e.cfg.Verbose >= 4 {
		e.pushTimed(event.HashrateLoop{}, e.cfg.Autohash)
	}

	for {
		ev, err := e.queue.Pop(ctx)
		if err != nil {
			e.pool.Disconnect(true)
			e.logger.Info("stopped", zap.String("uptime", e.uptime()))
			return nil
		}
		if err := e.handle(ev); err != nil {
			e.pool.Disconnect(true)
			e.logger.Error("giving up on pool",
				zap.String("pool", e.pool.Address()),
				zap.Int("attempts", e.pool.ConnectAttempts()),
				zap.String("uptime", e.uptime()))
			e.print(e.ResultReport())
			e.print(e.ConnectionReport())
			return err
		}
	}
}

func (e *Executor) uptime() string {
	return durafmt.Parse(e.now().Sub(e.started)).LimitFirstN(2).String()
}

func (e *Executor) print(report string) {
	fmt.Fprintln(e.out, report)
}

// handle dispatches one event. Only the give-up check returns an error.
func (e *Executor) handle(ev event.Event) error {
	metrics.EventsHandled.WithLabelValues(ev.Name()).Inc()

	switch ev := ev.(type) {
	case event.SockReady:
		e.onSockReady()
	case event.SockError:
		e.onSockError(ev)
	case event.PoolJob:
		e.onPoolJob(ev.Job)
	case event.Result:
		e.onResult(ev.Result)
	case event.EvalPoolChoice:
		return e.evalPoolChoice()
	case event.PerfTick:
		e.onPerfTick()
	case event.HashrateLoop:
		e.print(e.HashrateReport())
		e.pushTimed(event.HashrateLoop{}, e.cfg.Autohash)
	case event.UserHashrate:
		e.reply(ev.Reply, e.HashrateReport())
	case event.UserResults:
		e.reply(ev.Reply, e.ResultReport())
	case event.UserConnStat:
		e.reply(ev.Reply, e.ConnectionReport())
	default:
		e.logger.Warn("unknown event", zap.String("event", ev.Name()))
	}
	return nil
}

func (e *Executor) reply(ch chan<- string, report string) {
	if ch == nil {
		e.print(report)
		return
	}
	select {
	case ch <- report:
	default:
		e.logger.Debug("report requester went away")
	}
}

// evalPoolChoice connects when there is no connection, logs in when the
// connection is up but login has not happened, and otherwise does nothing.
func (e *Executor) evalPoolChoice() error {
	if e.pool.IsRunning() && e.pool.IsLoggedIn() {
		return nil
	}

	if !e.pool.IsRunning() {
		attempts := e.pool.ConnectAttempts()
		if e.cfg.GiveUpLimit > 0 && attempts > e.cfg.GiveUpLimit {
			return ErrGaveUp
		}

		now := e.now()
		if wait := pool.Backoff(attempts, e.cfg.NetRetry, e.cfg.MaxBackoff); now.Sub(e.lastConnect) < wait {
			return nil
		}
		if !e.limiter.AllowN(now, 1) {
			return nil
		}
		e.lastConnect = now

		e.logger.Info("connecting to pool",
			zap.String("pool", e.pool.Address()),
			zap.Int("attempt", attempts+1))
		if err := e.pool.Connect(); err != nil {
			e.logSocketError(err.Error())
		}
		return nil
	}

	if e.pool.State() != pool.Connected {
		return nil
	}
	if !e.login() {
		return nil
	}
	job, ok := e.pool.CurrentJob()
	if !ok {
		e.pool.Disconnect(false)
		return nil
	}
	e.onPoolJob(job)
	return nil
}

func (e *Executor) onSockReady() {
	if e.pool.IsLoggedIn() {
		return
	}
	e.logger.Info("pool connected, logging in", zap.String("pool", e.pool.Address()))
	e.login()
}

// login logs in and starts a fresh set of per-connection statistics. A
// rejection that did not already fail the socket is logged and the
// connection dropped.
func (e *Executor) login() bool {
	err := e.pool.Login()
	if err == nil {
		e.resetStats()
		return true
	}
	if e.pool.HaveSockError() {
		return false
	}

	msg := err.Error()
	var ce *pool.CallError
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	e.logSocketError(msg)
	e.pool.Disconnect(false)
	return false
}

// onSockError tears down the connection the error belongs to. An error from
// an older epoch is only logged: its connection is gone and a newer one may
// already be dialing.
func (e *Executor) onSockError(ev event.SockError) {
	if ev.Epoch == e.pool.Epoch() {
		e.pool.Disconnect(true)
	} else {
		e.logger.Debug("stale socket error",
			zap.Uint64("epoch", ev.Epoch),
			zap.Uint64("current", e.pool.Epoch()))
	}
	if !ev.Silent {
		e.logSocketError(ev.Message)
	}
}

func (e *Executor) onPoolJob(job types.PoolJob) {
	if !e.pool.IsRunning() {
		return
	}

	w, err := job.Work()
	if err != nil {
		e.logger.Warn("dropping invalid job", zap.String("job_id", job.JobID), zap.Error(err))
		return
	}
	if diff := e.pool.CurrentDiff(); diff != e.poolDiff {
		e.poolDiff = diff
		metrics.PoolDifficulty.Set(float64(diff))
		e.logger.Info("difficulty changed", zap.Uint64("diff", diff))
	}

	// The login job arrives both as an event and through CurrentJob. A
	// retarget of the current job keeps searching from the cursor.
	if c := e.current; c != nil && c.JobID == w.JobID && bytes.Equal(c.Blob, w.Blob) {
		if c.Target == w.Target {
			return
		}
		job.SavedNonce = e.state.Nonce()
	}

	e.state.SwitchWork(w, job.SavedNonce)
	e.current = w
	e.logger.Debug("new job", zap.String("job_id", w.JobID), zap.Uint64("generation", e.state.CurrentGeneration()))
}

func (e *Executor) onResult(res types.JobResult) {
	if !e.pool.IsRunning() || !e.pool.IsLoggedIn() {
		e.logResultError(resultNetworkError)
		return
	}

	start := e.now()
	err := e.pool.Submit(&res)
	elapsed := e.now().Sub(start)

	ms := elapsed.Milliseconds()
	if ms > math.MaxUint16 {
		ms = math.MaxUint16
	}
	if ms < 0 {
		ms = 0
	}
	e.callTimes = append(e.callTimes, uint16(ms))
	metrics.PoolCallLatency.Observe(elapsed.Seconds())

	if err == nil {
		e.logResultOK(res.Difficulty())
		metrics.SharesAccepted.Inc()
		e.logger.Info("result accepted",
			zap.String("job_id", res.JobID),
			zap.Int("worker", res.WorkerID),
			zap.Int64("ms", ms))
		return
	}

	var ce *pool.CallError
	if !errors.As(err, &ce) || e.pool.HaveSockError() {
		e.logResultError(resultNetworkError)
		return
	}

	e.logger.Warn("result rejected", zap.String("job_id", res.JobID), zap.String("reason", ce.Message))
	if len(ce.Message) >= 15 && strings.EqualFold(ce.Message[:15], "Unauthenticated") {
		e.logger.Warn("pool dropped the session; difficulty may be too high or the pool timeout too low")
		e.pool.Disconnect(false)
	}
	e.logResultError(ce.Message)
}

func (e *Executor) onPerfTick() {
	var abandoned uint64
	for i, w := range e.workers {
		hashes, stamp := w.Stats()
		e.tele.Push(i, hashes, stamp)
		abandoned += w.Abandoned()
	}
	metrics.HashesAbandoned.Set(float64(abandoned))
	metrics.UptimeSeconds.Set(e.now().Sub(e.started).Seconds())

	if e.perfCount&0xF == 0 {
		e.updateAggregate()
	}
	e.perfCount++
}

// updateAggregate sums the 10s worker rates. A worker without a finite rate
// voids the sum for this tick.
func (e *Executor) updateAggregate() {
	nowMs := e.nowMs()
	var total float64
	for i := range e.workers {
		r := e.tele.RateAt(nowMs, aggregateWindowMs, i)
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return
		}
		total += r
	}
	metrics.Hashrate.WithLabelValues("10s").Set(total)
	if total > e.highest {
		e.highest = total
		metrics.HighestHashrate.Set(total)
	}
}

func (e *Executor) nowMs() uint64 {
	return uint64(e.now().UnixMilli())
}

func (e *Executor) resetStats() {
	e.callTimes = e.callTimes[:0]
	e.connTime = e.now()
	e.poolHashes = 0
	e.poolDiff = 0
}
