// Package pool implements the client side of the pool line protocol: one
// connection, login, job notifications and result submission.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/metrics"
	"github.com/djkazic/cpuminer-go/internal/types"

	"go.uber.org/zap"
)

const (
	DefaultCallTimeout = 10 * time.Second
	DefaultDialTimeout = 10 * time.Second
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrCallTimeout    = errors.New("CALL error: Timeout while waiting for a reply")
	ErrConnectionLost = errors.New("connection lost during call")
	ErrAlreadyRunning = errors.New("session already running")
)

// CallError is a rejection reported by the pool.
type CallError struct {
	Message string
}

func (e *CallError) Error() string {
	return "pool rejected call: " + e.Message
}

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	LoggedIn
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case LoggedIn:
		return "logged in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds the pool endpoint and credentials.
type Config struct {
	Address     string
	Login       string
	Pass        string
	Agent       string
	CallTimeout time.Duration
	DialTimeout time.Duration
}

type callResponse struct {
	result  json.RawMessage
	errMsg  string
	isError bool
	lost    bool
}

type pendingCall struct {
	done chan callResponse
}

// Session is one pool connection and its protocol state.
//
// At most one call (Login or Submit) may be in flight at a time; callers are
// expected to be a single goroutine, the executor. The receive goroutine is
// the only reader of the connection and the only writer of job state.
type Session struct {
	cfg    Config
	sink   event.Sink
	logger *zap.Logger
	dial   func(ctx context.Context, network, addr string) (net.Conn, error)

	mu              sync.Mutex
	state           State
	codec           *Codec
	cancelDial      context.CancelFunc
	recvDone        chan struct{}
	closing         bool
	quietClose      bool
	haveSockErr     bool
	sockErr         string
	minerID         string
	extMotd         bool
	motd            string
	jobDiff         uint64
	currentJob      *types.PoolJob
	connectAttempts int
	epoch           uint64
	connectTime     time.Time
	disconnectTime  time.Time

	callMu  sync.Mutex
	slotMu  sync.Mutex
	pending *pendingCall
	callErr string
}

// NewSession creates a disconnected session that reports to sink.
func NewSession(cfg Config, sink event.Sink, logger *zap.Logger) *Session {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Session{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("pool"),
		dial:   d.DialContext,
	}
}

// Address returns the configured pool address.
func (s *Session) Address() string {
	return s.cfg.Address
}

// Connect starts a connection attempt. It returns once the address is
// resolved; the dial and all reads happen on a new receive goroutine, which
// pushes SockReady on success and SockError when the connection ends.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.recvDone != nil {
		select {
		case <-s.recvDone:
			s.recvDone = nil
		default:
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
	}
	s.extMotd = false
	s.motd = ""
	s.haveSockErr = false
	s.sockErr = ""
	s.jobDiff = 0
	s.minerID = ""
	s.connectAttempts++
	s.connectTime = time.Now()
	s.mu.Unlock()

	addr, err := DialAddress(s.cfg.Address)
	if err != nil {
		s.mu.Lock()
		s.disconnectTime = time.Now()
		s.mu.Unlock()
		metrics.SocketErrors.Inc()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.state = Connecting
	s.cancelDial = cancel
	s.recvDone = done
	s.disconnectTime = time.Time{}
	s.mu.Unlock()

	go s.recvLoop(ctx, addr, done, epoch)
	return nil
}

func (s *Session) recvLoop(ctx context.Context, addr string, done chan struct{}, epoch uint64) {
	defer close(done)
	defer s.finish(epoch)

	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		s.failUnlessClosing("CONNECT error: " + err.Error())
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	codec := NewCodec(conn)
	s.codec = codec
	s.state = Connected
	s.mu.Unlock()

	s.logger.Debug("connected", zap.String("addr", addr))
	s.sink.Push(event.SockReady{})

	for {
		line, err := codec.ReadLine()
		if err != nil {
			s.failUnlessClosing(err.Error())
			codec.Close()
			return
		}
		if len(line) == 0 {
			continue
		}
		s.logger.Debug("recv", zap.ByteString("line", line))

		if err := s.processLine(line); err != nil {
			s.setSockError(err.Error())
			codec.Close()
			return
		}
	}
}

// finish runs when the receive goroutine exits: it reports the first error,
// releases any waiting caller and resets the session. The SockError carries
// the epoch of the connection that ended.
func (s *Session) finish(epoch uint64) {
	s.mu.Lock()
	msg := s.sockErr
	silent := s.quietClose || (s.closing && !s.haveSockErr)
	if s.haveSockErr && !s.quietClose {
		s.disconnectTime = time.Now()
	} else {
		s.disconnectTime = time.Time{}
	}
	s.state = Disconnected
	s.codec = nil
	s.currentJob = nil
	if s.cancelDial != nil {
		s.cancelDial()
		s.cancelDial = nil
	}
	s.mu.Unlock()

	metrics.Connected.Set(0)
	s.sink.Push(event.SockError{Message: msg, Silent: silent, Epoch: epoch})

	s.slotMu.Lock()
	if s.pending != nil {
		select {
		case s.pending.done <- callResponse{lost: true}:
		default:
		}
	}
	s.slotMu.Unlock()
}

func (s *Session) processLine(line []byte) error {
	msg, err := ParseLine(line)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case JobPush:
		s.acceptJob(msg.Job, msg.MotdUpdate)
		return nil
	case CallResponse:
		s.slotMu.Lock()
		pc := s.pending
		s.slotMu.Unlock()
		if pc == nil {
			return &types.ProtocolError{Kind: types.Unexpected, Reason: "Unexpected call response"}
		}
		resp := callResponse{result: msg.Result, errMsg: msg.ErrorMsg, isError: msg.IsError}
		select {
		case pc.done <- resp:
		default:
		}
		return nil
	default:
		return &types.ProtocolError{Kind: types.Unexpected, Reason: "Unexpected message"}
	}
}

// acceptJob stores a validated job and forwards it to the executor.
func (s *Session) acceptJob(job *types.PoolJob, motdUpdate bool) {
	s.mu.Lock()
	s.jobDiff = job.Difficulty()
	if motdUpdate {
		s.motd = job.Motd
	}
	stored := *job
	s.currentJob = &stored
	s.mu.Unlock()

	metrics.JobsReceived.Inc()
	s.sink.Push(event.PoolJob{Job: *job})
}

func (s *Session) setSockError(msg string) {
	metrics.SocketErrors.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveSockErr {
		s.haveSockErr = true
		s.sockErr = msg
	}
}

// failUnlessClosing records a transport error unless the connection is being
// closed locally, in which case the error is a consequence of the close.
func (s *Session) failUnlessClosing(msg string) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if !closing {
		s.setSockError(msg)
	}
}

// Disconnect closes the connection and waits for the receive goroutine to
// exit. quiet marks the close as planned so no error is reported.
func (s *Session) Disconnect(quiet bool) {
	s.mu.Lock()
	done := s.recvDone
	if done == nil {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.quietClose = quiet
	if s.cancelDial != nil {
		s.cancelDial()
	}
	codec := s.codec
	s.mu.Unlock()

	if codec != nil {
		codec.Close()
	}
	<-done

	s.mu.Lock()
	s.closing = false
	s.quietClose = false
	if s.recvDone == done {
		s.recvDone = nil
	}
	s.mu.Unlock()
	s.logger.Debug("disconnected", zap.Bool("quiet", quiet))
}

// call sends req and waits for the matching response.
func (s *Session) call(req *Request) (json.RawMessage, error) {
	s.callMu.Lock()
	defer s.callMu.Unlock()

	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	if codec == nil {
		return nil, ErrNotConnected
	}

	pc := &pendingCall{done: make(chan callResponse, 1)}
	s.slotMu.Lock()
	s.pending = pc
	s.callErr = ""
	s.slotMu.Unlock()
	defer func() {
		s.slotMu.Lock()
		s.pending = nil
		s.slotMu.Unlock()
	}()

	if err := codec.Send(req); err != nil {
		s.setSockError(err.Error())
		s.Disconnect(false)
		return nil, err
	}

	timer := time.NewTimer(s.cfg.CallTimeout)
	defer timer.Stop()

	var resp callResponse
	select {
	case resp = <-pc.done:
	case <-timer.C:
		if s.HaveSockError() {
			return nil, ErrConnectionLost
		}
		s.setSockError(ErrCallTimeout.Error())
		s.Disconnect(false)
		return nil, ErrCallTimeout
	}

	if resp.lost || s.HaveSockError() {
		return nil, ErrConnectionLost
	}
	if resp.isError {
		s.slotMu.Lock()
		s.callErr = resp.errMsg
		s.slotMu.Unlock()
		return nil, &CallError{Message: resp.errMsg}
	}
	return resp.result, nil
}

// Login authenticates with the pool and adopts the job it returns.
func (s *Session) Login() error {
	metrics.Logins.Inc()
	req := LoginRequest(s.cfg.Login, s.cfg.Pass, s.cfg.Agent)

	result, err := s.call(req)
	if err != nil {
		return err
	}

	login, err := parseLoginResult(result)
	if err != nil {
		s.setSockError(err.Error())
		s.Disconnect(false)
		return err
	}

	job, motdUpdate, err := parseJob(login.Job)
	if err != nil {
		s.setSockError(err.Error())
		s.Disconnect(false)
		return err
	}

	s.mu.Lock()
	s.minerID = login.MinerID
	s.extMotd = login.Motd
	s.mu.Unlock()

	s.acceptJob(job, motdUpdate)

	s.mu.Lock()
	s.state = LoggedIn
	s.connectAttempts = 0
	s.mu.Unlock()

	metrics.Connected.Set(1)
	s.logger.Info("logged in", zap.String("miner_id", login.MinerID), zap.Bool("motd", login.Motd))
	return nil
}

// Submit sends a result. A nil error means the pool accepted it; a
// *CallError carries the pool's rejection text.
func (s *Session) Submit(res *types.JobResult) error {
	metrics.Submits.Inc()
	s.mu.Lock()
	minerID := s.minerID
	s.mu.Unlock()

	_, err := s.call(SubmitRequest(minerID, res))
	return err
}

// State returns the connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a receive goroutine is active.
func (s *Session) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvDone != nil && s.state != Disconnected
}

// IsLoggedIn reports whether login completed on the current connection.
func (s *Session) IsLoggedIn() bool {
	return s.State() == LoggedIn
}

// HaveSockError reports whether the current connection recorded an error.
func (s *Session) HaveSockError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveSockErr
}

// SockError returns the first error recorded on the current connection.
func (s *Session) SockError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sockErr
}

// CallError returns the pool's message for the last rejected call.
func (s *Session) CallError() string {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	return s.callErr
}

// CurrentDiff returns the difficulty of the last job received.
func (s *Session) CurrentDiff() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobDiff
}

// CurrentJob returns the last job received on this connection.
func (s *Session) CurrentJob() (types.PoolJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentJob == nil {
		return types.PoolJob{}, false
	}
	return *s.currentJob, true
}

// Motd returns the pool's message of the day if the pool supports it and
// sent one.
func (s *Session) Motd() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.extMotd || s.motd == "" {
		return "", false
	}
	return s.motd, true
}

// MinerID returns the id the pool assigned at login.
func (s *Session) MinerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minerID
}

// ConnectAttempts returns the number of connects since the last login.
func (s *Session) ConnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectAttempts
}

// Epoch identifies the most recent connection attempt. It increases on every
// Connect that starts a receive goroutine.
func (s *Session) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// SinceDisconnect returns how long ago the connection failed, or 0 if it
// did not fail or was closed on purpose.
func (s *Session) SinceDisconnect() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnectTime.IsZero() {
		return 0
	}
	return time.Since(s.disconnectTime)
}
