// Package api serves the miner's HTTP surface: Prometheus metrics and the
// three text reports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"
	"github.com/djkazic/cpuminer-go/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultReplyTimeout = 5 * time.Second

	// Per-client report budget.
	reportRate  = rate.Limit(2)
	reportBurst = 5

	// Limiters unused for limiterIdle are dropped; a sweep runs at most once
	// per limiterIdle.
	limiterIdle = time.Minute
)

type clientLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// Server answers report requests by queueing a report event and waiting for
// the executor's reply.
type Server struct {
	sink         event.Sink
	gatherer     prometheus.Gatherer
	logger       *zap.Logger
	replyTimeout time.Duration

	now       func() time.Time
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	lastSweep time.Time

	srv *http.Server
	ln  net.Listener
}

// New creates a server. Report events are pushed to sink and metrics are
// gathered from g.
func New(sink event.Sink, g prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		sink:         sink,
		gatherer:     g,
		logger:       logger.Named("api"),
		replyTimeout: DefaultReplyTimeout,
		now:          time.Now,
		limiters:     make(map[string]*clientLimiter),
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(s.gatherer))
	mux.HandleFunc("GET /report/hashrate", s.report(func(reply chan<- string) event.Event {
		return event.UserHashrate{Reply: reply}
	}))
	mux.HandleFunc("GET /report/results", s.report(func(reply chan<- string) event.Event {
		return event.UserResults{Reply: reply}
	}))
	mux.HandleFunc("GET /report/connection", s.report(func(reply chan<- string) event.Event {
		return event.UserConnStat{Reply: reply}
	}))
	return mux
}

func (s *Server) limiter(remote string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= limiterIdle {
		for h, l := range s.limiters {
			if now.Sub(l.lastSeen) >= limiterIdle {
				delete(s.limiters, h)
			}
		}
		s.lastSweep = now
	}

	l, ok := s.limiters[host]
	if !ok {
		l = &clientLimiter{Limiter: rate.NewLimiter(reportRate, reportBurst)}
		s.limiters[host] = l
	}
	l.lastSeen = now
	return l.Limiter
}

func (s *Server) report(build func(chan<- string) event.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter(r.RemoteAddr).AllowN(s.now(), 1) {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}

		reply := make(chan string, 1)
		s.sink.Push(build(reply))

		timer := time.NewTimer(s.replyTimeout)
		defer timer.Stop()

		select {
		case text := <-reply:
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprint(w, text)
		case <-timer.C:
			http.Error(w, "report timed out", http.StatusGatewayTimeout)
		case <-r.Context().Done():
		}
	}
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	s.logger.Info("http listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
