package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/djkazic/cpuminer-go/internal/event"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

// replySink answers report events the way the executor does.
type replySink struct {
	silent bool
}

func (s *replySink) Push(ev event.Event) {
	if s.silent {
		return
	}
	switch ev := ev.(type) {
	case event.UserHashrate:
		ev.Reply <- "HASHRATE REPORT - CPU\n"
	case event.UserResults:
		ev.Reply <- "RESULT REPORT\n"
	case event.UserConnStat:
		ev.Reply <- "CONNECTION REPORT\n"
	}
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestReports(t *testing.T) {
	s := New(&replySink{}, prometheus.NewRegistry(), testLogger())
	h := s.Handler()

	tests := []struct {
		path string
		want string
	}{
		{"/report/hashrate", "HASHRATE REPORT"},
		{"/report/results", "RESULT REPORT"},
		{"/report/connection", "CONNECTION REPORT"},
	}
	for _, tt := range tests {
		code, body := get(t, h, tt.path)
		if code != http.StatusOK || !strings.HasPrefix(body, tt.want) {
			t.Errorf("GET %s = %d %q", tt.path, code, body)
		}
	}
}

func TestReportTimeout(t *testing.T) {
	s := New(&replySink{silent: true}, prometheus.NewRegistry(), testLogger())
	s.replyTimeout = 20 * time.Millisecond

	if code, _ := get(t, s.Handler(), "/report/results"); code != http.StatusGatewayTimeout {
		t.Errorf("code = %d, want 504", code)
	}
}

func TestReportRateLimit(t *testing.T) {
	s := New(&replySink{}, prometheus.NewRegistry(), testLogger())
	h := s.Handler()

	limited := false
	for i := 0; i < reportBurst+5; i++ {
		if code, _ := get(t, h, "/report/hashrate"); code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst never limited")
	}

	// Another client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/report/hashrate", nil)
	req.RemoteAddr = "192.0.2.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client code = %d", rec.Code)
	}
}

func TestIdleLimitersDropped(t *testing.T) {
	s := New(&replySink{}, prometheus.NewRegistry(), testLogger())
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	s.limiter("192.0.2.1:1000")
	s.limiter("192.0.2.2:1000")
	now = now.Add(30 * time.Second)
	s.limiter("192.0.2.2:1001")

	now = now.Add(45 * time.Second)
	s.limiter("192.0.2.3:1000")

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.limiters) != 2 {
		t.Fatalf("limiters = %d, want 2", len(s.limiters))
	}
	if _, ok := s.limiters["192.0.2.1"]; ok {
		t.Error("idle client kept")
	}
	if _, ok := s.limiters["192.0.2.2"]; !ok {
		t.Error("recent client dropped")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := New(&replySink{}, reg, testLogger())
	code, body := get(t, s.Handler(), "/metrics")
	if code != http.StatusOK || !strings.Contains(body, "test_total 1") {
		t.Errorf("GET /metrics = %d %q", code, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(&replySink{}, prometheus.NewRegistry(), testLogger())
	req := httptest.NewRequest(http.MethodPost, "/report/results", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestStartShutdown(t *testing.T) {
	s := New(&replySink{}, prometheus.NewRegistry(), testLogger())
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/report/connection")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(string(body), "CONNECTION REPORT") {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
}
