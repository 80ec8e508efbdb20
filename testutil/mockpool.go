package testutil

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

// PoolRequest is a call received by MockPool.
type PoolRequest struct {
	Method string            `json:"method"`
	ID     uint64            `json:"id"`
	Params map[string]string `json:"params"`
}

// MockPool is a loopback pool server speaking the line protocol.
type MockPool struct {
	t  *testing.T
	ln net.Listener

	mu       sync.Mutex
	conns    []net.Conn
	requests []PoolRequest
	accepted int

	// LoginResult is the raw JSON result returned for login.
	LoginResult string
	// Error overrides: when set, the call is answered with this message.
	LoginErr  string
	SubmitErr string
	// Silent suppresses all call responses.
	Silent bool
}

// NewMockPool starts a pool on 127.0.0.1 and stops it when the test ends.
func NewMockPool(t *testing.T) *MockPool {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	m := &MockPool{
		t:           t,
		ln:          ln,
		LoginResult: LoginResultJSON("miner-1", "job-1", "motd"),
	}
	go m.acceptLoop()
	t.Cleanup(m.Close)
	return m
}

// Addr returns host:port of the listener.
func (m *MockPool) Addr() string {
	return m.ln.Addr().String()
}

// Close stops the listener and drops every connection.
func (m *MockPool) Close() {
	m.ln.Close()
	m.DropConns()
}

// DropConns closes all client connections while keeping the listener.
func (m *MockPool) DropConns() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Accepted returns the number of connections accepted so far.
func (m *MockPool) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

// Requests returns the calls received so far.
func (m *MockPool) Requests() []PoolRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PoolRequest(nil), m.requests...)
}

// WaitRequests blocks until n calls were received or fails the test.
func (m *MockPool) WaitRequests(n int, timeout time.Duration) []PoolRequest {
	m.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		reqs := m.Requests()
		if len(reqs) >= n {
			return reqs
		}
		if time.Now().After(deadline) {
			m.t.Fatalf("got %d pool requests, want %d", len(reqs), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Send writes a raw line to every connected client.
func (m *MockPool) Send(line string) {
	m.mu.Lock()
	conns := append([]net.Conn(nil), m.conns...)
	m.mu.Unlock()
	for _, c := range conns {
		fmt.Fprintf(c, "%s\n", line)
	}
}

// PushJob sends a job notification to every connected client.
func (m *MockPool) PushJob(jobID, blob, target string) {
	m.Send(JobPushLine(jobID, blob, target))
}

func (m *MockPool) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.accepted++
		m.mu.Unlock()
		go m.serve(conn)
	}
}

func (m *MockPool) serve(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req PoolRequest
		if err := sonic.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		m.mu.Lock()
		m.requests = append(m.requests, req)
		silent := m.Silent
		loginResult, loginErr, submitErr := m.LoginResult, m.LoginErr, m.SubmitErr
		m.mu.Unlock()

		if silent {
			continue
		}

		var reply string
		switch req.Method {
		case "login":
			if loginErr != "" {
				reply = errorReply(req.ID, loginErr)
			} else {
				reply = fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":null,"result":%s}`, req.ID, loginResult)
			}
		case "submit":
			if submitErr != "" {
				reply = errorReply(req.ID, submitErr)
			} else {
				reply = fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":null,"result":{"status":"OK"}}`, req.ID)
			}
		default:
			reply = errorReply(req.ID, "Unknown method")
		}
		fmt.Fprintf(conn, "%s\n", reply)
	}
}

func errorReply(id uint64, msg string) string {
	return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":{"code":-1,"message":%q}}`, id, msg)
}

// SetLoginErr sets LoginErr under the pool's lock.
func (m *MockPool) SetLoginErr(msg string) {
	m.mu.Lock()
	m.LoginErr = msg
	m.mu.Unlock()
}

// SetSubmitErr sets SubmitErr under the pool's lock.
func (m *MockPool) SetSubmitErr(msg string) {
	m.mu.Lock()
	m.SubmitErr = msg
	m.mu.Unlock()
}

// SetSilent sets Silent under the pool's lock.
func (m *MockPool) SetSilent(silent bool) {
	m.mu.Lock()
	m.Silent = silent
	m.mu.Unlock()
}

// SetLoginResult sets LoginResult under the pool's lock.
func (m *MockPool) SetLoginResult(raw string) {
	m.mu.Lock()
	m.LoginResult = raw
	m.mu.Unlock()
}
