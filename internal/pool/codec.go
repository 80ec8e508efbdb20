package pool

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const (
	// writeTimeout is the maximum time to wait for a write to complete.
	writeTimeout = 10 * time.Second

	// maxLineSize is the receive buffer size. A line that does not fit is a
	// fatal error for the connection.
	maxLineSize = 4096
)

var fastJSON = sonic.ConfigDefault

// ErrDataOverflow is returned when a line exceeds the receive buffer.
var ErrDataOverflow = errors.New("RECEIVE error: data overflow")

// Codec reads and writes newline-delimited JSON over a pool connection.
// Reads happen only on the receive goroutine; writes are serialized.
type Codec struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

// NewCodec creates a codec for the given connection.
func NewCodec(conn net.Conn) *Codec {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)
	return &Codec{
		conn:    conn,
		scanner: scanner,
	}
}

// ReadLine returns the next line without its terminator. The slice is only
// valid until the next call.
func (c *Codec) ReadLine() ([]byte, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrDataOverflow
		}
		if err != nil {
			return nil, fmt.Errorf("RECEIVE error: %w", err)
		}
		return nil, errors.New("RECEIVE error: connection closed by pool")
	}
	return c.scanner.Bytes(), nil
}

// Send encodes v as one JSON line.
func (c *Codec) Send(v any) error {
	data, err := fastJSON.Marshal(v)
	if err != nil {
		return fmt.Errorf("SEND error: encode: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("SEND error: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
