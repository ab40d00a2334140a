package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// DefaultDialTimeout bounds TCPConnection.Open.
const DefaultDialTimeout = 5 * time.Second

// TCPConnection is a Connection to a serial-over-TCP gateway.
//
// The baud rate is nominal: it only drives the bus timing formulas.
type TCPConnection struct {
	address     string
	baudRate    int
	dialTimeout time.Duration

	mu   sync.RWMutex
	conn net.Conn
}

var _ Connection = (*TCPConnection)(nil)

// NewTCPConnection creates a TCP connection to address ("host:port") with a nominal baud rate.
func NewTCPConnection(address string, baudRate int) *TCPConnection {
	return &TCPConnection{address: address, baudRate: baudRate, dialTimeout: DefaultDialTimeout}
}

// Open implements Connection.
func (c *TCPConnection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyOpen
	}

	conn, err := net.DialTimeout("tcp", c.address, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.address, err)
	}
	c.conn = conn

	return nil
}

// Close implements Connection.
func (c *TCPConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil

	return err
}

// IsOpen implements Connection.
func (c *TCPConnection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn != nil
}

// BaudRate implements Connection.
func (c *TCPConnection) BaudRate() int {
	return c.baudRate
}

// Address returns the remote address.
func (c *TCPConnection) Address() string {
	return c.address
}

// Write implements Connection.
func (c *TCPConnection) Write(ctx context.Context, data []byte) error {
	conn := c.getConn()
	if conn == nil {
		return ErrNotOpen
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return c.fail(conn, err)
	}
	if _, err := conn.Write(data); err != nil {
		return c.fail(conn, err)
	}

	return nil
}

// Read implements Connection.
func (c *TCPConnection) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	conn := c.getConn()
	if conn == nil {
		return 0, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, c.fail(conn, err)
	}

	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		}
		return n, c.fail(conn, err)
	}

	return n, nil
}

func (c *TCPConnection) getConn() net.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.conn
}

// fail closes conn after an unrecoverable error so that IsOpen reports false and the
// bus reopens the connection.
func (c *TCPConnection) fail(conn net.Conn, err error) error {
	c.mu.Lock()
	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	return fmt.Errorf("transport: %s: %w", c.address, err)
}
