package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConnection is a Connection over a local serial port (RS-485 adapter).
type SerialConnection struct {
	portName string
	baudRate int

	mu   sync.RWMutex
	port serial.Port
}

var _ Connection = (*SerialConnection)(nil)

// NewSerialConnection creates a serial connection for portName at baudRate, 8N1.
func NewSerialConnection(portName string, baudRate int) *SerialConnection {
	return &SerialConnection{portName: portName, baudRate: baudRate}
}

// Open implements Connection.
func (c *SerialConnection) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		return ErrAlreadyOpen
	}

	mode := &serial.Mode{
		BaudRate: c.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(c.portName, mode)
	if err != nil {
		return fmt.Errorf("transport: open %s: %w", c.portName, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return fmt.Errorf("transport: reset input buffer of %s: %w", c.portName, err)
	}

	c.port = port

	return nil
}

// Close implements Connection.
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil

	return err
}

// IsOpen implements Connection.
func (c *SerialConnection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.port != nil
}

// BaudRate implements Connection.
func (c *SerialConnection) BaudRate() int {
	return c.baudRate
}

// PortName returns the serial device path.
func (c *SerialConnection) PortName() string {
	return c.portName
}

// Write implements Connection. The write is drained to the line before returning.
func (c *SerialConnection) Write(ctx context.Context, data []byte) error {
	port := c.getPort()
	if port == nil {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return fmt.Errorf("transport: write %s: %w", c.portName, err)
		}
		data = data[n:]
	}

	return port.Drain()
}

// Read implements Connection.
func (c *SerialConnection) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	port := c.getPort()
	if port == nil {
		return 0, ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		return 0, fmt.Errorf("transport: set read timeout on %s: %w", c.portName, err)
	}

	// go.bug.st/serial returns (0, nil) when the read timeout elapses.
	n, err := port.Read(buf)
	if err != nil {
		return n, fmt.Errorf("transport: read %s: %w", c.portName, err)
	}

	return n, nil
}

func (c *SerialConnection) getPort() serial.Port {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.port
}
