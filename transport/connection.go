// Package transport provides the byte-stream connections a bus talks over.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotOpen is returned by Read and Write on a closed connection.
	ErrNotOpen = errors.New("transport: connection not open")
	// ErrAlreadyOpen is returned by Open on an open connection.
	ErrAlreadyOpen = errors.New("transport: connection already open")
)

// Connection is a half-duplex byte stream to a set of peripherals.
//
// Implementations must allow Close to be called concurrently with a blocked Read.
type Connection interface {
	// Open opens the underlying port or socket.
	Open() error
	// Close closes the underlying port or socket. Closing a closed connection is a no-op.
	Close() error
	// IsOpen reports whether the connection is open.
	IsOpen() bool
	// BaudRate returns the line speed used for timing calculations.
	BaudRate() int
	// Write writes all of data.
	Write(ctx context.Context, data []byte) error
	// Read reads up to len(buf) bytes, waiting at most timeout for the first byte.
	// It returns (0, nil) when the timeout elapses without data.
	Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
}
