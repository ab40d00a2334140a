package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	return ln, accepted
}

func TestTCPConnection_ReadWrite(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ln, accepted := listen(t)
	conn := NewTCPConnection(ln.Addr().String(), 9600)
	require.False(conn.IsOpen())
	require.Equal(9600, conn.BaudRate())

	require.NoError(conn.Open())
	require.True(conn.IsOpen())
	require.ErrorIs(conn.Open(), ErrAlreadyOpen)
	defer conn.Close()

	peer := <-accepted
	defer peer.Close()

	require.NoError(conn.Write(ctx, []byte{0xFF, 0x53}))
	buf := make([]byte, 2)
	_, err := peer.Read(buf)
	require.NoError(err)
	require.Equal([]byte{0xFF, 0x53}, buf)

	_, err = peer.Write([]byte{0x53, 0x81})
	require.NoError(err)
	n, err := conn.Read(ctx, buf, time.Second)
	require.NoError(err)
	require.Equal(2, n)
	require.Equal([]byte{0x53, 0x81}, buf[:n])
}

func TestTCPConnection_ReadTimeout(t *testing.T) {
	require := require.New(t)

	ln, accepted := listen(t)
	conn := NewTCPConnection(ln.Addr().String(), 9600)
	require.NoError(conn.Open())
	defer conn.Close()
	peer := <-accepted
	defer peer.Close()

	start := time.Now()
	n, err := conn.Read(context.Background(), make([]byte, 1), 50*time.Millisecond)
	require.NoError(err)
	require.Zero(n)
	require.GreaterOrEqual(time.Since(start), 40*time.Millisecond)
	require.True(conn.IsOpen())
}

func TestTCPConnection_PeerClosed(t *testing.T) {
	require := require.New(t)

	ln, accepted := listen(t)
	conn := NewTCPConnection(ln.Addr().String(), 9600)
	require.NoError(conn.Open())
	defer conn.Close()

	peer := <-accepted
	require.NoError(peer.Close())

	_, err := conn.Read(context.Background(), make([]byte, 1), time.Second)
	require.Error(err)
	require.False(conn.IsOpen())

	_, err = conn.Read(context.Background(), make([]byte, 1), time.Second)
	require.ErrorIs(err, ErrNotOpen)
	require.ErrorIs(conn.Write(context.Background(), []byte{1}), ErrNotOpen)
}

func TestTCPConnection_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	conn := NewTCPConnection(addr, 9600)
	require.Error(t, conn.Open())
	require.False(t, conn.IsOpen())
	require.NoError(t, conn.Close())
}

func TestSerialConnection_NotOpen(t *testing.T) {
	require := require.New(t)

	conn := NewSerialConnection("/dev/does-not-exist", 9600)
	require.False(conn.IsOpen())
	require.Equal(9600, conn.BaudRate())
	require.Equal("/dev/does-not-exist", conn.PortName())
	require.Error(conn.Open())

	_, err := conn.Read(context.Background(), make([]byte, 1), time.Millisecond)
	require.ErrorIs(err, ErrNotOpen)
	require.ErrorIs(conn.Write(context.Background(), []byte{1}), ErrNotOpen)
	require.NoError(conn.Close())
}
