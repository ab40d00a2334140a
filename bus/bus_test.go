package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-osdp/message"
	"github.com/arloliu/go-osdp/trace"
)

func TestIdleLineDelay(t *testing.T) {
	tests := []struct {
		baud     int
		n        int
		expected time.Duration
	}{
		{9600, 1, 1041666 * time.Nanosecond},
		{9600, 2, 2083333 * time.Nanosecond},
		{115200, 10, 868055 * time.Nanosecond},
		{1, 1, 10 * time.Second},
		{0, 5, 0},
		{9600, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, IdleLineDelay(tt.baud, tt.n), "baud=%d n=%d", tt.baud, tt.n)
	}
}

func TestShouldResetOnNak(t *testing.T) {
	tests := []struct {
		name   string
		secure bool
		code   message.ErrorCode
		seq    byte
		reset  bool
	}{
		{"unexpected sequence at 0", false, message.ErrCodeUnexpectedSequenceNumber, 0, false},
		{"unexpected sequence at 1", false, message.ErrCodeUnexpectedSequenceNumber, 1, true},
		{"unexpected sequence secure at 0", true, message.ErrCodeUnexpectedSequenceNumber, 0, false},
		{"security not met, insecure", false, message.ErrCodeCommunicationSecurityNotMet, 1, false},
		{"security not met, secure", true, message.ErrCodeCommunicationSecurityNotMet, 1, true},
		{"no security block support, secure", true, message.ErrCodeDoesNotSupportSecurityBlock, 0, true},
		{"unable to process, secure", true, message.ErrCodeUnableToProcessCommand, 2, true},
		{"unknown command, secure", true, message.ErrCodeUnknownCommandCode, 2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.reset, shouldResetOnNak(tt.secure, tt.code, tt.seq))
		})
	}
}

func TestNewConfig(t *testing.T) {
	require := require.New(t)

	cfg, err := NewConfig()
	require.NoError(err)
	require.Equal(DefaultPollInterval, cfg.PollInterval())
	require.Equal(DefaultReplyTimeout, cfg.ReplyTimeout())
	require.Equal(DefaultOfflineTimeout, cfg.OfflineTimeout())
	require.True(cfg.IsPolling())

	cfg, err = NewConfig(WithPollInterval(0))
	require.NoError(err)
	require.False(cfg.IsPolling())

	_, err = NewConfig(WithReplyTimeout(0))
	require.Error(err)
	_, err = NewConfig(WithPollInterval(-time.Second))
	require.Error(err)
	_, err = NewConfig(WithLogger(nil))
	require.Error(err)
	_, err = NewConfig(WithReplyQueue(nil))
	require.Error(err)
}

func TestNewBus_ConnectionExclusive(t *testing.T) {
	require := require.New(t)

	_, err := NewBus(context.Background(), nil, nil)
	require.ErrorIs(err, ErrNilConnection)

	conn := newFakeConn(nil)
	b1, err := NewBus(context.Background(), conn, newTestConfig(t))
	require.NoError(err)

	_, err = NewBus(context.Background(), conn, newTestConfig(t))
	require.ErrorIs(err, ErrConnectionInUse)

	require.NoError(b1.Close())

	b2, err := NewBus(context.Background(), conn, newTestConfig(t))
	require.NoError(err)
	require.NotEqual(b1.ID(), b2.ID())
	require.Same(conn, b2.Connection())

	// b1 released the connection, so it cannot take it back while b2 owns it
	require.ErrorIs(b1.StartPolling(), ErrConnectionInUse)
	require.NoError(b2.Close())
}

func TestBus_AddDeviceReplaces(t *testing.T) {
	require := require.New(t)

	b := newTestBus(t, newFakeConn(nil), newTestConfig(t))

	require.NoError(b.AddDevice(3, true, false, nil))
	require.NoError(b.AddDevice(1, false, false, nil))
	first, ok := b.Device(3)
	require.True(ok)

	require.NoError(b.AddDevice(3, false, true, nil))
	require.Equal([]byte{1, 3}, b.ConfiguredAddresses())

	second, ok := b.Device(3)
	require.True(ok)
	require.NotSame(first, second)
	require.True(second.UseSecureChannel())
	require.False(second.UseCRC())

	b.RemoveDevice(3)
	b.RemoveDevice(42)
	require.Equal([]byte{1}, b.ConfiguredAddresses())

	require.Error(b.AddDevice(5, true, true, []byte{1, 2, 3}), "invalid key length")
}

func TestBus_UnknownAddress(t *testing.T) {
	require := require.New(t)

	b := newTestBus(t, newFakeConn(nil), newTestConfig(t))

	require.ErrorIs(b.SendCommand(message.NewPollCommand(9)), ErrDeviceNotFound)
	require.ErrorIs(b.SendCommand(nil), ErrNilCommand)
	_, err := b.IsOnline(9)
	require.ErrorIs(err, ErrDeviceNotFound)
	require.ErrorIs(b.ResetDevice(9), ErrDeviceNotFound)
	require.ErrorIs(b.SetSendingMultiMessage(9, true), ErrDeviceNotFound)
	require.ErrorIs(b.SetSendingMultiMessageNoSecureChannel(9, true), ErrDeviceNotFound)
	require.ErrorIs(b.SetRequestDelay(9, time.Now()), ErrDeviceNotFound)
}

func TestBus_ResetDeviceCarriesRequestDelay(t *testing.T) {
	require := require.New(t)

	b := newTestBus(t, newFakeConn(nil), newTestConfig(t, WithRequestDelay(time.Second)))
	key := []byte("0123456789ABCDEF")
	require.NoError(b.AddDevice(2, true, true, key))
	old, _ := b.Device(2)
	old.ValidReplyReceived(0)

	require.NoError(b.ResetDevice(2))

	fresh, ok := b.Device(2)
	require.True(ok)
	require.NotSame(old, fresh)
	require.Equal(byte(0), fresh.Sequence())
	require.Equal(key, fresh.Key())
	require.True(fresh.UseCRC())
	require.True(fresh.RequestDelay().After(time.Now().Add(500 * time.Millisecond)))
	require.Equal(uint64(1), b.Metrics().ResetCount.Load())
}

func TestBus_PollPlainDevice(t *testing.T) {
	require := require.New(t)

	pd := newFakePD(t, 1, nil)
	conn := newFakeConn(pd.handle)

	var mu sync.Mutex
	var events []ConnectionStatusEvent
	var traced []trace.Entry
	cfg := newTestConfig(t,
		WithStatusHandler(func(evt ConnectionStatusEvent) {
			mu.Lock()
			events = append(events, evt)
			mu.Unlock()
		}),
		WithTracer(func(e trace.Entry) {
			mu.Lock()
			traced = append(traced, e)
			mu.Unlock()
		}),
	)

	b := newTestBus(t, conn, cfg)
	require.NoError(b.AddDevice(1, true, false, nil))
	require.NoError(b.StartPolling())
	require.NoError(b.StartPolling(), "idempotent")

	require.Eventually(func() bool {
		online, err := b.IsOnline(1)
		return err == nil && online
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(b.ID(), events[0].BusID)
	require.Equal(byte(1), events[0].Address)
	require.True(events[0].IsConnected)
	require.False(events[0].IsSecureSessionEstablished)
	require.GreaterOrEqual(len(traced), 2)
	require.Equal(trace.Output, traced[0].Direction)
	require.Equal(message.StartOfMessage, traced[0].Data[0], "driver byte is not traced")
	require.Equal(trace.Input, traced[1].Direction)
	mu.Unlock()

	reply, err := b.Replies().Take(context.Background())
	require.NoError(err)
	require.Equal(message.ReplyAck, reply.Type)
	require.Equal(b.ID(), reply.BusID)
	require.Equal(message.CmdPoll, reply.Command.Code)

	require.NoError(b.Close())
	require.False(conn.IsOpen())
	require.NoError(b.Close(), "idempotent")
}

func TestBus_SecureHandshake(t *testing.T) {
	require := require.New(t)

	pd := newFakePD(t, 1, nil)
	conn := newFakeConn(pd.handle)

	var mu sync.Mutex
	var events []ConnectionStatusEvent
	cfg := newTestConfig(t, WithStatusHandler(func(evt ConnectionStatusEvent) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	}))

	b := newTestBus(t, conn, cfg)
	require.NoError(b.AddDevice(1, true, true, nil))
	require.NoError(b.StartPolling())

	require.Eventually(func() bool {
		online, _ := b.IsOnline(1)
		dev, _ := b.Device(1)
		return online && dev.IsSecurityEstablished()
	}, 3*time.Second, 5*time.Millisecond)

	// a few secure polls after establishment
	require.Eventually(func() bool {
		return b.Metrics().ReplyRecvCount.Load() >= 6
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(b.Close())

	codes := pd.commands()
	require.Equal(message.CmdPoll, codes[0])
	require.Equal(message.CmdChallenge, codes[1])
	require.Equal(message.CmdServerCryptogram, codes[2])
	require.Zero(b.Metrics().MACFailureCount.Load())
	require.Zero(b.Metrics().ResetCount.Load())

	var types []message.ReplyType
	for {
		reply, ok := b.Replies().Pop()
		if !ok {
			break
		}
		types = append(types, reply.Type)
		if reply.Type == message.ReplyAck && len(types) > 3 {
			require.True(reply.IsSecure)
		}
	}
	require.Equal([]message.ReplyType{message.ReplyAck, message.ReplyCrypticData, message.ReplyInitialRMac}, types[:3])

	mu.Lock()
	defer mu.Unlock()
	last := events[len(events)-1]
	require.True(last.IsConnected)
	require.True(last.IsSecureSessionEstablished)
}

func TestBus_OnDemandSendCommand(t *testing.T) {
	require := require.New(t)

	pd := newFakePD(t, 4, nil)
	conn := newFakeConn(pd.handle)
	b := newTestBus(t, conn, newTestConfig(t, WithPollInterval(0)))
	require.False(b.IsPolling())

	require.NoError(b.AddDevice(4, false, false, nil))
	require.NoError(b.StartPolling())

	time.Sleep(20 * time.Millisecond)
	require.Zero(conn.writeCount(), "no polls in on-demand mode")

	cmd := message.NewCommand(4, message.CmdIDReport, []byte{0x00})
	require.NoError(b.SendCommand(cmd))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := b.Replies().Take(ctx)
	require.NoError(err)
	require.Same(cmd, reply.Command)
	require.Equal([]message.CommandCode{message.CmdIDReport}, pd.commands())
}

func TestBus_OpenFailureStatusEvents(t *testing.T) {
	require := require.New(t)

	conn := newFakeConn(nil)
	conn.openFails = 2

	var events []ConnectionStatusEvent
	cfg := newTestConfig(t, WithStatusHandler(func(evt ConnectionStatusEvent) {
		events = append(events, evt)
	}))
	b := newTestBus(t, conn, cfg)
	require.NoError(b.AddDevice(1, false, false, nil))
	require.NoError(b.AddDevice(2, false, false, nil))

	// device 1 was online before the transport failed
	dev1, _ := b.Device(1)
	dev1.ValidReplyReceived(0)
	require.True(b.updateConnectionStatus(dev1))
	events = nil

	ctx := context.Background()
	require.True(b.poll(ctx))
	require.True(b.poll(ctx))
	require.Equal(2, conn.openCalls)

	require.Len(events, 1, "one event per actual transition")
	require.Equal(byte(1), events[0].Address)
	require.False(events[0].IsConnected)
	require.Equal(uint64(2), b.Metrics().OpenFailureCount.Load())

	dev2, _ := b.Device(2)
	require.True(dev2.RequestDelay().After(time.Now().Add(-time.Second)))
}

func TestBus_CloseWithoutPolling(t *testing.T) {
	conn := newFakeConn(nil)
	b, err := NewBus(context.Background(), conn, nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}
