package bus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-osdp/internal/pool"
	"github.com/arloliu/go-osdp/internal/task"
	"github.com/arloliu/go-osdp/logger"
	"github.com/arloliu/go-osdp/message"
	"github.com/arloliu/go-osdp/transport"
)

// boundConnections maps every transport in use to the id of the bus owning it.
var boundConnections sync.Map

// Bus polls the peripherals sharing one transport.
type Bus struct {
	id      uuid.UUID
	conn    transport.Connection
	cfg     *Config
	logger  logger.Logger
	replies *ReplyQueue
	metrics *Metrics
	status  *statusTracker

	devicesMu sync.Mutex // serializes device set mutations
	devices   *xsync.MapOf[byte, *Device]

	wake      chan struct{}
	taskMgr   *task.Manager
	pollingMu sync.Mutex // protects polling and bound
	polling   bool
	bound     bool
	shutdown  atomic.Bool

	lastSend time.Time // polling task only
}

// NewBus creates a bus over conn. A nil cfg selects the defaults of NewConfig.
//
// The bus binds conn exclusively until Close; a connection bound to another bus is
// rejected with ErrConnectionInUse. Connections are compared by identity, so
// implementations must be comparable (typically pointers).
func NewBus(ctx context.Context, conn transport.Connection, cfg *Config) (*Bus, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	if cfg == nil {
		var err error
		if cfg, err = NewConfig(); err != nil {
			return nil, err
		}
	}

	id := uuid.New()
	if _, loaded := boundConnections.LoadOrStore(conn, id); loaded {
		return nil, ErrConnectionInUse
	}

	l := cfg.logger
	if l == nil {
		l = logger.GetLogger()
	}
	l = l.With("bus", id.String())

	replies := cfg.replies
	if replies == nil {
		replies = NewReplyQueue()
	}

	b := &Bus{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		logger:  l,
		replies: replies,
		metrics: &Metrics{},
		status:  newStatusTracker(l),
		devices: xsync.NewMapOf[byte, *Device](),
		wake:    make(chan struct{}, 1),
		taskMgr: task.NewManager(ctx, l),
		bound:   true,
	}

	return b, nil
}

// ID returns the unique id of the bus.
func (b *Bus) ID() uuid.UUID { return b.id }

// Connection returns the transport of the bus.
func (b *Bus) Connection() transport.Connection { return b.conn }

// Metrics returns the bus counters.
func (b *Bus) Metrics() *Metrics { return b.metrics }

// Replies returns the queue accepted replies are pushed to.
func (b *Bus) Replies() *ReplyQueue { return b.replies }

// IsPolling reports whether the bus polls periodically rather than on demand.
func (b *Bus) IsPolling() bool { return b.cfg.IsPolling() }

// StartPolling starts the polling task. It is a no-op when the task is already running.
func (b *Bus) StartPolling() error {
	b.pollingMu.Lock()
	defer b.pollingMu.Unlock()

	if b.polling {
		return nil
	}

	if !b.bound {
		if owner, loaded := boundConnections.LoadOrStore(b.conn, b.id); loaded && owner != b.id {
			return ErrConnectionInUse
		}
		b.bound = true
	}

	b.shutdown.Store(false)
	b.lastSend = time.Time{}
	if err := b.taskMgr.Start("poll", b.poll); err != nil {
		return fmt.Errorf("bus: start polling: %w", err)
	}
	b.polling = true
	b.logger.Info("polling started", "poll_interval", b.cfg.pollInterval)

	return nil
}

// Close stops the polling task, waits for it to exit, closes the transport and releases it.
func (b *Bus) Close() error {
	b.pollingMu.Lock()
	defer b.pollingMu.Unlock()

	if b.polling {
		b.shutdown.Store(true)
		b.signal()
		b.taskMgr.Stop()
		b.taskMgr.Wait()
		b.polling = false

		if err := b.conn.Close(); err != nil {
			b.logger.Error("failed to close connection", "error", err)
		}
		b.logger.Info("polling stopped")
	}

	if b.bound {
		boundConnections.CompareAndDelete(b.conn, b.id)
		b.bound = false
	}

	return nil
}

// AddDevice configures a device, replacing any session at the same address.
// key is the secure channel base key; nil selects the default key.
func (b *Bus) AddDevice(address byte, useCRC, useSecureChannel bool, key []byte) error {
	dev, err := NewDevice(address, useCRC, useSecureChannel, key, b.cfg.offlineTimeout)
	if err != nil {
		return err
	}

	b.devicesMu.Lock()
	b.devices.Store(address, dev)
	b.devicesMu.Unlock()

	b.logger.Debug("device added", "address", address, "crc", useCRC, "secure", useSecureChannel)

	return nil
}

// RemoveDevice removes the device at address, if any.
func (b *Bus) RemoveDevice(address byte) {
	b.devicesMu.Lock()
	b.devices.Delete(address)
	b.devicesMu.Unlock()
}

// ConfiguredAddresses returns the configured addresses in ascending order.
func (b *Bus) ConfiguredAddresses() []byte {
	addrs := make([]byte, 0, b.devices.Size())
	b.devices.Range(func(address byte, _ *Device) bool {
		addrs = append(addrs, address)
		return true
	})
	slices.Sort(addrs)

	return addrs
}

// Device returns the current session at address.
func (b *Bus) Device(address byte) (*Device, bool) {
	return b.devices.Load(address)
}

func (b *Bus) mustDevice(address byte) (*Device, error) {
	dev, ok := b.devices.Load(address)
	if !ok {
		return nil, fmt.Errorf("%w: address %d", ErrDeviceNotFound, address)
	}

	return dev, nil
}

// SendCommand queues cmd for its device and wakes the polling task.
// Delivery is asynchronous; replies appear on the reply queue.
func (b *Bus) SendCommand(cmd *message.Command) error {
	if cmd == nil {
		return ErrNilCommand
	}

	dev, err := b.mustDevice(cmd.Address)
	if err != nil {
		return err
	}
	dev.Enqueue(cmd)
	b.signal()

	return nil
}

// IsOnline reports whether the device at address is connected.
func (b *Bus) IsOnline(address byte) (bool, error) {
	dev, err := b.mustDevice(address)
	if err != nil {
		return false, err
	}

	return dev.IsConnected(), nil
}

// ResetDevice restarts the session at address.
func (b *Bus) ResetDevice(address byte) error {
	dev, err := b.mustDevice(address)
	if err != nil {
		return err
	}
	b.resetDevice(dev, "requested")

	return nil
}

// SetSendingMultiMessage marks the start or end of a multi-message exchange with address.
// While set, only file transfer commands are sent to the device.
func (b *Bus) SetSendingMultiMessage(address byte, v bool) error {
	dev, err := b.mustDevice(address)
	if err != nil {
		return err
	}
	dev.SetSendingMultiMessage(v)

	return nil
}

// SetSendingMultiMessageNoSecureChannel lets a multi-message exchange with address
// bypass the secure channel. Enabling it drops the secure session.
func (b *Bus) SetSendingMultiMessageNoSecureChannel(address byte, v bool) error {
	dev, err := b.mustDevice(address)
	if err != nil {
		return err
	}

	return dev.SetSendingMultiMessageNoSecureChannel(v)
}

// SetRequestDelay withholds commands to address until t.
func (b *Bus) SetRequestDelay(address byte, t time.Time) error {
	dev, err := b.mustDevice(address)
	if err != nil {
		return err
	}
	dev.SetRequestDelay(t)

	return nil
}

func (b *Bus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// sleep waits for d; it returns false when ctx is done.
func (b *Bus) sleep(ctx context.Context, d time.Duration) bool {
	return pool.Wait(ctx, d, nil)
}

// snapshot returns the configured devices in ascending address order.
func (b *Bus) snapshot() []*Device {
	devs := make([]*Device, 0, b.devices.Size())
	b.devices.Range(func(_ byte, dev *Device) bool {
		devs = append(devs, dev)
		return true
	})
	slices.SortFunc(devs, func(x, y *Device) int { return int(x.address) - int(y.address) })

	return devs
}

// resetDevice replaces dev with a fresh session that holds off commands for the request
// delay. It returns the session now configured at the address, or nil when the device
// was removed.
func (b *Bus) resetDevice(dev *Device, reason string) *Device {
	b.devicesMu.Lock()
	defer b.devicesMu.Unlock()

	cur, ok := b.devices.Load(dev.address)
	if !ok {
		return nil
	}
	if cur != dev {
		// already replaced by AddDevice or another reset
		return cur
	}

	fresh, err := NewDevice(dev.address, dev.useCRC, dev.useSecureChannel, dev.key, b.cfg.offlineTimeout)
	if err != nil {
		b.logger.Error("failed to reset device", "address", dev.address, "error", err)
		return dev
	}
	fresh.SetRequestDelay(time.Now().Add(b.cfg.requestDelay))
	b.devices.Store(dev.address, fresh)

	b.metrics.incResetCount()
	b.logger.Info("device reset", "address", dev.address, "reason", reason)

	return fresh
}

// updateConnectionStatus reports a change of dev's connectivity and returns whether it changed.
func (b *Bus) updateConnectionStatus(dev *Device) bool {
	status := ConnectionStatus{
		IsConnected:                dev.IsConnected(),
		IsSecureSessionEstablished: dev.IsSecurityEstablished(),
	}
	if !b.status.update(dev.address, status) {
		return false
	}

	b.logger.Info("connection status changed",
		"address", dev.address,
		"connected", status.IsConnected,
		"secure", status.IsSecureSessionEstablished,
	)

	if h := b.cfg.statusHandler; h != nil {
		h(ConnectionStatusEvent{
			BusID:                      b.id,
			Address:                    dev.address,
			IsConnected:                status.IsConnected,
			IsSecureSessionEstablished: status.IsSecureSessionEstablished,
		})
	}

	return true
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrReplyTimeout)
}
