package bus

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/atomic"

	"github.com/arloliu/go-osdp/internal/queue"
	"github.com/arloliu/go-osdp/message"
	"github.com/arloliu/go-osdp/securechannel"
)

// Device is the session state of one peripheral on a bus.
//
// Sequence, retry slot and secure channel handshake state are only touched by the polling
// task. Commands may be enqueued and the delay and multi-message flags set from any goroutine.
type Device struct {
	address          byte
	useCRC           bool
	useSecureChannel bool
	key              []byte // nil selects the default key
	offlineTimeout   time.Duration

	sequence    byte
	channel     *securechannel.Channel // nil without a secure channel
	commands    queue.Queue[*message.Command]
	retry       *message.Command
	synthesized *message.Command // last command generated by nextCommand

	requestDelay         *atomic.Time
	lastValidReply       *atomic.Time
	multiMessage         *atomic.Bool
	multiMessageNoSecure *atomic.Bool
}

var _ message.Session = (*Device)(nil)

// NewDevice creates a device session. key is only used with a secure channel; nil selects
// the default key.
func NewDevice(address byte, useCRC, useSecureChannel bool, key []byte, offlineTimeout time.Duration) (*Device, error) {
	d := &Device{
		address:              address,
		useCRC:               useCRC,
		useSecureChannel:     useSecureChannel,
		offlineTimeout:       offlineTimeout,
		commands:             queue.NewLockFreeQueue[*message.Command](),
		requestDelay:         atomic.NewTime(time.Time{}),
		lastValidReply:       atomic.NewTime(time.Time{}),
		multiMessage:         atomic.NewBool(false),
		multiMessageNoSecure: atomic.NewBool(false),
	}
	if key != nil {
		d.key = bytes.Clone(key)
	}

	if useSecureChannel {
		ch, err := securechannel.New(d.key)
		if err != nil {
			return nil, fmt.Errorf("bus: device %d: %w", address, err)
		}
		d.channel = ch
	}

	return d, nil
}

// Address returns the device address.
func (d *Device) Address() byte { return d.address }

// UseCRC implements message.Session.
func (d *Device) UseCRC() bool { return d.useCRC }

// UseSecureChannel reports whether the device requires a secure channel.
func (d *Device) UseSecureChannel() bool { return d.useSecureChannel }

// Key returns a copy of the configured secure channel key, nil for the default key.
func (d *Device) Key() []byte {
	if d.key == nil {
		return nil
	}

	return bytes.Clone(d.key)
}

// Sequence implements message.Session.
func (d *Device) Sequence() byte { return d.sequence }

// IsSecurityEstablished implements message.Session.
func (d *Device) IsSecurityEstablished() bool {
	return d.channel != nil && d.channel.IsEstablished()
}

// IsSecurityInitialized reports whether the session keys of the handshake are derived.
func (d *Device) IsSecurityInitialized() bool {
	return d.channel != nil && d.channel.IsInitialized()
}

// IsConnected reports whether a valid reply arrived within the offline timeout and, for a
// secure device, the secure channel is established (or bypassed by a multi-message exchange).
func (d *Device) IsConnected() bool {
	last := d.lastValidReply.Load()
	if last.IsZero() || time.Since(last) > d.offlineTimeout {
		return false
	}

	return d.multiMessageNoSecure.Load() || !d.useSecureChannel || d.IsSecurityEstablished()
}

// RequestDelay returns the time before which no command is sent to the device.
func (d *Device) RequestDelay() time.Time { return d.requestDelay.Load() }

// SetRequestDelay withholds commands until t.
func (d *Device) SetRequestDelay(t time.Time) { d.requestDelay.Store(t) }

// IsSendingMultiMessage reports whether a multi-message exchange is in progress.
func (d *Device) IsSendingMultiMessage() bool { return d.multiMessage.Load() }

// SetSendingMultiMessage marks the start or the end of a multi-message exchange.
func (d *Device) SetSendingMultiMessage(v bool) { d.multiMessage.Store(v) }

// IsSendingMultiMessageNoSecureChannel reports whether a multi-message exchange bypasses
// the secure channel.
func (d *Device) IsSendingMultiMessageNoSecureChannel() bool { return d.multiMessageNoSecure.Load() }

// SetSendingMultiMessageNoSecureChannel enables or disables the secure channel bypass.
// Enabling it drops the current secure session.
func (d *Device) SetSendingMultiMessageNoSecureChannel(v bool) error {
	d.multiMessageNoSecure.Store(v)
	if v {
		return d.CreateNewRandomNumber()
	}

	return nil
}

// Enqueue adds cmd to the pending command queue. It is safe for concurrent use.
func (d *Device) Enqueue(cmd *message.Command) {
	d.commands.Enqueue(cmd)
}

// PendingCommands returns the number of queued commands.
func (d *Device) PendingCommands() int {
	return d.commands.Length()
}

// RetryCommand hands cmd back so it is returned first by the next NextCommand call.
func (d *Device) RetryCommand(cmd *message.Command) {
	d.retry = cmd
}

// NextCommand returns the command to send next, or nil when there is nothing to send.
//
// The retry slot comes first. When polling, a fresh session is polled to learn its
// sequence, and a secure device is walked through the handshake before queued commands
// are released. Otherwise the oldest queued command is returned, or a poll when polling.
func (d *Device) NextCommand(isPolling bool) *message.Command {
	cmd, _ := d.nextCommand(isPolling)
	return cmd
}

// nextCommand is NextCommand that also reports whether the command was generated by the
// session (poll or handshake) rather than queued by a caller.
func (d *Device) nextCommand(isPolling bool) (*message.Command, bool) {
	if cmd := d.retry; cmd != nil {
		d.retry = nil
		return cmd, cmd == d.synthesized
	}

	if isPolling {
		if d.sequence == 0 {
			return d.synthesize(message.NewPollCommand(d.address)), true
		}
		if d.useSecureChannel && !d.multiMessageNoSecure.Load() {
			if !d.channel.IsInitialized() {
				cmd := message.NewChallengeCommand(d.address, d.channel.ServerRandomNumber(), d.channel.IsDefaultKey())
				return d.synthesize(cmd), true
			}
			if !d.channel.IsEstablished() {
				cmd := message.NewServerCryptogramCommand(d.address, d.channel.ServerCryptogram(), d.channel.IsDefaultKey())
				return d.synthesize(cmd), true
			}
		}
	}

	if cmd, ok := d.commands.Dequeue(); ok {
		return cmd, false
	}

	if isPolling {
		return d.synthesize(message.NewPollCommand(d.address)), true
	}

	return nil, false
}

func (d *Device) synthesize(cmd *message.Command) *message.Command {
	d.synthesized = cmd
	return cmd
}

// ValidReplyReceived records a valid reply with sequence seq and advances the sequence
// counter (1, 2, 3, 1, ...).
func (d *Device) ValidReplyReceived(seq byte) {
	d.sequence = seq%3 + 1
	d.lastValidReply.Store(time.Now())
}

// InitializeSecureChannel feeds an osdp_CCRYPT reply into the handshake.
func (d *Device) InitializeSecureChannel(reply *message.Reply) error {
	if d.channel == nil {
		return message.ErrSecurityUnavailable
	}

	const cryptogramOffset = securechannel.ClientUIDSize + securechannel.RandomSize
	if len(reply.Data) < cryptogramOffset+securechannel.KeySize {
		return fmt.Errorf("%w: CCRYPT data is %d bytes", message.ErrInvalidReplyData, len(reply.Data))
	}

	return d.channel.Initialize(
		reply.Data[:securechannel.ClientUIDSize],
		reply.Data[securechannel.ClientUIDSize:cryptogramOffset],
		reply.Data[cryptogramOffset:cryptogramOffset+securechannel.KeySize],
	)
}

// ValidateSecureChannelEstablishment feeds an osdp_RMAC_I reply into the handshake.
func (d *Device) ValidateSecureChannelEstablishment(reply *message.Reply) error {
	if d.channel == nil {
		return message.ErrSecurityUnavailable
	}

	return d.channel.Establish(reply.Data)
}

// CreateNewRandomNumber draws a new server random number, dropping the secure session.
func (d *Device) CreateNewRandomNumber() error {
	if d.channel == nil {
		return nil
	}

	return d.channel.CreateNewRandomNumber()
}

// GenerateMAC implements message.Session.
func (d *Device) GenerateMAC(msg []byte, isCommand bool) ([]byte, error) {
	if d.channel == nil {
		return nil, message.ErrSecurityUnavailable
	}

	return d.channel.GenerateMAC(msg, isCommand)
}

// EncryptData implements message.Session.
func (d *Device) EncryptData(data []byte) ([]byte, error) {
	if d.channel == nil {
		return nil, message.ErrSecurityUnavailable
	}

	return d.channel.EncryptData(data)
}

// DecryptData implements message.Session.
func (d *Device) DecryptData(data []byte) ([]byte, error) {
	if d.channel == nil {
		return nil, message.ErrSecurityUnavailable
	}

	return d.channel.DecryptData(data)
}
