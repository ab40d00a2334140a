package bus

import "errors"

var (
	// ErrDeviceNotFound is returned for an address that is not configured on the bus.
	ErrDeviceNotFound = errors.New("bus: device not found")
	// ErrConnectionInUse is returned when a transport is already bound to another bus.
	ErrConnectionInUse = errors.New("bus: connection already in use by another bus")
	// ErrNilConnection is returned by NewBus without a transport.
	ErrNilConnection = errors.New("bus: connection cannot be nil")
	// ErrNilCommand is returned by SendCommand without a command.
	ErrNilCommand = errors.New("bus: command cannot be nil")
	// ErrReplyTimeout is wrapped by the errors of every framing stage that times out.
	ErrReplyTimeout = errors.New("bus: reply timeout")
	// ErrInvalidFrameLength is returned for a reply header carrying an impossible length.
	ErrInvalidFrameLength = errors.New("bus: invalid reply frame length")
	// ErrPlainTextReply is returned for a plain-text reply on an established secure channel.
	ErrPlainTextReply = errors.New("bus: plain text reply on secure channel")
	// ErrUnexpectedAddress is returned for a reply from an address the command was not sent to.
	ErrUnexpectedAddress = errors.New("bus: reply from unexpected address")
)
