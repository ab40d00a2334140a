package message

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLength is the number of leading bytes needed to learn a frame's length.
	HeaderLength = 4

	// MinFrameLength is the shortest valid frame: header, CTRL, CODE and a checksum.
	MinFrameLength = HeaderLength + 3

	// MaxFrameLength bounds the length field accepted by the framing engine.
	MaxFrameLength = 1440

	macSize = 4

	ctrlSequenceMask byte = 0x03
	ctrlCRCFlag      byte = 0x04
	ctrlSCBFlag      byte = 0x08
)

// Sentinel errors for the frame codec.
var (
	ErrFrameTooShort       = errors.New("message: frame too short")
	ErrFrameTooLong        = errors.New("message: frame exceeds maximum length")
	ErrInvalidStart        = errors.New("message: invalid start of message")
	ErrLengthMismatch      = errors.New("message: length field does not match frame size")
	ErrInvalidSecureBlock  = errors.New("message: invalid security control block")
	ErrSecurityUnavailable = errors.New("message: secure channel not established")
	ErrInvalidReplyData    = errors.New("message: invalid reply data")
)

// ExtractMessageLength returns the little-endian total frame length stored at
// header offsets 2 and 3. header must hold at least HeaderLength bytes.
func ExtractMessageLength(header []byte) uint16 {
	return binary.LittleEndian.Uint16(header[2:4])
}

// Control is the decoded message control byte.
type Control struct {
	Sequence         byte
	UseCRC           bool
	HasSecurityBlock bool
}

// Byte encodes c into a control byte.
func (c Control) Byte() byte {
	b := c.Sequence & ctrlSequenceMask
	if c.UseCRC {
		b |= ctrlCRCFlag
	}
	if c.HasSecurityBlock {
		b |= ctrlSCBFlag
	}

	return b
}

// ParseControl decodes a control byte.
func ParseControl(b byte) Control {
	return Control{
		Sequence:         b & ctrlSequenceMask,
		UseCRC:           b&ctrlCRCFlag != 0,
		HasSecurityBlock: b&ctrlSCBFlag != 0,
	}
}

// frame describes one frame to encode.
type frame struct {
	address byte
	control Control
	scb     []byte
	code    byte
	data    []byte
	macFunc func(msg []byte) ([]byte, error) // nil when no MAC is appended
}

// encode serializes f, appending the MAC (when requested) and the frame check.
func (f *frame) encode() ([]byte, error) {
	length := HeaderLength + 1 + len(f.scb) + 1 + len(f.data) + checkSize(f.control.UseCRC)
	if f.macFunc != nil {
		length += macSize
	}
	if length > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, length)
	}

	f.control.HasSecurityBlock = len(f.scb) > 0

	buf := make([]byte, 0, length)
	buf = append(buf, StartOfMessage, f.address)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(length))
	buf = append(buf, f.control.Byte())
	buf = append(buf, f.scb...)
	buf = append(buf, f.code)
	buf = append(buf, f.data...)

	if f.macFunc != nil {
		mac, err := f.macFunc(buf)
		if err != nil {
			return nil, err
		}
		if len(mac) < macSize {
			return nil, fmt.Errorf("%w: MAC too short", ErrInvalidSecureBlock)
		}
		buf = append(buf, mac[:macSize]...)
	}

	return appendCheck(buf, f.control.UseCRC), nil
}
