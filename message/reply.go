package message

import (
	"crypto/subtle"
	"fmt"

	"github.com/google/uuid"
)

// Reply is a decoded reply frame.
type Reply struct {
	// BusID identifies the bus the reply was received on.
	BusID uuid.UUID
	// Command is the command this reply answers.
	Command *Command

	Address  byte
	Type     ReplyType
	Sequence byte
	Data     []byte

	// IsValid is false when the checksum or CRC did not match.
	IsValid bool
	// IsSecure is true when the reply carries a MAC (SCS_16 or SCS_18).
	IsSecure bool

	SecurityBlock []byte
	MAC           []byte
	// MessageForMAC holds the bytes the MAC is computed over.
	MessageForMAC []byte
	// Raw holds the full frame as received.
	Raw []byte

	decrypted bool
}

// ParseReply decodes an assembled reply frame.
//
// A frame whose checksum or CRC fails is returned with IsValid set to false; an error is
// returned only when the frame is structurally unusable.
func ParseReply(raw []byte, cmd *Command) (*Reply, error) {
	if len(raw) < MinFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(raw))
	}
	if raw[0] != StartOfMessage {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidStart, raw[0])
	}
	if length := int(ExtractMessageLength(raw)); length != len(raw) {
		return nil, fmt.Errorf("%w: field %d, frame %d", ErrLengthMismatch, length, len(raw))
	}

	ctrl := ParseControl(raw[4])
	end := len(raw) - checkSize(ctrl.UseCRC)

	r := &Reply{
		Command:  cmd,
		Address:  raw[1] &^ replyAddressFlag,
		Sequence: ctrl.Sequence,
		IsValid:  verifyCheck(raw, ctrl.UseCRC),
		Raw:      raw,
	}

	pos := HeaderLength + 1
	if ctrl.HasSecurityBlock {
		scbLen := int(raw[pos])
		if scbLen < 2 || pos+scbLen >= end {
			return nil, fmt.Errorf("%w: length %d", ErrInvalidSecureBlock, scbLen)
		}
		r.SecurityBlock = raw[pos : pos+scbLen]
		pos += scbLen
	}

	if pos >= end {
		return nil, fmt.Errorf("%w: missing reply code", ErrFrameTooShort)
	}
	r.Type = ReplyType(raw[pos])
	pos++

	if r.SecurityBlockType().HasMAC() {
		if end-macSize < pos {
			return nil, fmt.Errorf("%w: missing MAC", ErrFrameTooShort)
		}
		r.IsSecure = true
		r.MAC = raw[end-macSize : end]
		end -= macSize
	}

	r.MessageForMAC = raw[:end]
	r.Data = raw[pos:end]

	return r, nil
}

// SecurityBlockType returns the type of the security control block, or zero when absent.
func (r *Reply) SecurityBlockType() SecurityBlockType {
	if len(r.SecurityBlock) < 2 {
		return 0
	}

	return SecurityBlockType(r.SecurityBlock[1])
}

// IsValidMAC reports whether the MAC carried by the reply matches the leading bytes of mac.
func (r *Reply) IsValidMAC(mac []byte) bool {
	if len(r.MAC) != macSize || len(mac) < macSize {
		return false
	}

	return subtle.ConstantTimeCompare(r.MAC, mac[:macSize]) == 1
}

// DecryptData replaces an encrypted (SCS_18) data field with its plain text.
// It is a no-op for replies without encrypted data, and must only be called
// after the MAC has been validated.
func (r *Reply) DecryptData(s Session) error {
	if r.decrypted || !r.SecurityBlockType().HasEncryptedData() || len(r.Data) == 0 {
		return nil
	}

	plain, err := s.DecryptData(r.Data)
	if err != nil {
		return fmt.Errorf("message: decrypt %s data: %w", r.Type, err)
	}
	r.Data = plain
	r.decrypted = true

	return nil
}

func (r *Reply) String() string {
	return fmt.Sprintf("%s(address=%d, seq=%d, data=%d bytes, secure=%t, valid=%t)",
		r.Type, r.Address, r.Sequence, len(r.Data), r.IsSecure, r.IsValid)
}

// ReplyFrame describes a reply to encode. It is used by peripheral simulators and tests.
type ReplyFrame struct {
	Address       byte
	Sequence      byte
	UseCRC        bool
	Type          ReplyType
	Data          []byte
	SecurityBlock []byte
	// MAC computes the MAC over the frame; when nil no MAC is appended.
	MAC func(msg []byte) ([]byte, error)
}

// Encode serializes the reply frame.
func (rf ReplyFrame) Encode() ([]byte, error) {
	f := &frame{
		address: rf.Address | replyAddressFlag,
		control: Control{Sequence: rf.Sequence, UseCRC: rf.UseCRC},
		scb:     rf.SecurityBlock,
		code:    byte(rf.Type),
		data:    rf.Data,
		macFunc: rf.MAC,
	}

	return f.encode()
}
