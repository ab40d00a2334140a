package message

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// NakReplyData is the payload of an osdp_NAK reply.
type NakReplyData struct {
	ErrorCode ErrorCode
	ExtraData []byte
}

// ParseNakReplyData decodes a NAK payload.
func ParseNakReplyData(data []byte) (*NakReplyData, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty NAK data", ErrInvalidReplyData)
	}

	return &NakReplyData{ErrorCode: ErrorCode(data[0]), ExtraData: data[1:]}, nil
}

func (n *NakReplyData) String() string {
	return fmt.Sprintf("Error: %s, extra=% X", n.ErrorCode, n.ExtraData)
}

const keypadHeaderLength = 2

// KeypadReplyData is the payload of an osdp_KEYPAD reply.
//
// Digits 0-9 are reported as ASCII 0x30-0x39, the clear/'*' key as 0x7F, the
// enter/'#' key as 0x0D and function keys as upper case ASCII starting at 0x41.
type KeypadReplyData struct {
	// ReaderNumber is 0 for the first reader, 1 for the second.
	ReaderNumber byte
	DigitCount   uint16
	Data         []byte
}

// ParseKeypadReplyData decodes a keypad payload.
func ParseKeypadReplyData(data []byte) (*KeypadReplyData, error) {
	if len(data) < keypadHeaderLength {
		return nil, fmt.Errorf("%w: keypad data needs %d bytes, got %d", ErrInvalidReplyData, keypadHeaderLength, len(data))
	}

	digits := make([]byte, len(data)-keypadHeaderLength)
	copy(digits, data[keypadHeaderLength:])

	return &KeypadReplyData{
		ReaderNumber: data[0],
		DigitCount:   uint16(data[1]),
		Data:         digits,
	}, nil
}

func (k *KeypadReplyData) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reader Number: %d\n", k.ReaderNumber)
	fmt.Fprintf(&sb, "  Digit Count: %d\n", k.DigitCount)
	fmt.Fprintf(&sb, "         Data: %s\n", k.Data)

	return sb.String()
}

const deviceIdentificationLength = 12

// DeviceIdentification is the payload of an osdp_PDID reply.
type DeviceIdentification struct {
	VendorCode      [3]byte
	ModelNumber     byte
	Version         byte
	SerialNumber    uint32
	FirmwareVersion string
}

// ParseDeviceIdentification decodes a PDID payload.
func ParseDeviceIdentification(data []byte) (*DeviceIdentification, error) {
	if len(data) < deviceIdentificationLength {
		return nil, fmt.Errorf("%w: PDID needs %d bytes, got %d", ErrInvalidReplyData, deviceIdentificationLength, len(data))
	}

	id := &DeviceIdentification{
		ModelNumber:     data[3],
		Version:         data[4],
		SerialNumber:    binary.LittleEndian.Uint32(data[5:9]),
		FirmwareVersion: fmt.Sprintf("%d.%d.%d", data[9], data[10], data[11]),
	}
	copy(id.VendorCode[:], data[0:3])

	return id, nil
}
