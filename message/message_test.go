package message

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubSession struct {
	seq         byte
	crc         bool
	established bool
	mac         []byte
	macInputs   [][]byte
	encrypted   [][]byte
	failEncrypt bool
}

func (s *stubSession) Sequence() byte              { return s.seq }
func (s *stubSession) UseCRC() bool                { return s.crc }
func (s *stubSession) IsSecurityEstablished() bool { return s.established }

func (s *stubSession) GenerateMAC(msg []byte, _ bool) ([]byte, error) {
	s.macInputs = append(s.macInputs, bytes.Clone(msg))
	return s.mac, nil
}

func (s *stubSession) EncryptData(data []byte) ([]byte, error) {
	if s.failEncrypt {
		return nil, errors.New("no key")
	}
	s.encrypted = append(s.encrypted, data)
	out := make([]byte, 16)
	for i := range out {
		out[i] = 0xEE
	}

	return out, nil
}

func (s *stubSession) DecryptData(data []byte) ([]byte, error) {
	return data[:1], nil
}

func TestChecksum(t *testing.T) {
	require := require.New(t)

	frame := []byte{0x53, 0x01, 0x07, 0x00, 0x00, 0x60}
	sum := Checksum(frame)
	var total byte
	for _, b := range frame {
		total += b
	}
	require.Equal(byte(0), total+sum)

	// CRC-16/AUG-CCITT check value
	require.Equal(uint16(0xE5CC), CRC([]byte("123456789")))

	withCRC := appendCheck([]byte{1, 2, 3}, true)
	require.Len(withCRC, 5)
	require.True(verifyCheck(withCRC, true))
	withCRC[4] ^= 0xFF
	require.False(verifyCheck(withCRC, true))
}

func TestControl(t *testing.T) {
	require := require.New(t)

	c := Control{Sequence: 3, UseCRC: true, HasSecurityBlock: true}
	require.Equal(byte(0x0F), c.Byte())
	require.Equal(c, ParseControl(0x0F))
	require.Equal(Control{Sequence: 1}, ParseControl(0x01))
}

func TestBuildCommand_Poll(t *testing.T) {
	require := require.New(t)

	s := &stubSession{seq: 1}
	data, err := BuildCommand(NewPollCommand(0x01), s)
	require.NoError(err)
	require.Equal([]byte{0x53, 0x01, 0x07, 0x00, 0x01, 0x60}, data[:6])
	require.Len(data, 7)
	require.Equal(Checksum(data[:6]), data[6])
	require.Equal(uint16(7), ExtractMessageLength(data))

	s.crc = true
	data, err = BuildCommand(NewPollCommand(0x01), s)
	require.NoError(err)
	require.Len(data, 8)
	require.Equal(byte(0x05), data[4])
	require.True(verifyCheck(data, true))
}

func TestBuildCommand_Challenge(t *testing.T) {
	require := require.New(t)

	rnd := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	data, err := BuildCommand(NewChallengeCommand(0x02, rnd, true), &stubSession{seq: 1, crc: true})
	require.NoError(err)

	require.Equal(byte(0x0D), data[4], "seq 1, CRC and SCB flags")
	require.Equal([]byte{3, byte(SCS11), 0}, data[5:8])
	require.Equal(byte(CmdChallenge), data[8])
	require.Equal(rnd, data[9:17])

	cmd := NewServerCryptogramCommand(0x02, make([]byte, 16), false)
	require.Equal([]byte{3, byte(SCS13), 1}, cmd.SecurityBlock)
}

func TestBuildCommand_Secure(t *testing.T) {
	require := require.New(t)

	mac := []byte{0xA1, 0xA2, 0xA3, 0xA4, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	s := &stubSession{seq: 2, crc: true, established: true, mac: mac}

	data, err := BuildCommand(NewPollCommand(0x01), s)
	require.NoError(err)
	require.Equal([]byte{2, byte(SCS15)}, data[5:7])
	require.Equal(byte(CmdPoll), data[7])
	require.Equal(mac[:4], data[8:12])
	require.Len(data, 14)
	require.Equal(data[:8], s.macInputs[0])
	require.Empty(s.encrypted)

	data, err = BuildCommand(NewCommand(0x01, CmdReaderLEDControl, []byte{0, 1, 2}), s)
	require.NoError(err)
	require.Equal([]byte{2, byte(SCS17)}, data[5:7])
	require.Equal(bytes.Repeat([]byte{0xEE}, 16), data[8:24])
	require.Len(s.encrypted, 1)

	s.failEncrypt = true
	_, err = BuildCommand(NewCommand(0x01, CmdReaderLEDControl, []byte{0}), s)
	require.Error(err)
}

func TestBuildCommand_TooLong(t *testing.T) {
	_, err := BuildCommand(NewCommand(0x01, CmdFileTransfer, make([]byte, MaxFrameLength)), &stubSession{})
	require.ErrorIs(t, err, ErrFrameTooLong)
}

func TestParseReply(t *testing.T) {
	require := require.New(t)

	cmd := NewPollCommand(0x05)
	raw, err := ReplyFrame{Address: 0x05, Sequence: 2, UseCRC: true, Type: ReplyAck}.Encode()
	require.NoError(err)
	require.Equal(byte(0x85), raw[1])

	reply, err := ParseReply(raw, cmd)
	require.NoError(err)
	require.True(reply.IsValid)
	require.False(reply.IsSecure)
	require.Equal(byte(0x05), reply.Address)
	require.Equal(byte(2), reply.Sequence)
	require.Equal(ReplyAck, reply.Type)
	require.Empty(reply.Data)
	require.Same(cmd, reply.Command)

	raw[len(raw)-1] ^= 0x01
	reply, err = ParseReply(raw, cmd)
	require.NoError(err)
	require.False(reply.IsValid)
}

func TestParseReply_Secure(t *testing.T) {
	require := require.New(t)

	mac := []byte{9, 8, 7, 6}
	rf := ReplyFrame{
		Address:       0x01,
		Sequence:      1,
		UseCRC:        true,
		Type:          ReplyNak,
		Data:          []byte{0x06},
		SecurityBlock: []byte{2, byte(SCS16)},
		MAC:           func([]byte) ([]byte, error) { return mac, nil },
	}
	raw, err := rf.Encode()
	require.NoError(err)

	reply, err := ParseReply(raw, nil)
	require.NoError(err)
	require.True(reply.IsSecure)
	require.Equal(SCS16, reply.SecurityBlockType())
	require.Equal([]byte{0x06}, reply.Data)
	require.Equal(mac, reply.MAC)
	require.Equal(raw[:len(raw)-6], reply.MessageForMAC)
	require.True(reply.IsValidMAC(append(bytes.Clone(mac), 0, 0, 0)))
	require.False(reply.IsValidMAC([]byte{9, 8, 7, 5}))
	require.False(reply.IsValidMAC([]byte{9}))

	// MAC-only replies are not decrypted
	require.NoError(reply.DecryptData(&stubSession{}))
	require.Equal([]byte{0x06}, reply.Data)

	rf.SecurityBlock = []byte{2, byte(SCS18)}
	rf.Data = []byte{0x10, 0x20}
	raw, err = rf.Encode()
	require.NoError(err)
	reply, err = ParseReply(raw, nil)
	require.NoError(err)
	require.NoError(reply.DecryptData(&stubSession{}))
	require.Equal([]byte{0x10}, reply.Data)
	require.NoError(reply.DecryptData(&stubSession{}))
	require.Equal([]byte{0x10}, reply.Data, "decrypt runs once")
}

func TestParseReply_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		err  error
	}{
		{"short", []byte{0x53, 0x81, 0x07}, ErrFrameTooShort},
		{"bad start", []byte{0x54, 0x81, 0x07, 0x00, 0x00, 0x40, 0x00}, ErrInvalidStart},
		{"length mismatch", []byte{0x53, 0x81, 0x09, 0x00, 0x00, 0x40, 0x00}, ErrLengthMismatch},
		{"bad scb", []byte{0x53, 0x81, 0x08, 0x00, 0x08, 0x01, 0x40, 0x00}, ErrInvalidSecureBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply(tt.raw, nil)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestReplyData(t *testing.T) {
	require := require.New(t)

	nak, err := ParseNakReplyData([]byte{0x04})
	require.NoError(err)
	require.Equal(ErrCodeUnexpectedSequenceNumber, nak.ErrorCode)
	require.Contains(nak.String(), "UnexpectedSequenceNumber")
	_, err = ParseNakReplyData(nil)
	require.ErrorIs(err, ErrInvalidReplyData)

	keypad, err := ParseKeypadReplyData([]byte{0x00, 0x03, '1', '2', 0x7F})
	require.NoError(err)
	require.Equal(byte(0), keypad.ReaderNumber)
	require.Equal(uint16(3), keypad.DigitCount)
	require.Equal([]byte{'1', '2', 0x7F}, keypad.Data)
	require.Contains(keypad.String(), "Digit Count: 3")
	_, err = ParseKeypadReplyData([]byte{0x00})
	require.ErrorIs(err, ErrInvalidReplyData)

	id, err := ParseDeviceIdentification([]byte{0x5C, 0x26, 0x23, 0x01, 0x02, 0x78, 0x56, 0x34, 0x12, 1, 2, 3})
	require.NoError(err)
	require.Equal([3]byte{0x5C, 0x26, 0x23}, id.VendorCode)
	require.Equal(uint32(0x12345678), id.SerialNumber)
	require.Equal("1.2.3", id.FirmwareVersion)
	_, err = ParseDeviceIdentification([]byte{1})
	require.ErrorIs(err, ErrInvalidReplyData)
}

func TestNames(t *testing.T) {
	require := require.New(t)

	require.Equal("POLL", CmdPoll.String())
	require.Equal("CMD(0x01)", CommandCode(0x01).String())
	require.Equal("CCRYPT", ReplyCrypticData.String())
	require.Equal("REPLY(0x01)", ReplyType(0x01).String())
	require.True(SCS18.HasEncryptedData())
	require.False(SCS16.HasEncryptedData())
	require.True(SCS15.HasMAC())
	require.False(SCS14.HasMAC())
}

func TestExtractMessageLength(t *testing.T) {
	require.Equal(t, uint16(8), ExtractMessageLength([]byte{0x53, 0x00, 0x08, 0x00}))
	require.Equal(t, uint16(0x0102), ExtractMessageLength([]byte{0x53, 0x00, 0x02, 0x01, 0xAA}))
}
