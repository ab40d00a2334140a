package message

import (
	"fmt"
)

// Session is the per-device state needed to encode a command and to decrypt a reply.
type Session interface {
	// Sequence returns the sequence number to stamp on the next command.
	Sequence() byte
	// UseCRC reports whether frames carry a CRC instead of a checksum.
	UseCRC() bool
	// IsSecurityEstablished reports whether commands must be MACed.
	IsSecurityEstablished() bool
	// GenerateMAC computes the MAC over msg and advances the MAC chain.
	GenerateMAC(msg []byte, isCommand bool) ([]byte, error)
	// EncryptData encrypts a command data field.
	EncryptData(data []byte) ([]byte, error)
	// DecryptData decrypts a reply data field.
	DecryptData(data []byte) ([]byte, error)
}

// Command is an outgoing command for one peripheral.
//
// The pointer identity of a Command is kept across retries, so a command handed back
// for retry is the same value that was queued.
type Command struct {
	Address byte
	Code    CommandCode
	Data    []byte

	// SecurityBlock carries an explicit security control block for the secure
	// channel handshake commands. When empty and the session has an established
	// secure channel, BuildCommand adds an SCS_15 or SCS_17 block and a MAC.
	SecurityBlock []byte
}

// NewCommand creates a command with the given code and data.
func NewCommand(address byte, code CommandCode, data []byte) *Command {
	return &Command{Address: address, Code: code, Data: data}
}

// NewPollCommand creates an osdp_POLL command.
func NewPollCommand(address byte) *Command {
	return &Command{Address: address, Code: CmdPoll}
}

// NewChallengeCommand creates an osdp_CHLNG command carrying the control panel random number.
func NewChallengeCommand(address byte, serverRandom []byte, isDefaultKey bool) *Command {
	return &Command{
		Address:       address,
		Code:          CmdChallenge,
		Data:          serverRandom,
		SecurityBlock: []byte{3, byte(SCS11), keyFlag(isDefaultKey)},
	}
}

// NewServerCryptogramCommand creates an osdp_SCRYPT command.
func NewServerCryptogramCommand(address byte, cryptogram []byte, isDefaultKey bool) *Command {
	return &Command{
		Address:       address,
		Code:          CmdServerCryptogram,
		Data:          cryptogram,
		SecurityBlock: []byte{3, byte(SCS13), keyFlag(isDefaultKey)},
	}
}

// NewKeySetCommand creates an osdp_KEYSET command installing a new secure channel base key.
func NewKeySetCommand(address byte, key []byte) *Command {
	data := make([]byte, 0, 2+len(key))
	data = append(data, 0x01, byte(len(key)))
	data = append(data, key...)

	return &Command{Address: address, Code: CmdKeySet, Data: data}
}

// NewFileTransferCommand creates an osdp_FILETRANSFER command fragment.
func NewFileTransferCommand(address byte, fragment []byte) *Command {
	return &Command{Address: address, Code: CmdFileTransfer, Data: fragment}
}

func (c *Command) String() string {
	return fmt.Sprintf("%s(address=%d, data=%d bytes)", c.Code, c.Address, len(c.Data))
}

// keyFlag encodes the "which key" byte of SCS_11 and SCS_13 blocks: 0 selects the
// default key, 1 the installed secure channel base key.
func keyFlag(isDefaultKey bool) byte {
	if isDefaultKey {
		return 0x00
	}

	return 0x01
}

// BuildCommand encodes cmd into a frame for the session s.
func BuildCommand(cmd *Command, s Session) ([]byte, error) {
	f := &frame{
		address: cmd.Address,
		control: Control{Sequence: s.Sequence(), UseCRC: s.UseCRC()},
		scb:     cmd.SecurityBlock,
		code:    byte(cmd.Code),
		data:    cmd.Data,
	}

	if len(f.scb) == 0 && s.IsSecurityEstablished() {
		f.scb = []byte{2, byte(SCS15)}
		if len(cmd.Data) > 0 {
			encrypted, err := s.EncryptData(cmd.Data)
			if err != nil {
				return nil, fmt.Errorf("message: encrypt %s data: %w", cmd.Code, err)
			}
			f.scb = []byte{2, byte(SCS17)}
			f.data = encrypted
		}
		f.macFunc = func(msg []byte) ([]byte, error) {
			return s.GenerateMAC(msg, true)
		}
	}

	data, err := f.encode()
	if err != nil {
		return nil, fmt.Errorf("message: build %s: %w", cmd.Code, err)
	}

	return data, nil
}
