package securechannel

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/arloliu/go-osdp/internal/util"
)

const (
	// KeySize is the size of the secure channel base key and session keys.
	KeySize = 16

	// RandomSize is the size of RND.A and RND.B.
	RandomSize = 8

	// ClientUIDSize is the size of the peripheral's cUID.
	ClientUIDSize = 8

	blockSize = aes.BlockSize
)

// DefaultKey is SCBK-D, the well-known key used for installation mode.
var DefaultKey = []byte{
	0x30, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37,
	0x38, 0x39, 0x3A, 0x3B, 0x3C, 0x3D, 0x3E, 0x3F,
}

var (
	// ErrInvalidKey is returned for a key that is not 16 bytes long.
	ErrInvalidKey = errors.New("securechannel: key must be 16 bytes")
	// ErrNotInitialized is returned when an operation needs session keys that do not exist yet.
	ErrNotInitialized = errors.New("securechannel: session keys not initialized")
	// ErrCryptogramMismatch is returned when the peripheral's cryptogram does not verify.
	ErrCryptogramMismatch = errors.New("securechannel: client cryptogram mismatch")
	// ErrRMACMismatch is returned when the initial R-MAC does not verify.
	ErrRMACMismatch = errors.New("securechannel: initial R-MAC mismatch")
	// ErrInvalidPadding is returned when decrypted data is not padded correctly.
	ErrInvalidPadding = errors.New("securechannel: invalid padding")
)

// SessionKeys holds the keys derived for one secure session.
type SessionKeys struct {
	Enc  []byte
	MAC1 []byte
	MAC2 []byte
}

// DeriveSessionKeys derives S-ENC, S-MAC1 and S-MAC2 from the base key and RND.A.
func DeriveSessionKeys(baseKey, serverRandom []byte) (SessionKeys, error) {
	if len(baseKey) != KeySize {
		return SessionKeys{}, ErrInvalidKey
	}
	if len(serverRandom) < 6 {
		return SessionKeys{}, fmt.Errorf("securechannel: server random number too short: %d bytes", len(serverRandom))
	}

	derive := func(b1 byte) ([]byte, error) {
		in := make([]byte, blockSize)
		in[0] = 0x01
		in[1] = b1
		copy(in[2:8], serverRandom[:6])

		return encryptBlock(baseKey, in)
	}

	var keys SessionKeys
	var err error
	if keys.Enc, err = derive(0x82); err != nil {
		return SessionKeys{}, err
	}
	if keys.MAC1, err = derive(0x01); err != nil {
		return SessionKeys{}, err
	}
	if keys.MAC2, err = derive(0x02); err != nil {
		return SessionKeys{}, err
	}

	return keys, nil
}

// ClientCryptogram computes the cryptogram a peripheral returns in osdp_CCRYPT.
func ClientCryptogram(keys SessionKeys, serverRandom, clientRandom []byte) ([]byte, error) {
	return encryptBlock(keys.Enc, util.Concat(serverRandom, clientRandom))
}

// ServerCryptogram computes the cryptogram the control panel sends in osdp_SCRYPT.
func ServerCryptogram(keys SessionKeys, serverRandom, clientRandom []byte) ([]byte, error) {
	return encryptBlock(keys.Enc, util.Concat(clientRandom, serverRandom))
}

// InitialRMAC computes the initial R-MAC a peripheral returns in osdp_RMAC_I.
func InitialRMAC(keys SessionKeys, serverCryptogram []byte) ([]byte, error) {
	first, err := encryptBlock(keys.MAC1, serverCryptogram)
	if err != nil {
		return nil, err
	}

	return encryptBlock(keys.MAC2, first)
}

// ComputeMAC computes the full 16 byte MAC of msg chained from iv.
//
// All blocks but the last are processed with S-MAC1, the last with S-MAC2. The message is
// padded with 0x80 followed by zeros when its length is not a multiple of the block size.
func ComputeMAC(keys SessionKeys, iv, msg []byte) ([]byte, error) {
	if len(iv) != blockSize {
		return nil, fmt.Errorf("securechannel: MAC chain value must be %d bytes", blockSize)
	}

	padded := msg
	if len(msg)%blockSize != 0 || len(msg) == 0 {
		padded = pad(msg)
	}

	mac1, err := aes.NewCipher(keys.MAC1)
	if err != nil {
		return nil, err
	}
	mac2, err := aes.NewCipher(keys.MAC2)
	if err != nil {
		return nil, err
	}

	chain := make([]byte, blockSize)
	copy(chain, iv)
	for off := 0; off < len(padded); off += blockSize {
		for i := 0; i < blockSize; i++ {
			chain[i] ^= padded[off+i]
		}
		if off+blockSize == len(padded) {
			mac2.Encrypt(chain, chain)
		} else {
			mac1.Encrypt(chain, chain)
		}
	}

	return chain, nil
}

// EncryptData encrypts data with S-ENC in CBC mode. The IV is the bitwise complement of
// the last MAC of the opposite direction. Padding is always appended.
func EncryptData(keys SessionKeys, lastMAC, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(keys.Enc)
	if err != nil {
		return nil, err
	}

	padded := pad(data)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, invert(lastMAC)).CryptBlocks(out, padded)

	return out, nil
}

// DecryptData reverses EncryptData and strips the padding.
func DecryptData(keys SessionKeys, lastMAC, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("securechannel: encrypted data length %d is not a multiple of %d", len(data), blockSize)
	}

	block, err := aes.NewCipher(keys.Enc)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, invert(lastMAC)).CryptBlocks(out, data)

	return unpad(out)
}

func encryptBlock(key, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(in) != blockSize {
		return nil, fmt.Errorf("securechannel: block must be %d bytes, got %d", blockSize, len(in))
	}

	out := make([]byte, blockSize)
	block.Encrypt(out, in)

	return out, nil
}

func pad(data []byte) []byte {
	n := (len(data)/blockSize + 1) * blockSize
	out := make([]byte, n)
	copy(out, data)
	out[len(data)] = 0x80

	return out
}

func unpad(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0 && i >= len(data)-blockSize; i-- {
		switch data[i] {
		case 0x00:
			continue
		case 0x80:
			return data[:i], nil
		default:
			return nil, ErrInvalidPadding
		}
	}

	return nil, ErrInvalidPadding
}

func invert(b []byte) []byte {
	out := make([]byte, blockSize)
	for i := range out {
		if i < len(b) {
			out[i] = ^b[i]
		} else {
			out[i] = 0xFF
		}
	}

	return out
}
