package securechannel

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Channel holds the secure channel state of one peripheral.
//
// The MAC chain and session keys are guarded by a mutex; the initialized and established
// flags can be read from any goroutine.
type Channel struct {
	mu           sync.Mutex
	key          []byte
	serverRandom []byte
	keys         SessionKeys
	serverCrypto []byte
	cmac         []byte
	rmac         []byte

	initialized *atomic.Bool
	established *atomic.Bool
}

// New creates a channel for the given secure channel base key. A nil key selects DefaultKey.
func New(key []byte) (*Channel, error) {
	if key == nil {
		key = DefaultKey
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	c := &Channel{
		key:         bytes.Clone(key),
		initialized: atomic.NewBool(false),
		established: atomic.NewBool(false),
	}
	if err := c.CreateNewRandomNumber(); err != nil {
		return nil, err
	}

	return c, nil
}

// Key returns a copy of the base key.
func (c *Channel) Key() []byte {
	return bytes.Clone(c.key)
}

// IsDefaultKey reports whether the channel uses SCBK-D.
func (c *Channel) IsDefaultKey() bool {
	return bytes.Equal(c.key, DefaultKey)
}

// ServerRandomNumber returns RND.A.
func (c *Channel) ServerRandomNumber() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return bytes.Clone(c.serverRandom)
}

// CreateNewRandomNumber draws a fresh RND.A and drops the session state.
func (c *Channel) CreateNewRandomNumber() error {
	rnd := make([]byte, RandomSize)
	if _, err := rand.Read(rnd); err != nil {
		return fmt.Errorf("securechannel: random number: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.serverRandom = rnd
	c.keys = SessionKeys{}
	c.serverCrypto = nil
	c.cmac = nil
	c.rmac = nil
	c.initialized.Store(false)
	c.established.Store(false)

	return nil
}

// Initialize derives the session keys and verifies the peripheral's cryptogram
// from an osdp_CCRYPT reply.
func (c *Channel) Initialize(clientUID, clientRandom, clientCryptogram []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(clientRandom) != RandomSize {
		return fmt.Errorf("securechannel: client random number must be %d bytes", RandomSize)
	}

	keys, err := DeriveSessionKeys(c.key, c.serverRandom)
	if err != nil {
		return err
	}

	expected, err := ClientCryptogram(keys, c.serverRandom, clientRandom)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, clientCryptogram) != 1 {
		return fmt.Errorf("%w: cUID % X", ErrCryptogramMismatch, clientUID)
	}

	serverCrypto, err := ServerCryptogram(keys, c.serverRandom, clientRandom)
	if err != nil {
		return err
	}

	c.keys = keys
	c.serverCrypto = serverCrypto
	c.initialized.Store(true)
	c.established.Store(false)

	return nil
}

// IsInitialized reports whether session keys are available.
func (c *Channel) IsInitialized() bool {
	return c.initialized.Load()
}

// ServerCryptogram returns the cryptogram to send in osdp_SCRYPT.
func (c *Channel) ServerCryptogram() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return bytes.Clone(c.serverCrypto)
}

// Establish verifies the initial R-MAC from an osdp_RMAC_I reply and starts the MAC chain.
func (c *Channel) Establish(rmacI []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized.Load() {
		return ErrNotInitialized
	}

	expected, err := InitialRMAC(c.keys, c.serverCrypto)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(expected, rmacI) != 1 {
		return ErrRMACMismatch
	}

	c.rmac = expected
	c.established.Store(true)

	return nil
}

// IsEstablished reports whether the handshake completed.
func (c *Channel) IsEstablished() bool {
	return c.established.Load()
}

// GenerateMAC computes the MAC of msg. A command MAC chains from the last reply MAC
// and becomes the new C-MAC; a reply MAC chains from the last C-MAC and becomes the
// new R-MAC.
func (c *Channel) GenerateMAC(msg []byte, isCommand bool) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.established.Load() {
		return nil, ErrNotInitialized
	}

	iv := c.cmac
	if isCommand {
		iv = c.rmac
	}
	mac, err := ComputeMAC(c.keys, iv, msg)
	if err != nil {
		return nil, err
	}

	if isCommand {
		c.cmac = mac
	} else {
		c.rmac = mac
	}

	return bytes.Clone(mac), nil
}

// EncryptData encrypts a command data field.
func (c *Channel) EncryptData(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.established.Load() {
		return nil, ErrNotInitialized
	}

	return EncryptData(c.keys, c.rmac, data)
}

// DecryptData decrypts a reply data field.
func (c *Channel) DecryptData(data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.established.Load() {
		return nil, ErrNotInitialized
	}

	return DecryptData(c.keys, c.cmac, data)
}
