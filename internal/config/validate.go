package config

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/arloliu/go-osdp/bus"
	"github.com/arloliu/go-osdp/logger"
	"github.com/arloliu/go-osdp/securechannel"
)

// OSDP addresses 0x00-0x7E; 0x7F is the broadcast address.
const maxDeviceAddress = 0x7E

// Validate checks configuration correctness.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	// ------------------------------------------------------------
	// TRANSPORT
	// ------------------------------------------------------------

	t := cfg.Transport
	switch t.Type {
	case TransportSerial:
		if t.Port == "" {
			return errors.New("transport: serial requires port")
		}
	case TransportTCP:
		if t.Address == "" {
			return errors.New("transport: tcp requires address")
		}
	default:
		return fmt.Errorf("transport: unknown type %q", t.Type)
	}

	if t.BaudRate <= 0 {
		return fmt.Errorf("transport: invalid baud_rate %d", t.BaudRate)
	}

	// ------------------------------------------------------------
	// BUS TIMING
	// ------------------------------------------------------------

	if p := cfg.Bus.PollIntervalMs; p != nil {
		if *p < 0 || msec(*p) > bus.MaxPollInterval {
			return fmt.Errorf("bus: poll_interval_ms %d out of range", *p)
		}
	}

	if r := cfg.Bus.ReplyTimeoutMs; r != 0 {
		if msec(r) < bus.MinReplyTimeout || msec(r) > bus.MaxReplyTimeout {
			return fmt.Errorf("bus: reply_timeout_ms %d out of range", r)
		}
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	if len(cfg.Devices) == 0 {
		return errors.New("devices: at least one device is required")
	}

	seen := make(map[uint8]struct{}, len(cfg.Devices))
	for _, d := range cfg.Devices {
		if d.Address > maxDeviceAddress {
			return fmt.Errorf("device 0x%02X: address out of range", d.Address)
		}

		if _, dup := seen[d.Address]; dup {
			return fmt.Errorf("device 0x%02X: duplicate address", d.Address)
		}
		seen[d.Address] = struct{}{}

		if d.Key == "" {
			continue
		}

		if !d.SecureChannel {
			return fmt.Errorf("device 0x%02X: key set but secure_channel is disabled", d.Address)
		}

		if _, err := d.KeyBytes(); err != nil {
			return fmt.Errorf("device 0x%02X: %w", d.Address, err)
		}
	}

	return nil
}

// KeyBytes decodes the hex key. A nil result selects the default key.
func (d DeviceConfig) KeyBytes() ([]byte, error) {
	if d.Key == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(d.Key)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}

	if len(key) != securechannel.KeySize {
		return nil, fmt.Errorf("key: want %d bytes, got %d", securechannel.KeySize, len(key))
	}

	return key, nil
}
