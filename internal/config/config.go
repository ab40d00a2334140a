// Package config holds the YAML configuration of the osdp-poll command.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport types.
const (
	TransportSerial = "serial"
	TransportTCP    = "tcp"
)

const defaultBaudRate = 9600

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Transport TransportConfig `yaml:"transport"`
	Bus       BusConfig       `yaml:"bus"`
	Trace     TraceConfig     `yaml:"trace"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// ---- TRANSPORT ----

type TransportConfig struct {
	Type     string `yaml:"type"`    // serial | tcp
	Port     string `yaml:"port"`    // serial port name
	Address  string `yaml:"address"` // host:port
	BaudRate int    `yaml:"baud_rate"`
}

// ---- BUS ----

type BusConfig struct {
	// nil keeps the bus default; 0 selects on-demand mode
	PollIntervalMs *int `yaml:"poll_interval_ms"`
	ReplyTimeoutMs int  `yaml:"reply_timeout_ms"`
}

// ---- TRACE ----

type TraceConfig struct {
	Path string `yaml:"path"` // empty disables capture
}

// ---- DEVICE ----

type DeviceConfig struct {
	Address       uint8  `yaml:"address"`
	CRC           bool   `yaml:"crc"`
	SecureChannel bool   `yaml:"secure_channel"`
	Key           string `yaml:"key"` // hex, empty uses the default key
}

// Load reads and decodes the YAML file at path, filling defaults.
// It does not validate; call Validate on the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(raw)
}

// Parse decodes a YAML document, filling defaults.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	normalize(&cfg)

	return &cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Transport.Type == "" {
		cfg.Transport.Type = TransportSerial
	}

	if cfg.Transport.BaudRate == 0 {
		cfg.Transport.BaudRate = defaultBaudRate
	}
}
