package config

import (
	"time"

	"github.com/arloliu/go-osdp/bus"
	"github.com/arloliu/go-osdp/transport"
)

func msec(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// BusOptions converts the timing section into bus options.
// Unset values keep the bus defaults.
func (c *Config) BusOptions() []bus.Option {
	var opts []bus.Option

	if c.Bus.PollIntervalMs != nil {
		opts = append(opts, bus.WithPollInterval(msec(*c.Bus.PollIntervalMs)))
	}

	if c.Bus.ReplyTimeoutMs != 0 {
		opts = append(opts, bus.WithReplyTimeout(msec(c.Bus.ReplyTimeoutMs)))
	}

	return opts
}

// NewConnection builds the transport described by the transport section.
func (c *Config) NewConnection() transport.Connection {
	if c.Transport.Type == TransportTCP {
		return transport.NewTCPConnection(c.Transport.Address, c.Transport.BaudRate)
	}

	return transport.NewSerialConnection(c.Transport.Port, c.Transport.BaudRate)
}
