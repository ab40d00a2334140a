package bus

import (
	"fmt"
	"time"

	"github.com/arloliu/go-osdp/logger"
	"github.com/arloliu/go-osdp/trace"
)

// Default timing values.
const (
	DefaultPollInterval      = 200 * time.Millisecond // 0 selects on-demand mode
	DefaultReplyTimeout      = 200 * time.Millisecond // per framing stage
	DefaultMultiMessageGrace = 1 * time.Second        // extra start-of-message wait during a multi-message exchange
	DefaultOnDemandWait      = 10 * time.Millisecond  // wake wait in on-demand mode
	DefaultOpenRetryDelay    = 5 * time.Second        // backoff after a transport open failure
	DefaultRequestDelay      = 1 * time.Second        // hold-off after a reset or for an offline device
	DefaultOfflineTimeout    = 8 * time.Second        // max age of the last valid reply for a connected device
)

// Range limits.
const (
	MaxPollInterval = 10 * time.Second

	MinReplyTimeout = 1 * time.Millisecond
	MaxReplyTimeout = 10 * time.Second

	MaxMultiMessageGrace = 30 * time.Second

	MinOnDemandWait = 1 * time.Millisecond
	MaxOnDemandWait = 1 * time.Second

	MinOpenRetryDelay = 1 * time.Millisecond
	MaxOpenRetryDelay = 5 * time.Minute

	MaxRequestDelay = 1 * time.Minute

	MinOfflineTimeout = 10 * time.Millisecond
	MaxOfflineTimeout = 5 * time.Minute
)

// Config holds the configuration of a Bus.
type Config struct {
	pollInterval      time.Duration
	replyTimeout      time.Duration
	multiMessageGrace time.Duration
	onDemandWait      time.Duration
	openRetryDelay    time.Duration
	requestDelay      time.Duration
	offlineTimeout    time.Duration

	logger        logger.Logger
	tracer        trace.Tracer
	replies       *ReplyQueue
	statusHandler StatusHandler
}

// NewConfig creates a bus configuration. opts are applied in order; see With* functions.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		pollInterval:      DefaultPollInterval,
		replyTimeout:      DefaultReplyTimeout,
		multiMessageGrace: DefaultMultiMessageGrace,
		onDemandWait:      DefaultOnDemandWait,
		openRetryDelay:    DefaultOpenRetryDelay,
		requestDelay:      DefaultRequestDelay,
		offlineTimeout:    DefaultOfflineTimeout,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// PollInterval returns the poll interval; zero means on-demand mode.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// IsPolling reports whether the bus polls periodically.
func (cfg *Config) IsPolling() bool { return cfg.pollInterval > 0 }

// ReplyTimeout returns the per-stage reply timeout.
func (cfg *Config) ReplyTimeout() time.Duration { return cfg.replyTimeout }

// MultiMessageGrace returns the extra start-of-message wait during a multi-message exchange.
func (cfg *Config) MultiMessageGrace() time.Duration { return cfg.multiMessageGrace }

// OnDemandWait returns the wake wait used in on-demand mode.
func (cfg *Config) OnDemandWait() time.Duration { return cfg.onDemandWait }

// OpenRetryDelay returns the backoff after a transport open failure.
func (cfg *Config) OpenRetryDelay() time.Duration { return cfg.openRetryDelay }

// RequestDelay returns the hold-off applied after a reset.
func (cfg *Config) RequestDelay() time.Duration { return cfg.requestDelay }

// OfflineTimeout returns how long a device stays connected without a valid reply.
func (cfg *Config) OfflineTimeout() time.Duration { return cfg.offlineTimeout }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

func checkRange(name string, d, minVal, maxVal time.Duration) error {
	if d < minVal || d > maxVal {
		return fmt.Errorf("bus: %s %v out of range [%v, %v]", name, d, minVal, maxVal)
	}

	return nil
}

// WithPollInterval sets the poll interval. Zero selects on-demand mode, in which the
// bus only sends queued commands and never synthesizes polls.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("poll interval", d, 0, MaxPollInterval); err != nil {
			return err
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithReplyTimeout sets the timeout of each framing stage.
func WithReplyTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("reply timeout", d, MinReplyTimeout, MaxReplyTimeout); err != nil {
			return err
		}
		cfg.replyTimeout = d

		return nil
	})
}

// WithMultiMessageGrace sets the extra start-of-message wait during a multi-message exchange.
func WithMultiMessageGrace(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("multi-message grace", d, 0, MaxMultiMessageGrace); err != nil {
			return err
		}
		cfg.multiMessageGrace = d

		return nil
	})
}

// WithOnDemandWait sets how long the on-demand loop waits for a command before re-checking.
func WithOnDemandWait(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("on-demand wait", d, MinOnDemandWait, MaxOnDemandWait); err != nil {
			return err
		}
		cfg.onDemandWait = d

		return nil
	})
}

// WithOpenRetryDelay sets the backoff after a transport open failure.
func WithOpenRetryDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("open retry delay", d, MinOpenRetryDelay, MaxOpenRetryDelay); err != nil {
			return err
		}
		cfg.openRetryDelay = d

		return nil
	})
}

// WithRequestDelay sets the hold-off applied to a device after a reset and while it is offline.
func WithRequestDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("request delay", d, 0, MaxRequestDelay); err != nil {
			return err
		}
		cfg.requestDelay = d

		return nil
	})
}

// WithOfflineTimeout sets how long a device is considered connected after its last valid reply.
func WithOfflineTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if err := checkRange("offline timeout", d, MinOfflineTimeout, MaxOfflineTimeout); err != nil {
			return err
		}
		cfg.offlineTimeout = d

		return nil
	})
}

// WithLogger sets the logger. By default the bus uses the package logger tagged with its id.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("bus: logger cannot be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithTracer sets the tracer receiving every transmitted and received frame.
func WithTracer(t trace.Tracer) Option {
	return optFunc(func(cfg *Config) error {
		cfg.tracer = t
		return nil
	})
}

// WithReplyQueue sets the queue accepted replies are pushed to. Several buses may share one queue.
func WithReplyQueue(q *ReplyQueue) Option {
	return optFunc(func(cfg *Config) error {
		if q == nil {
			return fmt.Errorf("bus: reply queue cannot be nil")
		}
		cfg.replies = q

		return nil
	})
}

// WithStatusHandler sets the handler invoked on every connection status change.
func WithStatusHandler(h StatusHandler) Option {
	return optFunc(func(cfg *Config) error {
		cfg.statusHandler = h
		return nil
	})
}
