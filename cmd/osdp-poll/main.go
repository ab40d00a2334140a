// osdp-poll drives an OSDP bus from a YAML configuration file.
//
// It opens the configured transport, polls every configured peripheral and logs the
// replies and connection status changes until SIGINT or SIGTERM is received.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-osdp/bus"
	"github.com/arloliu/go-osdp/internal/config"
	"github.com/arloliu/go-osdp/logger"
	"github.com/arloliu/go-osdp/trace"
)

var log logger.Logger

func statusHandler(evt bus.ConnectionStatusEvent) {
	log.Info("connection status changed",
		"bus", evt.BusID,
		"address", evt.Address,
		"connected", evt.IsConnected,
		"secure", evt.IsSecureSessionEstablished,
	)
}

func debugTracer(e trace.Entry) {
	if log.Level() == logger.DebugLevel {
		log.Debug("frame", "bus", e.BusID, "trace", trace.Hex(e))
	}
}

func main() {
	log = logger.NewSlog(logger.InfoLevel, false)
	logger.SetDefault(log)

	if len(os.Args) < 2 {
		log.Fatal("usage: osdp-poll <config.yaml>")
	}

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal("invalid config", "error", err)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := append(cfg.BusOptions(),
		bus.WithLogger(log),
		bus.WithStatusHandler(statusHandler),
	)

	tracers := []trace.Tracer{debugTracer}
	if cfg.Trace.Path != "" {
		recorder, err := trace.OpenBoltRecorder(cfg.Trace.Path, log)
		if err != nil {
			log.Fatal("failed to open trace database", "path", cfg.Trace.Path, "error", err)
		}
		defer recorder.Close()

		tracers = append(tracers, recorder.Tracer())
	}
	opts = append(opts, bus.WithTracer(trace.Multi(tracers...)))

	busCfg, err := bus.NewConfig(opts...)
	if err != nil {
		log.Error("failed to create bus config", "error", err)
		return
	}

	b, err := bus.NewBus(ctx, cfg.NewConnection(), busCfg)
	if err != nil {
		log.Error("failed to create bus", "error", err)
		return
	}

	for _, d := range cfg.Devices {
		key, _ := d.KeyBytes()
		if err := b.AddDevice(d.Address, d.CRC, d.SecureChannel, key); err != nil {
			log.Error("failed to add device", "address", d.Address, "error", err)
			_ = b.Close()
			return
		}
	}

	if err := b.StartPolling(); err != nil {
		log.Error("failed to start polling", "error", err)
		_ = b.Close()
		return
	}

	log.Info("polling started", "bus", b.ID(), "devices", len(cfg.Devices), "on_demand", !b.IsPolling())

	go func() {
		for {
			reply, err := b.Replies().Take(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Error("reply queue closed", "error", err)
				}
				return
			}

			log.Info("reply received",
				"address", reply.Address,
				"type", reply.Type,
				"secure", reply.IsSecure,
				"data", hex.EncodeToString(reply.Data),
			)
		}
	}()

	exitSig := make(chan os.Signal, 1)
	signal.Notify(exitSig, syscall.SIGINT, syscall.SIGTERM)
	<-exitSig

	log.Info("exit signal received")

	cancel()
	if err := b.Close(); err != nil {
		log.Warn("failed to close bus", "error", err)
	}

	log.Info("shutdown finished")
}
