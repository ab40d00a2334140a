// Package bus implements the control panel side of an OSDP RS-485 bus.
//
// A Bus owns one transport and a set of peripheral sessions keyed by address. A single
// polling task sends one command at a time, assembles the reply with bounded per-stage
// timeouts, validates it against the device's secure channel and publishes accepted
// replies to a ReplyQueue.
//
// Example Usage:
//
//	conn := transport.NewSerialConnection("/dev/ttyUSB0", 9600)
//	cfg, _ := bus.NewConfig(bus.WithPollInterval(200 * time.Millisecond))
//	b, err := bus.NewBus(ctx, conn, cfg)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//
//	_ = b.AddDevice(1, true, true, nil)
//	if err := b.StartPolling(); err != nil {
//	    return err
//	}
//
//	for {
//	    reply, err := b.Replies().Take(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    // handle reply
//	}
package bus
