package bus

import (
	"context"
	"time"

	"github.com/arloliu/go-osdp/internal/pool"
	"github.com/arloliu/go-osdp/message"
)

// poll runs one iteration of the polling loop. It returns false once the bus shuts down.
func (b *Bus) poll(ctx context.Context) bool {
	if b.shutdown.Load() {
		return false
	}

	if !b.conn.IsOpen() {
		if err := b.conn.Open(); err != nil {
			b.metrics.incOpenFailureCount()
			b.logger.Error("failed to open connection", "error", err)

			for _, dev := range b.snapshot() {
				if fresh := b.resetDevice(dev, "connection unavailable"); fresh != nil {
					b.updateConnectionStatus(fresh)
				}
			}

			return b.sleep(ctx, b.cfg.openRetryDelay) && !b.shutdown.Load()
		}
		b.logger.Info("connection opened")
	}

	isPolling := b.cfg.IsPolling()
	if isPolling {
		if !b.sleep(ctx, b.cfg.pollInterval-time.Since(b.lastSend)) {
			return false
		}
		b.lastSend = time.Now()

		if b.devices.Size() == 0 {
			return true
		}
	} else if !pool.Wait(ctx, b.cfg.onDemandWait, b.wake) {
		return false
	}

	for _, dev := range b.snapshot() {
		if b.shutdown.Load() || ctx.Err() != nil {
			return false
		}
		b.pollDevice(ctx, dev, isPolling)
	}

	return !b.shutdown.Load()
}

// pollDevice performs at most one exchange with dev.
func (b *Bus) pollDevice(ctx context.Context, dev *Device, isPolling bool) {
	if dev.RequestDelay().After(time.Now()) {
		b.logger.Debug("waiting for request delay", "address", dev.address)
		return
	}

	cmd, synthesized := dev.nextCommand(isPolling)
	if cmd == nil {
		return
	}

	// Only file transfer fragments go out during a multi-message exchange. Queued
	// commands wait for the exchange to finish.
	if dev.IsSendingMultiMessage() && cmd.Code != message.CmdFileTransfer {
		if !synthesized {
			dev.Enqueue(cmd)
		}
		return
	}

	if isPolling {
		changed := b.updateConnectionStatus(dev)
		if changed && !dev.IsConnected() {
			b.resetDevice(dev, "connection lost")
			return
		}
		if !dev.IsConnected() {
			// keep polling, at most once per request delay
			dev.SetRequestDelay(time.Now().Add(b.cfg.requestDelay))
		}
	}

	res := b.exchange(ctx, cmd, dev)
	switch res.outcome {
	case outcomeTimedOut:
		b.metrics.incTimeoutCount()
		if isPolling && dev.IsSecurityEstablished() && !dev.IsConnected() {
			b.resetDevice(dev, "secure device offline")
			return
		}
		b.logger.Debug("retrying command", "address", cmd.Address, "command", cmd.Code, "error", res.err)
		b.metrics.incRetryCount()
		dev.RetryCommand(cmd)

		return

	case outcomeFailed:
		if !b.shutdown.Load() {
			b.logger.Error("failed to send command", "address", cmd.Address, "command", cmd.Code, "error", res.err)
		}

		return

	case outcomeProtocolViolation:
		b.metrics.incProtocolViolationCount()
		b.logger.Warn("plain text reply received on established secure channel",
			"address", cmd.Address, "command", cmd.Code, "reply", res.reply.Type)
		if err := dev.CreateNewRandomNumber(); err != nil {
			b.logger.Error("failed to create random number", "address", cmd.Address, "error", err)
		}
		b.resetDevice(dev, "plain text reply")

		return

	case outcomeMisaddressed:
		b.metrics.incMisaddressedReplyCount()
		b.logger.Warn("reply from unexpected address dropped",
			"address", cmd.Address, "command", cmd.Code, "reply", res.reply.Type, "reply_address", res.reply.Address)

		return

	case outcomeDelivered:
	}

	if !b.processReply(res.reply, dev) {
		return
	}

	b.sleep(ctx, IdleLineDelay(b.conn.BaudRate(), 2))
}

// processReply validates reply and applies it to dev. It returns false when processing
// was aborted by a panic.
func (b *Bus) processReply(reply *message.Reply, dev *Device) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic while processing reply", "address", reply.Address, "reply", reply.Type, "panic", r)
			ok = false
		}
	}()

	if !reply.IsValid {
		b.metrics.incInvalidReplyCount()
		b.logger.Debug("invalid reply dropped", "address", reply.Address, "reply", reply.Type)
		return true
	}

	if reply.IsSecure {
		mac, err := dev.GenerateMAC(reply.MessageForMAC, false)
		if err != nil || !reply.IsValidMAC(mac) {
			b.metrics.incMACFailureCount()
			b.logger.Warn("reply MAC mismatch", "address", reply.Address, "reply", reply.Type, "error", err)
			b.resetDevice(dev, "MAC mismatch")

			return true
		}
		if err := reply.DecryptData(dev); err != nil {
			b.logger.Error("failed to decrypt reply", "address", reply.Address, "reply", reply.Type, "error", err)
			return true
		}
	}

	if reply.Type == message.ReplyBusy {
		return true
	}
	dev.ValidReplyReceived(reply.Sequence)

	if reply.Type == message.ReplyNak {
		nak, err := message.ParseNakReplyData(reply.Data)
		if err != nil {
			b.metrics.incMalformedNakCount()
			b.logger.Error("malformed NAK dropped", "address", reply.Address, "error", err)
			return true
		}
		if shouldResetOnNak(dev.UseSecureChannel(), nak.ErrorCode, reply.Sequence) {
			b.resetDevice(dev, "NAK "+nak.ErrorCode.String())
		}
	}

	switch reply.Type {
	case message.ReplyCrypticData:
		if err := dev.InitializeSecureChannel(reply); err != nil {
			b.logger.Error("failed to initialize secure channel", "address", reply.Address, "error", err)
		}
	case message.ReplyInitialRMac:
		if err := dev.ValidateSecureChannelEstablishment(reply); err != nil {
			b.logger.Error("cryptogram not accepted", "address", reply.Address, "error", err)
		}
	}

	b.replies.Push(reply)

	return true
}

// shouldResetOnNak reports whether a NAK with code and sequence seq requires a device reset.
func shouldResetOnNak(useSecureChannel bool, code message.ErrorCode, seq byte) bool {
	switch code {
	case message.ErrCodeDoesNotSupportSecurityBlock,
		message.ErrCodeCommunicationSecurityNotMet,
		message.ErrCodeUnableToProcessCommand:
		return useSecureChannel
	case message.ErrCodeUnexpectedSequenceNumber:
		return seq > 0
	default:
		return false
	}
}
