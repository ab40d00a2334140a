package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/go-osdp/internal/util"
	"github.com/arloliu/go-osdp/message"
	"github.com/arloliu/go-osdp/trace"
)

// driverByte precedes every outgoing frame so line drivers settle before the SOM.
const driverByte byte = 0xFF

// IdleLineDelay returns the time needed to transmit n bytes at baudRate,
// counting ten bit times per byte.
func IdleLineDelay(baudRate, n int) time.Duration {
	if baudRate <= 0 || n <= 0 {
		return 0
	}

	return time.Duration(n) * 10 * time.Second / time.Duration(baudRate)
}

// exchangeOutcome classifies the result of one command/reply exchange.
type exchangeOutcome int

const (
	outcomeDelivered         exchangeOutcome = iota // reply assembled and parsed
	outcomeTimedOut                                 // a framing stage timed out
	outcomeFailed                                   // build, transport or parse error
	outcomeProtocolViolation                        // plain-text reply on an established secure channel
	outcomeMisaddressed                             // reply from an address other than the command's
)

func (o exchangeOutcome) String() string {
	switch o {
	case outcomeDelivered:
		return "delivered"
	case outcomeTimedOut:
		return "timed-out"
	case outcomeFailed:
		return "failed"
	case outcomeProtocolViolation:
		return "protocol-violation"
	case outcomeMisaddressed:
		return "misaddressed"
	default:
		return "unknown"
	}
}

type exchangeResult struct {
	outcome exchangeOutcome
	reply   *message.Reply
	err     error
}

func delivered(reply *message.Reply) exchangeResult {
	return exchangeResult{outcome: outcomeDelivered, reply: reply}
}

func failed(outcome exchangeOutcome, err error) exchangeResult {
	return exchangeResult{outcome: outcome, err: err}
}

// exchange sends cmd to dev and assembles its reply.
func (b *Bus) exchange(ctx context.Context, cmd *message.Command, dev *Device) exchangeResult {
	b.logger.Debug("sending command", "address", cmd.Address, "command", cmd.Code)

	data, err := message.BuildCommand(cmd, dev)
	if err != nil {
		return failed(outcomeFailed, err)
	}

	buf := util.Concat([]byte{driverByte}, data)
	if err := b.conn.Write(ctx, buf); err != nil {
		return failed(outcomeFailed, fmt.Errorf("bus: write: %w", err))
	}
	b.metrics.incCommandSendCount()
	b.trace(trace.Output, data)

	if !b.sleep(ctx, IdleLineDelay(b.conn.BaudRate(), len(buf))) {
		return failed(outcomeFailed, ctx.Err())
	}

	raw, err := b.receiveFrame(ctx, dev.IsSendingMultiMessage())
	if err != nil {
		if isTimeout(err) {
			return failed(outcomeTimedOut, err)
		}
		return failed(outcomeFailed, err)
	}
	b.metrics.incReplyRecvCount()
	b.trace(trace.Input, raw)

	reply, err := message.ParseReply(raw, cmd)
	if err != nil {
		return failed(outcomeFailed, err)
	}
	reply.BusID = b.id

	// A peripheral at the configuration address answers with its own address.
	if reply.Address != cmd.Address && cmd.Address != message.ConfigurationAddress {
		return exchangeResult{
			outcome: outcomeMisaddressed,
			reply:   reply,
			err:     fmt.Errorf("%w: got %d, want %d", ErrUnexpectedAddress, reply.Address, cmd.Address),
		}
	}

	// Busy and NAK may be sent in plain text on a secure channel. Some peripherals ACK
	// KEYSET in plain text as well.
	if reply.Type != message.ReplyBusy && reply.Type != message.ReplyNak &&
		dev.UseSecureChannel() && dev.IsSecurityEstablished() &&
		!reply.IsSecure && cmd.Code != message.CmdKeySet {
		return exchangeResult{outcome: outcomeProtocolViolation, reply: reply, err: ErrPlainTextReply}
	}

	return delivered(reply)
}

// receiveFrame reads one reply frame in three stages: start of message, header and body.
func (b *Bus) receiveFrame(ctx context.Context, isMultiMessage bool) ([]byte, error) {
	replyTimeout := b.cfg.replyTimeout
	somTimeout := replyTimeout
	if isMultiMessage {
		somTimeout += b.cfg.multiMessageGrace
	}

	buf := make([]byte, 0, message.MaxFrameLength)

	// start of message, one byte at a time
	one := make([]byte, 1)
	for {
		n, err := b.conn.Read(ctx, one, somTimeout)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: waiting for start of message", ErrReplyTimeout)
		}
		if one[0] == message.StartOfMessage {
			buf = append(buf, one[0])
			break
		}
	}

	// header
	for len(buf) < message.HeaderLength {
		chunk := buf[len(buf):message.HeaderLength]
		n, err := b.conn.Read(ctx, chunk, replyTimeout)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: waiting for message length", ErrReplyTimeout)
		}
		buf = buf[:len(buf)+n]
	}

	length := int(message.ExtractMessageLength(buf))
	if length < message.MinFrameLength || length > message.MaxFrameLength {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameLength, length)
	}

	// body, in chunks sized to the line speed
	maxChunk := max(b.conn.BaudRate()/40, 1)
	for len(buf) < length {
		size := min(maxChunk, length-len(buf))
		chunk := buf[len(buf) : len(buf)+size]
		n, err := b.conn.Read(ctx, chunk, replyTimeout+IdleLineDelay(b.conn.BaudRate(), size))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: waiting for rest of message", ErrReplyTimeout)
		}
		buf = buf[:len(buf)+n]
	}

	return buf, nil
}

func (b *Bus) trace(dir trace.Direction, data []byte) {
	if b.cfg.tracer == nil {
		return
	}

	b.cfg.tracer(trace.Entry{
		Direction: dir,
		BusID:     b.id,
		Data:      util.CloneSlice(data, 0),
		Time:      time.Now(),
	})
}
