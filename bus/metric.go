package bus

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a bus.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// CommandSendCount indicates the number of commands written to the transport.
	CommandSendCount atomic.Uint64
	// ReplyRecvCount indicates the number of reply frames assembled.
	ReplyRecvCount atomic.Uint64
	// InvalidReplyCount indicates the number of replies dropped for a bad checksum or CRC.
	InvalidReplyCount atomic.Uint64
	// TimeoutCount indicates the number of exchanges that timed out.
	TimeoutCount atomic.Uint64
	// RetryCount indicates the number of commands handed back for retry.
	RetryCount atomic.Uint64
	// ResetCount indicates the number of device resets.
	ResetCount atomic.Uint64
	// MACFailureCount indicates the number of replies whose MAC did not verify.
	MACFailureCount atomic.Uint64
	// ProtocolViolationCount indicates the number of plain-text replies on a secure channel.
	ProtocolViolationCount atomic.Uint64
	// MisaddressedReplyCount indicates the number of replies dropped for coming from another address.
	MisaddressedReplyCount atomic.Uint64
	// MalformedNakCount indicates the number of NAK replies dropped for missing an error code.
	MalformedNakCount atomic.Uint64
	// OpenFailureCount indicates the number of failed transport open attempts.
	OpenFailureCount atomic.Uint64
}

func (m *Metrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *Metrics) incReplyRecvCount() {
	m.ReplyRecvCount.Add(1)
}

func (m *Metrics) incInvalidReplyCount() {
	m.InvalidReplyCount.Add(1)
}

func (m *Metrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *Metrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *Metrics) incResetCount() {
	m.ResetCount.Add(1)
}

func (m *Metrics) incMACFailureCount() {
	m.MACFailureCount.Add(1)
}

func (m *Metrics) incProtocolViolationCount() {
	m.ProtocolViolationCount.Add(1)
}

func (m *Metrics) incOpenFailureCount() {
	m.OpenFailureCount.Add(1)
}

func (m *Metrics) incMisaddressedReplyCount() {
	m.MisaddressedReplyCount.Add(1)
}

func (m *Metrics) incMalformedNakCount() {
	m.MalformedNakCount.Add(1)
}
