package bus

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-osdp/logger"
)

// ConnectionStatus is the connectivity of a device as seen by the bus.
type ConnectionStatus struct {
	IsConnected                bool
	IsSecureSessionEstablished bool
}

// Connection states of the per-address status machine.
const (
	StateOfflineInsecure = "offline-insecure"
	StateOfflineSecure   = "offline-secure"
	StateOnlineInsecure  = "online-insecure"
	StateOnlineSecure    = "online-secure"
)

var allStates = []string{StateOfflineInsecure, StateOfflineSecure, StateOnlineInsecure, StateOnlineSecure}

// State returns the status machine state matching s.
func (s ConnectionStatus) State() string {
	switch {
	case s.IsConnected && s.IsSecureSessionEstablished:
		return StateOnlineSecure
	case s.IsConnected:
		return StateOnlineInsecure
	case s.IsSecureSessionEstablished:
		return StateOfflineSecure
	default:
		return StateOfflineInsecure
	}
}

// ConnectionStatusEvent is raised when the connectivity of a device changes.
type ConnectionStatusEvent struct {
	BusID                      uuid.UUID
	Address                    byte
	IsConnected                bool
	IsSecureSessionEstablished bool
}

// StatusHandler handles connection status changes. It is called from the polling task
// and must not block.
type StatusHandler func(evt ConnectionStatusEvent)

// statusTracker remembers the last reported status of every address as a small state machine.
// An address that was never checked starts offline and insecure.
type statusTracker struct {
	logger   logger.Logger
	machines *xsync.MapOf[byte, *fsm.FSM]
}

func newStatusTracker(l logger.Logger) *statusTracker {
	return &statusTracker{
		logger:   l,
		machines: xsync.NewMapOf[byte, *fsm.FSM](),
	}
}

func (t *statusTracker) machine(address byte) *fsm.FSM {
	m, _ := t.machines.LoadOrCompute(address, func() *fsm.FSM {
		events := make(fsm.Events, 0, len(allStates))
		for _, state := range allStates {
			events = append(events, fsm.EventDesc{Name: "to-" + state, Src: allStates, Dst: state})
		}

		return fsm.NewFSM(StateOfflineInsecure, events, fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				t.logger.Debug("connection state changed", "address", address, "from", e.Src, "to", e.Dst)
			},
		})
	})

	return m
}

// update moves the machine of address to status and reports whether the state changed.
func (t *statusTracker) update(address byte, status ConnectionStatus) bool {
	m := t.machine(address)

	err := m.Event(context.Background(), "to-"+status.State())
	if err == nil {
		return true
	}

	var noTransition fsm.NoTransitionError
	if !errors.As(err, &noTransition) {
		t.logger.Error("connection state machine failed", "address", address, "error", err)
	}

	return false
}
