package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/quickblox/dialogsync/internal/bus"
	"github.com/quickblox/dialogsync/internal/gateway"
)

// Phase is the coarse sync status exposed to consumers. It is derived
// from the connection state plus the progress of the bulk sync pass.
type Phase string

const (
	PhaseUnauthorized    Phase = "UNAUTHORIZED"
	PhaseDisconnected    Phase = "DISCONNECTED"
	PhaseConnecting      Phase = "CONNECTING"
	PhaseUpdating        Phase = "UPDATING"
	PhaseFetchingDetails Phase = "FETCHING_DETAILS"
	PhaseSynced          Phase = "SYNCED"
)

// validTransitions defines allowed connection state transitions.
// disconnected may jump straight to connected: the transport reconnects
// on its own and reports only the established connection.
var validTransitions = map[gateway.ConnState][]gateway.ConnState{
	gateway.StateUnauthorized: {gateway.StateConnecting},
	gateway.StateDisconnected: {gateway.StateConnecting, gateway.StateConnected, gateway.StateUnauthorized},
	gateway.StateConnecting:   {gateway.StateConnected, gateway.StateDisconnected, gateway.StateUnauthorized},
	gateway.StateConnected:    {gateway.StateConnecting, gateway.StateDisconnected, gateway.StateUnauthorized},
}

// Machine tracks and enforces connection state transitions and carries
// the derived sync phase. Both are transient, in-memory only.
type Machine struct {
	mu    sync.RWMutex
	conn  gateway.ConnState
	phase Phase
	bus   *bus.Bus
}

// NewMachine creates a state machine starting disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		conn:  gateway.StateDisconnected,
		phase: PhaseDisconnected,
		bus:   b,
	}
}

// Connection returns the current connection state.
func (m *Machine) Connection() gateway.ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// Phase returns the current sync phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Transition attempts to move to a new connection state. A transition
// to the current state is a no-op; reconnect storms deliver the same
// signal more than once. Returns an error if the transition is invalid.
func (m *Machine) Transition(to gateway.ConnState, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.conn {
		return nil
	}
	allowed := validTransitions[m.conn]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.conn, to)
	}
	from := m.conn
	m.conn = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindConnectionChanged, ConnectionChange{
			From: from,
			To:   to,
			Err:  cause,
		}))
	}
	return nil
}

// SetPhase publishes a sync phase. Phases are derived, not validated:
// updating may be re-emitted with an error after a failed sync pass.
func (m *Machine) SetPhase(p Phase, cause error) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindSyncPhase, PhaseChange{Phase: p, Err: cause}))
	}
}

// ConnectionChange is the payload for connection change events.
type ConnectionChange struct {
	From gateway.ConnState
	To   gateway.ConnState
	Err  error
}

// PhaseChange is the payload for sync phase events.
type PhaseChange struct {
	Phase Phase
	Err   error
}
