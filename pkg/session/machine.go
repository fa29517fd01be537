// Package session owns the wallet session lifecycle: the connection state
// machine, the process-wide session store, and the persisted reconnection
// record.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/walletmesh/walletmesh/pkg/chains"
)

// State is a connection state machine state. The machine occupies exactly
// one state at any time.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateSwitching    State = "switching"
	StateError        State = "error"
)

// Machine serializes wallet session lifecycle transitions. Only one
// connection attempt or chain switch may be in flight at a time; a second
// concurrent attempt fails with ConcurrentOperationError instead of racing
// the adapter.
type Machine struct {
	mu       sync.Mutex
	state    State
	lastErr  error
	inFlight string
}

// NewMachine creates a machine in the initial Disconnected state
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error retained by the Error state, nil otherwise
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// BeginConnect enters Connecting. Valid from Disconnected and from Error
// (retry). A concurrent connect or switch is rejected.
func (m *Machine) BeginConnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight != "" {
		return &chains.ConcurrentOperationError{Op: "connect", InFlight: m.inFlight}
	}
	switch m.state {
	case StateDisconnected, StateError:
	case StateConnected:
		return &chains.ConcurrentOperationError{Op: "connect", InFlight: "connected session"}
	default:
		return &chains.ConcurrentOperationError{Op: "connect", InFlight: string(m.state)}
	}

	m.state = StateConnecting
	m.lastErr = nil
	m.inFlight = "connect"
	return nil
}

// FinishConnect resolves a connect attempt. Success lands in Connected;
// cancellation and timeout roll back to Disconnected (the pre-call state);
// any other error lands in Error with the error retained.
func (m *Machine) FinishConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight = ""
	switch {
	case err == nil:
		m.state = StateConnected
		m.lastErr = nil
	case isCancellation(err):
		m.state = StateDisconnected
		m.lastErr = nil
	default:
		m.state = StateError
		m.lastErr = err
	}
}

// BeginSwitch enters Switching. Valid only from Connected; reuses the
// connect exclusivity rule.
func (m *Machine) BeginSwitch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight != "" {
		return &chains.ConcurrentOperationError{Op: "switch", InFlight: m.inFlight}
	}
	if m.state != StateConnected {
		return &chains.ConnectionError{Err: errors.New("switch requires a connected session")}
	}

	m.state = StateSwitching
	m.inFlight = "switch"
	return nil
}

// FinishSwitch resolves a switch attempt. Success returns to Connected;
// cancellation, timeout and user rejection roll back to Connected (the
// pre-call state); other adapter errors land in Error.
func (m *Machine) FinishSwitch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight = ""
	var rejected *chains.UserRejectedError
	switch {
	case err == nil:
		m.state = StateConnected
		m.lastErr = nil
	case isCancellation(err), errors.As(err, &rejected):
		m.state = StateConnected
	default:
		m.state = StateError
		m.lastErr = err
	}
}

// Disconnect moves to Disconnected from any state and clears the retained
// error. Used for explicit disconnects and adapter-reported session loss.
func (m *Machine) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateDisconnected
	m.lastErr = nil
	m.inFlight = ""
}

// Reset clears the Error state back to Disconnected. No-op elsewhere.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateError {
		m.state = StateDisconnected
		m.lastErr = nil
	}
}

func isCancellation(err error) bool {
	var toErr *chains.TimeoutError
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &toErr)
}
