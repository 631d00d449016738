// Package lifecycle provides the four-state machine shared by long-running
// components: Unconfigured → Configured → Started → Stopped.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is a component lifecycle state.
type State int

const (
	Unconfigured State = iota
	Configured
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Machine tracks the state of one component. The zero value is Unconfigured.
//
// Transition hooks run with the machine locked and must not call back into it.
// A failing hook leaves the state unchanged.
type Machine struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRunning reports whether the component is started.
func (m *Machine) IsRunning() bool {
	return m.State() == Started
}

// Configure moves to Configured. A started component must be stopped first.
func (m *Machine) Configure(fn func() error) error {
	return m.transition(Configured, fn, Unconfigured, Configured, Stopped)
}

// Start moves a configured or stopped component to Started.
func (m *Machine) Start(fn func() error) error {
	return m.transition(Started, fn, Configured, Stopped)
}

// Stop moves a started component to Stopped. Stopping a stopped component
// is a no-op.
func (m *Machine) Stop(fn func() error) error {
	m.mu.Lock()
	if m.state == Stopped {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.transition(Stopped, fn, Started)
}

func (m *Machine) transition(to State, fn func() error, from ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := false
	for _, s := range from {
		if m.state == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}

	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	m.state = to
	return nil
}
