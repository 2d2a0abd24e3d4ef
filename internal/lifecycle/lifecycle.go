// Package lifecycle tracks the application run state across updater and
// window events.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// State is the application run state.
type State int

const (
	Running State = iota
	UpdateDownloaded
	Quitting
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case UpdateDownloaded:
		return "update-downloaded"
	case Quitting:
		return "quitting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event triggers a state transition.
type Event int

const (
	// UpdateReady is fired by the updater once a release has been downloaded and verified.
	UpdateReady Event = iota
	// InstallRequested asks to quit and apply the downloaded update.
	InstallRequested
	// QuitRequested is an explicit quit from the user or a second instance.
	QuitRequested
	// AllWindowsClosed is fired when the last window closes on platforms that quit then.
	AllWindowsClosed
)

func (e Event) String() string {
	switch e {
	case UpdateReady:
		return "update-ready"
	case InstallRequested:
		return "install-requested"
	case QuitRequested:
		return "quit-requested"
	case AllWindowsClosed:
		return "all-windows-closed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned when an event is not accepted in the current state.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Transition describes one accepted state change.
type Transition struct {
	From  State
	To    State
	Event Event
}

// Observer is notified after every accepted transition.
type Observer func(Transition)

// Machine is the run-state machine. The zero value is not usable; call New.
type Machine struct {
	mu            sync.Mutex
	state         State
	installOnQuit bool
	observers     []Observer
	done          chan struct{}
}

// New returns a Machine in the Running state.
func New() *Machine {
	return &Machine{state: Running, done: make(chan struct{})}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// InstallOnQuit reports whether a downloaded update should be applied on exit.
func (m *Machine) InstallOnQuit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installOnQuit
}

// Done is closed once the machine reaches Quitting.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Observe registers an observer.
func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Fire applies an event and returns the resulting state. Invalid events
// leave the state unchanged and return ErrInvalidTransition.
func (m *Machine) Fire(ev Event) (State, error) {
	m.mu.Lock()

	from := m.state
	to, install, err := next(from, ev)
	if err != nil {
		m.mu.Unlock()
		return from, err
	}
	if to == from {
		m.mu.Unlock()
		return from, nil
	}

	m.state = to
	if install {
		m.installOnQuit = true
	}
	if to == Quitting {
		close(m.done)
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	tr := Transition{From: from, To: to, Event: ev}
	for _, o := range observers {
		o(tr)
	}
	return to, nil
}

// next is the transition table.
func next(from State, ev Event) (State, bool, error) {
	switch from {
	case Running:
		switch ev {
		case UpdateReady:
			return UpdateDownloaded, false, nil
		case QuitRequested, AllWindowsClosed:
			return Quitting, false, nil
		}
	case UpdateDownloaded:
		switch ev {
		case UpdateReady:
			return UpdateDownloaded, false, nil
		case InstallRequested, QuitRequested, AllWindowsClosed:
			return Quitting, true, nil
		}
	case Quitting:
		switch ev {
		case QuitRequested, AllWindowsClosed:
			return Quitting, false, nil
		}
	}
	return from, false, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, from)
}
