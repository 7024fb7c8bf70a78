package session

import "fmt"

// State is the coarse lifecycle status of a session.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateError     State = "error"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further stream events may advance the state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateError, StateCancelled:
		return true
	}
	return false
}

// lifecycle is the session state machine:
//
//	idle -> starting -> running <-> paused -> completed | error | cancelled
//
// A new start is legal only from idle or a terminal state. Fail and Cancel
// are forced transitions, legal from anywhere.
type lifecycle struct {
	state State
}

func newLifecycle() *lifecycle {
	return &lifecycle{state: StateIdle}
}

// CanStart reports whether a new session may begin from the current state.
func (l *lifecycle) CanStart() bool {
	return l.state == StateIdle || l.state.Terminal()
}

// Begin moves to starting. Legal only when CanStart.
func (l *lifecycle) Begin() error {
	if !l.CanStart() {
		return fmt.Errorf("cannot start from state %q", l.state)
	}
	l.state = StateStarting
	return nil
}

// Activate moves to running on the first substantive stream event, or on
// resumption from paused.
func (l *lifecycle) Activate() error {
	switch l.state {
	case StateStarting, StatePaused, StateRunning:
		l.state = StateRunning
		return nil
	}
	return fmt.Errorf("cannot activate from state %q", l.state)
}

// Pause moves a running session to paused (agent awaiting user input).
func (l *lifecycle) Pause() error {
	if l.state != StateRunning {
		return fmt.Errorf("cannot pause from state %q", l.state)
	}
	l.state = StatePaused
	return nil
}

// Complete records a terminal backend outcome.
func (l *lifecycle) Complete() error {
	switch l.state {
	case StateRunning, StatePaused, StateStarting:
		l.state = StateCompleted
		return nil
	}
	return fmt.Errorf("cannot complete from state %q", l.state)
}

// Fail is forced: any state may move to error.
func (l *lifecycle) Fail() {
	l.state = StateError
}

// Cancel is forced and idempotent: any state may move to cancelled
// without waiting for backend acknowledgement.
func (l *lifecycle) Cancel() {
	l.state = StateCancelled
}

func (l *lifecycle) State() State {
	return l.state
}
