package sfstreaming

import (
	"sync/atomic"
)

// StateRepresentation represents the current lifecycle state as a string
type StateRepresentation string

const (
	unstarted int32 = iota
	started
	stopped
)

const (
	unstartedRepr StateRepresentation = "UNSTARTED"
	startedRepr   StateRepresentation = "STARTED"
	stoppedRepr   StateRepresentation = "STOPPED"
)

var stateNames = []StateRepresentation{unstartedRepr, startedRepr, stoppedRepr}

func stateName(state int32) string {
	s := int(state)
	if s < 0 || s >= len(stateNames) {
		return "unknown"
	}

	return string(stateNames[s])
}

// Event represents and event that can change the state of a state machine
type Event string

const (
	startRequested Event = "start requested"
	stopRequested  Event = "stop requested"
)

// LifecycleStateMachine tracks UNSTARTED -> STARTED -> STOPPED. STOPPED is
// terminal: a stopped client cannot be started again.
type LifecycleStateMachine struct {
	currentState *int32
}

// NewLifecycleStateMachine creates a state machine in the UNSTARTED state
func NewLifecycleStateMachine() *LifecycleStateMachine {
	defaultState := unstarted
	return &LifecycleStateMachine{&defaultState}
}

// IsStarted reflects whether Start succeeded and Stop hasn't been called
func (lsm *LifecycleStateMachine) IsStarted() bool {
	return atomic.LoadInt32(lsm.currentState) == started
}

// CurrentState provides a string representation of the current state of the
// state machine
func (lsm *LifecycleStateMachine) CurrentState() StateRepresentation {
	return StateRepresentation(stateName(atomic.LoadInt32(lsm.currentState)))
}

// ProcessEvent handles an event. A stop request only reports whether the
// machine moved, it is never an error.
func (lsm *LifecycleStateMachine) ProcessEvent(e Event) (bool, error) {
	switch e {
	case startRequested:
		if !atomic.CompareAndSwapInt32(lsm.currentState, unstarted, started) {
			return false, newBadStart(atomic.LoadInt32(lsm.currentState))
		}
		return true, nil
	case stopRequested:
		return atomic.CompareAndSwapInt32(lsm.currentState, started, stopped), nil
	default:
		return false, UnknownEventTypeError{e}
	}
}
