package models

import "fmt"

// PositionState represents the lifecycle state of a per-instrument position.
type PositionState string

const (
	// StateFlat means no exposure for the instrument.
	StateFlat PositionState = "flat"
	// StateOpen means an active, risk-bearing position.
	StateOpen PositionState = "open"
	// StateClosed is terminal; the position has been converted to a ClosedTrade.
	StateClosed PositionState = "closed"
)

// StateTransition defines a valid state transition.
type StateTransition struct {
	From      PositionState
	To        PositionState
	Condition string
}

// ValidTransitions is the full lifecycle table. FLAT -> OPEN fires only on a
// qualifying entry; OPEN -> CLOSED fires exactly once, on the first exit
// condition satisfied.
var ValidTransitions = []StateTransition{
	{StateFlat, StateOpen, "entry_filled"},
	{StateOpen, StateClosed, "exit_filled"},
}

// StateMachine tracks the position lifecycle and rejects invalid transitions.
type StateMachine struct {
	current  PositionState
	previous PositionState
}

// NewStateMachine creates a state machine in the flat state.
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateFlat}
}

// NewStateMachineFromState restores a machine at a known state.
func NewStateMachineFromState(state PositionState) *StateMachine {
	if state == "" {
		state = StateFlat
	}
	return &StateMachine{current: state}
}

// Transition moves to a new state if the transition table allows it.
func (sm *StateMachine) Transition(to PositionState, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From == sm.current && tr.To == to && tr.Condition == condition {
			sm.previous = sm.current
			sm.current = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s (condition: %s)", sm.current, to, condition)
}

// GetCurrentState returns the current state.
func (sm *StateMachine) GetCurrentState() PositionState {
	return sm.current
}

// GetPreviousState returns the state before the last transition.
func (sm *StateMachine) GetPreviousState() PositionState {
	return sm.previous
}

// IsTerminal returns true once the machine has closed.
func (sm *StateMachine) IsTerminal() bool {
	return sm.current == StateClosed
}
