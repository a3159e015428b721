package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_Lifecycle(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, StateFlat, sm.GetCurrentState())

	require.NoError(t, sm.Transition(StateOpen, "entry_filled"))
	assert.Equal(t, StateOpen, sm.GetCurrentState())
	assert.Equal(t, StateFlat, sm.GetPreviousState())

	require.NoError(t, sm.Transition(StateClosed, "exit_filled"))
	assert.True(t, sm.IsTerminal())
}

func TestStateMachine_RejectsInvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	// Cannot close what was never opened.
	err := sm.Transition(StateClosed, "exit_filled")
	require.Error(t, err)
	assert.Equal(t, StateFlat, sm.GetCurrentState())

	// Condition must match the table.
	err = sm.Transition(StateOpen, "wrong_condition")
	require.Error(t, err)
	assert.Equal(t, StateFlat, sm.GetCurrentState())

	// Closed is terminal.
	require.NoError(t, sm.Transition(StateOpen, "entry_filled"))
	require.NoError(t, sm.Transition(StateClosed, "exit_filled"))
	err = sm.Transition(StateOpen, "entry_filled")
	require.Error(t, err)
}

func TestStateMachine_Restore(t *testing.T) {
	sm := NewStateMachineFromState(StateOpen)
	assert.Equal(t, StateOpen, sm.GetCurrentState())

	sm = NewStateMachineFromState("")
	assert.Equal(t, StateFlat, sm.GetCurrentState())
}
