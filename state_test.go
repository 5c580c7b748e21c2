package reqflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMachineValidTransition(t *testing.T) {
	m := NewStateMachine(StatePaused, nil)
	require.True(t, m.TryTransition(StateIdle))
	require.Equal(t, StateIdle, m.State())
}

func TestStateMachineInvalidTransitionRejected(t *testing.T) {
	m := NewStateMachine(StatePaused, nil)
	require.False(t, m.TryTransition(StateCompleted))
	require.Equal(t, StatePaused, m.State())
}

func TestStateMachineTerminalIsAbsorbing(t *testing.T) {
	m := NewStateMachine(StateIdle, nil)
	require.True(t, m.TryTransition(StateRunning))
	require.True(t, m.TryTransition(StateCompleted))
	require.False(t, m.TryTransition(StateIdle))
	require.False(t, m.TryTransition(StateCancelled))
	require.Equal(t, StateCompleted, m.State())
}

func TestStateMachineOnChangeFires(t *testing.T) {
	var gotFrom, gotTo RequestState
	calls := 0
	m := NewStateMachine(StatePaused, func(from, to RequestState) {
		calls++
		gotFrom, gotTo = from, to
	})
	m.TryTransition(StateIdle)
	require.Equal(t, 1, calls)
	require.Equal(t, StatePaused, gotFrom)
	require.Equal(t, StateIdle, gotTo)

	// an invalid transition must not invoke onChange.
	m.TryTransition(StateCompleted)
	require.Equal(t, 1, calls)
}

func TestContainerStateMachineAllowsReset(t *testing.T) {
	m := NewContainerStateMachine(StateIdle, nil)
	require.True(t, m.TryTransition(StateRunning))
	require.True(t, m.TryTransition(StateCompleted))
	require.True(t, m.TryTransition(StateIdle))
	require.True(t, m.TryTransition(StateCancelled))
	require.True(t, m.TryTransition(StateIdle))
}

func TestForceTransitionBypassesTable(t *testing.T) {
	m := NewStateMachine(StateCompleted, nil)
	m.ForceTransition(StateIdle)
	require.Equal(t, StateIdle, m.State())
}

func TestAllSevenStatesVisitedAtMostPerTable(t *testing.T) {
	m := NewStateMachine(StatePaused, nil)
	path := []RequestState{StateIdle, StateRunning, StateWaiting}
	for _, s := range path {
		m.TryTransition(s)
	}
	// Running -> Waiting is allowed; Waiting -> Running is not in the table.
	require.False(t, m.TryTransition(StateRunning))
}
