package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StatePending, "PENDING"},
		{StateProcessing, "PROCESSING"},
		{StateCompleted, "COMPLETED"},
		{StateFailed, "FAILED"},
		{StateTimeout, "TIMEOUT"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input    string
		expected State
	}{
		{"PENDING", StatePending},
		{"PROCESSING", StateProcessing},
		{"COMPLETED", StateCompleted},
		{"FAILED", StateFailed},
		{"TIMEOUT", StateTimeout},
		{"invalid", StatePending},
		{"", StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseState(tt.input))
		})
	}
}

func TestState_IsFinal(t *testing.T) {
	finalStates := []State{StateCompleted, StateFailed, StateTimeout}
	nonFinalStates := []State{StatePending, StateProcessing}

	for _, state := range finalStates {
		assert.True(t, state.IsFinal(), "expected %s to be final", state)
	}
	for _, state := range nonFinalStates {
		assert.False(t, state.IsFinal(), "expected %s to not be final", state)
	}
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StatePending, StateProcessing, true},
		{StatePending, StateCompleted, false},
		{StatePending, StateFailed, false},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateFailed, true},
		{StateProcessing, StateTimeout, true},
		{StateProcessing, StatePending, false},
		{StateCompleted, StatePending, false},
		{StateFailed, StateProcessing, false},
		{StateTimeout, StateProcessing, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Start(t *testing.T) {
	status := NewTaskStatus("task-1")
	sm := NewStateMachine(status)

	err := sm.Start()
	require.NoError(t, err)

	assert.Equal(t, StateProcessing, status.State)
	require.NotNil(t, status.StartedAt)
}

func TestStateMachine_Start_Invalid(t *testing.T) {
	status := NewTaskStatus("task-1")
	status.State = StateCompleted
	sm := NewStateMachine(status)

	err := sm.Start()
	assert.Equal(t, ErrInvalidTransition, err)
}

func TestStateMachine_Complete(t *testing.T) {
	status := NewTaskStatus("task-1")
	sm := NewStateMachine(status)
	require.NoError(t, sm.Start())

	stats := &Statistics{TotalRows: 100, SuccessCount: 95, ErrorCount: 5}
	err := sm.Complete(stats)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, stats, status.Statistics)
	assert.Empty(t, status.ErrorMessage)
	require.NotNil(t, status.CompletedAt)
}

func TestStateMachine_Fail(t *testing.T) {
	status := NewTaskStatus("task-1")
	sm := NewStateMachine(status)
	require.NoError(t, sm.Start())

	err := sm.Fail("disk full")
	require.NoError(t, err)

	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, "disk full", status.ErrorMessage)
	require.NotNil(t, status.CompletedAt)
}

func TestStateMachine_Timeout(t *testing.T) {
	status := NewTaskStatus("task-1")
	sm := NewStateMachine(status)
	require.NoError(t, sm.Start())

	err := sm.Timeout("exceeded processing budget")
	require.NoError(t, err)

	assert.Equal(t, StateTimeout, status.State)
	assert.True(t, status.State.IsFinal())
}

func TestStateMachine_Fail_RequiresProcessing(t *testing.T) {
	status := NewTaskStatus("task-1")
	sm := NewStateMachine(status)

	err := sm.Fail("too early")
	assert.Equal(t, ErrInvalidTransition, err)
	assert.Equal(t, StatePending, status.State)
}

func TestResetForRecovery(t *testing.T) {
	status := ResetForRecovery("task-1")

	assert.Equal(t, "task-1", status.TaskID)
	assert.Equal(t, StatePending, status.State)
	assert.Nil(t, status.StartedAt)
	assert.Nil(t, status.CompletedAt)
}
