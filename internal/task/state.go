package task

import "time"

// State is the task's position in the closed state machine of §3/§7.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateCompleted
	StateFailed
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateProcessing:
		return "PROCESSING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// ParseState parses the external string representation used in Redis hashes.
func ParseState(s string) State {
	switch s {
	case "PENDING":
		return StatePending
	case "PROCESSING":
		return StateProcessing
	case "COMPLETED":
		return StateCompleted
	case "FAILED":
		return StateFailed
	case "TIMEOUT":
		return StateTimeout
	default:
		return StatePending
	}
}

// IsFinal reports whether the state is terminal.
func (s State) IsFinal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimeout
}

// validTransitions enumerates the allowed moves between states. PROCESSING
// can return to PENDING only via a RecoveryManager reset (§4.6), which is
// performed by constructing a fresh TaskStatus rather than transitioning an
// existing one, so it is intentionally absent here.
var validTransitions = map[State][]State{
	StatePending:    {StateProcessing},
	StateProcessing: {StateCompleted, StateFailed, StateTimeout},
	StateCompleted:  {},
	StateFailed:     {},
	StateTimeout:    {},
}

// CanTransitionTo reports whether moving from s to target is a legal transition.
func (s State) CanTransitionTo(target State) bool {
	for _, v := range validTransitions[s] {
		if v == target {
			return true
		}
	}
	return false
}

// Statistics summarizes a completed task's row counts (invariant 3, §3).
type Statistics struct {
	TotalRows    int `json:"total_rows"`
	SuccessCount int `json:"success_count"`
	ErrorCount   int `json:"error_count"`
}

// TaskStatus is the single source of truth for a task's lifecycle (§3, §7).
type TaskStatus struct {
	TaskID       string      `json:"task_id"`
	State        State       `json:"state"`
	CreatedAt    time.Time   `json:"created_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Statistics   *Statistics `json:"statistics,omitempty"`
}

// NewTaskStatus creates the initial PENDING status written at enqueue time.
func NewTaskStatus(taskID string) *TaskStatus {
	return &TaskStatus{
		TaskID:    taskID,
		State:     StatePending,
		CreatedAt: time.Now().UTC(),
	}
}

// StateMachine mutates a TaskStatus through its legal transitions. The
// TaskConsumer owning a task row is the StateMachine's only caller for that
// row (ownership rule, §3).
type StateMachine struct {
	status *TaskStatus
}

// NewStateMachine wraps a TaskStatus for transition.
func NewStateMachine(status *TaskStatus) *StateMachine {
	return &StateMachine{status: status}
}

func (sm *StateMachine) transition(target State) error {
	if !sm.status.State.CanTransitionTo(target) {
		return ErrInvalidTransition
	}
	sm.status.State = target
	return nil
}

// Start transitions PENDING -> PROCESSING and records the start time.
func (sm *StateMachine) Start() error {
	if err := sm.transition(StateProcessing); err != nil {
		return err
	}
	now := time.Now().UTC()
	sm.status.StartedAt = &now
	return nil
}

// Complete transitions PROCESSING -> COMPLETED and records statistics.
func (sm *StateMachine) Complete(stats *Statistics) error {
	if err := sm.transition(StateCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	sm.status.CompletedAt = &now
	sm.status.Statistics = stats
	sm.status.ErrorMessage = ""
	return nil
}

// Fail transitions PROCESSING -> FAILED and records the error message.
func (sm *StateMachine) Fail(errMsg string) error {
	if err := sm.transition(StateFailed); err != nil {
		return err
	}
	now := time.Now().UTC()
	sm.status.CompletedAt = &now
	sm.status.ErrorMessage = errMsg
	return nil
}

// Timeout transitions PROCESSING -> TIMEOUT. This is a terminal transition;
// timed-out tasks are never retried (§4.5, §7).
func (sm *StateMachine) Timeout(errMsg string) error {
	if err := sm.transition(StateTimeout); err != nil {
		return err
	}
	now := time.Now().UTC()
	sm.status.CompletedAt = &now
	sm.status.ErrorMessage = errMsg
	return nil
}

// ResetForRecovery builds the reset PENDING status the RecoveryManager
// writes for an abandoned task (§4.6). This bypasses the normal transition
// table by design: it represents the system reclaiming a task whose owning
// process is presumed dead, not a transition made by that process.
func ResetForRecovery(taskID string) *TaskStatus {
	return NewTaskStatus(taskID)
}
