package model

// RunState represents the lifecycle state of a Run.
type RunState string

const (
	RunStatePending    RunState = "PENDING"
	RunStateResolving  RunState = "RESOLVING"
	RunStateAssembling RunState = "ASSEMBLING"
	RunStateRunning    RunState = "RUNNING"
	RunStateExtracting RunState = "EXTRACTING"
	RunStateCompleted  RunState = "COMPLETED"
	RunStateNoResult   RunState = "COMPLETED_NO_RESULT"
	RunStateFailed     RunState = "FAILED"
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	return string(s)
}

// Known reports whether s is one of the defined run states.
func (s RunState) Known() bool {
	switch s {
	case RunStatePending, RunStateResolving, RunStateAssembling, RunStateRunning,
		RunStateExtracting, RunStateCompleted, RunStateNoResult, RunStateFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the run is in a final state.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateNoResult, RunStateFailed:
		return true
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for Runs.
// Any non-terminal state may fail.
var ValidRunTransitions = map[RunState][]RunState{
	RunStatePending:    {RunStateResolving, RunStateAssembling, RunStateFailed},
	RunStateResolving:  {RunStateAssembling, RunStateFailed},
	RunStateAssembling: {RunStateRunning, RunStateCompleted, RunStateFailed},
	RunStateRunning:    {RunStateExtracting, RunStateFailed},
	RunStateExtracting: {RunStateCompleted, RunStateNoResult, RunStateFailed},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range ValidRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// StageStatus is the outcome of one pipeline stage.
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)
