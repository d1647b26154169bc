package pipelinecore

// WorkflowState is the lifecycle state of a workflow record (C6).
type WorkflowState string

const (
	StateQueued    WorkflowState = "Queued"
	StateRunning   WorkflowState = "Running"
	StatePaused    WorkflowState = "Paused"
	StateCompleted WorkflowState = "Completed"
	StateFailed    WorkflowState = "Failed"
	StateCancelled WorkflowState = "Cancelled"
)

// legalTransitions is the canonical transition table from spec.md §3/§6.2.
var legalTransitions = map[WorkflowState]map[WorkflowState]bool{
	StateQueued: {
		StateRunning:   true,
		StateCancelled: true,
	},
	StateRunning: {
		StatePaused:    true,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
	},
	StatePaused: {
		StateRunning:   true,
		StateFailed:    true,
		StateCancelled: true,
	},
}

// IsTerminal reports whether a state accepts no further transitions.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to WorkflowState) bool {
	targets, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Describe returns a short human-readable description of a state. No code
// in this module calls it outside its tests.
func (s WorkflowState) Describe() string {
	switch s {
	case StateQueued:
		return "queued, not yet started"
	case StateRunning:
		return "actively executing a stage or between stages"
	case StatePaused:
		return "paused at a stage boundary, resumable from its checkpoint"
	case StateCompleted:
		return "finished successfully"
	case StateFailed:
		return "finished with an unrecoverable error"
	case StateCancelled:
		return "cancelled by request"
	default:
		return "unknown state"
	}
}
