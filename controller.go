package pipelinecore

import (
	"context"
	"sync"
	"time"
)

// PauseResumeSignal is the in-flight request tracked per workflow, per
// spec.md §3. Grounded on the teacher's ExecutionState's mutex-guarded
// consolidated-state pattern, narrowed to the pause/cancel signal registry
// this spec needs rather than a full path/output execution state.
type PauseResumeSignal struct {
	WorkflowID    string
	PauseRequested bool
	CancelRequested bool
	Reason        string
}

// executionState is the live view the controller keeps per workflow,
// updated as Transition, OnCheckpointSaved, and UpdateProgress are called.
// GetExecutionState hands out copies of this, never the pointer.
type executionState struct {
	State              WorkflowState
	AgentID            string
	StepIndex          int
	CompletedAgents    []string
	StartedAt          time.Time
	PausedAt           time.Time
	LatestCheckpointID string
}

// ExecutionState is the live view returned by GetExecutionState: current
// state, agent, step index, completed list, started_at, paused_at,
// latest_checkpoint_id, and elapsed time since started_at.
type ExecutionState struct {
	WorkflowID         string
	State              WorkflowState
	AgentID            string
	StepIndex          int
	CompletedAgents    []string
	StartedAt          time.Time
	PausedAt           time.Time
	LatestCheckpointID string
	Elapsed            time.Duration
}

// Controller is the C4 pause/resume/cancel coordinator: a mutex-guarded
// registry of per-workflow signals, cancellation sources, and execution
// state, consulted by the executor at every stage boundary.
type Controller struct {
	mu        sync.Mutex
	signals   map[string]*PauseResumeSignal
	states    map[string]*executionState
	cancelFns map[string]context.CancelFunc
	tokens    map[string]context.Context
	observers *ObserverRegistry
}

// NewController creates an empty controller. observers may be nil.
func NewController(observers *ObserverRegistry) *Controller {
	return &Controller{
		signals:   map[string]*PauseResumeSignal{},
		states:    map[string]*executionState{},
		cancelFns: map[string]context.CancelFunc{},
		tokens:    map[string]context.Context{},
		observers: observers,
	}
}

// Token returns a context carrying a cancellation source for workflowID,
// lazily creating one on first call; subsequent calls for the same
// workflowID return the same derived context rather than deriving a new
// one and silently orphaning the previously issued token's cancel func.
// The executor derives its per-run context from this so RequestCancel can
// abort a running stage immediately.
func (c *Controller) Token(ctx context.Context, workflowID string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if child, ok := c.tokens[workflowID]; ok {
		return child
	}
	child, cancel := context.WithCancel(ctx)
	c.cancelFns[workflowID] = cancel
	c.tokens[workflowID] = child
	return child
}

// RequestPause marks workflowID for pause at the next stage boundary.
// Idempotent: repeated calls before the pause takes effect leave the flag
// set; only the reason is updated to the latest one.
func (c *Controller) RequestPause(workflowID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sig := c.signalFor(workflowID)
	sig.PauseRequested = true
	sig.Reason = reason
}

// RequestCancel marks workflowID for cancellation and, if a token has been
// issued, cancels its context immediately so a blocked stage returns
// promptly rather than waiting for the next stage boundary. Idempotent.
func (c *Controller) RequestCancel(workflowID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sig := c.signalFor(workflowID)
	sig.CancelRequested = true
	if reason != "" {
		sig.Reason = reason
	}
	if cancel, ok := c.cancelFns[workflowID]; ok {
		cancel()
	}
}

func (c *Controller) signalFor(workflowID string) *PauseResumeSignal {
	sig, ok := c.signals[workflowID]
	if !ok {
		sig = &PauseResumeSignal{WorkflowID: workflowID}
		c.signals[workflowID] = sig
	}
	return sig
}

// Signal returns a copy of the current signal for workflowID, or a
// zero-value signal if none has been requested.
func (c *Controller) Signal(workflowID string) PauseResumeSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sig, ok := c.signals[workflowID]; ok {
		return *sig
	}
	return PauseResumeSignal{WorkflowID: workflowID}
}

// clearSignal resets pause/cancel flags and the cancellation token once the
// executor has acted on them, so a subsequent Token call lazily issues a
// fresh one rather than returning one derived from an already-cancelled or
// stale parent context.
func (c *Controller) clearSignal(workflowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.signals, workflowID)
	delete(c.cancelFns, workflowID)
	delete(c.tokens, workflowID)
}

// OnCheckpointSaved clears the pause signal and records checkpoint's ID as
// the execution state's latest_checkpoint_id, once the executor has
// successfully checkpointed and is about to surface WorkflowPaused (or any
// other checkpoint-bearing transition).
func (c *Controller) OnCheckpointSaved(workflowID string, checkpoint *Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sig, ok := c.signals[workflowID]; ok {
		sig.PauseRequested = false
	}
	if checkpoint != nil {
		c.stateFor(workflowID).LatestCheckpointID = checkpoint.ID
	}
}

// OnWorkflowResumed clears any stale signal and cancellation source when a
// workflow transitions back to Running.
func (c *Controller) OnWorkflowResumed(workflowID string) {
	c.clearSignal(workflowID)
}

// UpdateProgress records the current stage index and completed-agent list
// for workflowID, as tracked independently by the executor's
// WorkflowRecord. completedAgents is copied so later mutation of the
// caller's slice cannot retroactively change a snapshot already handed out
// by GetExecutionState.
func (c *Controller) UpdateProgress(workflowID string, stepIndex int, completedAgents []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateFor(workflowID)
	state.StepIndex = stepIndex
	state.CompletedAgents = append([]string(nil), completedAgents...)
}

// stateFor returns the execution state entry for workflowID, lazily
// creating a Queued placeholder. Callers must hold c.mu.
func (c *Controller) stateFor(workflowID string) *executionState {
	state, ok := c.states[workflowID]
	if !ok {
		state = &executionState{State: StateQueued}
		c.states[workflowID] = state
	}
	return state
}

// GetExecutionState returns the live view for workflowID, creating a
// Queued placeholder the first time it is asked about.
func (c *Controller) GetExecutionState(workflowID string) ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := c.stateFor(workflowID)

	elapsed := time.Duration(0)
	if !state.StartedAt.IsZero() {
		if state.State == StatePaused {
			elapsed = state.PausedAt.Sub(state.StartedAt)
		} else {
			elapsed = time.Since(state.StartedAt)
		}
	}

	return ExecutionState{
		WorkflowID:         workflowID,
		State:              state.State,
		AgentID:            state.AgentID,
		StepIndex:          state.StepIndex,
		CompletedAgents:    append([]string(nil), state.CompletedAgents...),
		StartedAt:          state.StartedAt,
		PausedAt:           state.PausedAt,
		LatestCheckpointID: state.LatestCheckpointID,
		Elapsed:            elapsed,
	}
}

// Transition moves workflowID to a new state if the transition is legal,
// notifying observers on success. Illegal transitions are rejected and
// logged by the caller, never surfaced as a user-facing error: the state
// machine is advisory plumbing, not a gate the caller must satisfy.
func (c *Controller) Transition(workflowID, workflowType, agentID string, to WorkflowState, errMsg string) bool {
	c.mu.Lock()
	state := c.stateFor(workflowID)
	from := state.State
	if from == to {
		c.mu.Unlock()
		return true
	}
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return false
	}
	state.State = to
	if agentID != "" {
		state.AgentID = agentID
	}
	switch to {
	case StateRunning:
		if state.StartedAt.IsZero() {
			state.StartedAt = time.Now().UTC()
		}
		state.PausedAt = time.Time{}
	case StatePaused:
		state.PausedAt = time.Now().UTC()
	}
	c.mu.Unlock()

	if c.observers != nil {
		c.observers.NotifyWorkflowStateChange(WorkflowStateEvent{
			WorkflowID:   workflowID,
			WorkflowType: workflowType,
			From:         from,
			To:           to,
			AgentID:      agentID,
			Error:        errMsg,
		})
	}
	return true
}
