package pipelinecore

import (
	"log/slog"
	"sync"
)

// WorkflowStateEvent is published whenever a workflow's state machine
// transitions, per spec.md §4.5.
type WorkflowStateEvent struct {
	WorkflowID   string
	WorkflowType string
	From         WorkflowState
	To           WorkflowState
	AgentID      string
	Error        string
}

// CheckpointEvent is published whenever the checkpoint store creates,
// loads, deletes, validates, or fails a checkpoint.
type CheckpointEvent struct {
	Type       CheckpointEventType
	Checkpoint *Checkpoint
}

// WorkflowObserver receives workflow state transition notifications.
type WorkflowObserver interface {
	OnWorkflowStateChange(event WorkflowStateEvent)
}

// CheckpointObserver receives checkpoint lifecycle notifications.
type CheckpointObserver interface {
	OnCheckpointEvent(event CheckpointEvent)
}

// WorkflowObserverFunc adapts a function to a WorkflowObserver.
type WorkflowObserverFunc func(WorkflowStateEvent)

func (f WorkflowObserverFunc) OnWorkflowStateChange(event WorkflowStateEvent) { f(event) }

// CheckpointObserverFunc adapts a function to a CheckpointObserver.
type CheckpointObserverFunc func(CheckpointEvent)

func (f CheckpointObserverFunc) OnCheckpointEvent(event CheckpointEvent) { f(event) }

// ObserverRegistry is the C5 subject: two independent observer lists (one
// per event kind) that fan out notifications serially, in subscription
// order, catching observer panics so one bad subscriber can never take down
// the executor. Grounded on the teacher's ExecutionCallbacks/CallbackChain,
// split into two narrow interfaces because this spec has two event kinds
// rather than one nested workflow/path/activity hierarchy.
type ObserverRegistry struct {
	mu               sync.RWMutex
	workflowObs      []WorkflowObserver
	checkpointObs    []CheckpointObserver
	log              *slog.Logger
}

// NewObserverRegistry creates an empty registry.
func NewObserverRegistry(log *slog.Logger) *ObserverRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &ObserverRegistry{log: log}
}

// SubscribeWorkflow registers a WorkflowObserver and returns an unsubscribe func.
func (r *ObserverRegistry) SubscribeWorkflow(obs WorkflowObserver) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflowObs = append(r.workflowObs, obs)
	idx := len(r.workflowObs) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.workflowObs) {
			r.workflowObs[idx] = nil
		}
	}
}

// SubscribeCheckpoint registers a CheckpointObserver and returns an unsubscribe func.
func (r *ObserverRegistry) SubscribeCheckpoint(obs CheckpointObserver) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkpointObs = append(r.checkpointObs, obs)
	idx := len(r.checkpointObs) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.checkpointObs) {
			r.checkpointObs[idx] = nil
		}
	}
}

// NotifyWorkflowStateChange fans the event out to every subscribed workflow
// observer, in order, isolating each from the others' panics.
func (r *ObserverRegistry) NotifyWorkflowStateChange(event WorkflowStateEvent) {
	r.mu.RLock()
	obs := make([]WorkflowObserver, len(r.workflowObs))
	copy(obs, r.workflowObs)
	r.mu.RUnlock()

	for _, o := range obs {
		if o == nil {
			continue
		}
		r.safeCall(func() { o.OnWorkflowStateChange(event) })
	}
}

// NotifyCheckpointEvent fans the event out to every subscribed checkpoint observer.
func (r *ObserverRegistry) NotifyCheckpointEvent(event CheckpointEvent) {
	r.mu.RLock()
	obs := make([]CheckpointObserver, len(r.checkpointObs))
	copy(obs, r.checkpointObs)
	r.mu.RUnlock()

	for _, o := range obs {
		if o == nil {
			continue
		}
		r.safeCall(func() { o.OnCheckpointEvent(event) })
	}
}

func (r *ObserverRegistry) safeCall(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("observer panicked", "recovered", rec)
		}
	}()
	fn()
}
