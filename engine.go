package pipelinecore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EngineConfig mirrors spec.md §6.4's recognized configuration keys that
// apply at the facade level (the rest are consumed by the checkpoint store
// and executor directly).
type EngineConfig struct {
	MaxConcurrentWorkflows int
}

// Engine is the single facade exposing exactly the operations the HTTP
// boundary (out of scope) is expected to call, per spec.md §6.1. It owns
// the registry of live WorkflowRecords, one PipelineExecutor per
// registered workflow type, the shared checkpoint store, controller, and
// observer fan-out.
type Engine struct {
	mu         sync.RWMutex
	records    map[string]*WorkflowRecord
	executors  map[string]*PipelineExecutor
	checkpoints *CheckpointStore
	controller  *Controller
	observers   *ObserverRegistry
	logger      *slog.Logger
	cfg         EngineConfig
}

// NewEngine wires the shared infrastructure for all pipeline types.
func NewEngine(checkpoints *CheckpointStore, controller *Controller, observers *ObserverRegistry, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		records:     map[string]*WorkflowRecord{},
		executors:   map[string]*PipelineExecutor{},
		checkpoints: checkpoints,
		controller:  controller,
		observers:   observers,
		logger:      logger,
		cfg:         cfg,
	}
}

// RegisterPipeline makes a workflow type startable.
func (e *Engine) RegisterPipeline(executor *PipelineExecutor, pipelineType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[pipelineType] = executor
}

// StartWorkflowResult is the success payload of StartWorkflow.
type StartWorkflowResult struct {
	WorkflowID string
	Status     WorkflowState
	CreatedAt  time.Time
}

// StartWorkflow registers a new workflow and drives it asynchronously in
// the background, returning immediately with a Queued acknowledgement.
func (e *Engine) StartWorkflow(ctx context.Context, workflowType, input string) (*StartWorkflowResult, error) {
	e.mu.RLock()
	executor, ok := e.executors[workflowType]
	e.mu.RUnlock()
	if !ok {
		return nil, NewWorkflowError(ErrorKindInvalidRequest, fmt.Sprintf("unknown workflow type %q", workflowType))
	}

	record := executor.NewRecord("", input)
	e.mu.Lock()
	e.records[record.ID()] = record
	e.mu.Unlock()

	bgCtx := context.Background()
	go func() {
		if _, err := executor.RunRecord(bgCtx, record); err != nil {
			if _, paused := IsWorkflowPaused(err); !paused && err != ErrCancelled {
				e.logger.Warn("workflow run ended with error", "workflow_id", record.ID(), "error", err)
			}
		}
	}()

	return &StartWorkflowResult{WorkflowID: record.ID(), Status: StateQueued, CreatedAt: record.StartTime()}, nil
}

// Progress is the progress sub-object of GetStatus.
type Progress struct {
	CurrentStep                int
	TotalSteps                 int
	CurrentAgentID             string
	ElapsedSeconds             float64
	EstimatedRemainingSeconds  *float64
}

// StatusResult is the success payload of GetStatus.
type StatusResult struct {
	WorkflowID          string
	Status              WorkflowState
	CreatedAt           time.Time
	Progress            Progress
	LatestCheckpointID  string
}

// GetStatus returns the live status of workflowID.
func (e *Engine) GetStatus(ctx context.Context, workflowID string) (*StatusResult, error) {
	record, ok := e.lookup(workflowID)
	if !ok {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}

	e.mu.RLock()
	executor := e.executors[record.Type()]
	e.mu.RUnlock()

	total := 0
	if executor != nil {
		total = executor.pipeline.Len()
	}

	elapsed := time.Since(record.StartTime())
	progress := Progress{
		CurrentStep:    record.StageIndex(),
		TotalSteps:     total,
		CurrentAgentID: record.CurrentAgentID(),
		ElapsedSeconds: elapsed.Seconds(),
	}
	if progress.CurrentStep > 0 && total > 0 {
		perStep := elapsed.Seconds() / float64(progress.CurrentStep)
		remaining := perStep * float64(total-progress.CurrentStep)
		progress.EstimatedRemainingSeconds = &remaining
	}

	latest, ok, err := e.checkpoints.GetLatest(ctx, workflowID)
	latestID := ""
	if err == nil && ok {
		latestID = latest.ID
	}

	return &StatusResult{
		WorkflowID: workflowID,
		Status:     record.State(),
		CreatedAt:  record.StartTime(),
		Progress:   progress,
		LatestCheckpointID: latestID,
	}, nil
}

func (e *Engine) lookup(workflowID string) (*WorkflowRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.records[workflowID]
	return record, ok
}

// ActionResult is the success payload shared by Pause/Resume/Cancel. Status
// carries the transient wire values of spec.md §6.1 ("Pausing",
// "Cancelling", "Running"), not a WorkflowState — the state machine itself
// only reaches Paused/Cancelled once the executor acts on the signal at the
// next stage boundary.
type ActionResult struct {
	WorkflowID string
	Action     string
	Status     string
	Timestamp  time.Time
}

// Pause requests a pause for workflowID, effective at the next stage boundary.
func (e *Engine) Pause(ctx context.Context, workflowID string) (*ActionResult, error) {
	record, ok := e.lookup(workflowID)
	if !ok {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}
	if record.State() != StateRunning {
		return nil, NewWorkflowError(ErrorKindConflict, fmt.Sprintf("workflow %q is not Running", workflowID))
	}
	e.controller.RequestPause(workflowID, "user requested pause")
	return &ActionResult{WorkflowID: workflowID, Action: "pause", Status: "Pausing", Timestamp: time.Now().UTC()}, nil
}

// Cancel requests cancellation for workflowID, aborting the in-flight stage
// promptly via its cancellation token.
func (e *Engine) Cancel(ctx context.Context, workflowID string) (*ActionResult, error) {
	record, ok := e.lookup(workflowID)
	if !ok {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}
	if record.State().IsTerminal() {
		return nil, NewWorkflowError(ErrorKindConflict, fmt.Sprintf("workflow %q is already terminal", workflowID))
	}
	e.controller.RequestCancel(workflowID, "user requested cancellation")
	return &ActionResult{WorkflowID: workflowID, Action: "cancel", Status: "Cancelling", Timestamp: time.Now().UTC()}, nil
}

// Resume resumes workflowID from its latest checkpoint, running the rest of
// the pipeline asynchronously.
func (e *Engine) Resume(ctx context.Context, workflowID string) (*ActionResult, error) {
	record, ok := e.lookup(workflowID)
	if !ok {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("workflow %q not found", workflowID))
	}
	if record.State() != StatePaused {
		return nil, NewWorkflowError(ErrorKindConflict, fmt.Sprintf("workflow %q is not Paused", workflowID))
	}

	e.mu.RLock()
	executor := e.executors[record.Type()]
	e.mu.RUnlock()
	if executor == nil {
		return nil, NewWorkflowError(ErrorKindInvalidRequest, fmt.Sprintf("unknown workflow type %q", record.Type()))
	}

	latest, found, err := e.checkpoints.GetLatest(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("no checkpoint for workflow %q", workflowID))
	}

	restored, err := executor.RestoreRecord(ctx, latest.ID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.records[workflowID] = restored
	e.mu.Unlock()

	bgCtx := context.Background()
	go func() {
		if _, err := executor.ResumeRecord(bgCtx, restored); err != nil {
			if _, paused := IsWorkflowPaused(err); !paused && err != ErrCancelled {
				e.logger.Warn("resumed workflow ended with error", "workflow_id", workflowID, "error", err)
			}
		}
	}()

	return &ActionResult{WorkflowID: workflowID, Action: "resume", Status: "Running", Timestamp: time.Now().UTC()}, nil
}

// ListCheckpoints returns a page of checkpoints for workflowID, newest first.
func (e *Engine) ListCheckpoints(ctx context.Context, workflowID string, page, pageSize int) ([]*Checkpoint, error) {
	all, err := e.checkpoints.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = len(all)
	}
	start := page * pageSize
	if start >= len(all) {
		return []*Checkpoint{}, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

// GetCheckpoint returns a single checkpoint by id.
func (e *Engine) GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	return e.checkpoints.Load(ctx, checkpointID)
}

// GetLatestCheckpoint returns the most recent checkpoint for workflowID.
func (e *Engine) GetLatestCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	ckpt, ok, err := e.checkpoints.GetLatest(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("no checkpoint for workflow %q", workflowID))
	}
	return ckpt, nil
}

// ValidationResult is the success payload of ValidateCheckpoint.
type ValidationResult struct {
	CheckpointID       string
	IsValid            bool
	ErrorMessage       string
	ValidationMessages []string
}

// ValidateCheckpoint re-parses a checkpoint's snapshot without mutating anything.
func (e *Engine) ValidateCheckpoint(ctx context.Context, checkpointID string) *ValidationResult {
	if err := e.checkpoints.Validate(ctx, checkpointID); err != nil {
		return &ValidationResult{CheckpointID: checkpointID, IsValid: false, ErrorMessage: err.Error()}
	}
	return &ValidationResult{CheckpointID: checkpointID, IsValid: true, ValidationMessages: []string{"snapshot parses as valid structured data"}}
}

// DeleteResult is the success payload shared by DeleteCheckpoint and
// DeleteForWorkflow.
type DeleteResult struct {
	DeletedCount       int
	DeletedCheckpointIDs []string
	Message            string
}

// DeleteCheckpoint removes a single checkpoint. Idempotent.
func (e *Engine) DeleteCheckpoint(ctx context.Context, checkpointID string) (*DeleteResult, error) {
	if err := e.checkpoints.Delete(ctx, checkpointID); err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: 1, DeletedCheckpointIDs: []string{checkpointID}, Message: "checkpoint deleted"}, nil
}

// DeleteForWorkflow removes every checkpoint belonging to workflowID. Idempotent.
func (e *Engine) DeleteForWorkflow(ctx context.Context, workflowID string) (*DeleteResult, error) {
	checkpoints, err := e.checkpoints.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(checkpoints))
	for _, c := range checkpoints {
		ids = append(ids, c.ID)
	}
	if err := e.checkpoints.DeleteForWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: len(ids), DeletedCheckpointIDs: ids, Message: "checkpoints deleted"}, nil
}
