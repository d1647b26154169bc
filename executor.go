package pipelinecore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const clarificationNeededPhrase = "clarification needed"

// ExecutorConfig holds the per-run tunables of spec.md §6.4 relevant to C3.
type ExecutorConfig struct {
	DefaultStageTimeout time.Duration
	CheckpointAfterEachAgent bool
}

// PipelineExecutor is C3: it drives one pipeline's stages in order for any
// number of concurrent workflows, each single-threaded, coordinating with
// the checkpoint store (C1), controller (C4), and observer fan-out (C5).
// Grounded on the teacher's Execution/NewExecution shape (options struct,
// infrastructure fields, single state owner) with the Path/branching engine
// stripped down to the strictly linear loop spec.md §4.3 specifies.
type PipelineExecutor struct {
	pipeline    *Pipeline
	agents      map[string]Agent
	checkpoints *CheckpointStore
	controller  *Controller
	stageLog    StageLogger
	logger      *slog.Logger
	cfg         ExecutorConfig
}

// NewPipelineExecutor wires a pipeline definition to its decorated agents.
// agents must contain an entry for every stage's AgentID; extra entries are
// ignored. stageLog may be nil, in which case stage invocations are not
// recorded to an audit trail. checkpoints is expected to already be wired to
// the same ObserverRegistry the caller uses elsewhere, so checkpoint events
// reach observers without the executor needing its own reference.
func NewPipelineExecutor(pipeline *Pipeline, agents map[string]Agent, checkpoints *CheckpointStore, controller *Controller, stageLog StageLogger, logger *slog.Logger, cfg ExecutorConfig) (*PipelineExecutor, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline required")
	}
	for _, stage := range pipeline.Stages() {
		if _, ok := agents[stage.AgentID]; !ok {
			return nil, fmt.Errorf("no agent registered for stage %q", stage.AgentID)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stageLog == nil {
		stageLog = NullStageLogger{}
	}
	if cfg.DefaultStageTimeout <= 0 {
		cfg.DefaultStageTimeout = 60 * time.Second
	}
	return &PipelineExecutor{
		pipeline:    pipeline,
		agents:      agents,
		checkpoints: checkpoints,
		controller:  controller,
		stageLog:    stageLog,
		logger:      logger,
		cfg:         cfg,
	}, nil
}

// NewRecord creates the initial, Queued WorkflowRecord for a fresh workflow,
// seeding the message log with userInput. It does not run anything; callers
// that want to track the record before the first stage executes (e.g. the
// Engine facade, which registers it before handing execution to a
// background goroutine) call this first and pass the result to RunRecord.
func (e *PipelineExecutor) NewRecord(workflowID, userInput string) *WorkflowRecord {
	if workflowID == "" {
		workflowID = NewWorkflowID()
	}
	record := NewWorkflowRecord(workflowID, e.pipeline.Type(), userInput)
	record.AppendMessage(NewUserMessage(userInput))
	return record
}

// Run starts a fresh workflow from userInput and drives it to completion,
// pause, cancellation, or failure. workflowID may be empty to auto-generate.
func (e *PipelineExecutor) Run(ctx context.Context, workflowID, userInput string) (*WorkflowRecord, error) {
	record := e.NewRecord(workflowID, userInput)
	return e.RunRecord(ctx, record)
}

// RunRecord drives an already-created record (see NewRecord) through the
// main loop starting at stage 0.
//
// Step 3b of the main loop below saves "before-<first_agent>" for index 0
// exactly as it does for every other stage, so the first checkpoint ever
// written for a workflow is always before-<first_agent> without a separate
// seed-time checkpoint duplicating it.
func (e *PipelineExecutor) RunRecord(ctx context.Context, record *WorkflowRecord) (*WorkflowRecord, error) {
	e.controller.Transition(record.ID(), e.pipeline.Type(), "", StateRunning, "")
	record.SetState(StateRunning)
	return e.drive(ctx, record, 0)
}

// RestoreRecord loads checkpointID and rebuilds the WorkflowRecord it
// describes, without running anything. Split from Resume so a caller (the
// Engine facade) can register the record before handing execution to a
// background goroutine, keeping GetStatus live during the resumed run.
func (e *PipelineExecutor) RestoreRecord(ctx context.Context, checkpointID string) (*WorkflowRecord, error) {
	ckpt, err := e.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	snapshot, err := DeserializeSnapshot(ckpt.SnapshotText)
	if err != nil {
		return nil, WrapWorkflowError(ErrorKindSerializationError, err)
	}

	record := RestoreWorkflowRecord(snapshot)
	record.SetPaused(false, "", time.Time{})
	return record, nil
}

// ResumeRecord continues the main loop for a restored record at the first
// stage not already in completed_agents.
func (e *PipelineExecutor) ResumeRecord(ctx context.Context, record *WorkflowRecord) (*WorkflowRecord, error) {
	record.SetState(StateRunning)
	e.controller.OnWorkflowResumed(record.ID())
	e.controller.Transition(record.ID(), record.Type(), record.CurrentAgentID(), StateRunning, "")

	startIndex := len(record.CompletedAgents())
	return e.drive(ctx, record, startIndex)
}

// Resume loads checkpointID, restores the workflow record, and continues the
// main loop at the first stage not already in completed_agents, in one call.
func (e *PipelineExecutor) Resume(ctx context.Context, checkpointID string) (*WorkflowRecord, error) {
	record, err := e.RestoreRecord(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return e.ResumeRecord(ctx, record)
}

// drive runs the main loop starting at pipeline index startIndex, which must
// equal the number of already-completed stages (invariant 2).
func (e *PipelineExecutor) drive(ctx context.Context, record *WorkflowRecord, startIndex int) (*WorkflowRecord, error) {
	workflowID := record.ID()
	runCtx := e.controller.Token(ctx, workflowID)

	for i := startIndex; i < e.pipeline.Len(); i++ {
		stage, _ := e.pipeline.StageAt(i)

		sig := e.controller.Signal(workflowID)
		if sig.CancelRequested {
			return e.handleCancel(runCtx, record)
		}
		if sig.PauseRequested {
			return e.handlePause(runCtx, record, sig.Reason)
		}

		record.SetStageIndex(i)
		record.SetCurrentAgentID(stage.AgentID)
		e.controller.UpdateProgress(workflowID, i, record.CompletedAgents())
		if _, err := e.checkpointSafe(runCtx, record, fmt.Sprintf("before-%s", stage.AgentID)); err != nil {
			e.logger.Warn("stage-boundary checkpoint failed", "workflow_id", workflowID, "agent_id", stage.AgentID, "error", err)
		}

		stageStart := time.Now().UTC()
		resp, err := e.runStage(runCtx, stage, record)
		e.logStageInvocation(record, stage, stageStart, resp, err)

		// A stage that returns because its cancellation token fired is a
		// cancellation outcome, not a stage failure, regardless of whether it
		// returned an error or a best-effort result: "after Brief returns
		// (cancelled or completed), state goes Running→Cancelled."
		if e.controller.Signal(workflowID).CancelRequested {
			return e.handleCancel(runCtx, record)
		}
		if err != nil {
			return e.handleStageFailure(runCtx, record, stage, err)
		}

		record.AppendMessage(NewAssistantMessage(resp.Content, stage.AgentID))
		record.SetStageResult(stage.AgentID, resp.Content)
		record.AppendCompletedAgent(stage.AgentID)
		e.controller.UpdateProgress(workflowID, i, record.CompletedAgents())

		reason := fmt.Sprintf("after-%s", stage.AgentID)
		if startIndex > 0 {
			reason = fmt.Sprintf("resumed-after-%s", stage.AgentID)
		}
		if _, err := e.checkpointSafe(runCtx, record, reason); err != nil {
			e.logger.Warn("stage-boundary checkpoint failed", "workflow_id", workflowID, "agent_id", stage.AgentID, "error", err)
		}

		if stage.IsClarificationStage && strings.Contains(strings.ToLower(resp.Content), clarificationNeededPhrase) {
			record.SetFinalResult(resp.Content)
			e.controller.Transition(workflowID, record.Type(), stage.AgentID, StateCompleted, "")
			record.SetState(StateCompleted)
			return record, nil
		}
	}

	lastResult := record.FinalResult()
	if last, ok := e.pipeline.StageAt(e.pipeline.Len() - 1); ok {
		if v, ok := record.StageResult(last.AgentID); ok {
			lastResult = v
		}
	}
	record.SetFinalResult(lastResult)

	if _, err := e.checkpointSafe(runCtx, record, "workflow-complete"); err != nil {
		e.logger.Warn("completion checkpoint failed", "workflow_id", workflowID, "error", err)
	}
	e.controller.Transition(workflowID, record.Type(), "", StateCompleted, "")
	record.SetState(StateCompleted)
	return record, nil
}

// runStage applies the stage's own timeout and invokes its (already
// middleware-decorated) agent.
func (e *PipelineExecutor) runStage(ctx context.Context, stage *StageDefinition, record *WorkflowRecord) (Response, error) {
	timeout := stage.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultStageTimeout
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	agent := e.agents[stage.AgentID]
	return agent.Run(stageCtx, record.Messages())
}

func (e *PipelineExecutor) handleCancel(ctx context.Context, record *WorkflowRecord) (*WorkflowRecord, error) {
	workflowID := record.ID()
	if _, err := e.checkpointSafe(ctx, record, "cancelled"); err != nil {
		e.logger.Warn("cancellation checkpoint failed", "workflow_id", workflowID, "error", err)
	}
	e.controller.Transition(workflowID, record.Type(), record.CurrentAgentID(), StateCancelled, "")
	record.SetState(StateCancelled)
	return record, ErrCancelled
}

func (e *PipelineExecutor) handlePause(ctx context.Context, record *WorkflowRecord, reason string) (*WorkflowRecord, error) {
	workflowID := record.ID()
	ckpt, err := e.checkpointSafe(ctx, record, fmt.Sprintf("pause:%s", reason))
	if err != nil {
		return record, WrapWorkflowError(ErrorKindStorageError, err)
	}

	record.SetPaused(true, reason, time.Now().UTC())
	e.controller.Transition(workflowID, record.Type(), record.CurrentAgentID(), StatePaused, reason)
	record.SetState(StatePaused)
	e.controller.OnCheckpointSaved(workflowID, ckpt)

	return record, &WorkflowPaused{WorkflowID: workflowID, CheckpointID: ckpt.ID, Reason: reason}
}

func (e *PipelineExecutor) handleStageFailure(ctx context.Context, record *WorkflowRecord, stage *StageDefinition, err error) (*WorkflowRecord, error) {
	workflowID := record.ID()
	wErr := classifyStageError(err)

	if _, cerr := e.checkpointSafe(ctx, record, fmt.Sprintf("error-recovery:%s", wErr.Message)); cerr != nil {
		e.logger.Warn("error-recovery checkpoint failed", "workflow_id", workflowID, "error", cerr)
	}
	e.controller.Transition(workflowID, record.Type(), stage.AgentID, StateFailed, wErr.Message)
	record.SetState(StateFailed)
	return record, wErr
}

// logStageInvocation records one stage's audit-trail entry. Failures are
// logged and ignored: losing the audit trail never blocks a live workflow.
func (e *PipelineExecutor) logStageInvocation(record *WorkflowRecord, stage *StageDefinition, start time.Time, resp Response, stageErr error) {
	entry := &StageLogEntry{
		ID:         NewStageLogID(),
		WorkflowID: record.ID(),
		AgentID:    stage.AgentID,
		Output:     resp.Content,
		StartTime:  start,
		Duration:   time.Since(start).Seconds(),
	}
	if stageErr != nil {
		entry.Error = stageErr.Error()
	}
	if err := e.stageLog.LogStage(context.Background(), entry); err != nil {
		e.logger.Warn("stage log write failed", "workflow_id", record.ID(), "agent_id", stage.AgentID, "error", err)
	}
}

// checkpointSafe saves a checkpoint (the store itself notifies observers on
// success). Most call sites log-and-continue on error rather than abort the
// workflow ("the executor must not abort a live workflow because durability
// failed"); handlePause is the exception, since it needs the checkpoint id
// to report in WorkflowPaused.
func (e *PipelineExecutor) checkpointSafe(ctx context.Context, record *WorkflowRecord, reason string) (*Checkpoint, error) {
	return e.checkpoints.Save(ctx, record, reason, CheckpointMetadata{Automated: true})
}
