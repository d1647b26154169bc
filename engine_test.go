package pipelinecore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, pipeline *Pipeline, agents map[string]Agent) (*Engine, *ObserverRegistry) {
	observers := NewObserverRegistry(testLogger())
	store := newTestStore(t, observers)
	controller := NewController(observers)

	executor, err := NewPipelineExecutor(pipeline, agents, store, controller, nil, testLogger(), ExecutorConfig{})
	require.NoError(t, err)

	engine := NewEngine(store, controller, observers, testLogger(), EngineConfig{})
	engine.RegisterPipeline(executor, pipeline.Type())
	return engine, observers
}

func blockingAgent(id string, release chan struct{}) Agent {
	return NewAgentFunc(id, func(ctx context.Context, messages []Message) (Response, error) {
		select {
		case <-release:
			return Response{Content: id + "-done"}, nil
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	})
}

func TestEngineStartWorkflowUnknownType(t *testing.T) {
	engine := NewEngine(nil, NewController(nil), nil, testLogger(), EngineConfig{})
	_, err := engine.StartWorkflow(context.Background(), "missing", "go")
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindInvalidRequest))
}

func TestEngineStartWorkflowAndGetStatusToCompletion(t *testing.T) {
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{
		"First":  echoAgent("First"),
		"Second": echoAgent("Second"),
	}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)
	require.Equal(t, StateQueued, started.Status)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCompleted
	}, time.Second, 5*time.Millisecond)

	status, err := engine.GetStatus(context.Background(), started.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, 2, status.Progress.TotalSteps)
	require.NotEmpty(t, status.LatestCheckpointID)
}

func TestEngineGetStatusUnknownWorkflow(t *testing.T) {
	engine := NewEngine(nil, NewController(nil), nil, testLogger(), EngineConfig{})
	_, err := engine.GetStatus(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindNotFound))
}

func TestEnginePauseRejectsNonRunning(t *testing.T) {
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{"First": echoAgent("First"), "Second": echoAgent("Second")}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCompleted
	}, time.Second, 5*time.Millisecond)

	_, err = engine.Pause(context.Background(), started.WorkflowID)
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindConflict))
}

func TestEngineCancelWhileRunning(t *testing.T) {
	release := make(chan struct{})
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{
		"First":  blockingAgent("First", release),
		"Second": echoAgent("Second"),
	}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateRunning
	}, time.Second, 5*time.Millisecond)

	_, err = engine.Cancel(context.Background(), started.WorkflowID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCancelled
	}, time.Second, 5*time.Millisecond)

	close(release)
}

func TestEngineCancelUnknownWorkflow(t *testing.T) {
	engine := NewEngine(nil, NewController(nil), nil, testLogger(), EngineConfig{})
	_, err := engine.Cancel(context.Background(), "missing")
	require.Error(t, err)
}

func TestEngineResumeAfterPauseKeepsStatusLive(t *testing.T) {
	release := make(chan struct{})
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{
		"First":  blockingAgent("First", release),
		"Second": echoAgent("Second"),
	}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateRunning
	}, time.Second, 5*time.Millisecond)

	_, err = engine.Pause(context.Background(), started.WorkflowID)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StatePaused
	}, time.Second, 5*time.Millisecond)

	_, err = engine.Resume(context.Background(), started.WorkflowID)
	require.NoError(t, err)

	// Immediately after Resume returns, status must already reflect the
	// restored (not stale pre-resume) record rather than waiting for the
	// background run to finish.
	status, err := engine.GetStatus(context.Background(), started.WorkflowID)
	require.NoError(t, err)
	require.NotEqual(t, WorkflowState(""), status.Status)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestEngineResumeRejectsNonPaused(t *testing.T) {
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{"First": echoAgent("First"), "Second": echoAgent("Second")}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCompleted
	}, time.Second, 5*time.Millisecond)

	_, err = engine.Resume(context.Background(), started.WorkflowID)
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindConflict))
}

func TestEngineCheckpointLifecycle(t *testing.T) {
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{"First": echoAgent("First"), "Second": echoAgent("Second")}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCompleted
	}, time.Second, 5*time.Millisecond)

	list, err := engine.ListCheckpoints(context.Background(), started.WorkflowID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	latest, err := engine.GetLatestCheckpoint(context.Background(), started.WorkflowID)
	require.NoError(t, err)

	got, err := engine.GetCheckpoint(context.Background(), latest.ID)
	require.NoError(t, err)
	require.Equal(t, latest.ID, got.ID)

	validation := engine.ValidateCheckpoint(context.Background(), latest.ID)
	require.True(t, validation.IsValid)

	deleted, err := engine.DeleteCheckpoint(context.Background(), latest.ID)
	require.NoError(t, err)
	require.Equal(t, 1, deleted.DeletedCount)

	_, err = engine.GetCheckpoint(context.Background(), latest.ID)
	require.Error(t, err)

	result, err := engine.DeleteForWorkflow(context.Background(), started.WorkflowID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.DeletedCount, 1)
}

func TestEngineListCheckpointsPagination(t *testing.T) {
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{"First": echoAgent("First"), "Second": echoAgent("Second")}
	engine, _ := newTestEngine(t, pipeline, agents)

	started, err := engine.StartWorkflow(context.Background(), "test", "go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := engine.GetStatus(context.Background(), started.WorkflowID)
		return err == nil && status.Status == StateCompleted
	}, time.Second, 5*time.Millisecond)

	all, err := engine.ListCheckpoints(context.Background(), started.WorkflowID, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	page, err := engine.ListCheckpoints(context.Background(), started.WorkflowID, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)

	tooFar, err := engine.ListCheckpoints(context.Background(), started.WorkflowID, 99, 1)
	require.NoError(t, err)
	require.Empty(t, tooFar)
}

func TestEngineValidateCorruptCheckpoint(t *testing.T) {
	pipeline := twoStagePipeline(t)
	agents := map[string]Agent{"First": echoAgent("First"), "Second": echoAgent("Second")}
	engine, _ := newTestEngine(t, pipeline, agents)

	corrupt := &Checkpoint{ID: "corrupt1", WorkflowID: "wf1", SnapshotText: "not json"}
	require.NoError(t, engine.checkpoints.primary.Save(context.Background(), corrupt))

	result := engine.ValidateCheckpoint(context.Background(), "corrupt1")
	require.False(t, result.IsValid)
	require.NotEmpty(t, result.ErrorMessage)
}
