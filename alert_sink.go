package pipelinecore

import (
	"context"
	"sync"
	"time"

	"github.com/northbeam-labs/pipelinecore/alerting"
)

// AlertSink adapts an alerting.Sink to the C5 observer interfaces and
// implements the four built-in alert rules of spec.md §4.5: Failed
// transitions, long-running workflows, cumulative checkpoint storage, and
// Failed checkpoint events. OnWorkflowStateChange runs synchronously on
// whichever goroutine drives a given workflow, and the engine runs many
// workflows concurrently, so startTimes is mutex-guarded like every other
// piece of shared state in this codebase.
type AlertSink struct {
	sink                 *alerting.Sink
	longRunningThreshold time.Duration
	storageThreshold     int64

	mu         sync.Mutex
	startTimes map[string]time.Time
}

// NewAlertSink wraps sink with the configured alert thresholds.
func NewAlertSink(sink *alerting.Sink, longRunningThreshold time.Duration, storageThreshold int64) *AlertSink {
	if longRunningThreshold <= 0 {
		longRunningThreshold = 30 * time.Minute
	}
	if storageThreshold <= 0 {
		storageThreshold = 5 * 1024 * 1024 * 1024
	}
	return &AlertSink{
		sink:                 sink,
		longRunningThreshold: longRunningThreshold,
		storageThreshold:     storageThreshold,
		startTimes:           map[string]time.Time{},
	}
}

func (a *AlertSink) OnWorkflowStateChange(event WorkflowStateEvent) {
	ctx := context.Background()
	switch event.To {
	case StateRunning:
		a.mu.Lock()
		if _, ok := a.startTimes[event.WorkflowID]; !ok {
			a.startTimes[event.WorkflowID] = time.Now().UTC()
		}
		a.mu.Unlock()
	case StateFailed:
		a.sink.Send(ctx, alerting.FailedWorkflow(event.WorkflowID, event.WorkflowType, event.Error))
		a.mu.Lock()
		delete(a.startTimes, event.WorkflowID)
		a.mu.Unlock()
	case StateCompleted, StateCancelled:
		a.mu.Lock()
		delete(a.startTimes, event.WorkflowID)
		a.mu.Unlock()
	}
}

// CheckLongRunning should be polled periodically (e.g. by the CLI's
// status-polling loop) to raise long-running warnings for workflows still in Running
// past the threshold; C5 is push-based for transitions but this alert rule
// is inherently time-based rather than event-based.
func (a *AlertSink) CheckLongRunning(workflowID, workflowType string) {
	a.mu.Lock()
	start, ok := a.startTimes[workflowID]
	a.mu.Unlock()
	if !ok {
		return
	}
	elapsed := time.Since(start)
	if elapsed > a.longRunningThreshold {
		a.sink.Send(context.Background(), alerting.LongRunningWorkflow(workflowID, workflowType, elapsed, a.longRunningThreshold))
	}
}

func (a *AlertSink) OnCheckpointEvent(event CheckpointEvent) {
	if event.Type == CheckpointEventFailed && event.Checkpoint != nil {
		a.sink.Send(context.Background(), alerting.ValidationFailed(event.Checkpoint.ID, event.Checkpoint.WorkflowID))
	}
}

// CheckStorageThreshold should be called after Statistics() recomputes
// total checkpoint bytes; it raises the storage warning when exceeded.
func (a *AlertSink) CheckStorageThreshold(totalBytes int64) {
	if totalBytes > a.storageThreshold {
		a.sink.Send(context.Background(), alerting.StorageThresholdExceeded(totalBytes, a.storageThreshold))
	}
}
