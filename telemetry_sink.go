package pipelinecore

import (
	"sync"
	"time"

	"github.com/northbeam-labs/pipelinecore/telemetry"
)

// TelemetrySink adapts a telemetry.Recorder to the C5 observer interfaces,
// translating workflow-state and checkpoint events into the Prometheus
// counters/histograms/gauges spec.md §4.5 enumerates. OnWorkflowStateChange
// runs synchronously on whichever goroutine drives a given workflow, and
// the engine runs many workflows concurrently, so startTimes is
// mutex-guarded like every other piece of shared state in this codebase.
type TelemetrySink struct {
	recorder *telemetry.Recorder

	mu         sync.Mutex
	startTimes map[string]time.Time
}

// NewTelemetrySink wraps recorder as a WorkflowObserver and CheckpointObserver.
func NewTelemetrySink(recorder *telemetry.Recorder) *TelemetrySink {
	return &TelemetrySink{recorder: recorder, startTimes: map[string]time.Time{}}
}

func (s *TelemetrySink) OnWorkflowStateChange(event WorkflowStateEvent) {
	switch event.To {
	case StateRunning:
		if event.From == StateQueued {
			s.recorder.RecordWorkflowStarted(event.WorkflowType)
			s.mu.Lock()
			s.startTimes[event.WorkflowID] = time.Now().UTC()
			s.mu.Unlock()
		} else if event.From == StatePaused {
			s.recorder.RecordWorkflowResumed(event.WorkflowType, 0)
		}
	case StatePaused:
		s.recorder.RecordWorkflowPaused(event.WorkflowType, 0)
	case StateCompleted, StateFailed, StateCancelled:
		s.mu.Lock()
		duration := time.Duration(0)
		if start, ok := s.startTimes[event.WorkflowID]; ok {
			duration = time.Since(start)
			delete(s.startTimes, event.WorkflowID)
		}
		s.mu.Unlock()
		s.recorder.RecordWorkflowTerminal(event.WorkflowType, string(event.To), duration)
	}
}

func (s *TelemetrySink) OnCheckpointEvent(event CheckpointEvent) {
	if event.Checkpoint == nil {
		return
	}
	automated := event.Checkpoint.Metadata.Automated
	workflowType := event.Checkpoint.WorkflowType
	switch event.Type {
	case CheckpointEventCreated:
		s.recorder.RecordCheckpointSaved(workflowType, automated, 0, event.Checkpoint.StateSizeBytes)
	case CheckpointEventLoaded:
		s.recorder.RecordCheckpointLoaded(workflowType, automated, 0)
	case CheckpointEventDeleted:
		s.recorder.RecordCheckpointDeleted(workflowType, automated)
	case CheckpointEventValidated:
		s.recorder.RecordCheckpointValidated(workflowType, automated)
	case CheckpointEventFailed:
		s.recorder.RecordCheckpointErrored(workflowType, automated)
	}
}
