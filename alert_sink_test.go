package pipelinecore

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northbeam-labs/pipelinecore/alerting"
)

func newTestAlertSink(t *testing.T, longRunning time.Duration, storage int64) (*AlertSink, chan alerting.Alert) {
	alerts := make(chan alerting.Alert, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []alerting.Alert
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		for _, a := range batch {
			alerts <- a
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	sink := alerting.NewSink(server.URL, "pipelinecore", nil)
	return NewAlertSink(sink, longRunning, storage), alerts
}

func TestAlertSinkSendsOnFailedTransition(t *testing.T) {
	sink, alerts := newTestAlertSink(t, 0, 0)

	sink.OnWorkflowStateChange(WorkflowStateEvent{WorkflowID: "wf1", WorkflowType: "research", To: StateFailed, Error: "boom"})

	alert := <-alerts
	require.Equal(t, "WorkflowFailed", alert.Labels["alertname"])
}

func TestAlertSinkIgnoresNonFailedTransitions(t *testing.T) {
	sink, alerts := newTestAlertSink(t, 0, 0)

	sink.OnWorkflowStateChange(WorkflowStateEvent{WorkflowID: "wf1", WorkflowType: "research", To: StateCompleted})

	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert: %v", a)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAlertSinkCheckLongRunningFiresPastThreshold(t *testing.T) {
	sink, alerts := newTestAlertSink(t, time.Millisecond, 0)

	sink.OnWorkflowStateChange(WorkflowStateEvent{WorkflowID: "wf1", WorkflowType: "research", To: StateRunning})
	time.Sleep(5 * time.Millisecond)
	sink.CheckLongRunning("wf1", "research")

	alert := <-alerts
	require.Equal(t, "WorkflowLongRunning", alert.Labels["alertname"])
}

func TestAlertSinkCheckLongRunningIgnoresUnknownWorkflow(t *testing.T) {
	sink, alerts := newTestAlertSink(t, time.Millisecond, 0)

	sink.CheckLongRunning("missing", "research")

	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert: %v", a)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestAlertSinkCheckStorageThresholdFiresPastLimit(t *testing.T) {
	sink, alerts := newTestAlertSink(t, 0, 100)

	sink.CheckStorageThreshold(200)

	alert := <-alerts
	require.Equal(t, "CheckpointStorageThresholdExceeded", alert.Labels["alertname"])
}

func TestAlertSinkOnCheckpointEventFailedSendsAlert(t *testing.T) {
	sink, alerts := newTestAlertSink(t, 0, 0)

	sink.OnCheckpointEvent(CheckpointEvent{
		Type:       CheckpointEventFailed,
		Checkpoint: &Checkpoint{ID: "cp1", WorkflowID: "wf1"},
	})

	alert := <-alerts
	require.Equal(t, "CheckpointValidationFailed", alert.Labels["alertname"])
}

func TestAlertSinkOnCheckpointEventOtherTypesAreSilent(t *testing.T) {
	sink, alerts := newTestAlertSink(t, 0, 0)

	sink.OnCheckpointEvent(CheckpointEvent{Type: CheckpointEventCreated, Checkpoint: &Checkpoint{ID: "cp1"}})

	select {
	case a := <-alerts:
		t.Fatalf("unexpected alert: %v", a)
	case <-time.After(20 * time.Millisecond):
	}
}
