package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendPostsAlertmanagerShapedList(t *testing.T) {
	var received []Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewSink(server.URL, "pipelinecore", nil)
	sink.Send(context.Background(), FailedWorkflow("wf1", "research", "boom"))

	require.Len(t, received, 1)
	require.Equal(t, "WorkflowFailed", received[0].Labels["alertname"])
	require.Equal(t, "pipelinecore", received[0].Labels["service"])
	require.Equal(t, "boom", received[0].Annotations["description"])
}

func TestSendWithNoEndpointIsNoOp(t *testing.T) {
	sink := NewSink("", "pipelinecore", nil)
	require.NotPanics(t, func() {
		sink.Send(context.Background(), FailedWorkflow("wf1", "research", "boom"))
	})
}

func TestSendSwallowsTransportErrors(t *testing.T) {
	sink := NewSink("http://127.0.0.1:0", "pipelinecore", nil)
	require.NotPanics(t, func() {
		sink.Send(context.Background(), LongRunningWorkflow("wf1", "research", 0, 0))
	})
}

func TestSendLogsNonTwoXXWithoutPanicking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewSink(server.URL, "pipelinecore", nil)
	require.NotPanics(t, func() {
		sink.Send(context.Background(), StorageThresholdExceeded(10, 5))
	})
}

func TestValidationFailedAlertShape(t *testing.T) {
	alert := ValidationFailed("cp1", "wf1")
	require.Equal(t, "CheckpointValidationFailed", alert.Labels["alertname"])
	require.Equal(t, "cp1", alert.Labels["checkpoint_id"])
	require.Equal(t, SeverityWarning, alert.Labels["severity"])
}
