package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordWorkflowStartedIncrementsCounterAndGauge(t *testing.T) {
	r := NewRecorder()

	r.RecordWorkflowStarted("research")
	r.RecordWorkflowStarted("research")

	require.Equal(t, float64(2), testutil.ToFloat64(r.workflowsStarted.WithLabelValues("research")))
	require.Equal(t, float64(2), testutil.ToFloat64(r.activeWorkflows))
}

func TestRecordWorkflowTerminalRoutesByState(t *testing.T) {
	r := NewRecorder()
	r.RecordWorkflowStarted("research")

	r.RecordWorkflowTerminal("research", "Completed", 2*time.Second)

	require.Equal(t, float64(1), testutil.ToFloat64(r.workflowsCompleted.WithLabelValues("research")))
	require.Equal(t, float64(0), testutil.ToFloat64(r.workflowsFailed.WithLabelValues("research")))
	require.Equal(t, float64(0), testutil.ToFloat64(r.activeWorkflows))
}

func TestRecordWorkflowPausedAndResumed(t *testing.T) {
	r := NewRecorder()

	r.RecordWorkflowPaused("research", 100*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(r.pausedWorkflows))

	r.RecordWorkflowResumed("research", 50*time.Millisecond)
	require.Equal(t, float64(0), testutil.ToFloat64(r.pausedWorkflows))
	require.Equal(t, float64(1), testutil.ToFloat64(r.workflowsResumed.WithLabelValues("research")))
}

func TestRecordCheckpointLifecycle(t *testing.T) {
	r := NewRecorder()

	r.RecordCheckpointSaved("research", true, 10*time.Millisecond, 2048)
	require.Equal(t, float64(1), testutil.ToFloat64(r.activeCheckpoints))
	require.Equal(t, float64(1), testutil.ToFloat64(r.checkpointsSaved.WithLabelValues("research", "true")))

	r.RecordCheckpointLoaded("research", false, 5*time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(r.checkpointsLoaded.WithLabelValues("research", "false")))

	r.RecordCheckpointValidated("research", true)
	require.Equal(t, float64(1), testutil.ToFloat64(r.checkpointsValidated.WithLabelValues("research", "true")))

	r.RecordCheckpointErrored("research", true)
	require.Equal(t, float64(1), testutil.ToFloat64(r.checkpointsErrored.WithLabelValues("research", "true")))

	r.RecordCheckpointDeleted("research", true)
	require.Equal(t, float64(0), testutil.ToFloat64(r.activeCheckpoints))
}

func TestSetTotalStorageBytes(t *testing.T) {
	r := NewRecorder()
	r.SetTotalStorageBytes(4096)
	require.Equal(t, float64(4096), testutil.ToFloat64(r.totalStorageBytes))
}

func TestHandlerServesExpositionFormat(t *testing.T) {
	r := NewRecorder()
	r.RecordWorkflowStarted("research")

	require.NotNil(t, r.Handler())
	require.NotNil(t, r.Registry())
}
