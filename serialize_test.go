package pipelinecore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	record := NewWorkflowRecord("wf1", "research", "do a thing")
	record.AppendMessage(NewUserMessage("do a thing"))
	record.AppendCompletedAgent("Clarify")
	record.SetStageResult("Clarify", "understood")
	record.SetState(StateRunning)

	snapshot := record.ToSnapshot()
	text, err := SerializeSnapshot(snapshot)
	require.NoError(t, err)
	require.Contains(t, text, "\"workflow_id\":\"wf1\"")

	restored, err := DeserializeSnapshot(text)
	require.NoError(t, err)
	require.Equal(t, "wf1", restored.WorkflowID)
	require.Equal(t, []string{"Clarify"}, restored.CompletedAgents)
	require.Equal(t, "understood", restored.StageResults["Clarify"])
	require.Equal(t, StateRunning, restored.State)
}

func TestSerializePreservesEmptyCollections(t *testing.T) {
	record := NewWorkflowRecord("wf1", "t", "input")
	snapshot := record.ToSnapshot()

	text, err := SerializeSnapshot(snapshot)
	require.NoError(t, err)
	require.Contains(t, text, "\"completed_agents\":[]")
	require.Contains(t, text, "\"stage_results\":{}")
	require.Contains(t, text, "\"messages\":[]")
}

func TestDeserializeInvalidJSON(t *testing.T) {
	_, err := DeserializeSnapshot("not json at all")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not valid JSON")
}

func TestByteLength(t *testing.T) {
	require.Equal(t, 0, byteLength(""))
	require.Equal(t, 3, byteLength("abc"))
	require.Greater(t, byteLength("héllo"), 5) // multi-byte UTF-8
}

func TestSerializeSnapshotStableTimestamp(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	snapshot := &WorkflowSnapshot{
		WorkflowID:      "wf1",
		StartTime:       now,
		CompletedAgents: []string{},
		StageResults:    map[string]string{},
		Messages:        []Message{},
		Metadata:        map[string]any{},
	}
	text, err := SerializeSnapshot(snapshot)
	require.NoError(t, err)

	restored, err := DeserializeSnapshot(text)
	require.NoError(t, err)
	require.True(t, now.Equal(restored.StartTime))
}
