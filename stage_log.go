package pipelinecore

import (
	"context"
	"time"
)

// StageLogEntry is a single durable record of one stage invocation,
// independent of checkpoints. Grounded on the teacher's
// ActivityLogEntry/ActivityLogger, narrowed from per-path activity
// parameters to the agent/message shape this pipeline uses.
type StageLogEntry struct {
	ID         string    `json:"id"`
	WorkflowID string    `json:"workflow_id"`
	AgentID    string    `json:"agent_id"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartTime  time.Time `json:"start_time"`
	Duration   float64   `json:"duration_seconds"`
}

// StageLogger records the audit trail of stage invocations. Losing it never
// blocks resume; it exists purely for operator introspection, independent
// of the checkpoint store's control-plane state.
type StageLogger interface {
	LogStage(ctx context.Context, entry *StageLogEntry) error
	GetStageHistory(ctx context.Context, workflowID string) ([]*StageLogEntry, error)
}

// NullStageLogger discards every entry. Used when no audit trail is configured.
type NullStageLogger struct{}

func (NullStageLogger) LogStage(ctx context.Context, entry *StageLogEntry) error { return nil }
func (NullStageLogger) GetStageHistory(ctx context.Context, workflowID string) ([]*StageLogEntry, error) {
	return nil, nil
}
