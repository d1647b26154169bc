package pipelinecore

import "time"

// CheckpointEventType classifies a checkpoint observer event (C5).
type CheckpointEventType string

const (
	CheckpointEventCreated   CheckpointEventType = "Created"
	CheckpointEventLoaded    CheckpointEventType = "Loaded"
	CheckpointEventDeleted   CheckpointEventType = "Deleted"
	CheckpointEventValidated CheckpointEventType = "Validated"
	CheckpointEventFailed    CheckpointEventType = "Failed"
)

// CheckpointMetadata is the free-form metadata carried alongside a
// checkpoint, per spec.md §3.
type CheckpointMetadata struct {
	Automated       bool           `json:"automated"`
	Reason          string         `json:"reason"`
	UserID          string         `json:"user_id,omitempty"`
	Context         map[string]any `json:"context"`
	CompletedAgents []string       `json:"completed_agents"`
}

// Checkpoint is a persisted, stage-boundary snapshot of workflow progress.
type Checkpoint struct {
	ID             string             `json:"checkpoint_id"`
	WorkflowID     string             `json:"workflow_id"`
	WorkflowType   string             `json:"workflow_type"`
	CreatedAt      time.Time          `json:"created_at"`
	AgentID        string             `json:"agent_id,omitempty"`
	StageIndex     int                `json:"stage_index"`
	SnapshotText   string             `json:"snapshot"`
	SchemaVersion  int                `json:"schema_version"`
	StateSizeBytes int                `json:"state_size_bytes"`
	Label          string             `json:"label,omitempty"`
	Metadata       CheckpointMetadata `json:"metadata"`
}

// CheckpointStatistics is the recomputable aggregate view described in
// spec.md §3.
type CheckpointStatistics struct {
	TotalCount      int       `json:"total_count"`
	AverageSize     float64   `json:"average_size"`
	LargestSize     int       `json:"largest_size"`
	TotalBytes      int64     `json:"total_bytes"`
	CreatedLast24h  int       `json:"created_last_24h"`
	OldestCreatedAt time.Time `json:"oldest_created_at,omitzero"`
	NewestCreatedAt time.Time `json:"newest_created_at,omitzero"`
}

// ExecutionSummary is a lightweight projection of a workflow, grounded on
// the teacher's ExecutionSummary but renamed to match this spec's
// Workflow/Checkpoint vocabulary. No function in this package builds or
// returns one.
type ExecutionSummary struct {
	WorkflowID   string        `json:"workflow_id"`
	WorkflowType string        `json:"workflow_type"`
	Status       WorkflowState `json:"status"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time,omitzero"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
}

const defaultMaxCheckpointSize = 50 * 1024 * 1024 // 50 MiB, spec.md §6.4
