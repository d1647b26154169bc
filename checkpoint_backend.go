package pipelinecore

import "context"

// CheckpointBackend is the storage contract a single back-end (file, Redis,
// ...) must satisfy. The higher-level CheckpointStore composes a primary and
// a fallback backend on top of this to implement spec.md §4.1 in full
// (retention, size limits, ID collision retry, statistics).
type CheckpointBackend interface {
	// Save durably writes a checkpoint. Implementations must not mutate ckpt.
	Save(ctx context.Context, ckpt *Checkpoint) error

	// Load returns the checkpoint for id, or ok=false if absent.
	Load(ctx context.Context, id string) (ckpt *Checkpoint, ok bool, err error)

	// ListForWorkflow returns all checkpoints for a workflow, any order; the
	// caller sorts by CreatedAt descending.
	ListForWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint. Missing entries are not an error.
	Delete(ctx context.Context, id string) error

	// DeleteForWorkflow removes every checkpoint for a workflow.
	DeleteForWorkflow(ctx context.Context, workflowID string) error

	// All returns every checkpoint the backend holds, used for Statistics.
	All(ctx context.Context) ([]*Checkpoint, error)
}
