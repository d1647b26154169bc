package pipelinecore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileCheckpointBackend persists one JSON file per checkpoint under a
// configured directory, created by the constructor if absent. Grounded on the teacher's
// FileCheckpointer, generalized from "one directory per execution plus a
// `latest` symlink" to "one file per checkpoint_id" because C1 must list
// every historical checkpoint for a workflow, not just the newest.
type FileCheckpointBackend struct {
	dir string
}

// NewFileCheckpointBackend creates a file-backed checkpoint store rooted at
// dir, creating the directory if it does not yet exist.
func NewFileCheckpointBackend(dir string) (*FileCheckpointBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileCheckpointBackend{dir: dir}, nil
}

func (b *FileCheckpointBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

// Save writes the checkpoint durably via write-temp-then-rename so that a
// crash mid-write never leaves a corrupt file at the final path.
func (b *FileCheckpointBackend) Save(ctx context.Context, ckpt *Checkpoint) error {
	data, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	final := b.path(ckpt.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

func (b *FileCheckpointBackend) Load(ctx context.Context, id string) (*Checkpoint, bool, error) {
	data, err := os.ReadFile(b.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read checkpoint file: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &ckpt, true, nil
}

func (b *FileCheckpointBackend) ListForWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	all, err := b.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Checkpoint
	for _, c := range all {
		if c.WorkflowID == workflowID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (b *FileCheckpointBackend) Delete(ctx context.Context, id string) error {
	if err := os.Remove(b.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint file: %w", err)
	}
	return nil
}

func (b *FileCheckpointBackend) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	checkpoints, err := b.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	for _, c := range checkpoints {
		if err := b.Delete(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func (b *FileCheckpointBackend) All(ctx context.Context) ([]*Checkpoint, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}
	var out []*Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		ckpt, ok, err := b.Load(ctx, id)
		if err != nil || !ok {
			continue
		}
		out = append(out, ckpt)
	}
	return out, nil
}
