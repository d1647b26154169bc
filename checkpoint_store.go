package pipelinecore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// CheckpointStoreConfig holds the tunables spec.md §6.4 exposes for C1.
type CheckpointStoreConfig struct {
	MaxCheckpointSize      int // bytes; 0 means defaultMaxCheckpointSize
	MaxCheckpointsPerWorkflow int // 0 means unlimited retention
	SchemaVersion          int // 0 means 1
}

// CheckpointStore composes a primary and an optional fallback CheckpointBackend
// into the full checkpoint contract of spec.md §4.1: size limits, ID
// collision retry, primary-then-fallback durability, retention enforcement,
// recomputed statistics, and snapshot validation. Grounded on the teacher's
// Checkpointer/FileCheckpointer split, generalized to a primary+fallback pair
// rather than a single backend since this spec requires a networked primary
// (Redis) with a local fallback rather than file-only durability.
type CheckpointStore struct {
	primary   CheckpointBackend
	fallback  CheckpointBackend
	cfg       CheckpointStoreConfig
	log       *slog.Logger
	observers *ObserverRegistry
}

// NewCheckpointStore builds a store backed by primary, with an optional
// fallback that Save writes to only when primary fails and that reads
// consult when primary errors or misses (not as a read cache). Pass a nil
// fallback to run file-only or Redis-only. observers may be nil, in which
// case checkpoint lifecycle events are not published.
func NewCheckpointStore(primary, fallback CheckpointBackend, observers *ObserverRegistry, cfg CheckpointStoreConfig, log *slog.Logger) *CheckpointStore {
	if cfg.MaxCheckpointSize <= 0 {
		cfg.MaxCheckpointSize = defaultMaxCheckpointSize
	}
	if cfg.SchemaVersion <= 0 {
		cfg.SchemaVersion = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &CheckpointStore{primary: primary, fallback: fallback, observers: observers, cfg: cfg, log: log}
}

func (s *CheckpointStore) emit(evt CheckpointEventType, ckpt *Checkpoint) {
	if s.observers != nil {
		s.observers.NotifyCheckpointEvent(CheckpointEvent{Type: evt, Checkpoint: ckpt})
	}
}

// Save serializes the workflow snapshot, measures its size, rejects
// oversized state, assigns a collision-free ID, writes to the primary and
// falls back only on primary failure, then enforces retention.
func (s *CheckpointStore) Save(ctx context.Context, record *WorkflowRecord, reason string, meta CheckpointMetadata) (*Checkpoint, error) {
	snapshotText, err := SerializeSnapshot(record.ToSnapshot())
	if err != nil {
		return nil, WrapWorkflowError(ErrorKindSerializationError, err)
	}

	size := byteLength(snapshotText)
	if size > s.cfg.MaxCheckpointSize {
		return nil, NewWorkflowError(ErrorKindSizeExceeded,
			fmt.Sprintf("checkpoint snapshot is %d bytes, exceeds limit of %d", size, s.cfg.MaxCheckpointSize))
	}

	meta.Reason = reason
	if meta.Context == nil {
		meta.Context = map[string]any{}
	}
	meta.CompletedAgents = record.CompletedAgents()

	ckpt := &Checkpoint{
		WorkflowID:     record.ID(),
		WorkflowType:   record.Type(),
		CreatedAt:      time.Now().UTC(),
		AgentID:        record.CurrentAgentID(),
		StageIndex:     record.StageIndex(),
		SnapshotText:   snapshotText,
		SchemaVersion:  s.cfg.SchemaVersion,
		StateSizeBytes: size,
		Metadata:       meta,
	}

	id, err := s.uniqueID(ctx)
	if err != nil {
		return nil, err
	}
	ckpt.ID = id

	if err := s.primary.Save(ctx, ckpt); err != nil {
		s.log.Warn("primary checkpoint backend save failed, falling back", "error", err, "checkpoint_id", ckpt.ID)
		if s.fallback == nil {
			s.emit(CheckpointEventFailed, ckpt)
			return nil, WrapWorkflowError(ErrorKindStorageError, err)
		}
		if ferr := s.fallback.Save(ctx, ckpt); ferr != nil {
			s.emit(CheckpointEventFailed, ckpt)
			return nil, WrapWorkflowError(ErrorKindStorageError, fmt.Errorf("primary: %w; fallback: %v", err, ferr))
		}
	}

	s.emit(CheckpointEventCreated, ckpt)

	if s.cfg.MaxCheckpointsPerWorkflow > 0 {
		if err := s.enforceRetention(ctx, ckpt.WorkflowID); err != nil {
			s.log.Warn("checkpoint retention enforcement failed", "error", err, "workflow_id", ckpt.WorkflowID)
		}
	}

	return ckpt, nil
}

// uniqueID generates a checkpoint ID, retrying on the rare collision against
// the primary backend, or against the fallback when the primary errors.
func (s *CheckpointStore) uniqueID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		id := NewCheckpointID()
		_, ok, err := s.primary.Load(ctx, id)
		if err != nil && s.fallback != nil {
			_, ok, err = s.fallback.Load(ctx, id)
		}
		if err != nil {
			return "", WrapWorkflowError(ErrorKindStorageError, err)
		} else if !ok {
			return id, nil
		}
	}
	return "", NewWorkflowError(ErrorKindStorageError, "could not generate a unique checkpoint id")
}

// Load returns the checkpoint for id, trying the primary first and falling
// through to the fallback whenever the primary either errors or cleanly
// reports not-found — a checkpoint written only to the fallback, because the
// primary was unreachable at Save time, must stay loadable once the primary
// is healthy again, not just while it remains down.
func (s *CheckpointStore) Load(ctx context.Context, id string) (*Checkpoint, error) {
	ckpt, ok, err := s.primary.Load(ctx, id)
	if (err != nil || !ok) && s.fallback != nil {
		if fckpt, fok, ferr := s.fallback.Load(ctx, id); ferr == nil && fok {
			ckpt, ok, err = fckpt, true, nil
		} else if err == nil {
			err = ferr
		}
	}
	if err != nil {
		return nil, WrapWorkflowError(ErrorKindStorageError, err)
	}
	if !ok {
		return nil, NewWorkflowError(ErrorKindNotFound, fmt.Sprintf("checkpoint %q not found", id))
	}
	s.emit(CheckpointEventLoaded, ckpt)
	return ckpt, nil
}

// ListForWorkflow returns every checkpoint for workflowID, newest first,
// merging the primary and fallback backends rather than treating either as
// authoritative: a workflow's checkpoints can be split across both when some
// Save calls hit a temporarily-unreachable primary and others didn't.
func (s *CheckpointStore) ListForWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	primaryList, err := s.primary.ListForWorkflow(ctx, workflowID)
	if err != nil {
		if s.fallback == nil {
			return nil, WrapWorkflowError(ErrorKindStorageError, err)
		}
		primaryList = nil
	}

	checkpoints := primaryList
	if s.fallback != nil {
		fallbackList, ferr := s.fallback.ListForWorkflow(ctx, workflowID)
		if ferr != nil {
			if err != nil {
				return nil, WrapWorkflowError(ErrorKindStorageError, fmt.Errorf("primary: %w; fallback: %v", err, ferr))
			}
		} else {
			checkpoints = mergeCheckpointsByID(primaryList, fallbackList)
		}
	}

	sortCheckpointsDesc(checkpoints)
	return checkpoints, nil
}

// mergeCheckpointsByID unions two checkpoint lists, deduplicating by ID;
// primary's copy wins on the (expected never to happen, IDs are unique)
// case both backends hold the same ID.
func mergeCheckpointsByID(primary, fallback []*Checkpoint) []*Checkpoint {
	seen := make(map[string]bool, len(primary))
	merged := make([]*Checkpoint, 0, len(primary)+len(fallback))
	for _, c := range primary {
		seen[c.ID] = true
		merged = append(merged, c)
	}
	for _, c := range fallback {
		if !seen[c.ID] {
			merged = append(merged, c)
		}
	}
	return merged
}

// GetLatest returns the most recent checkpoint for workflowID, or ok=false
// if none exist.
func (s *CheckpointStore) GetLatest(ctx context.Context, workflowID string) (*Checkpoint, bool, error) {
	checkpoints, err := s.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, false, err
	}
	if len(checkpoints) == 0 {
		return nil, false, nil
	}
	return checkpoints[0], true, nil
}

// Delete removes a single checkpoint. Missing checkpoints are not an error.
func (s *CheckpointStore) Delete(ctx context.Context, id string) error {
	if err := s.primary.Delete(ctx, id); err != nil {
		return WrapWorkflowError(ErrorKindStorageError, err)
	}
	if s.fallback != nil {
		if err := s.fallback.Delete(ctx, id); err != nil {
			return WrapWorkflowError(ErrorKindStorageError, err)
		}
	}
	s.emit(CheckpointEventDeleted, &Checkpoint{ID: id})
	return nil
}

// DeleteForWorkflow removes every checkpoint belonging to workflowID.
func (s *CheckpointStore) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	if err := s.primary.DeleteForWorkflow(ctx, workflowID); err != nil {
		return WrapWorkflowError(ErrorKindStorageError, err)
	}
	if s.fallback != nil {
		if err := s.fallback.DeleteForWorkflow(ctx, workflowID); err != nil {
			return WrapWorkflowError(ErrorKindStorageError, err)
		}
	}
	return nil
}

// Validate re-parses a checkpoint's snapshot text, reporting whether it is
// structurally sound without mutating anything.
func (s *CheckpointStore) Validate(ctx context.Context, id string) error {
	ckpt, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := DeserializeSnapshot(ckpt.SnapshotText); err != nil {
		s.emit(CheckpointEventFailed, ckpt)
		return WrapWorkflowError(ErrorKindSerializationError, err)
	}
	s.emit(CheckpointEventValidated, ckpt)
	return nil
}

// Statistics recomputes CheckpointStatistics over every checkpoint either
// backend holds; it is a derived view, never stored separately. Fallback-only
// checkpoints (written there because the primary was briefly unreachable)
// are merged in so they keep counting once the primary recovers.
func (s *CheckpointStore) Statistics(ctx context.Context) (*CheckpointStatistics, error) {
	all, err := s.primary.All(ctx)
	if err != nil {
		if s.fallback == nil {
			return nil, WrapWorkflowError(ErrorKindStorageError, err)
		}
		all = nil
	}
	if s.fallback != nil {
		fallbackAll, ferr := s.fallback.All(ctx)
		if ferr != nil {
			if err != nil {
				return nil, WrapWorkflowError(ErrorKindStorageError, fmt.Errorf("primary: %w; fallback: %v", err, ferr))
			}
		} else {
			all = mergeCheckpointsByID(all, fallbackAll)
		}
	}

	stats := &CheckpointStatistics{TotalCount: len(all)}
	if len(all) == 0 {
		return stats, nil
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	var totalBytes int64
	for i, c := range all {
		totalBytes += int64(c.StateSizeBytes)
		if c.StateSizeBytes > stats.LargestSize {
			stats.LargestSize = c.StateSizeBytes
		}
		if c.CreatedAt.After(cutoff) {
			stats.CreatedLast24h++
		}
		if i == 0 || c.CreatedAt.Before(stats.OldestCreatedAt) {
			stats.OldestCreatedAt = c.CreatedAt
		}
		if i == 0 || c.CreatedAt.After(stats.NewestCreatedAt) {
			stats.NewestCreatedAt = c.CreatedAt
		}
	}
	stats.TotalBytes = totalBytes
	stats.AverageSize = float64(totalBytes) / float64(len(all))
	return stats, nil
}

// enforceRetention deletes the oldest checkpoints for a workflow beyond the
// configured cap, keeping the most recent MaxCheckpointsPerWorkflow.
func (s *CheckpointStore) enforceRetention(ctx context.Context, workflowID string) error {
	checkpoints, err := s.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if len(checkpoints) <= s.cfg.MaxCheckpointsPerWorkflow {
		return nil
	}
	for _, c := range checkpoints[s.cfg.MaxCheckpointsPerWorkflow:] {
		if err := s.Delete(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

func sortCheckpointsDesc(checkpoints []*Checkpoint) {
	sort.Slice(checkpoints, func(i, j int) bool {
		return checkpoints[i].CreatedAt.After(checkpoints[j].CreatedAt)
	})
}
