package pipelinecore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisCheckpointBackend is the primary, networked CheckpointBackend.
// Grounded on the teacher's pack sibling AltairaLabs-PromptKit's RedisStore:
// one `SET` per checkpoint keyed by id, plus a per-workflow sorted set
// (`ZADD`, score = creation time in unix nanos) so ListForWorkflow avoids a
// full key scan. ListForWorkflow and All return checkpoints oldest first;
// CheckpointStore re-sorts them newest first.
type RedisCheckpointBackend struct {
	client *redis.Client
	prefix string
}

// RedisCheckpointOption configures a RedisCheckpointBackend.
type RedisCheckpointOption func(*RedisCheckpointBackend)

// WithRedisCheckpointPrefix overrides the default "pipelinecore" key prefix.
func WithRedisCheckpointPrefix(prefix string) RedisCheckpointOption {
	return func(b *RedisCheckpointBackend) {
		b.prefix = prefix
	}
}

// NewRedisCheckpointBackend wraps an existing Redis client.
func NewRedisCheckpointBackend(client *redis.Client, opts ...RedisCheckpointOption) *RedisCheckpointBackend {
	b := &RedisCheckpointBackend{client: client, prefix: "pipelinecore"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisCheckpointBackend) checkpointKey(id string) string {
	return fmt.Sprintf("%s:checkpoint:%s", b.prefix, id)
}

func (b *RedisCheckpointBackend) workflowIndexKey(workflowID string) string {
	return fmt.Sprintf("%s:workflow:%s:checkpoints", b.prefix, workflowID)
}

func (b *RedisCheckpointBackend) allIndexKey() string {
	return fmt.Sprintf("%s:checkpoints:all", b.prefix)
}

// Save pipelines the SET of the checkpoint body with ZADD into both the
// per-workflow and global indexes, so a single round-trip keeps everything
// consistent.
func (b *RedisCheckpointBackend) Save(ctx context.Context, ckpt *Checkpoint) error {
	data, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	score := float64(ckpt.CreatedAt.UnixNano())
	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.checkpointKey(ckpt.ID), data, 0)
	pipe.ZAdd(ctx, b.workflowIndexKey(ckpt.WorkflowID), redis.Z{Score: score, Member: ckpt.ID})
	pipe.ZAdd(ctx, b.allIndexKey(), redis.Z{Score: score, Member: ckpt.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec: %w", err)
	}
	return nil
}

func (b *RedisCheckpointBackend) Load(ctx context.Context, id string) (*Checkpoint, bool, error) {
	data, err := b.client.Get(ctx, b.checkpointKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, false, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &ckpt, true, nil
}

func (b *RedisCheckpointBackend) loadMany(ctx context.Context, ids []string) ([]*Checkpoint, error) {
	out := make([]*Checkpoint, 0, len(ids))
	for _, id := range ids {
		ckpt, ok, err := b.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ckpt)
		}
	}
	return out, nil
}

func (b *RedisCheckpointBackend) ListForWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	ids, err := b.client.ZRange(ctx, b.workflowIndexKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return b.loadMany(ctx, ids)
}

// Delete removes the checkpoint body and both index entries. The workflow id
// is recovered from the checkpoint body itself so callers need not track it.
func (b *RedisCheckpointBackend) Delete(ctx context.Context, id string) error {
	ckpt, ok, err := b.Load(ctx, id)
	if err != nil {
		return err
	}
	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.checkpointKey(id))
	pipe.ZRem(ctx, b.allIndexKey(), id)
	if ok {
		pipe.ZRem(ctx, b.workflowIndexKey(ckpt.WorkflowID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec: %w", err)
	}
	return nil
}

func (b *RedisCheckpointBackend) DeleteForWorkflow(ctx context.Context, workflowID string) error {
	ids, err := b.client.ZRange(ctx, b.workflowIndexKey(workflowID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("redis zrange: %w", err)
	}
	pipe := b.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, b.checkpointKey(id))
		pipe.ZRem(ctx, b.allIndexKey(), id)
	}
	pipe.Del(ctx, b.workflowIndexKey(workflowID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec: %w", err)
	}
	return nil
}

func (b *RedisCheckpointBackend) All(ctx context.Context) ([]*Checkpoint, error) {
	ids, err := b.client.ZRange(ctx, b.allIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return b.loadMany(ctx, ids)
}
