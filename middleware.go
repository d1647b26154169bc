package pipelinecore

import (
	"context"
	"log/slog"
	"time"

	"github.com/northbeam-labs/pipelinecore/retry"
)

// AgentMiddleware wraps an Agent to add cross-cutting behavior without the
// wrapped Agent knowing about it, mirroring the teacher's decorator-style
// composition over Activity.
type AgentMiddleware func(Agent) Agent

// defaultSlowStageThreshold is the timing middleware's warning threshold
// when the threshold passed to ComposeMiddleware/WithTiming is <= 0.
const defaultSlowStageThreshold = 5 * time.Second

// ComposeMiddleware wires middlewares around base in the order
// Retry → Timing → Logging → base, outermost first, matching spec.md §4.2:
// retry sees the fully-timed, fully-logged call as a single unit to retry.
// slowThreshold configures WithTiming's warning threshold; <= 0 uses
// defaultSlowStageThreshold.
func ComposeMiddleware(base Agent, maxAttempts int, slowThreshold time.Duration, log *slog.Logger) Agent {
	wrapped := base
	wrapped = WithLogging(log)(wrapped)
	wrapped = WithTiming(log, slowThreshold)(wrapped)
	wrapped = WithRetry(maxAttempts)(wrapped)
	return wrapped
}

// WithLogging logs the start and successful completion of every Run call at
// debug level, and failures at warn level.
func WithLogging(log *slog.Logger) AgentMiddleware {
	return func(next Agent) Agent {
		return NewAgentFunc(next.ID(), func(ctx context.Context, messages []Message) (Response, error) {
			log.Debug("agent run starting", "agent_id", next.ID(), "message_count", len(messages))
			resp, err := next.Run(ctx, messages)
			if err != nil {
				log.Warn("agent run failed", "agent_id", next.ID(), "error", err)
			} else {
				log.Debug("agent run completed", "agent_id", next.ID())
			}
			return resp, err
		})
	}
}

// WithTiming records wall-clock duration of the Run call via the logger,
// logging a warning tagged with the elapsed time whenever it exceeds
// threshold. The duration is only logged; no telemetry metric records it.
// threshold <= 0 falls back to defaultSlowStageThreshold.
func WithTiming(log *slog.Logger, threshold time.Duration) AgentMiddleware {
	if threshold <= 0 {
		threshold = defaultSlowStageThreshold
	}
	return func(next Agent) Agent {
		return NewAgentFunc(next.ID(), func(ctx context.Context, messages []Message) (Response, error) {
			start := time.Now()
			resp, err := next.Run(ctx, messages)
			elapsed := time.Since(start)
			if elapsed > threshold {
				log.Warn("agent run exceeded timing threshold", "agent_id", next.ID(), "elapsed_ms", elapsed.Milliseconds(), "threshold_ms", threshold.Milliseconds())
			} else {
				log.Debug("agent run timing", "agent_id", next.ID(), "duration_ms", elapsed.Milliseconds())
			}
			return resp, err
		})
	}
}

// WithRetry retries Run on any error with exponential backoff
// (min(2^k*100ms, 2s)), whether or not the error is marked recoverable; it
// stops early only on context cancellation. maxAttempts <= 1 disables retrying.
func WithRetry(maxAttempts int) AgentMiddleware {
	return func(next Agent) Agent {
		return NewAgentFunc(next.ID(), func(ctx context.Context, messages []Message) (Response, error) {
			var resp Response
			err := retry.Do(ctx, func() error {
				var runErr error
				resp, runErr = next.Run(ctx, messages)
				return runErr
			}, retry.WithMaxRetries(maxRetriesFromAttempts(maxAttempts)), retry.WithBaseWait(100*time.Millisecond))
			return resp, err
		})
	}
}

func maxRetriesFromAttempts(maxAttempts int) int {
	if maxAttempts <= 1 {
		return 0
	}
	return maxAttempts - 1
}
