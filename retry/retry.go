// Package retry implements the exponential-backoff retry middleware used by
// the pipeline executor's C2 agent wrapper.
package retry

import (
	"context"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseWait    = 100 * time.Millisecond
	maxWait            = 2 * time.Second
)

// config holds the tunables set via Option.
type config struct {
	maxRetries int
	baseWait   time.Duration
}

// Option configures a Do call.
type Option func(*config)

// WithMaxRetries sets the number of retries attempted after the first
// failure (so total attempts = maxRetries + 1). Zero means try once.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the base backoff delay; actual delay for attempt k
// (0-indexed) is min(baseWait * 2^k, 2s).
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// Do calls fn, re-invoking it on any returned error up to maxRetries times
// with exponential backoff capped at 2s — the wrapped stage's own errors
// carry no recoverable/non-recoverable distinction here; only context
// cancellation aborts immediately without further attempts. Returns the
// last error encountered.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	cfg := config{maxRetries: defaultMaxRetries, baseWait: defaultBaseWait}
	for _, opt := range opts {
		opt(&cfg)
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff(cfg.baseWait, attempt)):
		}
	}
	return lastErr
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxWait {
			return maxWait
		}
	}
	if d > maxWait {
		return maxWait
	}
	return d
}
