package pipelinecore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northbeam-labs/pipelinecore/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWithRetryRecoversUntilSuccess(t *testing.T) {
	attempts := 0
	base := NewAgentFunc("flaky", func(ctx context.Context, messages []Message) (Response, error) {
		attempts++
		if attempts < 3 {
			return Response{}, retry.NewRecoverableError(errors.New("try again"))
		}
		return Response{Content: "done"}, nil
	})

	wrapped := WithRetry(5)(base)
	resp, err := wrapped.Run(context.Background(), nil)

	require.NoError(t, err)
	require.Equal(t, "done", resp.Content)
	require.Equal(t, 3, attempts)
}

func TestWithRetryRetriesPlainUnwrappedErrors(t *testing.T) {
	attempts := 0
	base := NewAgentFunc("doomed", func(ctx context.Context, messages []Message) (Response, error) {
		attempts++
		return Response{}, fmt.Errorf("stage %d: always fails", attempts)
	})

	wrapped := WithRetry(3)(base)
	_, err := wrapped.Run(context.Background(), nil)

	require.Error(t, err)
	require.Equal(t, 3, attempts, "a plain error carries no recoverable/non-recoverable distinction: retry is driven purely by max_attempts")
}

func TestWithRetryRetriesEvenExplicitlyNonRecoverableErrors(t *testing.T) {
	attempts := 0
	base := NewAgentFunc("doomed", func(ctx context.Context, messages []Message) (Response, error) {
		attempts++
		return Response{}, retry.NewNonRecoverableError(errors.New("permanent"))
	})

	wrapped := WithRetry(5)(base)
	_, err := wrapped.Run(context.Background(), nil)

	require.Error(t, err)
	require.Equal(t, 5, attempts, "every thrown error retries up to max_attempts; cancellation is the only carve-out")
}

func TestWithRetryDisabledWhenMaxAttemptsOne(t *testing.T) {
	attempts := 0
	base := NewAgentFunc("once", func(ctx context.Context, messages []Message) (Response, error) {
		attempts++
		return Response{}, retry.NewRecoverableError(errors.New("nope"))
	})

	wrapped := WithRetry(1)(base)
	_, err := wrapped.Run(context.Background(), nil)

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestWithLoggingPassesThroughResult(t *testing.T) {
	base := NewAgentFunc("stage", func(ctx context.Context, messages []Message) (Response, error) {
		return Response{Content: "x"}, nil
	})

	wrapped := WithLogging(testLogger())(base)
	resp, err := wrapped.Run(context.Background(), nil)

	require.NoError(t, err)
	require.Equal(t, "x", resp.Content)
	require.Equal(t, "stage", wrapped.ID())
}

func TestWithTimingPassesThroughError(t *testing.T) {
	wantErr := errors.New("boom")
	base := NewAgentFunc("stage", func(ctx context.Context, messages []Message) (Response, error) {
		return Response{}, wantErr
	})

	wrapped := WithTiming(testLogger(), 0)(base)
	_, err := wrapped.Run(context.Background(), nil)

	require.ErrorIs(t, err, wantErr)
}

func TestWithTimingWarnsWhenThresholdExceeded(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	base := NewAgentFunc("slow", func(ctx context.Context, messages []Message) (Response, error) {
		time.Sleep(5 * time.Millisecond)
		return Response{Content: "done"}, nil
	})

	wrapped := WithTiming(log, time.Millisecond)(base)
	resp, err := wrapped.Run(context.Background(), nil)

	require.NoError(t, err)
	require.Equal(t, "done", resp.Content)
	require.Contains(t, buf.String(), "level=WARN")
	require.Contains(t, buf.String(), "exceeded timing threshold")
}

func TestWithTimingDoesNotWarnUnderThreshold(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	base := NewAgentFunc("fast", func(ctx context.Context, messages []Message) (Response, error) {
		return Response{Content: "done"}, nil
	})

	wrapped := WithTiming(log, time.Second)(base)
	_, err := wrapped.Run(context.Background(), nil)

	require.NoError(t, err)
	require.NotContains(t, buf.String(), "level=WARN")
}

func TestComposeMiddlewareOrderRetriesWholeStack(t *testing.T) {
	attempts := 0
	base := NewAgentFunc("composed", func(ctx context.Context, messages []Message) (Response, error) {
		attempts++
		if attempts < 2 {
			return Response{}, retry.NewRecoverableError(errors.New("flaky"))
		}
		return Response{Content: "final"}, nil
	})

	composed := ComposeMiddleware(base, 3, 0, testLogger())
	resp, err := composed.Run(context.Background(), nil)

	require.NoError(t, err)
	require.Equal(t, "final", resp.Content)
	require.Equal(t, 2, attempts)
	require.Equal(t, "composed", composed.ID())
}
