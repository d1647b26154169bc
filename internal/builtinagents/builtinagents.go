// Package builtinagents provides a handful of trivial Agent implementations
// for exercising a pipeline definition without wiring a real LLM or tool
// call behind every stage. Grounded on the teacher's activities package
// (print/wait/fail/get_time), narrowed to the single-response Agent
// contract: Echo and Clarify read the last message (whatever its role), and
// each agent returns a fixed or derived Response.
package builtinagents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/northbeam-labs/pipelinecore"
)

// Echo returns the most recent message content verbatim, prefixed with its
// own agent id. Useful as a default stand-in for any stage during a dry run.
func Echo(id string) pipelinecore.Agent {
	return pipelinecore.NewAgentFunc(id, func(ctx context.Context, messages []pipelinecore.Message) (pipelinecore.Response, error) {
		last := lastContent(messages)
		return pipelinecore.Response{Content: fmt.Sprintf("[%s] %s", id, last)}, nil
	})
}

// Wait sleeps for d (or until ctx is cancelled) and then returns
// "waited <d>"; it does not read the messages.
func Wait(id string, d time.Duration) pipelinecore.Agent {
	return pipelinecore.NewAgentFunc(id, func(ctx context.Context, messages []pipelinecore.Message) (pipelinecore.Response, error) {
		select {
		case <-ctx.Done():
			return pipelinecore.Response{}, ctx.Err()
		case <-time.After(d):
		}
		return pipelinecore.Response{Content: fmt.Sprintf("waited %s", d)}, nil
	})
}

// Fail always returns an error, for exercising the retry/Failed path.
func Fail(id, message string) pipelinecore.Agent {
	if message == "" {
		message = "intentional failure for testing"
	}
	return pipelinecore.NewAgentFunc(id, func(ctx context.Context, messages []pipelinecore.Message) (pipelinecore.Response, error) {
		return pipelinecore.Response{}, fmt.Errorf("%s: %s", id, message)
	})
}

// Clarify echoes the user's input and, when it contains the word
// "unclear", asks for clarification; otherwise it answers directly. Used to
// exercise the clarify-early-exit policy from the CLI without a real LLM.
func Clarify(id string) pipelinecore.Agent {
	return pipelinecore.NewAgentFunc(id, func(ctx context.Context, messages []pipelinecore.Message) (pipelinecore.Response, error) {
		last := lastContent(messages)
		if strings.Contains(strings.ToLower(last), "unclear") {
			return pipelinecore.Response{Content: "clarification needed: please restate your request"}, nil
		}
		return pipelinecore.Response{Content: fmt.Sprintf("understood: %s", last)}, nil
	})
}

func lastContent(messages []pipelinecore.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}
