package errors

import (
	"context"
	"errors"
	"strings"
)

// Classify maps an arbitrary driver/provider error onto the taxonomy using a
// string-pattern heuristic against upstream messages. Already-classified
// errors pass through unchanged.
func Classify(err error) *AgentError {
	if err == nil {
		return nil
	}

	var ae *AgentError
	if errors.As(err, &ae) {
		return ae
	}

	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return Wrap(CategoryNetwork, CodeTimeout, "provider request timed out", err)
	case containsAny(msg, "rate limit", "rate_limit", "429", "too many requests"):
		return Wrap(CategoryLLM, CodeRateLimited, "provider rate limit exceeded", err)
	case containsAny(msg, "invalid api key", "invalid x-api-key", "authentication", "unauthorized", "401"):
		return Wrap(CategoryLLM, CodeInvalidAPIKey, "provider rejected the API key", err)
	case containsAny(msg, "context too long", "context_length", "prompt is too long", "maximum context"):
		return Wrap(CategoryLLM, CodeContextTooLong, "conversation exceeds the provider context window", err)
	case containsAny(msg, "overloaded", "529", "service unavailable", "503"):
		return Wrap(CategoryLLM, CodeOverloaded, "provider is overloaded", err)
	case containsAny(msg, "connection refused", "connection reset", "no such host", "broken pipe", "eof"):
		return Wrap(CategoryNetwork, CodeConnectionFailed, "connection to provider failed", err)
	case containsAny(msg, "tool execution", "tool failed"):
		return Wrap(CategoryDriver, CodeToolExecutionFailed, "tool execution failed", err)
	default:
		return Wrap(CategoryDriver, CodeReceiveFailed, "driver receive failed", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
