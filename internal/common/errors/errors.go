// Package errors defines the AgentX error taxonomy: an orthogonal
// category × code pair with a severity and a recoverability flag.
package errors

import (
	"errors"
	"fmt"
)

// Category groups errors by origin.
type Category string

const (
	CategoryLLM        Category = "llm"
	CategoryNetwork    Category = "network"
	CategoryDriver     Category = "driver"
	CategoryValidation Category = "validation"
	CategorySystem     Category = "system"
)

// Code identifies a specific failure within a category.
type Code string

const (
	// llm
	CodeRateLimited    Code = "rate-limited"
	CodeInvalidAPIKey  Code = "invalid-api-key"
	CodeContextTooLong Code = "context-too-long"
	CodeOverloaded     Code = "overloaded"

	// network
	CodeTimeout          Code = "timeout"
	CodeConnectionFailed Code = "connection-failed"

	// driver
	CodeReceiveFailed       Code = "receive-failed"
	CodeToolExecutionFailed Code = "tool-execution-failed"

	// validation
	CodeInvalidMessage  Code = "invalid-message"
	CodeSchemaViolation Code = "schema-violation"

	// system
	CodeAgentDestroyed Code = "agent-destroyed"
	CodeAgentBusy      Code = "agent-busy"
	CodeUnknown        Code = "unknown"
)

// Severity ranks the impact of an error on the agent lifecycle.
type Severity string

const (
	// SeverityFatal terminates the agent lifecycle.
	SeverityFatal Severity = "fatal"
	// SeverityError resets the agent to idle.
	SeverityError Severity = "error"
	// SeverityWarning is informational.
	SeverityWarning Severity = "warning"
)

// AgentError is the typed error carried on error events and returned to
// callers. It is transportable over the event channel.
type AgentError struct {
	Category    Category `json:"category"`
	Code        Code     `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Cause       error    `json:"-"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Is matches AgentErrors by category and code.
func (e *AgentError) Is(target error) bool {
	var other *AgentError
	if !errors.As(target, &other) {
		return false
	}
	return e.Category == other.Category && e.Code == other.Code
}

// New creates an AgentError with severity and recoverability derived from the
// category/code pair.
func New(category Category, code Code, message string) *AgentError {
	return &AgentError{
		Category:    category,
		Code:        code,
		Message:     message,
		Severity:    severityFor(category, code),
		Recoverable: recoverableFor(category, code),
	}
}

// Wrap creates an AgentError wrapping a cause.
func Wrap(category Category, code Code, message string, cause error) *AgentError {
	err := New(category, code, message)
	err.Cause = cause
	return err
}

// AgentDestroyed reports an operation against a destroyed agent.
func AgentDestroyed(agentID string) *AgentError {
	return New(CategorySystem, CodeAgentDestroyed, fmt.Sprintf("agent %s has been destroyed", agentID))
}

// AgentBusy reports a receive while a turn is in flight. Concurrency is
// rejected, never queued.
func AgentBusy(agentID string) *AgentError {
	return New(CategorySystem, CodeAgentBusy, fmt.Sprintf("agent %s is processing another message", agentID))
}

// InvalidMessage reports a message that failed validation.
func InvalidMessage(message string) *AgentError {
	return New(CategoryValidation, CodeInvalidMessage, message)
}

func severityFor(category Category, code Code) Severity {
	switch {
	case category == CategoryLLM && code == CodeInvalidAPIKey:
		return SeverityFatal
	case category == CategorySystem && code == CodeAgentDestroyed:
		return SeverityFatal
	case category == CategorySystem && code == CodeAgentBusy:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func recoverableFor(category Category, code Code) bool {
	switch category {
	case CategoryLLM:
		return code != CodeInvalidAPIKey
	case CategoryNetwork, CategoryDriver, CategoryValidation:
		return true
	case CategorySystem:
		return code == CodeUnknown
	default:
		return false
	}
}

// AsAgentError extracts an AgentError from err, or wraps err as
// system/unknown when it is not one.
func AsAgentError(err error) *AgentError {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(CategorySystem, CodeUnknown, "unexpected error", err)
}
