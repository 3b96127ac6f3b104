// Package message defines the conversation message model: a tagged union
// over user, assistant, tool-call, tool-result and system variants, with
// ordered content parts.
//
// The model uses the split variant shape: tool calls live inside assistant
// messages as parts, and tool results are standalone messages referencing
// them by id. A merged "tool-use" message kind does not exist.
package message

import (
	"fmt"
	"time"

	"github.com/agentx/agentx/internal/id"
)

// Kind discriminates the message union.
type Kind string

const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolCall   Kind = "tool-call"
	KindToolResult Kind = "tool-result"
	KindSystem     Kind = "system"
)

// Role is the conversational role a message speaks with.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// StopReason explains why an assistant message ended.
type StopReason string

const (
	StopReasonStop        StopReason = "stop"
	StopReasonToolCalls   StopReason = "tool-calls"
	StopReasonMaxTokens   StopReason = "max-tokens"
	StopReasonLength      StopReason = "length"
	StopReasonError       StopReason = "error"
	StopReasonInterrupted StopReason = "interrupted"
)

// Usage carries provider-reported token accounting.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Message is one entry in a conversation. Which fields are populated depends
// on Kind; Content order is significant and preserved on round-trip.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	Content []Part `json:"content,omitempty"`

	// tool-result fields
	ToolCallID string            `json:"toolCallId,omitempty"`
	ToolResult *ToolResultOutput `json:"toolResult,omitempty"`

	// assistant fields
	StopReason StopReason `json:"stopReason,omitempty"`
	Model      string     `json:"model,omitempty"`
	Usage      *Usage     `json:"usage,omitempty"`
}

// NewUser builds a user message from plain text.
func NewUser(text string) Message {
	return Message{
		ID:        id.NewMessage(),
		Kind:      KindUser,
		Role:      RoleUser,
		Timestamp: time.Now().UTC(),
		Content:   []Part{TextPart(text)},
	}
}

// NewUserParts builds a user message from an ordered part list.
func NewUserParts(parts []Part) Message {
	return Message{
		ID:        id.NewMessage(),
		Kind:      KindUser,
		Role:      RoleUser,
		Timestamp: time.Now().UTC(),
		Content:   parts,
	}
}

// NewSystem builds a system message.
func NewSystem(text string) Message {
	return Message{
		ID:        id.NewMessage(),
		Kind:      KindSystem,
		Role:      RoleSystem,
		Timestamp: time.Now().UTC(),
		Content:   []Part{TextPart(text)},
	}
}

// NewAssistant builds an assistant message from accumulated parts.
// messageID may be provider-assigned; empty allocates one.
func NewAssistant(messageID string, parts []Part, stopReason StopReason, model string) Message {
	if messageID == "" {
		messageID = id.NewMessage()
	}
	return Message{
		ID:         messageID,
		Kind:       KindAssistant,
		Role:       RoleAssistant,
		Timestamp:  time.Now().UTC(),
		Content:    parts,
		StopReason: stopReason,
		Model:      model,
	}
}

// NewToolCall builds a standalone tool-call message wrapping one call.
func NewToolCall(call ToolCall) Message {
	return Message{
		ID:        id.NewMessage(),
		Kind:      KindToolCall,
		Role:      RoleAssistant,
		Timestamp: time.Now().UTC(),
		Content:   []Part{ToolCallPart(call)},
	}
}

// NewToolResult builds a tool-result message referencing a prior tool call.
func NewToolResult(toolCallID string, output ToolResultOutput) Message {
	return Message{
		ID:         id.NewMessage(),
		Kind:       KindToolResult,
		Role:       RoleTool,
		Timestamp:  time.Now().UTC(),
		ToolCallID: toolCallID,
		ToolResult: &output,
	}
}

// Clone returns a deep copy of the message. Fork semantics depend on it:
// edits to the copy never reach the original.
func (m Message) Clone() Message {
	out := m
	if len(m.Content) > 0 {
		parts := make([]Part, len(m.Content))
		copy(parts, m.Content)
		for i := range parts {
			if parts[i].ToolCall != nil {
				c := *parts[i].ToolCall
				c.Input = cloneInput(c.Input)
				parts[i].ToolCall = &c
			}
			if parts[i].Image != nil {
				b := *parts[i].Image
				parts[i].Image = &b
			}
			if parts[i].File != nil {
				b := *parts[i].File
				parts[i].File = &b
			}
		}
		out.Content = parts
	}
	if m.ToolResult != nil {
		r := *m.ToolResult
		out.ToolResult = &r
	}
	if m.Usage != nil {
		u := *m.Usage
		out.Usage = &u
	}
	return out
}

// CloneAll deep-copies a message list.
func CloneAll(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartTypeText {
			out += p.Text
		}
	}
	return out
}

// ToolCalls returns the tool-call parts of the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Content {
		if p.Type == PartTypeToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// UserEquivalent reports whether the message counts as user input when
// checking the strict user/assistant alternation the provider requires.
// Tool results are user-equivalent.
func (m Message) UserEquivalent() bool {
	switch m.Kind {
	case KindUser, KindToolResult:
		return true
	default:
		return false
	}
}

// Validate checks the structural invariants of a single message.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	switch m.Kind {
	case KindUser, KindAssistant, KindSystem:
		if len(m.Content) == 0 {
			return fmt.Errorf("%s message requires content", m.Kind)
		}
	case KindToolCall:
		if len(m.Content) != 1 || m.Content[0].Type != PartTypeToolCall {
			return fmt.Errorf("tool-call message requires exactly one toolCall part")
		}
	case KindToolResult:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool-result message requires toolCallId")
		}
		if m.ToolResult == nil {
			return fmt.Errorf("tool-result message requires toolResult output")
		}
	default:
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return nil
}

// ValidateSequence checks the conversation-level invariants over an ordered
// history: strict user-equivalent/assistant alternation (two consecutive
// assistant messages are forbidden) and tool-result referential integrity.
func ValidateSequence(history []Message) error {
	seenCalls := make(map[string]bool)
	prevAssistant := false
	for i, m := range history {
		if m.Kind == KindSystem {
			continue
		}
		for _, call := range m.ToolCalls() {
			seenCalls[call.ID] = true
		}
		if m.Kind == KindToolResult && !seenCalls[m.ToolCallID] {
			return fmt.Errorf("message %d: tool result references unknown tool call %q", i, m.ToolCallID)
		}
		assistant := !m.UserEquivalent()
		if assistant && prevAssistant {
			return fmt.Errorf("message %d: two consecutive assistant messages", i)
		}
		prevAssistant = assistant
	}
	return nil
}
