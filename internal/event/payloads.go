package event

import (
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/message"
)

// MessageStartData accompanies message_start.
type MessageStartData struct {
	MessageID string `json:"messageId"`
	Model     string `json:"model,omitempty"`
}

// TextDeltaData accompanies text_delta.
type TextDeltaData struct {
	Text string `json:"text"`
}

// ToolUseStartData accompanies tool_use_content_block_start.
type ToolUseStartData struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

// InputJSONDeltaData accompanies input_json_delta.
type InputJSONDeltaData struct {
	PartialJSON string `json:"partialJson"`
}

// ToolUseStopData accompanies tool_use_content_block_stop with the fully
// received structured input.
type ToolUseStopData struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input"`
}

// ToolCallData accompanies tool_call: a provider-confirmed call.
type ToolCallData struct {
	Call message.ToolCall `json:"call"`
}

// ToolResultData accompanies tool_result after the tool finished executing.
type ToolResultData struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result"`
	IsError    bool   `json:"isError"`
	// Denied marks the distinguished execution-denied sentinel.
	Denied       bool   `json:"denied,omitempty"`
	DeniedReason string `json:"deniedReason,omitempty"`
}

// MessageStopData accompanies message_stop.
type MessageStopData struct {
	StopReason message.StopReason `json:"stopReason"`
	Usage      *message.Usage     `json:"usage,omitempty"`
}

// InterruptedData accompanies interrupted.
type InterruptedData struct {
	Reason string `json:"reason,omitempty"`
}

// StateData accompanies state events.
type StateData struct {
	State      string `json:"state"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// MessageData accompanies the four message event types.
type MessageData struct {
	Message message.Message `json:"message"`
}

// TurnRequestData accompanies turn_request.
type TurnRequestData struct {
	UserMessage message.Message `json:"userMessage"`
}

// TurnResponseData accompanies turn_response with the grouped transcript of
// one full turn.
type TurnResponseData struct {
	UserMessage message.Message   `json:"userMessage"`
	Messages    []message.Message `json:"messages"`
	Usage       *message.Usage    `json:"usage,omitempty"`
	Interrupted bool              `json:"interrupted,omitempty"`
}

// ErrorData accompanies the independent error event.
type ErrorData struct {
	Error *xerrors.AgentError `json:"error"`
}
