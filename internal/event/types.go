package event

// Stream event types: the finest-grained events a driver emits while
// translating a provider stream.
const (
	TypeMessageStart      = "message_start"
	TypeTextBlockStart    = "text_content_block_start"
	TypeTextDelta         = "text_delta"
	TypeTextBlockStop     = "text_content_block_stop"
	TypeToolUseBlockStart = "tool_use_content_block_start"
	TypeInputJSONDelta    = "input_json_delta"
	TypeToolUseBlockStop  = "tool_use_content_block_stop"
	TypeToolCall          = "tool_call"
	TypeToolResult        = "tool_result"
	TypeMessageStop       = "message_stop"
	TypeInterrupted       = "interrupted"
)

// State event types: projected transitions of the agent conversation state
// machine.
const (
	TypeConversationQueued      = "conversation_queued"
	TypeConversationStart       = "conversation_start"
	TypeConversationResponding  = "conversation_responding"
	TypeConversationThinking    = "conversation_thinking"
	TypeToolPlanned             = "tool_planned"
	TypeToolExecuting           = "tool_executing"
	TypeToolCompleted           = "tool_completed"
	TypeToolFailed              = "tool_failed"
	TypeConversationEnd         = "conversation_end"
	TypeConversationInterrupted = "conversation_interrupted"
	TypeErrorOccurred           = "error_occurred"
)

// Message event types: assembled whole messages.
const (
	TypeUserMessage       = "user_message"
	TypeAssistantMessage  = "assistant_message"
	TypeToolCallMessage   = "tool_call_message"
	TypeToolResultMessage = "tool_result_message"
)

// Turn event types: a user request paired with its complete reply.
const (
	TypeTurnRequest  = "turn_request"
	TypeTurnResponse = "turn_response"
)

// TypeError is the independent error event accompanying error_occurred.
const TypeError = "error"

// Connection event types emitted by the network bridge.
const (
	TypeConnectionStateChanged = "connection_state_changed"
)

var streamTypes = map[string]bool{
	TypeMessageStart:      true,
	TypeTextBlockStart:    true,
	TypeTextDelta:         true,
	TypeTextBlockStop:     true,
	TypeToolUseBlockStart: true,
	TypeInputJSONDelta:    true,
	TypeToolUseBlockStop:  true,
	TypeToolCall:          true,
	TypeToolResult:        true,
	TypeMessageStop:       true,
	TypeInterrupted:       true,
}

var stateTypes = map[string]bool{
	TypeConversationQueued:      true,
	TypeConversationStart:       true,
	TypeConversationResponding:  true,
	TypeConversationThinking:    true,
	TypeToolPlanned:             true,
	TypeToolExecuting:           true,
	TypeToolCompleted:           true,
	TypeToolFailed:              true,
	TypeConversationEnd:         true,
	TypeConversationInterrupted: true,
	TypeErrorOccurred:           true,
}

var messageTypes = map[string]bool{
	TypeUserMessage:       true,
	TypeAssistantMessage:  true,
	TypeToolCallMessage:   true,
	TypeToolResultMessage: true,
}

var turnTypes = map[string]bool{
	TypeTurnRequest:  true,
	TypeTurnResponse: true,
}

// IsStream reports whether t is a stream event type.
func IsStream(t string) bool { return streamTypes[t] }

// IsState reports whether t is a state event type.
func IsState(t string) bool { return stateTypes[t] }

// IsMessage reports whether t is a message event type.
func IsMessage(t string) bool { return messageTypes[t] }

// IsTurn reports whether t is a turn event type.
func IsTurn(t string) bool { return turnTypes[t] }

// MessageTypes returns the message event types in a stable order.
func MessageTypes() []string {
	return []string{TypeUserMessage, TypeAssistantMessage, TypeToolCallMessage, TypeToolResultMessage}
}
