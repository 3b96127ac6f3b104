// Package engine implements the per-agent event pipeline: the message
// assembler, the state projector and the turn tracker, composed re-entrantly
// so that derived events feed the higher tiers.
package engine

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

// toolBuild accumulates the partial input of one open tool-use block.
type toolBuild struct {
	id   string
	name string
	buf  strings.Builder
}

// assembler folds stream events into whole messages. One instance per agent;
// state between message_start and message_stop is the message under
// construction.
type assembler struct {
	agentID string
	logger  *logger.Logger

	building  bool
	messageID string
	model     string
	usage     *message.Usage
	parts     []message.Part
	textOpen  bool
	tool      *toolBuild
}

func newAssembler(agentID string, log *logger.Logger) *assembler {
	return &assembler{agentID: agentID, logger: log}
}

// process advances the assembler by one stream event and returns any message
// events it produced. Non-stream events are ignored.
func (a *assembler) process(e *event.Event) []*event.Event {
	switch e.Type {
	case event.TypeMessageStart:
		data, _ := e.Data.(event.MessageStartData)
		a.reset()
		a.building = true
		a.messageID = data.MessageID
		a.model = data.Model
		return nil

	case event.TypeTextBlockStart:
		a.openText()
		return nil

	case event.TypeTextDelta:
		data, _ := e.Data.(event.TextDeltaData)
		if !a.textOpen {
			// Deltas without an explicit block start open one implicitly.
			a.openText()
		}
		a.parts[len(a.parts)-1].Text += data.Text
		return nil

	case event.TypeTextBlockStop:
		a.textOpen = false
		return nil

	case event.TypeToolUseBlockStart:
		data, _ := e.Data.(event.ToolUseStartData)
		a.textOpen = false
		a.tool = &toolBuild{id: data.ToolCallID, name: data.ToolName}
		return nil

	case event.TypeInputJSONDelta:
		data, _ := e.Data.(event.InputJSONDeltaData)
		if a.tool != nil {
			a.tool.buf.WriteString(data.PartialJSON)
		}
		return nil

	case event.TypeToolUseBlockStop:
		data, _ := e.Data.(event.ToolUseStopData)
		a.finalizeTool(data.ToolCallID, data.ToolName, data.Input)
		return nil

	case event.TypeToolCall:
		// Idempotent confirmation: a no-op when the block stop already
		// finalized the call.
		data, _ := e.Data.(event.ToolCallData)
		if a.hasToolCall(data.Call.ID) {
			return nil
		}
		a.finalizeTool(data.Call.ID, data.Call.Name, data.Call.Input)
		return nil

	case event.TypeMessageStop:
		data, _ := e.Data.(event.MessageStopData)
		a.usage = data.Usage
		return a.seal(data.StopReason)

	case event.TypeToolResult:
		data, _ := e.Data.(event.ToolResultData)
		var output message.ToolResultOutput
		if data.Denied {
			output = message.DeniedOutput(data.DeniedReason)
		} else {
			output = message.ClassifyOutput(data.Result, data.IsError)
		}
		msg := message.NewToolResult(data.ToolCallID, output)
		return []*event.Event{event.New(event.TypeToolResultMessage, a.agentID, event.MessageData{Message: msg})}

	case event.TypeInterrupted:
		if a.building {
			return a.seal(message.StopReasonInterrupted)
		}
		return nil
	}
	return nil
}

func (a *assembler) openText() {
	a.parts = append(a.parts, message.TextPart(""))
	a.textOpen = true
}

// finalizeTool closes the open tool block as a tool-call part. A nil input
// falls back to the accumulated partial-JSON buffer; a malformed buffer
// yields an empty object and is recorded.
func (a *assembler) finalizeTool(callID, name string, input map[string]any) {
	if input == nil {
		input = map[string]any{}
		if a.tool != nil && a.tool.buf.Len() > 0 {
			if err := json.Unmarshal([]byte(a.tool.buf.String()), &input); err != nil {
				a.logger.Warn("Tool input JSON malformed, using empty object",
					zap.String("tool_call_id", callID),
					zap.Error(err))
				input = map[string]any{}
			}
		}
	}
	a.parts = append(a.parts, message.ToolCallPart(message.ToolCall{ID: callID, Name: name, Input: input}))
	a.tool = nil
}

func (a *assembler) hasToolCall(callID string) bool {
	for _, p := range a.parts {
		if p.Type == message.PartTypeToolCall && p.ToolCall != nil && p.ToolCall.ID == callID {
			return true
		}
	}
	return false
}

// seal emits the accumulated assistant message and resets the builder.
func (a *assembler) seal(reason message.StopReason) []*event.Event {
	if !a.building {
		return nil
	}
	msg := message.NewAssistant(a.messageID, a.parts, reason, a.model)
	msg.Usage = a.usage
	a.reset()
	return []*event.Event{event.New(event.TypeAssistantMessage, a.agentID, event.MessageData{Message: msg})}
}

func (a *assembler) reset() {
	a.building = false
	a.messageID = ""
	a.model = ""
	a.usage = nil
	a.parts = nil
	a.textOpen = false
	a.tool = nil
}
