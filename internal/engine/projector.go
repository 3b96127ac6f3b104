package engine

import (
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

// AgentState is the conversation-level state of an agent.
type AgentState string

const (
	StateInitializing       AgentState = "initializing"
	StateIdle               AgentState = "idle"
	StateQueued             AgentState = "queued"
	StateThinking           AgentState = "thinking"
	StateResponding         AgentState = "responding"
	StatePlanningTool       AgentState = "planning_tool"
	StateAwaitingToolResult AgentState = "awaiting_tool_result"
)

// TargetState returns the agent state a state event transitions into.
// Unknown types return empty.
func TargetState(stateEventType string) AgentState {
	switch stateEventType {
	case event.TypeConversationQueued:
		return StateQueued
	case event.TypeConversationStart, event.TypeConversationThinking:
		return StateThinking
	case event.TypeConversationResponding:
		return StateResponding
	case event.TypeToolPlanned:
		return StatePlanningTool
	case event.TypeToolExecuting:
		return StateAwaitingToolResult
	case event.TypeToolCompleted, event.TypeToolFailed:
		return StateResponding
	case event.TypeConversationEnd, event.TypeConversationInterrupted, event.TypeErrorOccurred:
		return StateIdle
	default:
		return ""
	}
}

// projector derives state events from the stream. One instance per agent;
// the only state it keeps is whether the current turn has started and the
// last projected agent state, used to suppress repeated transitions while
// text deltas stream.
type projector struct {
	agentID string
	started bool
	current AgentState
}

func newProjector(agentID string) *projector {
	return &projector{agentID: agentID, current: StateIdle}
}

// process advances the projector by one event and returns the state events
// it derives.
func (p *projector) process(e *event.Event) []*event.Event {
	switch e.Type {
	case event.TypeUserMessage:
		return p.emit(event.TypeConversationQueued, event.StateData{State: string(StateQueued)})

	case event.TypeMessageStart:
		if p.started {
			return nil
		}
		p.started = true
		return p.emit(event.TypeConversationStart, event.StateData{State: string(StateThinking)})

	case event.TypeTextDelta:
		if p.current == StateResponding {
			return nil
		}
		return p.emit(event.TypeConversationResponding, event.StateData{State: string(StateResponding)})

	case event.TypeToolUseBlockStart:
		data, _ := e.Data.(event.ToolUseStartData)
		return p.emit(event.TypeToolPlanned, event.StateData{
			State:      string(StatePlanningTool),
			ToolCallID: data.ToolCallID,
		})

	case event.TypeToolUseBlockStop:
		data, _ := e.Data.(event.ToolUseStopData)
		return p.emit(event.TypeToolExecuting, event.StateData{
			State:      string(StateAwaitingToolResult),
			ToolCallID: data.ToolCallID,
		})

	case event.TypeToolResult:
		data, _ := e.Data.(event.ToolResultData)
		if data.IsError {
			return p.emit(event.TypeToolFailed, event.StateData{
				State:      string(StateResponding),
				ToolCallID: data.ToolCallID,
			})
		}
		out := p.emit(event.TypeToolCompleted, event.StateData{
			State:      string(StateResponding),
			ToolCallID: data.ToolCallID,
		})
		// After a successful tool result the model has the output but has
		// not started streaming its follow-up, so the turn rests in thinking
		// until the next text delta flips it back to responding.
		out = append(out, p.emit(event.TypeConversationThinking, event.StateData{State: string(StateThinking)})...)
		return out

	case event.TypeMessageStop:
		data, _ := e.Data.(event.MessageStopData)
		switch data.StopReason {
		case message.StopReasonStop, message.StopReasonLength, message.StopReasonMaxTokens:
			p.started = false
			return p.emit(event.TypeConversationEnd, event.StateData{State: string(StateIdle)})
		}
		// tool-calls and error stops keep the turn open.
		return nil

	case event.TypeInterrupted:
		data, _ := e.Data.(event.InterruptedData)
		p.started = false
		return p.emit(event.TypeConversationInterrupted, event.StateData{
			State:  string(StateIdle),
			Reason: data.Reason,
		})
	}
	return nil
}

func (p *projector) emit(eventType string, data event.StateData) []*event.Event {
	p.current = AgentState(data.State)
	return []*event.Event{event.New(eventType, p.agentID, data)}
}
