package engine

import (
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

// turnTracker groups one user message with the complete assistant reply,
// including intermediate tool calls and results, until a terminal state
// event closes the turn.
type turnTracker struct {
	agentID string

	open        bool
	userMessage message.Message
	messages    []message.Message
	usage       *message.Usage
}

func newTurnTracker(agentID string) *turnTracker {
	return &turnTracker{agentID: agentID}
}

// process advances the tracker by one event and returns the turn events it
// derives. It consumes message events and the terminal state events.
func (t *turnTracker) process(e *event.Event) []*event.Event {
	switch e.Type {
	case event.TypeUserMessage:
		data, _ := e.Data.(event.MessageData)
		t.open = true
		t.userMessage = data.Message
		t.messages = nil
		t.usage = nil
		return []*event.Event{event.New(event.TypeTurnRequest, t.agentID, event.TurnRequestData{
			UserMessage: data.Message,
		})}

	case event.TypeAssistantMessage, event.TypeToolCallMessage, event.TypeToolResultMessage:
		if !t.open {
			return nil
		}
		data, _ := e.Data.(event.MessageData)
		t.messages = append(t.messages, data.Message)
		if data.Message.Usage != nil {
			t.usage = addUsage(t.usage, data.Message.Usage)
		}
		return nil

	case event.TypeConversationEnd:
		return t.close(false)

	case event.TypeConversationInterrupted:
		return t.close(true)
	}
	return nil
}

func (t *turnTracker) close(interrupted bool) []*event.Event {
	if !t.open {
		return nil
	}
	data := event.TurnResponseData{
		UserMessage: t.userMessage,
		Messages:    t.messages,
		Usage:       t.usage,
		Interrupted: interrupted,
	}
	t.open = false
	t.messages = nil
	t.usage = nil
	return []*event.Event{event.New(event.TypeTurnResponse, t.agentID, data)}
}

func addUsage(total, add *message.Usage) *message.Usage {
	if total == nil {
		u := *add
		return &u
	}
	total.InputTokens += add.InputTokens
	total.OutputTokens += add.OutputTokens
	return total
}
