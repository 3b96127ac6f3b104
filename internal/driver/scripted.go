package driver

import (
	"context"
	"sync"
	"time"

	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

// ScriptEvent declares one stream event a scripted driver emits.
type ScriptEvent struct {
	Type string
	Data any
}

// Scripted is a deterministic driver that replays a declared event script,
// one turn per Receive call. It records every request it serves so tests can
// assert on the composed history, and it honors Interrupt mid-script.
type Scripted struct {
	mu       sync.Mutex
	turns    [][]ScriptEvent
	next     int
	state    map[string]any
	persist  StatePersister
	requests []Request
	stop     chan struct{}

	// Delay, when set, paces emission so interrupt tests can land between
	// events.
	Delay time.Duration
}

// NewScripted creates a scripted driver replaying the given turns in order.
// Receives past the end of the script replay a minimal single-text turn.
func NewScripted(turns ...[]ScriptEvent) *Scripted {
	return &Scripted{turns: turns}
}

// SetPersist installs the resume-cursor persist callback.
func (s *Scripted) SetPersist(p StatePersister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = p
}

// Receive replays the next scripted turn.
func (s *Scripted) Receive(ctx context.Context, req Request) (<-chan *event.Event, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var script []ScriptEvent
	if s.next < len(s.turns) {
		script = s.turns[s.next]
	} else {
		script = TextTurn("msg_scripted", "ok")
	}
	s.next++
	turn := s.next
	stop := make(chan struct{})
	s.stop = stop
	delay := s.Delay
	persist := s.persist
	s.mu.Unlock()

	out := make(chan *event.Event)
	go func() {
		defer close(out)
		for _, se := range script {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
				case <-stop:
				}
			}
			select {
			case <-ctx.Done():
				out <- event.New(event.TypeInterrupted, req.AgentID, event.InterruptedData{Reason: ctx.Err().Error()})
				return
			case <-stop:
				out <- event.New(event.TypeInterrupted, req.AgentID, event.InterruptedData{Reason: "user interrupt"})
				return
			default:
			}
			out <- event.New(se.Type, req.AgentID, se.Data)
		}

		s.mu.Lock()
		s.state = map[string]any{"turns": turn}
		state := s.state
		s.mu.Unlock()
		if persist != nil {
			_ = persist(state)
		}
	}()
	return out, nil
}

// Interrupt aborts the in-flight script.
func (s *Scripted) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		select {
		case <-s.stop:
		default:
			close(s.stop)
		}
	}
}

// State returns the resume cursor.
func (s *Scripted) State() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState restores the resume cursor.
func (s *Scripted) SetState(state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// Requests returns every request served so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// LastRequest returns the most recent request, or false when none was served.
func (s *Scripted) LastRequest() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}, false
	}
	return s.requests[len(s.requests)-1], true
}

// TextTurn scripts a plain assistant reply.
func TextTurn(messageID, text string) []ScriptEvent {
	return []ScriptEvent{
		{Type: event.TypeMessageStart, Data: event.MessageStartData{MessageID: messageID}},
		{Type: event.TypeTextBlockStart},
		{Type: event.TypeTextDelta, Data: event.TextDeltaData{Text: text}},
		{Type: event.TypeTextBlockStop},
		{Type: event.TypeMessageStop, Data: event.MessageStopData{StopReason: message.StopReasonStop}},
	}
}

// ToolTurn scripts an assistant step that calls one tool and, after the
// result, replies with text in a second provider message. The message_stop of
// the tool-calling message precedes the tool result.
func ToolTurn(callID, toolName string, input map[string]any, result any, finalText string) []ScriptEvent {
	if input == nil {
		input = map[string]any{}
	}
	return []ScriptEvent{
		{Type: event.TypeMessageStart, Data: event.MessageStartData{MessageID: "msg_" + callID}},
		{Type: event.TypeToolUseBlockStart, Data: event.ToolUseStartData{ToolCallID: callID, ToolName: toolName}},
		{Type: event.TypeToolUseBlockStop, Data: event.ToolUseStopData{ToolCallID: callID, ToolName: toolName, Input: input}},
		{Type: event.TypeMessageStop, Data: event.MessageStopData{StopReason: message.StopReasonToolCalls}},
		{Type: event.TypeToolResult, Data: event.ToolResultData{ToolCallID: callID, Result: result}},
		{Type: event.TypeMessageStart, Data: event.MessageStartData{MessageID: "msg_" + callID + "_final"}},
		{Type: event.TypeTextDelta, Data: event.TextDeltaData{Text: finalText}},
		{Type: event.TypeMessageStop, Data: event.MessageStopData{StopReason: message.StopReasonStop}},
	}
}
