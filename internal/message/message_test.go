package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("valid user message", func(t *testing.T) {
		assert.NoError(t, NewUser("hello").Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		msg := Message{Kind: KindUser, Content: []Part{TextPart("x")}}
		assert.Error(t, msg.Validate())
	})

	t.Run("user message without content", func(t *testing.T) {
		msg := Message{ID: "m1", Kind: KindUser}
		assert.Error(t, msg.Validate())
	})

	t.Run("tool-call message requires exactly one toolCall part", func(t *testing.T) {
		msg := NewToolCall(ToolCall{ID: "c1", Name: "sh"})
		assert.NoError(t, msg.Validate())

		msg.Content = append(msg.Content, TextPart("extra"))
		assert.Error(t, msg.Validate())
	})

	t.Run("tool-result message requires call id and output", func(t *testing.T) {
		msg := NewToolResult("c1", ClassifyOutput("ok", false))
		assert.NoError(t, msg.Validate())

		msg.ToolCallID = ""
		assert.Error(t, msg.Validate())

		msg = NewToolResult("c1", ClassifyOutput("ok", false))
		msg.ToolResult = nil
		assert.Error(t, msg.Validate())
	})

	t.Run("unknown kind", func(t *testing.T) {
		msg := Message{ID: "m1", Kind: Kind("bogus"), Content: []Part{TextPart("x")}}
		assert.Error(t, msg.Validate())
	})
}

func TestValidateSequence(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "sh", Input: map[string]any{}}

	t.Run("alternating conversation with tool round-trip", func(t *testing.T) {
		history := []Message{
			NewUser("question"),
			NewAssistant("a1", []Part{ToolCallPart(call)}, StopReasonToolCalls, ""),
			NewToolResult("c1", ClassifyOutput("ok", false)),
			NewAssistant("a2", []Part{TextPart("answer")}, StopReasonStop, ""),
		}
		assert.NoError(t, ValidateSequence(history))
	})

	t.Run("two consecutive assistant messages", func(t *testing.T) {
		history := []Message{
			NewUser("q"),
			NewAssistant("a1", []Part{TextPart("x")}, StopReasonStop, ""),
			NewAssistant("a2", []Part{TextPart("y")}, StopReasonStop, ""),
		}
		assert.Error(t, ValidateSequence(history))
	})

	t.Run("tool result without matching call", func(t *testing.T) {
		history := []Message{
			NewUser("q"),
			NewToolResult("missing", ClassifyOutput("ok", false)),
		}
		assert.Error(t, ValidateSequence(history))
	})

	t.Run("system messages are transparent", func(t *testing.T) {
		history := []Message{
			NewUser("q"),
			NewSystem("context note"),
			NewAssistant("a1", []Part{TextPart("x")}, StopReasonStop, ""),
		}
		assert.NoError(t, ValidateSequence(history))
	})

	t.Run("tool results are user-equivalent", func(t *testing.T) {
		assert.True(t, NewToolResult("c1", ClassifyOutput("ok", false)).UserEquivalent())
		assert.True(t, NewUser("q").UserEquivalent())
		assert.False(t, NewAssistant("a1", []Part{TextPart("x")}, StopReasonStop, "").UserEquivalent())
	})
}

func TestCloneIsolation(t *testing.T) {
	call := ToolCall{ID: "c1", Name: "sh", Input: map[string]any{"cmd": "ls"}}
	original := NewAssistant("a1", []Part{TextPart("x"), ToolCallPart(call)}, StopReasonStop, "m")
	original.Usage = &Usage{InputTokens: 1, OutputTokens: 2}

	cloned := original.Clone()
	cloned.Content[0].Text = "mutated"
	cloned.Content[1].ToolCall.Input["cmd"] = "rm"
	cloned.Usage.InputTokens = 99

	assert.Equal(t, "x", original.Content[0].Text)
	assert.Equal(t, "ls", original.Content[1].ToolCall.Input["cmd"])
	assert.Equal(t, 1, original.Usage.InputTokens)
}

func TestCloneAll(t *testing.T) {
	assert.Nil(t, CloneAll(nil))

	msgs := []Message{NewUser("a"), NewUser("b")}
	cloned := CloneAll(msgs)
	require.Len(t, cloned, 2)
	cloned[0].Content[0].Text = "mutated"
	assert.Equal(t, "a", msgs[0].Text())
}

func TestTextAndToolCalls(t *testing.T) {
	msg := NewAssistant("a1", []Part{
		TextPart("hello "),
		ToolCallPart(ToolCall{ID: "c1", Name: "sh"}),
		TextPart("world"),
	}, StopReasonStop, "")

	assert.Equal(t, "hello world", msg.Text())
	calls := msg.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
	// ToolCallPart normalizes a nil input to an empty object.
	assert.NotNil(t, calls[0].Input)
}

func TestClassifyOutput(t *testing.T) {
	assert.Equal(t, OutputText, ClassifyOutput("plain", false).Type)
	assert.Equal(t, OutputErrorText, ClassifyOutput("broken", true).Type)
	assert.Equal(t, OutputJSON, ClassifyOutput(map[string]any{"k": 1}, false).Type)
	assert.Equal(t, OutputErrorJSON, ClassifyOutput(map[string]any{"k": 1}, true).Type)

	denied := DeniedOutput("operator said no")
	assert.Equal(t, OutputExecutionDenied, denied.Type)
	assert.Equal(t, "operator said no", denied.Reason)
	assert.True(t, denied.IsError())
	assert.False(t, ClassifyOutput("x", false).IsError())
}
