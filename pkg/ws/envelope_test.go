package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/event"
)

func TestDecode(t *testing.T) {
	t.Run("full envelope", func(t *testing.T) {
		env, err := Decode([]byte(`{
			"type": "user_message_request",
			"agentId": "agent-1",
			"requestId": "req-1",
			"data": {"content": "hello"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, "user_message_request", env.Type)
		assert.Equal(t, "agent-1", env.AgentID)
		assert.Equal(t, "req-1", env.RequestID)

		var data struct {
			Content string `json:"content"`
		}
		require.NoError(t, env.ParseData(&data))
		assert.Equal(t, "hello", data.Content)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := Decode([]byte(`{"agentId": "agent-1"}`))
		assert.ErrorContains(t, err, "missing type")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Decode([]byte(`{`))
		assert.ErrorContains(t, err, "malformed envelope")
	})
}

func TestParseDataEmpty(t *testing.T) {
	env := &Envelope{Type: "ping"}
	var data map[string]any
	require.NoError(t, env.ParseData(&data))
	assert.Nil(t, data)
}

func TestEncodeEvent(t *testing.T) {
	ev := event.New(event.TypeTextDelta, "agent-1", event.TextDeltaData{Text: "hi"})
	ev.RequestID = "req-1"

	raw, err := Encode(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, event.TypeTextDelta, decoded["type"])
	assert.Equal(t, "agent-1", decoded["agentId"])
	assert.Equal(t, "req-1", decoded["requestId"])
}

func TestRequestTypes(t *testing.T) {
	assert.True(t, IsRequest("user_message_request"))
	assert.False(t, IsRequest("user_message_response"))
	assert.False(t, IsRequest(TypeInterruptAgent))
	assert.Equal(t, "user_message_response", ResponseType("user_message_request"))
	assert.Equal(t, "list_sessions_response", ResponseType("list_sessions_request"))
}
