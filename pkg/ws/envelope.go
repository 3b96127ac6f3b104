// Package ws defines the AgentX wire protocol: the JSON envelope exchanged
// over a channel, the type-keyed dispatcher for inbound envelopes and the
// request/response correlator.
package ws

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentx/agentx/internal/event"
)

// Envelope is the wire form of an event. Outbound envelopes are events
// marshaled directly; inbound envelopes keep Data raw until the handler
// knows its shape.
type Envelope struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Context   *event.Context  `json:"context,omitempty"`
}

// Inbound envelope types that are not themselves requests.
const (
	// TypeInterruptAgent asks the server to interrupt the agent's turn.
	TypeInterruptAgent = "interrupt_agent"
)

// RequestSuffix and ResponseSuffix mark correlated request/response pairs.
const (
	RequestSuffix  = "_request"
	ResponseSuffix = "_response"
)

// Decode parses a wire frame into an envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

// Encode renders an event as a wire frame.
func Encode(ev *event.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// ParseData unmarshals the raw payload into v.
func (e *Envelope) ParseData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// IsRequest reports whether the envelope type expects a correlated response.
func IsRequest(eventType string) bool {
	return strings.HasSuffix(eventType, RequestSuffix)
}

// ResponseType returns the response type paired with a request type.
func ResponseType(requestType string) string {
	return strings.TrimSuffix(requestType, RequestSuffix) + ResponseSuffix
}
