// Package event defines the AgentX event envelope and the four-tier event
// alphabet: Stream events sourced from the driver, State events projected
// from them, Message events assembled from them, and Turn events grouping a
// full exchange.
package event

import (
	"time"

	"github.com/agentx/agentx/internal/id"
)

// Context optionally ties an event to its image and session.
type Context struct {
	ImageID   string `json:"imageId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Event is the envelope shared by every tier. Timestamp is unix milliseconds.
type Event struct {
	Type      string   `json:"type"`
	UUID      string   `json:"uuid"`
	AgentID   string   `json:"agentId,omitempty"`
	Timestamp int64    `json:"timestamp"`
	Data      any      `json:"data,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	Context   *Context `json:"context,omitempty"`
}

// New creates an event with a fresh uuid and the current timestamp.
func New(eventType, agentID string, data any) *Event {
	return &Event{
		Type:      eventType,
		UUID:      id.NewEvent(),
		AgentID:   agentID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// WithContext returns the event with its context set.
func (e *Event) WithContext(ctx *Context) *Event {
	e.Context = ctx
	return e
}

// Time returns the event timestamp as time.Time.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
