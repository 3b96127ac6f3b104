// Package driver defines the boundary contract to an LLM provider. A Driver
// consumes one user message plus the conversation history and produces a lazy
// sequence of stream events until the provider terminates the step. Concrete
// bindings live in subpackages.
package driver

import (
	"context"

	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

// Request is one turn's input to a driver.
type Request struct {
	AgentID      string
	UserMessage  message.Message
	History      []message.Message
	SystemPrompt string
	Model        string
	Parameters   map[string]any
}

// StatePersister persists the driver's opaque resume cursor. Drivers call it
// whenever the cursor changes; a failed persist is the caller's to log, the
// stream keeps flowing.
type StatePersister func(state map[string]any) error

// Driver speaks to an external LLM provider.
//
// Receive returns a channel of stream events for one turn. The channel is
// closed when the provider terminates the step, after an interrupt yielded
// the interrupted event, or when the context is cancelled. A mid-stream
// provider failure is conveyed as a terminal event of type error carrying
// the classified AgentError. A driver serves one Receive at a time and the
// caller must drain the channel.
//
// Interrupt cooperatively aborts the in-flight sequence. It returns
// immediately; the driver eventually yields an interrupted event and closes
// the channel.
//
// State and SetState expose the opaque resume cursor the driver owns. The
// dictionary's shape is private to the driver; callers only round-trip it
// through image persistence.
type Driver interface {
	Receive(ctx context.Context, req Request) (<-chan *event.Event, error)
	Interrupt()
	State() map[string]any
	SetState(state map[string]any)
}

// Config seeds a driver when a container instantiates an agent from an image.
type Config struct {
	AgentID      string
	SystemPrompt string
	Model        string
	Parameters   map[string]any

	// InitialState is the image's persisted resume cursor, nil on first run.
	InitialState map[string]any

	// Persist receives cursor updates for write-back into the image.
	Persist StatePersister

	// Tools executes the model's tool calls. Nil disables tool use.
	Tools ToolExecutor
}

// Factory constructs drivers. The container holds one factory and calls it
// per agent instantiation.
type Factory interface {
	New(cfg Config) (Driver, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(cfg Config) (Driver, error)

// New calls f.
func (f FactoryFunc) New(cfg Config) (Driver, error) { return f(cfg) }

// ToolDefinition describes one tool advertised to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolOutcome is the result of executing one tool call.
type ToolOutcome struct {
	Result  any
	IsError bool

	// Denied marks the distinguished execution-denied sentinel; Result and
	// IsError are ignored when set.
	Denied       bool
	DeniedReason string
}

// ToolExecutor runs tool calls requested by the model against the sandbox.
type ToolExecutor interface {
	Tools() []ToolDefinition
	Execute(ctx context.Context, call message.ToolCall) ToolOutcome
}
