package ws

import (
	"context"
	"fmt"

	"github.com/agentx/agentx/internal/event"
)

// Handler processes an inbound envelope. A non-nil event is sent back to the
// originating client; for request envelopes it must echo the request id.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) (*event.Event, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env *Envelope) (*event.Event, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) (*event.Event, error) {
	return f(ctx, env)
}

// Dispatcher routes inbound envelopes to handlers keyed by envelope type.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds a handler to an envelope type.
func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.handlers[eventType] = handler
}

// RegisterFunc binds a handler function to an envelope type.
func (d *Dispatcher) RegisterFunc(eventType string, handler HandlerFunc) {
	d.handlers[eventType] = handler
}

// HasHandler reports whether a handler is registered for the type.
func (d *Dispatcher) HasHandler(eventType string) bool {
	_, ok := d.handlers[eventType]
	return ok
}

// Dispatch routes an envelope to its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, env *Envelope) (*event.Event, error) {
	handler, ok := d.handlers[env.Type]
	if !ok {
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
	return handler.Handle(ctx, env)
}
