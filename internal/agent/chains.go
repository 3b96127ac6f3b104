package agent

import (
	"sync"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

// Middleware pre-processes an incoming user message. A link either calls
// next (possibly with a transformed message) or short-circuits; if no link
// calls next the message is silently dropped.
type Middleware func(msg message.Message, next func(message.Message))

// Interceptor pre-processes an outgoing event between engine output and bus
// emission. Short-circuiting drops the event from subscribers, but engine
// state has already mutated.
type Interceptor func(ev *event.Event, next func(*event.Event))

// MiddlewareChain is the ordered, dynamically-mutable middleware list.
type MiddlewareChain struct {
	mu     sync.Mutex
	links  []*mwLink
	nextID uint64
	logger *logger.Logger
}

type mwLink struct {
	id uint64
	fn Middleware
}

// NewMiddlewareChain creates an empty chain.
func NewMiddlewareChain(log *logger.Logger) *MiddlewareChain {
	return &MiddlewareChain{logger: log}
}

// Use appends a link. The returned closure removes it.
func (c *MiddlewareChain) Use(mw Middleware) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	link := &mwLink{id: c.nextID, fn: mw}
	c.links = append(c.links, link)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.links {
			if l == link {
				c.links = append(c.links[:i], c.links[i+1:]...)
				return
			}
		}
	}
}

// Run executes the chain in registration order. It returns the final message
// and whether the chain completed; false means a link short-circuited. A
// panicking link fails open: the panic is logged and the message continues
// unchanged.
func (c *MiddlewareChain) Run(msg message.Message) (message.Message, bool) {
	c.mu.Lock()
	links := make([]*mwLink, len(c.links))
	copy(links, c.links)
	c.mu.Unlock()

	var out message.Message
	completed := false

	var run func(i int, m message.Message)
	run = func(i int, m message.Message) {
		if i == len(links) {
			out = m
			completed = true
			return
		}
		called := false
		next := func(nm message.Message) {
			called = true
			run(i+1, nm)
		}
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Middleware panicked", zap.Any("panic", r))
				if !called {
					run(i+1, m)
				}
			}
		}()
		links[i].fn(m, next)
	}
	run(0, msg)
	return out, completed
}

// InterceptorChain is the ordered, dynamically-mutable interceptor list.
type InterceptorChain struct {
	mu     sync.Mutex
	links  []*icLink
	nextID uint64
	logger *logger.Logger
}

type icLink struct {
	id uint64
	fn Interceptor
}

// NewInterceptorChain creates an empty chain.
func NewInterceptorChain(log *logger.Logger) *InterceptorChain {
	return &InterceptorChain{logger: log}
}

// Use appends a link. The returned closure removes it.
func (c *InterceptorChain) Use(ic Interceptor) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	link := &icLink{id: c.nextID, fn: ic}
	c.links = append(c.links, link)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.links {
			if l == link {
				c.links = append(c.links[:i], c.links[i+1:]...)
				return
			}
		}
	}
}

// Run executes the chain. It returns the final event and whether the chain
// completed; false means the event was dropped. Panicking links fail open.
func (c *InterceptorChain) Run(ev *event.Event) (*event.Event, bool) {
	c.mu.Lock()
	links := make([]*icLink, len(c.links))
	copy(links, c.links)
	c.mu.Unlock()

	var out *event.Event
	completed := false

	var run func(i int, e *event.Event)
	run = func(i int, e *event.Event) {
		if i == len(links) {
			out = e
			completed = true
			return
		}
		called := false
		next := func(ne *event.Event) {
			called = true
			run(i+1, ne)
		}
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Interceptor panicked",
					zap.String("type", e.Type),
					zap.Any("panic", r))
				if !called {
					run(i+1, e)
				}
			}
		}()
		links[i].fn(e, next)
	}
	run(0, ev)
	return out, completed
}
