// Package bus implements the per-agent event bus: typed publish/subscribe
// with filters, priorities and one-shot subscriptions. Dispatch is
// synchronous and ordered; handlers must not block on I/O.
package bus

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
)

// Handler receives a dispatched event.
type Handler func(*event.Event)

// Filter is evaluated before handler invocation; returning false skips the
// handler for that event.
type Filter func(*event.Event) bool

// Option configures a subscription.
type Option func(*subscription)

// WithFilter attaches a filter predicate to the subscription.
func WithFilter(f Filter) Option {
	return func(s *subscription) { s.filter = f }
}

// WithPriority sets the subscription priority. Higher priorities are
// dispatched first; ties follow registration order.
func WithPriority(p int) Option {
	return func(s *subscription) { s.priority = p }
}

// WithOnce marks the subscription for removal after its first invocation.
func WithOnce() Option {
	return func(s *subscription) { s.once = true }
}

type subscription struct {
	id       uint64
	types    map[string]bool // nil means any type
	handler  Handler
	filter   Filter
	priority int
	once     bool
	removed  bool
}

// Bus is one agent's event bus. It is safe for concurrent use, though the
// agent's single-turn rule means emission is effectively single-threaded.
type Bus struct {
	mu        sync.Mutex
	subs      []*subscription
	nextID    uint64
	destroyed bool
	logger    *logger.Logger
}

// New creates a bus for one agent.
func New(log *logger.Logger) *Bus {
	return &Bus{logger: log}
}

// On subscribes a handler to one event type. The returned closure removes
// the subscription.
func (b *Bus) On(eventType string, h Handler, opts ...Option) func() {
	return b.OnTypes([]string{eventType}, h, opts...)
}

// OnTypes subscribes a handler to a list of event types.
func (b *Bus) OnTypes(types []string, h Handler, opts ...Option) func() {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return b.subscribe(set, h, opts)
}

// OnMap subscribes one handler per event type from a handler map. The
// returned closure removes all of them.
func (b *Bus) OnMap(handlers map[string]Handler, opts ...Option) func() {
	unsubs := make([]func(), 0, len(handlers))
	for t, h := range handlers {
		unsubs = append(unsubs, b.On(t, h, opts...))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// OnAny subscribes a handler to every event type.
func (b *Bus) OnAny(h Handler, opts ...Option) func() {
	return b.subscribe(nil, h, opts)
}

// Once subscribes a handler that is invoked at most once.
func (b *Bus) Once(eventType string, h Handler, opts ...Option) func() {
	return b.On(eventType, h, append(opts, WithOnce())...)
}

func (b *Bus) subscribe(types map[string]bool, h Handler, opts []Option) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		b.logger.Warn("Subscribe on destroyed bus ignored")
		return func() {}
	}

	b.nextID++
	sub := &subscription{id: b.nextID, types: types, handler: h}
	for _, opt := range opts {
		opt(sub)
	}
	b.subs = append(b.subs, sub)

	return func() { b.remove(sub) }
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.removed = true
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches one event synchronously, in priority order, to every
// matching subscriber. A handler panic is logged and swallowed; remaining
// subscribers still observe the event.
func (b *Bus) Emit(e *event.Event) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		b.logger.Warn("Emit on destroyed bus dropped", zap.String("type", e.Type))
		return
	}

	// Snapshot: the subscription list mutates during dispatch when
	// once-handlers self-remove.
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.types == nil || s.types[e.Type] {
			matched = append(matched, s)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].priority != matched[j].priority {
			return matched[i].priority > matched[j].priority
		}
		return matched[i].id < matched[j].id
	})
	b.mu.Unlock()

	for _, s := range matched {
		b.deliver(s, e)
	}
}

// EmitBatch dispatches events in order.
func (b *Bus) EmitBatch(events []*event.Event) {
	for _, e := range events {
		b.Emit(e)
	}
}

func (b *Bus) deliver(s *subscription, e *event.Event) {
	b.mu.Lock()
	if s.removed || b.destroyed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if s.filter != nil && !safeFilter(b.logger, s.filter, e) {
		return
	}

	// A once subscription fires exactly once, even when its handler panics.
	if s.once {
		b.remove(s)
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked",
				zap.String("type", e.Type),
				zap.Any("panic", r))
		}
	}()
	s.handler(e)
}

func safeFilter(log *logger.Logger, f Filter, e *event.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Event filter panicked",
				zap.String("type", e.Type),
				zap.Any("panic", r))
			ok = false
		}
	}()
	return f(e)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Destroy drops all subscribers and turns Emit into a warning no-op.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed = true
	for _, s := range b.subs {
		s.removed = true
	}
	b.subs = nil
}

// Destroyed reports whether Destroy has been called.
func (b *Bus) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}
