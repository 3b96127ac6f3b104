package platform

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/common/logger"
)

// MemoryBus implements Bus in-process. Delivery is asynchronous: each
// envelope is handed to matching handlers on their own goroutines.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	queues map[string]*queueGroup
	logger *logger.Logger
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	pattern *regexp.Regexp // nil for exact-match subjects
	handler Handler
	queue   string // empty for regular subscriptions

	mu     sync.Mutex
	active bool
}

// queueGroup round-robins deliveries across its members.
type queueGroup struct {
	mu      sync.Mutex
	members []*memorySub
	next    int
}

// NewMemoryBus creates an in-memory platform bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		subs:   make(map[string][]*memorySub),
		queues: make(map[string]*queueGroup),
		logger: log,
	}
}

// Publish delivers an envelope to every matching subscriber; queue groups
// receive it once, on their next member in rotation.
func (b *MemoryBus) Publish(ctx context.Context, subject string, env *Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("platform bus is closed")
	}

	seenQueues := make(map[string]bool)
	for pattern, subs := range b.subs {
		for _, sub := range subs {
			if !sub.isActive() || !matchSubject(subject, pattern, sub.pattern) {
				continue
			}
			if sub.queue != "" {
				key := sub.queue + ":" + pattern
				if !seenQueues[key] {
					seenQueues[key] = true
					b.deliverToQueue(ctx, key, subject, env)
				}
				continue
			}
			go b.deliver(ctx, sub, subject, env)
		}
	}

	b.logger.Debug("Published envelope",
		zap.String("subject", subject),
		zap.String("type", env.Type))
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

// QueueSubscribe registers a handler in a queue group; the group receives
// each matching envelope exactly once.
func (b *MemoryBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryBus) subscribe(subject, queue string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("platform bus is closed")
	}

	sub := &memorySub{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		handler: handler,
		queue:   queue,
		active:  true,
	}
	b.subs[subject] = append(b.subs[subject], sub)

	if queue != "" {
		key := queue + ":" + subject
		qg, ok := b.queues[key]
		if !ok {
			qg = &queueGroup{}
			b.queues[key] = qg
		}
		qg.mu.Lock()
		qg.members = append(qg.members, sub)
		qg.mu.Unlock()
	}

	b.logger.Debug("Subscribed",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Request publishes the envelope with a reply inbox attached and waits for
// the responder to publish there. The inbox subject rides in Data["_reply"].
func (b *MemoryBus) Request(ctx context.Context, subject string, env *Envelope, timeout time.Duration) (*Envelope, error) {
	replySubject := "_INBOX." + env.ID

	responses := make(chan *Envelope, 1)
	sub, err := b.Subscribe(replySubject, func(ctx context.Context, reply *Envelope) error {
		select {
		case responses <- reply:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reply subscription: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	if env.Data == nil {
		env.Data = make(map[string]any)
	}
	env.Data["_reply"] = replySubject

	if err := b.Publish(ctx, subject, env); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case reply := <-responses:
		return reply, nil
	case <-timeoutCtx.Done():
		return nil, fmt.Errorf("request to %s timed out after %v", subject, timeout)
	}
}

// Close deactivates every subscription and rejects further publishes.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.deactivate()
		}
	}
	b.subs = make(map[string][]*memorySub)
	b.queues = make(map[string]*queueGroup)

	b.logger.Info("Memory platform bus closed")
}

// IsConnected reports whether the bus still accepts publishes.
func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *MemoryBus) deliver(ctx context.Context, sub *memorySub, subject string, env *Envelope) {
	if err := sub.handler(ctx, env); err != nil {
		b.logger.Error("Envelope handler error",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func (b *MemoryBus) deliverToQueue(ctx context.Context, key, subject string, env *Envelope) {
	qg, ok := b.queues[key]
	if !ok {
		return
	}

	qg.mu.Lock()
	defer qg.mu.Unlock()
	if len(qg.members) == 0 {
		return
	}

	// Rotate to the next active member.
	start := qg.next
	for i := 0; i < len(qg.members); i++ {
		idx := (start + i) % len(qg.members)
		member := qg.members[idx]
		if member.isActive() {
			qg.next = (idx + 1) % len(qg.members)
			go b.deliver(ctx, member, subject, env)
			return
		}
	}
}

func (s *memorySub) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *memorySub) deactivate() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Unsubscribe removes the subscription from the bus and its queue group.
func (s *memorySub) Unsubscribe() error {
	s.deactivate()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if s.queue != "" {
		if qg, ok := s.bus.queues[s.queue+":"+s.subject]; ok {
			qg.mu.Lock()
			for i, member := range qg.members {
				if member == s {
					qg.members = append(qg.members[:i], qg.members[i+1:]...)
					break
				}
			}
			qg.mu.Unlock()
		}
	}
	return nil
}

// IsValid reports whether the subscription is still active.
func (s *memorySub) IsValid() bool {
	return s.isActive()
}

// matchSubject checks a concrete subject against a subscription pattern.
func matchSubject(subject, pattern string, regex *regexp.Regexp) bool {
	if regex == nil {
		return subject == pattern
	}
	return regex.MatchString(subject)
}

// compilePattern converts a NATS-style pattern to a regexp. Exact subjects
// return nil and compare directly.
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	regex, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return regex
}
