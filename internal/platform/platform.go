// Package platform provides the process-wide event bus. Per-agent buses are
// in-process and typed; the platform bus carries serialized envelopes on
// NATS-style subjects so process-level consumers (the error manager,
// external workers when NATS is configured) can observe agent activity
// without holding agent references.
package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/id"
)

// Envelope is the unit carried on the platform bus. Data is a plain map so
// envelopes survive a JSON round-trip over NATS unchanged.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	AgentID   string         `json:"agentId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEnvelope creates an envelope with a fresh id and current timestamp.
func NewEnvelope(eventType, agentID string, data map[string]any) *Envelope {
	return &Envelope{
		ID:        id.NewEvent(),
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes a delivered envelope.
type Handler func(ctx context.Context, env *Envelope) error

// Subscription is an active platform bus subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the platform event bus contract.
type Bus interface {
	// Publish sends an envelope to a subject.
	Publish(ctx context.Context, subject string, env *Envelope) error

	// Subscribe creates a subscription to a subject pattern. Patterns use
	// NATS wildcards: * matches one token, > matches the rest.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// QueueSubscribe creates a load-balanced subscription; each envelope is
	// delivered to one member of the queue group.
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)

	// Request publishes an envelope and waits for a reply.
	Request(ctx context.Context, subject string, env *Envelope, timeout time.Duration) (*Envelope, error)

	// Close shuts the bus down.
	Close()

	// IsConnected reports whether the bus can deliver.
	IsConnected() bool
}

// Canonical subjects.
const (
	// SubjectErrors carries every error the error manager observes.
	SubjectErrors = "agentx.errors"

	// SubjectAgentsAll matches the activity of every agent.
	SubjectAgentsAll = "agentx.agents.>"
)

// AgentSubject returns the subject for one event type of one agent.
func AgentSubject(agentID, eventType string) string {
	return fmt.Sprintf("agentx.agents.%s.%s", agentID, eventType)
}

// AgentSubjectAll returns the pattern matching all of one agent's events.
func AgentSubjectAll(agentID string) string {
	return fmt.Sprintf("agentx.agents.%s.>", agentID)
}

// NewBus selects the bus implementation from configuration: a NATS URL
// selects the NATS bus, an empty URL the in-memory bus.
func NewBus(cfg config.NATSConfig, log *logger.Logger) (Bus, error) {
	if cfg.URL == "" {
		return NewMemoryBus(log), nil
	}
	return NewNATSBus(cfg, log)
}
