package platform

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
)

// Mirror republishes every event emitted on an agent's bus onto the platform
// bus under the agent's subject. The returned closure detaches the mirror;
// destroying the agent detaches it implicitly.
func Mirror(b Bus, ag *agent.Agent, log *logger.Logger) func() {
	return ag.Bus().OnAny(func(ev *event.Event) {
		env := envelopeFor(ev, log)
		if err := b.Publish(context.Background(), AgentSubject(ev.AgentID, ev.Type), env); err != nil {
			log.Warn("Failed to mirror event onto platform bus",
				zap.String("type", ev.Type),
				zap.Error(err))
		}
	})
}

// envelopeFor flattens a typed agent event into a platform envelope. The
// payload is pushed through JSON so NATS and in-memory consumers observe the
// same shape.
func envelopeFor(ev *event.Event, log *logger.Logger) *Envelope {
	env := &Envelope{
		ID:        ev.UUID,
		Type:      ev.Type,
		AgentID:   ev.AgentID,
		Timestamp: time.UnixMilli(ev.Timestamp).UTC(),
	}
	if ev.Data == nil {
		return env
	}
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		log.Warn("Event payload not serializable, mirroring without data",
			zap.String("type", ev.Type),
			zap.Error(err))
		return env
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		// Scalar payloads ride under a single key.
		data = map[string]any{"value": ev.Data}
	}
	env.Data = data
	return env
}
