package platform

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
)

// ErrorHandler reacts to an agent error observed by the manager.
type ErrorHandler func(agentID string, aerr *xerrors.AgentError)

// ErrorManager is the process-wide error sink. It observes every agent's
// error events, logs each one, republishes it on the platform bus and fans
// it out to registered handlers. Logging never depends on handlers.
type ErrorManager struct {
	bus    Bus
	logger *logger.Logger

	mu       sync.Mutex
	handlers []*errHandlerEntry
	nextID   uint64
}

type errHandlerEntry struct {
	id uint64
	fn ErrorHandler
}

// NewErrorManager creates an error manager. The bus is optional; without it
// errors are logged and fanned out locally only.
func NewErrorManager(b Bus, log *logger.Logger) *ErrorManager {
	return &ErrorManager{bus: b, logger: log}
}

// Register adds a handler. The returned closure removes it.
func (m *ErrorManager) Register(h ErrorHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	entry := &errHandlerEntry{id: m.nextID, fn: h}
	m.handlers = append(m.handlers, entry)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, e := range m.handlers {
			if e == entry {
				m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// Observe attaches the manager to an agent's error stream for the agent's
// lifetime.
func (m *ErrorManager) Observe(ag *agent.Agent) {
	ag.Bus().On(event.TypeError, func(ev *event.Event) {
		data, ok := ev.Data.(event.ErrorData)
		if !ok || data.Error == nil {
			m.logger.Warn("Error event without payload",
				zap.String("agent_id", ev.AgentID))
			return
		}
		m.Report(ev.AgentID, data.Error)
	})
}

// Report processes one error: log, publish, fan out. A panicking handler is
// logged and does not suppress the handlers after it.
func (m *ErrorManager) Report(agentID string, aerr *xerrors.AgentError) {
	m.logger.Error("Agent error",
		zap.String("agent_id", agentID),
		zap.String("category", string(aerr.Category)),
		zap.String("code", string(aerr.Code)),
		zap.String("severity", string(aerr.Severity)),
		zap.Bool("recoverable", aerr.Recoverable),
		zap.Error(aerr))

	if m.bus != nil {
		env := NewEnvelope(event.TypeError, agentID, map[string]any{
			"category":    string(aerr.Category),
			"code":        string(aerr.Code),
			"message":     aerr.Message,
			"severity":    string(aerr.Severity),
			"recoverable": aerr.Recoverable,
		})
		if err := m.bus.Publish(context.Background(), SubjectErrors, env); err != nil {
			m.logger.Warn("Failed to publish error envelope", zap.Error(err))
		}
	}

	m.mu.Lock()
	entries := make([]*errHandlerEntry, len(m.handlers))
	copy(entries, m.handlers)
	m.mu.Unlock()

	for _, entry := range entries {
		m.invoke(entry, agentID, aerr)
	}
}

func (m *ErrorManager) invoke(entry *errHandlerEntry, agentID string, aerr *xerrors.AgentError) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Error handler panicked",
				zap.String("agent_id", agentID),
				zap.Any("panic", r))
		}
	}()
	entry.fn(agentID, aerr)
}
