package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/agent"
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/driver"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/image"
)

func setupErrorManager(t *testing.T) (*ErrorManager, *MemoryBus) {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	bus := NewMemoryBus(log)
	t.Cleanup(bus.Close)
	return NewErrorManager(bus, log), bus
}

func TestReportFansOutToHandlers(t *testing.T) {
	m, _ := setupErrorManager(t)

	var mu sync.Mutex
	var seen []string
	m.Register(func(agentID string, aerr *xerrors.AgentError) {
		mu.Lock()
		seen = append(seen, "first:"+string(aerr.Code))
		mu.Unlock()
	})
	m.Register(func(agentID string, aerr *xerrors.AgentError) {
		mu.Lock()
		seen = append(seen, "second:"+string(aerr.Code))
		mu.Unlock()
	})

	m.Report("agent-1", xerrors.New(xerrors.CategoryNetwork, xerrors.CodeTimeout, "timed out"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first:" + string(xerrors.CodeTimeout), "second:" + string(xerrors.CodeTimeout)}, seen)
}

func TestPanickingHandlerDoesNotSuppressOthers(t *testing.T) {
	m, _ := setupErrorManager(t)

	var called bool
	m.Register(func(string, *xerrors.AgentError) { panic("boom") })
	m.Register(func(string, *xerrors.AgentError) { called = true })

	m.Report("agent-1", xerrors.New(xerrors.CategoryDriver, xerrors.CodeReceiveFailed, "receive failed"))
	assert.True(t, called)
}

func TestRegisterRemoveClosure(t *testing.T) {
	m, _ := setupErrorManager(t)

	var calls int
	remove := m.Register(func(string, *xerrors.AgentError) { calls++ })

	m.Report("agent-1", xerrors.New(xerrors.CategoryDriver, xerrors.CodeReceiveFailed, "first"))
	remove()
	remove() // idempotent
	m.Report("agent-1", xerrors.New(xerrors.CategoryDriver, xerrors.CodeReceiveFailed, "second"))

	assert.Equal(t, 1, calls)
}

func TestReportPublishesToErrorSubject(t *testing.T) {
	m, bus := setupErrorManager(t)

	envs := make(chan *Envelope, 1)
	_, err := bus.Subscribe(SubjectErrors, func(_ context.Context, env *Envelope) error {
		envs <- env
		return nil
	})
	require.NoError(t, err)

	m.Report("agent-1", xerrors.New(xerrors.CategoryLLM, xerrors.CodeInvalidAPIKey, "bad key"))

	select {
	case env := <-envs:
		assert.Equal(t, event.TypeError, env.Type)
		assert.Equal(t, "agent-1", env.AgentID)
		assert.Equal(t, string(xerrors.CodeInvalidAPIKey), env.Data["code"])
		assert.Equal(t, string(xerrors.SeverityFatal), env.Data["severity"])
		assert.Equal(t, false, env.Data["recoverable"])
	case <-time.After(time.Second):
		t.Fatal("error envelope was not published")
	}
}

func TestObserveAgentErrors(t *testing.T) {
	m, _ := setupErrorManager(t)

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	ag := agent.New(agent.Options{
		Image:  image.Build(image.Definition{Name: "assistant", Model: "m"}),
		Driver: driver.NewScripted(),
		Engine: engine.New(log),
		Logger: log,
	})
	defer ag.Destroy()

	reported := make(chan *xerrors.AgentError, 1)
	m.Register(func(agentID string, aerr *xerrors.AgentError) {
		if agentID == ag.ID {
			reported <- aerr
		}
	})
	m.Observe(ag)

	ag.Bus().Emit(event.New(event.TypeError, ag.ID, event.ErrorData{
		Error: xerrors.New(xerrors.CategoryNetwork, xerrors.CodeConnectionFailed, "connection refused"),
	}))

	select {
	case aerr := <-reported:
		assert.Equal(t, xerrors.CodeConnectionFailed, aerr.Code)
	case <-time.After(time.Second):
		t.Fatal("observed error was not reported")
	}
}
