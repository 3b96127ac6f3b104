// Package agent implements the agent instance: lifecycle, the conversation
// state machine, middleware/interceptor chains and the orchestration of
// driver, engine and bus for one turn at a time.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent/bus"
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/driver"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
)

// Lifecycle is the coarse agent lifecycle.
type Lifecycle string

const (
	LifecycleRunning   Lifecycle = "running"
	LifecycleDestroyed Lifecycle = "destroyed"
)

// DefaultGraceWindow bounds how long an interrupt may take before the agent
// forcibly returns to idle.
const DefaultGraceWindow = 2 * time.Second

// Options configures a new agent.
type Options struct {
	AgentID     string
	ContainerID string
	Image       *image.Image
	Driver      driver.Driver
	Engine      *engine.Engine
	Logger      *logger.Logger

	// GraceWindow overrides DefaultGraceWindow, mainly in tests.
	GraceWindow time.Duration

	// PersistImage writes the image back to the repository after each turn.
	PersistImage func(ctx context.Context, img *image.Image) error
}

// Agent is the transient runtime binding of an image to a driver. One turn
// at a time: a receive while another is in flight is rejected, never queued.
type Agent struct {
	ID          string
	ContainerID string
	CreatedAt   time.Time

	logger       *logger.Logger
	bus          *bus.Bus
	engine       *engine.Engine
	driver       driver.Driver
	img          *image.Image
	middleware   *MiddlewareChain
	interceptors *InterceptorChain
	persistImage func(ctx context.Context, img *image.Image) error
	graceWindow  time.Duration

	mu        sync.Mutex
	lifecycle Lifecycle
	state     engine.AgentState
	sessionID string
	onDestroy []func()
}

// New creates a running agent around an image and driver.
func New(opts Options) *Agent {
	agentID := opts.AgentID
	if agentID == "" {
		agentID = id.NewAgent()
	}
	log := opts.Logger.WithAgentID(agentID)
	grace := opts.GraceWindow
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Agent{
		ID:           agentID,
		ContainerID:  opts.ContainerID,
		CreatedAt:    time.Now().UTC(),
		logger:       log,
		bus:          bus.New(log),
		engine:       opts.Engine,
		driver:       opts.Driver,
		img:          opts.Image,
		middleware:   NewMiddlewareChain(log),
		interceptors: NewInterceptorChain(log),
		persistImage: opts.PersistImage,
		graceWindow:  grace,
		lifecycle:    LifecycleRunning,
		state:        engine.StateIdle,
	}
}

// Bus returns the agent's event bus.
func (a *Agent) Bus() *bus.Bus { return a.bus }

// Image returns the agent's image reference.
func (a *Agent) Image() *image.Image { return a.img }

// Driver returns the agent's driver.
func (a *Agent) Driver() driver.Driver { return a.driver }

// Middleware returns the incoming-message chain.
func (a *Agent) Middleware() *MiddlewareChain { return a.middleware }

// Interceptors returns the outgoing-event chain.
func (a *Agent) Interceptors() *InterceptorChain { return a.interceptors }

// State returns the conversation-level state.
func (a *Agent) State() engine.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Lifecycle returns running or destroyed.
func (a *Agent) Lifecycle() Lifecycle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle
}

// SetSessionID ties emitted events to a session context.
func (a *Agent) SetSessionID(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = sessionID
}

// OnDestroy registers a callback invoked once when the agent is destroyed.
// Registering on an already-destroyed agent invokes the callback immediately.
func (a *Agent) OnDestroy(fn func()) {
	a.mu.Lock()
	if a.lifecycle == LifecycleDestroyed {
		a.mu.Unlock()
		fn()
		return
	}
	a.onDestroy = append(a.onDestroy, fn)
	a.mu.Unlock()
}

// ReceiveText normalizes plain text to a user message and receives it.
func (a *Agent) ReceiveText(ctx context.Context, text string) error {
	return a.Receive(ctx, message.NewUser(text))
}

// Receive runs one full turn: run middleware, emit the user message, drive
// the provider and feed every stream event through the engine, interceptors
// and bus. It blocks until the turn terminates.
func (a *Agent) Receive(ctx context.Context, msg message.Message) error {
	a.mu.Lock()
	if a.lifecycle == LifecycleDestroyed {
		a.mu.Unlock()
		return xerrors.AgentDestroyed(a.ID)
	}
	if a.state != engine.StateIdle {
		a.mu.Unlock()
		return xerrors.AgentBusy(a.ID)
	}
	// Claim the turn before unlocking; the projector confirms the
	// transition when the user_message event lands.
	a.state = engine.StateQueued
	a.mu.Unlock()

	if err := msg.Validate(); err != nil {
		a.setState(engine.StateIdle)
		return xerrors.InvalidMessage(err.Error())
	}

	// History snapshot excludes the message being received; the driver gets
	// it separately.
	history := message.CloneAll(a.img.Messages)

	// Middleware runs before the user_message event so a dropped message
	// never reaches the append-only history, and the image records the same
	// message the driver sees.
	final, ok := a.middleware.Run(msg)
	if !ok {
		// No link called next: the message is silently dropped.
		a.logger.Debug("User message dropped by middleware", zap.String("message_id", msg.ID))
		a.setState(engine.StateIdle)
		return nil
	}

	a.dispatch(event.New(event.TypeUserMessage, a.ID, event.MessageData{Message: final}))

	req := driver.Request{
		AgentID:      a.ID,
		UserMessage:  final,
		History:      history,
		SystemPrompt: a.img.Definition.SystemPrompt,
		Model:        a.img.Definition.Model,
		Parameters:   a.img.Definition.Parameters,
	}
	events, err := a.driver.Receive(ctx, req)
	if err != nil {
		return a.raise(xerrors.Classify(err))
	}

	var turnErr *xerrors.AgentError
	for ev := range events {
		if ev.Type == event.TypeError {
			if data, ok := ev.Data.(event.ErrorData); ok && data.Error != nil {
				turnErr = data.Error
			} else {
				turnErr = xerrors.New(xerrors.CategoryDriver, xerrors.CodeReceiveFailed, "driver reported an error")
			}
			continue // keep draining so the driver goroutine can exit
		}
		a.dispatch(ev)
	}

	a.persist(ctx)

	if turnErr != nil {
		return a.raise(turnErr)
	}
	// A well-formed stream ends on a terminal event; anything else is a
	// driver defect, recover to idle.
	if a.State() != engine.StateIdle {
		a.logger.Warn("Driver stream ended without terminal event")
		a.setState(engine.StateIdle)
	}
	return nil
}

// Interrupt cooperatively aborts the current turn. It returns immediately;
// the transition to idle is driven by the interrupted stream event. If the
// driver does not honor the interrupt within the grace window, the agent
// logs and forcibly transitions to idle.
func (a *Agent) Interrupt() {
	a.driver.Interrupt()

	grace := a.graceWindow
	go func() {
		deadline := time.After(grace)
		tick := time.NewTicker(25 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-deadline:
				if a.State() != engine.StateIdle && a.Lifecycle() == LifecycleRunning {
					a.logger.Warn("Driver did not honor interrupt within grace window",
						zap.Duration("grace", grace))
					a.setState(engine.StateIdle)
				}
				return
			case <-tick.C:
				if a.State() == engine.StateIdle || a.Lifecycle() == LifecycleDestroyed {
					return
				}
			}
		}
	}()
}

// Destroy marks the agent destroyed, cancels any live turn, notifies destroy
// subscribers and frees bus and engine state.
func (a *Agent) Destroy() {
	a.mu.Lock()
	if a.lifecycle == LifecycleDestroyed {
		a.mu.Unlock()
		return
	}
	a.lifecycle = LifecycleDestroyed
	busy := a.state != engine.StateIdle
	callbacks := a.onDestroy
	a.onDestroy = nil
	a.mu.Unlock()

	if busy {
		a.driver.Interrupt()
	}
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("Destroy callback panicked", zap.Any("panic", r))
				}
			}()
			cb()
		}()
	}
	a.bus.Destroy()
	a.engine.ClearState(a.ID)
	a.logger.Info("Agent destroyed")
}

// dispatch feeds one event through the engine and pushes every output
// through the interceptor chain onto the bus. State events update the state
// machine before interceptors observe them.
func (a *Agent) dispatch(ev *event.Event) {
	a.decorate(ev)
	outputs := a.engine.Process(a.ID, ev)
	for _, out := range outputs {
		if event.IsState(out.Type) {
			a.setState(engine.TargetState(out.Type))
		}
		if event.IsMessage(out.Type) {
			if data, ok := out.Data.(event.MessageData); ok {
				a.img.Append(data.Message)
			}
		}
		a.decorate(out)
		final, ok := a.interceptors.Run(out)
		if !ok || final == nil {
			continue
		}
		a.bus.Emit(final)
	}
}

// raise delivers an error as both an error_occurred state event and an
// independent error event, then returns it for the caller to observe. Fatal
// errors terminate the lifecycle.
func (a *Agent) raise(aerr *xerrors.AgentError) error {
	a.logger.Error("Turn failed",
		zap.String("category", string(aerr.Category)),
		zap.String("code", string(aerr.Code)),
		zap.Error(aerr))

	a.dispatch(event.New(event.TypeErrorOccurred, a.ID, event.StateData{
		State:  string(engine.StateIdle),
		Reason: aerr.Message,
	}))
	a.dispatch(event.New(event.TypeError, a.ID, event.ErrorData{Error: aerr}))

	if aerr.Severity == xerrors.SeverityFatal {
		a.Destroy()
	}
	return aerr
}

func (a *Agent) decorate(ev *event.Event) {
	if ev.Context != nil {
		return
	}
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()
	ev.WithContext(&event.Context{ImageID: a.img.ID, SessionID: sessionID})
}

func (a *Agent) setState(next engine.AgentState) {
	if next == "" {
		return
	}
	a.mu.Lock()
	a.state = next
	a.mu.Unlock()
}

func (a *Agent) persist(ctx context.Context) {
	if a.persistImage == nil {
		return
	}
	if err := a.persistImage(ctx, a.img); err != nil {
		a.logger.Warn("Image persist failed", zap.Error(err))
	}
}
