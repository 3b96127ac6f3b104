package engine

import (
	"sync"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
)

// agentProcessors is the composite transducer state of one agent.
type agentProcessors struct {
	assembler *assembler
	projector *projector
	turns     *turnTracker
}

// Engine composes the three per-agent processors and chains their outputs
// re-entrantly: every derived event is fed back through the processors so a
// message event reaches the turn tracker and a terminal state event closes
// the turn. Recursion is bounded because message and turn events are not
// accepted as inputs by the lower tiers.
type Engine struct {
	mu     sync.Mutex
	agents map[string]*agentProcessors
	logger *logger.Logger
}

// New creates an engine.
func New(log *logger.Logger) *Engine {
	return &Engine{
		agents: make(map[string]*agentProcessors),
		logger: log,
	}
}

func (e *Engine) processorsFor(agentID string) *agentProcessors {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.agents[agentID]
	if !ok {
		p = &agentProcessors{
			assembler: newAssembler(agentID, e.logger.WithAgentID(agentID)),
			projector: newProjector(agentID),
			turns:     newTurnTracker(agentID),
		}
		e.agents[agentID] = p
	}
	return p
}

// Process feeds one event through the agent's processors and returns the
// ordered output sequence. The input event itself is the first output so
// pass-through subscribers observe raw stream events.
//
// Identical input sequences on a fresh engine yield identical output
// sequences; the processors hold no hidden nondeterminism.
func (e *Engine) Process(agentID string, ev *event.Event) []*event.Event {
	p := e.processorsFor(agentID)

	outputs := []*event.Event{ev}
	work := []*event.Event{ev}
	for len(work) > 0 {
		cur := work[0]
		work = work[1:]

		var derived []*event.Event
		derived = append(derived, p.assembler.process(cur)...)
		derived = append(derived, p.projector.process(cur)...)
		derived = append(derived, p.turns.process(cur)...)

		outputs = append(outputs, derived...)
		work = append(work, derived...)
	}
	return outputs
}

// State returns the projected conversation state of an agent.
func (e *Engine) State(agentID string) AgentState {
	return e.processorsFor(agentID).projector.current
}

// ClearState frees the processor state of a destroyed agent.
func (e *Engine) ClearState(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.agents, agentID)
}
