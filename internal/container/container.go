// Package container owns the live set of agents: instantiating them from
// images, resuming them for sessions and destroying them. Containers are
// persisted so sessions can outlive process restarts; agents never are.
package container

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/driver"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/repository"
)

var (
	// ErrAgentNotFound reports a lookup of an unknown or destroyed agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrImageBusy reports a run/resume of an image already bound to a live
	// agent. The image's driver state is owned by exactly one agent at a
	// time.
	ErrImageBusy = errors.New("image is bound to a live agent")
)

// Options configures a container.
type Options struct {
	ID      string
	Repo    repository.Repository
	Engine  *engine.Engine
	Factory driver.Factory
	Logger  *logger.Logger

	// Tools is handed to every driver the container constructs.
	Tools driver.ToolExecutor

	// GraceWindow overrides the agents' interrupt grace window in tests.
	GraceWindow time.Duration
}

// Container manages live agents.
type Container struct {
	ID        string
	CreatedAt time.Time

	repo        repository.Repository
	engine      *engine.Engine
	factory     driver.Factory
	logger      *logger.Logger
	tools       driver.ToolExecutor
	graceWindow time.Duration

	mu     sync.Mutex
	agents map[string]*agent.Agent
	images map[string]string // image id -> owning agent id
}

// New creates a container and persists its record.
func New(ctx context.Context, opts Options) (*Container, error) {
	containerID := opts.ID
	if containerID == "" {
		containerID = id.NewContainer()
	}
	c := &Container{
		ID:          containerID,
		CreatedAt:   time.Now().UTC(),
		repo:        opts.Repo,
		engine:      opts.Engine,
		factory:     opts.Factory,
		logger:      opts.Logger.WithFields(zap.String("container_id", containerID)),
		tools:       opts.Tools,
		graceWindow: opts.GraceWindow,
		agents:      make(map[string]*agent.Agent),
		images:      make(map[string]string),
	}
	if err := c.repo.SaveContainer(ctx, &repository.Container{ID: containerID, CreatedAt: c.CreatedAt}); err != nil {
		return nil, fmt.Errorf("failed to persist container: %w", err)
	}
	return c, nil
}

// Run instantiates an agent from an image. The driver is seeded with the
// image's definition and resume cursor, plus a callback persisting cursor
// updates back into the image.
func (c *Container) Run(ctx context.Context, img *image.Image) (*agent.Agent, error) {
	c.mu.Lock()
	if owner, bound := c.images[img.ID]; bound {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: image %s owned by agent %s", ErrImageBusy, img.ID, owner)
	}
	agentID := id.NewAgent()
	c.images[img.ID] = agentID
	c.mu.Unlock()

	drv, err := c.factory.New(driver.Config{
		AgentID:      agentID,
		SystemPrompt: img.Definition.SystemPrompt,
		Model:        img.Definition.Model,
		Parameters:   img.Definition.Parameters,
		InitialState: img.DriverState,
		Persist: func(state map[string]any) error {
			img.DriverState = state
			return c.repo.SetDriverState(context.Background(), img.ID, state)
		},
		Tools: c.tools,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.images, img.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to construct driver: %w", err)
	}

	ag := agent.New(agent.Options{
		AgentID:     agentID,
		ContainerID: c.ID,
		Image:       img,
		Driver:      drv,
		Engine:      c.engine,
		Logger:      c.logger,
		GraceWindow: c.graceWindow,
		PersistImage: func(ctx context.Context, img *image.Image) error {
			return c.repo.SaveImage(ctx, img)
		},
	})

	c.mu.Lock()
	c.agents[agentID] = ag
	c.mu.Unlock()

	ag.OnDestroy(func() { c.release(agentID, img.ID) })

	c.logger.Info("Agent started",
		zap.String("agent_id", agentID),
		zap.String("image_id", img.ID),
		zap.String("definition", img.DefinitionName))
	return ag, nil
}

// Resume instantiates an agent for a session from its persisted image,
// restoring the driver's resume cursor.
func (c *Container) Resume(ctx context.Context, sess *repository.Session) (*agent.Agent, error) {
	img, err := c.repo.GetImage(ctx, sess.ImageID)
	if err != nil {
		return nil, err
	}
	ag, err := c.Run(ctx, img)
	if err != nil {
		return nil, err
	}
	ag.SetSessionID(sess.ID)
	return ag, nil
}

// Get returns a live agent by id.
func (c *Container) Get(agentID string) (*agent.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ag, ok := c.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return ag, nil
}

// List returns the live agents ordered by creation time.
func (c *Container) List() []*agent.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*agent.Agent, 0, len(c.agents))
	for _, ag := range c.agents {
		out = append(out, ag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Destroy destroys one agent.
func (c *Container) Destroy(agentID string) error {
	c.mu.Lock()
	ag, ok := c.agents[agentID]
	c.mu.Unlock()
	if !ok {
		return ErrAgentNotFound
	}
	ag.Destroy()
	return nil
}

// DestroyAll destroys every live agent, used on container shutdown. Destroys
// run in parallel since each one may wait out a running turn's grace window.
func (c *Container) DestroyAll() {
	var g errgroup.Group
	for _, ag := range c.List() {
		g.Go(func() error {
			ag.Destroy()
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Container) release(agentID, imageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, agentID)
	if c.images[imageID] == agentID {
		delete(c.images, imageID)
	}
}
