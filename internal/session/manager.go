// Package session implements the user-facing session lifecycle: create,
// resume, fork and the message collector persisting each agent message
// against its session.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/container"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/message"
	"github.com/agentx/agentx/internal/repository"
)

// Manager orchestrates sessions over the repository and a container.
type Manager struct {
	repo   repository.Repository
	logger *logger.Logger
}

// NewManager creates a session manager.
func NewManager(repo repository.Repository, log *logger.Logger) *Manager {
	return &Manager{repo: repo, logger: log}
}

// Create allocates and persists a session onto an existing image.
func (m *Manager) Create(ctx context.Context, imageID, containerID string) (*repository.Session, error) {
	if _, err := m.repo.GetImage(ctx, imageID); err != nil {
		return nil, fmt.Errorf("image %s: %w", imageID, err)
	}
	now := time.Now().UTC()
	s := &repository.Session{
		ID:          id.NewSession(),
		ContainerID: containerID,
		ImageID:     imageID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*repository.Session, error) {
	return m.repo.GetSession(ctx, sessionID)
}

// List returns all sessions.
func (m *Manager) List(ctx context.Context) ([]*repository.Session, error) {
	return m.repo.ListSessions(ctx)
}

// Resume instantiates an agent for the session on the given container and
// attaches the message collector. Resuming a session whose image is already
// bound to a live agent fails with container.ErrImageBusy.
func (m *Manager) Resume(ctx context.Context, sessionID string, c *container.Container) (*agent.Agent, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ag, err := c.Resume(ctx, sess)
	if err != nil {
		return nil, err
	}
	m.attachCollector(ag, sess.ID)
	return ag, nil
}

// Fork atomically deep-copies the session's image into a derived image and
// creates a new session pointing at it. Further edits to either side do not
// mutate the other.
func (m *Manager) Fork(ctx context.Context, sessionID string) (*repository.Session, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	img, err := m.repo.GetImage(ctx, sess.ImageID)
	if err != nil {
		return nil, err
	}

	derived := img.Fork()
	if err := m.repo.SaveImage(ctx, derived); err != nil {
		return nil, err
	}

	title := "Fork of " + sess.Title
	if sess.Title == "" {
		title = "Fork of " + sess.ID
	}
	now := time.Now().UTC()
	forked := &repository.Session{
		ID:          id.NewSession(),
		ContainerID: sess.ContainerID,
		ImageID:     derived.ID,
		Title:       title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.repo.CreateSession(ctx, forked); err != nil {
		// Roll the orphaned image back so fork stays atomic.
		_ = m.repo.DeleteImage(ctx, derived.ID)
		return nil, err
	}
	return forked, nil
}

// GetMessages returns the session's conversation in chronological order.
// Sessions referencing the same image share history by design.
func (m *Manager) GetMessages(ctx context.Context, sessionID string) ([]message.Message, error) {
	sess, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	img, err := m.repo.GetImage(ctx, sess.ImageID)
	if err != nil {
		return nil, err
	}
	return img.Messages, nil
}

// SetTitle renames a session.
func (m *Manager) SetTitle(ctx context.Context, sessionID, title string) error {
	return m.repo.UpdateSessionTitle(ctx, sessionID, title)
}

// Delete removes a session and its collected messages.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.repo.DeleteSession(ctx, sessionID)
}

// attachCollector subscribes to the agent's message events and persists each
// as a record linked to this session. Persistence runs on a dedicated
// goroutine: bus handlers must not block on I/O.
func (m *Manager) attachCollector(ag *agent.Agent, sessionID string) {
	ch := make(chan *repository.MessageRecord, 256)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for rec := range ch {
			if err := m.repo.AppendMessage(context.Background(), rec); err != nil {
				m.logger.Warn("Message collect failed",
					zap.String("session_id", sessionID),
					zap.Error(err))
			}
		}
	}()

	unsubscribe := ag.Bus().OnTypes(event.MessageTypes(), func(ev *event.Event) {
		data, ok := ev.Data.(event.MessageData)
		if !ok {
			return
		}
		rec := &repository.MessageRecord{
			SessionID: sessionID,
			AgentID:   ev.AgentID,
			Message:   data.Message,
		}
		select {
		case ch <- rec:
		default:
			m.logger.Warn("Message collector backlog full, dropping record",
				zap.String("session_id", sessionID),
				zap.String("message_id", data.Message.ID))
		}
	})

	ag.OnDestroy(func() {
		unsubscribe()
		close(ch)
		<-done
	})
}
