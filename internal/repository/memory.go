package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
)

// Memory is an in-memory Repository used by tests and ephemeral setups. It
// applies the same cascade rules as the durable store.
type Memory struct {
	mu         sync.RWMutex
	defs       map[string]image.Definition
	images     map[string]*image.Image
	sessions   map[string]*Session
	messages   map[string][]*MessageRecord // keyed by session id
	containers map[string]*Container
	seq        int64
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		defs:       make(map[string]image.Definition),
		images:     make(map[string]*image.Image),
		sessions:   make(map[string]*Session),
		messages:   make(map[string][]*MessageRecord),
		containers: make(map[string]*Container),
	}
}

func (m *Memory) SaveDefinition(_ context.Context, def image.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.Name] = def
	return nil
}

func (m *Memory) GetDefinition(_ context.Context, name string) (image.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[name]
	if !ok {
		return image.Definition{}, ErrNotFound
	}
	return def, nil
}

func (m *Memory) ListDefinitions(_ context.Context) ([]image.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]image.Definition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) DeleteDefinition(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[name]; !ok {
		return ErrNotFound
	}
	delete(m.defs, name)
	return nil
}

func (m *Memory) SaveImage(_ context.Context, img *image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[img.ID] = img.Clone()
	return nil
}

func (m *Memory) GetImage(_ context.Context, imageID string) (*image.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[imageID]
	if !ok {
		return nil, ErrNotFound
	}
	return img.Clone(), nil
}

func (m *Memory) ListImages(_ context.Context) ([]*image.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*image.Image, 0, len(m.images))
	for _, img := range m.images {
		out = append(out, img.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteImage(_ context.Context, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.images[imageID]; !ok {
		return ErrNotFound
	}
	for _, s := range m.sessions {
		if s.ImageID == imageID {
			return ErrImageInUse
		}
	}
	delete(m.images, imageID)
	return nil
}

func (m *Memory) SetDriverState(_ context.Context, imageID string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[imageID]
	if !ok {
		return ErrNotFound
	}
	img.DriverState = state
	return nil
}

func (m *Memory) AppendImageMessages(_ context.Context, imageID string, msgs []message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[imageID]
	if !ok {
		return ErrNotFound
	}
	img.Append(message.CloneAll(msgs)...)
	return nil
}

func (m *Memory) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSessions(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionList(func(*Session) bool { return true }), nil
}

func (m *Memory) ListSessionsByImage(_ context.Context, imageID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionList(func(s *Session) bool { return s.ImageID == imageID }), nil
}

func (m *Memory) sessionList(match func(*Session) bool) []*Session {
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) UpdateSessionTitle(_ context.Context, sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Title = title
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.messages, sessionID)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, rec *MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.SessionID]; !ok {
		return ErrNotFound
	}
	cp := *rec
	cp.Message = rec.Message.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.seq++
	m.messages[rec.SessionID] = append(m.messages[rec.SessionID], &cp)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID string) ([]*MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.messages[sessionID]
	out := make([]*MessageRecord, len(recs))
	for i, r := range recs {
		cp := *r
		cp.Message = r.Message.Clone()
		out[i] = &cp
	}
	return out, nil
}

func (m *Memory) SaveContainer(_ context.Context, c *Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.containers[c.ID] = &cp
	return nil
}

func (m *Memory) GetContainer(_ context.Context, containerID string) (*Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.containers[containerID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListContainers(_ context.Context) ([]*Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Container, 0, len(m.containers))
	for _, c := range m.containers {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeleteContainer(_ context.Context, containerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[containerID]; !ok {
		return ErrNotFound
	}
	delete(m.containers, containerID)
	for id, s := range m.sessions {
		if s.ContainerID == containerID {
			delete(m.sessions, id)
			delete(m.messages, id)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }
