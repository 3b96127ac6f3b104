// Package repository defines the persistence contract for the core store:
// definitions, images, sessions, session messages and containers.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
)

var (
	// ErrNotFound reports a lookup miss.
	ErrNotFound = errors.New("record not found")

	// ErrImageInUse reports a delete of an image that sessions still
	// reference.
	ErrImageInUse = errors.New("image is referenced by sessions")
)

// Session is the user-facing persistent handle onto an image.
type Session struct {
	ID          string    `db:"id" json:"sessionId"`
	ContainerID string    `db:"container_id" json:"containerId"`
	ImageID     string    `db:"image_id" json:"imageId"`
	Title       string    `db:"title" json:"title,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// Container is the persisted record of an agent container.
type Container struct {
	ID        string         `json:"containerId"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// MessageRecord links one persisted message to its session.
type MessageRecord struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId,omitempty"`
	Message   message.Message `json:"message"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Repository is the core store. Implementations must apply the cascade
// rules: deleting a session removes its messages, deleting a container
// removes its sessions, and deleting an image with live sessions fails with
// ErrImageInUse.
type Repository interface {
	// Definitions are persisted for inspection; the in-process registry is
	// the runtime source of truth.
	SaveDefinition(ctx context.Context, def image.Definition) error
	GetDefinition(ctx context.Context, name string) (image.Definition, error)
	ListDefinitions(ctx context.Context) ([]image.Definition, error)
	DeleteDefinition(ctx context.Context, name string) error

	SaveImage(ctx context.Context, img *image.Image) error
	GetImage(ctx context.Context, imageID string) (*image.Image, error)
	ListImages(ctx context.Context) ([]*image.Image, error)
	DeleteImage(ctx context.Context, imageID string) error
	SetDriverState(ctx context.Context, imageID string, state map[string]any) error
	AppendImageMessages(ctx context.Context, imageID string, msgs []message.Message) error

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	ListSessionsByImage(ctx context.Context, imageID string) ([]*Session, error)
	UpdateSessionTitle(ctx context.Context, sessionID, title string) error
	DeleteSession(ctx context.Context, sessionID string) error

	AppendMessage(ctx context.Context, rec *MessageRecord) error
	ListMessages(ctx context.Context, sessionID string) ([]*MessageRecord, error)

	SaveContainer(ctx context.Context, c *Container) error
	GetContainer(ctx context.Context, containerID string) (*Container, error)
	ListContainers(ctx context.Context) ([]*Container, error)
	DeleteContainer(ctx context.Context, containerID string) error

	Close() error
}
