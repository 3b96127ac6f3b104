// Package image implements the persistence unit of a conversation: a
// Definition is built into a meta Image, sessions fork derived Images, and
// the Image carries the append-only message history plus the driver's opaque
// resume cursor.
package image

import (
	"time"

	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/message"
)

// Type distinguishes freshly built images from forked ones.
type Type string

const (
	TypeMeta    Type = "meta"
	TypeDerived Type = "derived"
)

// Definition is a named declarative template for building images. Immutable
// after registration.
type Definition struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	SystemPrompt string         `json:"systemPrompt,omitempty"`
	Model        string         `json:"model,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// Image is the durable state of a conversation.
type Image struct {
	ID             string            `json:"imageId"`
	Type           Type              `json:"type"`
	DefinitionName string            `json:"definitionName"`
	ParentImageID  string            `json:"parentImageId,omitempty"`
	Definition     Definition        `json:"definition"`
	Config         map[string]any    `json:"config,omitempty"`
	Messages       []message.Message `json:"messages"`
	DriverState    map[string]any    `json:"driverState,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Build creates a meta image from a definition with an empty history.
func Build(def Definition) *Image {
	return &Image{
		ID:             id.NewImage(),
		Type:           TypeMeta,
		DefinitionName: def.Name,
		Definition:     def,
		CreatedAt:      time.Now().UTC(),
	}
}

// Fork deep-copies the image into a derived one recording its parent.
// Further edits to either side do not mutate the other.
func (img *Image) Fork() *Image {
	return &Image{
		ID:             id.NewImage(),
		Type:           TypeDerived,
		DefinitionName: img.DefinitionName,
		ParentImageID:  img.ID,
		Definition:     img.Definition,
		Config:         cloneConfig(img.Config),
		Messages:       message.CloneAll(img.Messages),
		DriverState:    cloneConfig(img.DriverState),
		CreatedAt:      time.Now().UTC(),
	}
}

// Clone returns a deep copy with the same identity, used by stores handing
// out isolated snapshots.
func (img *Image) Clone() *Image {
	out := *img
	out.Config = cloneConfig(img.Config)
	out.Messages = message.CloneAll(img.Messages)
	out.DriverState = cloneConfig(img.DriverState)
	return &out
}

// Append adds messages to the history. The history is append-only; callers
// never rewrite past entries.
func (img *Image) Append(msgs ...message.Message) {
	img.Messages = append(img.Messages, msgs...)
}

func cloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
