// Package id generates the opaque, prefixed identifiers used across AgentX.
// Every identifier is globally unique; a collision is a defect, not a
// condition to handle.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Known identifier prefixes.
const (
	PrefixAgent     = "agent"
	PrefixSession   = "session"
	PrefixImage     = "image"
	PrefixContainer = "container"
	PrefixMessage   = "msg"
	PrefixToolCall  = "call"
	PrefixEvent     = "evt"
	PrefixUser      = "user"
)

// New returns a new identifier with the given prefix, e.g. "agent_4f9e…".
func New(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewAgent returns a new agent identifier.
func NewAgent() string { return New(PrefixAgent) }

// NewSession returns a new session identifier.
func NewSession() string { return New(PrefixSession) }

// NewImage returns a new image identifier.
func NewImage() string { return New(PrefixImage) }

// NewContainer returns a new container identifier.
func NewContainer() string { return New(PrefixContainer) }

// NewMessage returns a new message identifier.
func NewMessage() string { return New(PrefixMessage) }

// NewToolCall returns a new tool call identifier.
func NewToolCall() string { return New(PrefixToolCall) }

// NewEvent returns a new event identifier.
func NewEvent() string { return New(PrefixEvent) }

// NewUser returns a new user identifier.
func NewUser() string { return New(PrefixUser) }

// HasPrefix reports whether s carries the given identifier prefix.
func HasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix+"_")
}
