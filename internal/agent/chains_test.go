package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/message"
)

func setupLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func TestMiddlewareChain(t *testing.T) {
	t.Run("empty chain passes the message through", func(t *testing.T) {
		c := NewMiddlewareChain(setupLogger(t))
		msg := message.NewUser("hello")
		out, ok := c.Run(msg)
		assert.True(t, ok)
		assert.Equal(t, msg.ID, out.ID)
	})

	t.Run("links run in order and may transform", func(t *testing.T) {
		c := NewMiddlewareChain(setupLogger(t))
		c.Use(func(msg message.Message, next func(message.Message)) {
			msg.Content = []message.Part{message.TextPart(msg.Text() + " a")}
			next(msg)
		})
		c.Use(func(msg message.Message, next func(message.Message)) {
			msg.Content = []message.Part{message.TextPart(msg.Text() + " b")}
			next(msg)
		})

		out, ok := c.Run(message.NewUser("x"))
		assert.True(t, ok)
		assert.Equal(t, "x a b", out.Text())
	})

	t.Run("a link that never calls next drops the message", func(t *testing.T) {
		c := NewMiddlewareChain(setupLogger(t))
		var afterRan bool
		c.Use(func(msg message.Message, next func(message.Message)) {
			if strings.Contains(msg.Text(), "blocked") {
				return
			}
			next(msg)
		})
		c.Use(func(msg message.Message, next func(message.Message)) {
			afterRan = true
			next(msg)
		})

		_, ok := c.Run(message.NewUser("blocked content"))
		assert.False(t, ok)
		assert.False(t, afterRan)

		out, ok := c.Run(message.NewUser("fine"))
		assert.True(t, ok)
		assert.True(t, afterRan)
		assert.Equal(t, "fine", out.Text())
	})

	t.Run("a panicking link fails open", func(t *testing.T) {
		c := NewMiddlewareChain(setupLogger(t))
		c.Use(func(msg message.Message, next func(message.Message)) {
			panic("boom")
		})

		out, ok := c.Run(message.NewUser("survives"))
		assert.True(t, ok)
		assert.Equal(t, "survives", out.Text())
	})

	t.Run("remove closure detaches the link", func(t *testing.T) {
		c := NewMiddlewareChain(setupLogger(t))
		remove := c.Use(func(msg message.Message, next func(message.Message)) {})
		remove()

		_, ok := c.Run(message.NewUser("x"))
		assert.True(t, ok)
	})
}

func TestInterceptorChain(t *testing.T) {
	t.Run("links may replace the event", func(t *testing.T) {
		c := NewInterceptorChain(setupLogger(t))
		c.Use(func(ev *event.Event, next func(*event.Event)) {
			ev.AgentID = "rewritten"
			next(ev)
		})

		out, ok := c.Run(event.New("x", "agent-1", nil))
		assert.True(t, ok)
		assert.Equal(t, "rewritten", out.AgentID)
	})

	t.Run("short-circuit drops the event", func(t *testing.T) {
		c := NewInterceptorChain(setupLogger(t))
		c.Use(func(ev *event.Event, next func(*event.Event)) {
			if ev.Type == "secret" {
				return
			}
			next(ev)
		})

		_, ok := c.Run(event.New("secret", "agent-1", nil))
		assert.False(t, ok)

		out, ok := c.Run(event.New("public", "agent-1", nil))
		assert.True(t, ok)
		assert.Equal(t, "public", out.Type)
	})

	t.Run("a panicking link fails open", func(t *testing.T) {
		c := NewInterceptorChain(setupLogger(t))
		c.Use(func(ev *event.Event, next func(*event.Event)) {
			panic("boom")
		})
		var sawType string
		c.Use(func(ev *event.Event, next func(*event.Event)) {
			sawType = ev.Type
			next(ev)
		})

		out, ok := c.Run(event.New("x", "agent-1", nil))
		assert.True(t, ok)
		assert.Equal(t, "x", out.Type)
		assert.Equal(t, "x", sawType)
	})
}
