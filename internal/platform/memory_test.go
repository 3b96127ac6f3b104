package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
)

func setupMemoryBus(t *testing.T) *MemoryBus {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return NewMemoryBus(log)
}

// collector gathers asynchronously delivered envelopes.
type collector struct {
	mu   sync.Mutex
	envs []*Envelope
}

func (c *collector) handler(_ context.Context, env *Envelope) error {
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envs)
}

func TestPublishExactSubject(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()

	var got collector
	_, err := b.Subscribe("agentx.errors", got.handler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "agentx.errors", NewEnvelope("error", "agent-1", nil)))
	require.NoError(t, b.Publish(context.Background(), "agentx.other", NewEnvelope("error", "agent-1", nil)))

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "agent-1", got.envs[0].AgentID)
}

func TestWildcardSubjects(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()

	var single, full collector
	_, err := b.Subscribe("agentx.agents.*.error", single.handler)
	require.NoError(t, err)
	_, err = b.Subscribe(SubjectAgentsAll, full.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, AgentSubject("agent-1", "error"), NewEnvelope("error", "agent-1", nil)))
	require.NoError(t, b.Publish(ctx, AgentSubject("agent-1", "text_delta"), NewEnvelope("text_delta", "agent-1", nil)))
	// Two tokens where * expects one: only > matches.
	require.NoError(t, b.Publish(ctx, "agentx.agents.agent-1.tool.error", NewEnvelope("error", "agent-1", nil)))

	require.Eventually(t, func() bool { return full.count() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, single.count())
}

func TestQueueGroupRoundRobin(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()

	var first, second collector
	_, err := b.QueueSubscribe("jobs.*", "workers", first.handler)
	require.NoError(t, err)
	_, err = b.QueueSubscribe("jobs.*", "workers", second.handler)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(ctx, "jobs.run", NewEnvelope("job", "", nil)))
	}

	// Each envelope lands on exactly one member, alternating.
	require.Eventually(t, func() bool {
		return first.count()+second.count() == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, first.count())
	assert.Equal(t, 2, second.count())
}

func TestQueueSubscribeRequiresQueue(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()
	_, err := b.QueueSubscribe("jobs.*", "", func(context.Context, *Envelope) error { return nil })
	assert.Error(t, err)
}

func TestRequestReply(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()

	_, err := b.Subscribe("svc.echo", func(ctx context.Context, env *Envelope) error {
		reply, _ := env.Data["_reply"].(string)
		return b.Publish(ctx, reply, NewEnvelope("echo_reply", env.AgentID, map[string]any{
			"echo": env.Data["payload"],
		}))
	})
	require.NoError(t, err)

	reply, err := b.Request(context.Background(), "svc.echo",
		NewEnvelope("echo", "agent-1", map[string]any{"payload": "ping"}), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo_reply", reply.Type)
	assert.Equal(t, "ping", reply.Data["echo"])
}

func TestRequestTimeout(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()

	_, err := b.Request(context.Background(), "svc.nobody",
		NewEnvelope("ping", "", nil), 20*time.Millisecond)
	assert.Error(t, err)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := setupMemoryBus(t)
	defer b.Close()

	var got collector
	sub, err := b.Subscribe("x", got.handler)
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "x", NewEnvelope("x", "", nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, got.count())
}

func TestClose(t *testing.T) {
	b := setupMemoryBus(t)

	sub, err := b.Subscribe("x", func(context.Context, *Envelope) error { return nil })
	require.NoError(t, err)
	assert.True(t, b.IsConnected())

	b.Close()
	assert.False(t, b.IsConnected())
	assert.False(t, sub.IsValid())
	assert.Error(t, b.Publish(context.Background(), "x", NewEnvelope("x", "", nil)))
	_, err = b.Subscribe("x", func(context.Context, *Envelope) error { return nil })
	assert.Error(t, err)
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		match   bool
	}{
		{"a.b.c", "a.b.c", true},
		{"a.b.c", "a.b.d", false},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.b.c", false},
		{"a.>", "a.b", true},
		{"a.>", "a.b.c.d", true},
		{"a.>", "a", false},
	}
	for _, tt := range tests {
		regex := compilePattern(tt.pattern)
		assert.Equal(t, tt.match, matchSubject(tt.subject, tt.pattern, regex),
			"pattern %q subject %q", tt.pattern, tt.subject)
	}
}

func TestAgentSubjects(t *testing.T) {
	assert.Equal(t, "agentx.agents.agent-1.error", AgentSubject("agent-1", "error"))
	assert.Equal(t, "agentx.agents.agent-1.>", AgentSubjectAll("agent-1"))
}
