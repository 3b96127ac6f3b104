package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitResolve(t *testing.T) {
	c := NewCorrelator(time.Second)

	go func() {
		// Give Await time to register.
		time.Sleep(10 * time.Millisecond)
		c.Resolve(&Envelope{Type: "user_message_response", RequestID: "req-1"})
	}()

	env, err := c.Await(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, 0, c.Pending())
}

func TestAwaitTimeout(t *testing.T) {
	c := NewCorrelator(20 * time.Millisecond)

	_, err := c.Await(context.Background(), "req-1")
	assert.ErrorContains(t, err, "timed out")
	assert.Equal(t, 0, c.Pending())
}

func TestAwaitContextCancel(t *testing.T) {
	c := NewCorrelator(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Await(ctx, "req-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Pending())
}

func TestAwaitRejectsDuplicateRequestID(t *testing.T) {
	c := NewCorrelator(time.Second)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := c.Await(context.Background(), "req-1")
		done <- err
	}()
	<-started
	require.Eventually(t, func() bool { return c.Pending() == 1 }, time.Second, time.Millisecond)

	_, err := c.Await(context.Background(), "req-1")
	assert.ErrorContains(t, err, "already pending")

	c.Resolve(&Envelope{RequestID: "req-1"})
	require.NoError(t, <-done)
}

func TestAwaitRejectsEmptyRequestID(t *testing.T) {
	c := NewCorrelator(time.Second)
	_, err := c.Await(context.Background(), "")
	assert.ErrorContains(t, err, "request id is required")
}

func TestResolveWithoutWaiter(t *testing.T) {
	c := NewCorrelator(time.Second)
	assert.False(t, c.Resolve(&Envelope{RequestID: "nobody"}))
	assert.False(t, c.Resolve(&Envelope{}))
}

func TestDefaultTimeout(t *testing.T) {
	c := NewCorrelator(0)
	assert.Equal(t, DefaultRequestTimeout, c.timeout)
	c = NewCorrelator(-time.Second)
	assert.Equal(t, DefaultRequestTimeout, c.timeout)
}
