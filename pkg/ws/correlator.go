package ws

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds how long Await blocks without a response.
const DefaultRequestTimeout = 30 * time.Second

// Correlator matches response envelopes to pending requests by request id.
// Each registration is one-shot: the first matching response resolves it.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *Envelope
	timeout time.Duration
}

// NewCorrelator creates a correlator. A non-positive timeout selects
// DefaultRequestTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		pending: make(map[string]chan *Envelope),
		timeout: timeout,
	}
}

// Await blocks until a response with the given request id arrives, the
// timeout elapses or the context is canceled.
func (c *Correlator) Await(ctx context.Context, requestID string) (*Envelope, error) {
	ch, err := c.register(requestID)
	if err != nil {
		return nil, err
	}
	defer c.unregister(requestID)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		return env, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s timed out after %v", requestID, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve delivers a response envelope to its awaiting request. It reports
// whether anything was waiting.
func (c *Correlator) Resolve(env *Envelope) bool {
	if env.RequestID == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[env.RequestID]
	if ok {
		delete(c.pending, env.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) register(requestID string) (chan *Envelope, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[requestID]; exists {
		return nil, fmt.Errorf("request %s already pending", requestID)
	}
	ch := make(chan *Envelope, 1)
	c.pending[requestID] = ch
	return ch, nil
}

func (c *Correlator) unregister(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}
