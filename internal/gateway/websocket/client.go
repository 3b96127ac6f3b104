package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/pkg/ws"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxMessageSize = 512 * 1024
)

// Client is one WebSocket connection. Its effectors mirror agent bus events
// onto the connection; events produced while the channel is not connected
// are dropped, reconnecting clients rebuild state from the image.
type Client struct {
	ID   string
	conn *websocket.Conn

	hub     *Hub
	gateway *Gateway
	send    chan []byte
	logger  *logger.Logger

	mu        sync.Mutex
	state     ws.ConnState
	effectors map[string]func()
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn, hub *Hub, gw *Gateway, log *logger.Logger) *Client {
	return &Client{
		ID:        id,
		conn:      conn,
		hub:       hub,
		gateway:   gw,
		send:      make(chan []byte, 256),
		logger:    log.WithFields(zap.String("client_id", id)),
		state:     ws.StateConnecting,
		effectors: make(map[string]func()),
	}
}

// State returns the channel connection state.
func (c *Client) State() ws.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState transitions the connection state and notifies the peer.
func (c *Client) setState(to ws.ConnState) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from == to {
		return
	}
	c.logger.Debug("Connection state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if to == ws.StateConnected {
		c.sendEvent(event.New(event.TypeConnectionStateChanged, "",
			ws.ConnStateChangedData{From: from, To: to}))
	}
}

// ReadPump reads frames until the connection drops, routing each envelope
// through the receptor.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}

		env, err := ws.Decode(raw)
		if err != nil {
			c.logger.Warn("Malformed inbound envelope", zap.Error(err))
			c.sendError("", "", "bad_request", err.Error())
			continue
		}
		c.gateway.receive(ctx, c, env)
	}
}

// WritePump writes queued frames and pings until the send channel closes.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			// Batch whatever else is queued.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// attachEffector mirrors the agent's bus onto this connection. Attaching
// twice for the same agent is a no-op.
func (c *Client) attachEffector(ag *agent.Agent) {
	c.mu.Lock()
	if _, ok := c.effectors[ag.ID]; ok {
		c.mu.Unlock()
		return
	}
	// Reserve the slot before subscribing so a concurrent attach backs off.
	c.effectors[ag.ID] = func() {}
	c.mu.Unlock()

	detach := ag.Bus().OnAny(func(ev *event.Event) {
		if c.State() != ws.StateConnected {
			c.logger.Warn("Dropping event, channel not connected",
				zap.String("type", ev.Type),
				zap.String("agent_id", ev.AgentID))
			return
		}
		frame, err := ws.Encode(ev)
		if err != nil {
			c.logger.Error("Failed to encode event", zap.Error(err))
			return
		}
		c.enqueue(frame)
	})

	c.mu.Lock()
	c.effectors[ag.ID] = detach
	c.mu.Unlock()

	ag.OnDestroy(func() { c.detachEffector(ag.ID) })
	c.logger.Debug("Effector attached", zap.String("agent_id", ag.ID))
}

func (c *Client) detachEffector(agentID string) {
	c.mu.Lock()
	detach, ok := c.effectors[agentID]
	delete(c.effectors, agentID)
	c.mu.Unlock()
	if ok {
		detach()
	}
}

// enqueue queues a frame without blocking; a slow client loses frames rather
// than stalling dispatch.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("Client send buffer full, dropping frame")
	}
}

func (c *Client) sendEvent(ev *event.Event) {
	frame, err := ws.Encode(ev)
	if err != nil {
		c.logger.Error("Failed to encode event", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

func (c *Client) sendError(requestID, agentID, code, msg string) {
	ev := event.New(event.TypeError, agentID, map[string]any{
		"code":    code,
		"message": msg,
	})
	ev.RequestID = requestID
	c.sendEvent(ev)
}

// teardown detaches effectors and closes the send channel exactly once.
func (c *Client) teardown() {
	c.setState(ws.StateDisconnecting)

	c.mu.Lock()
	detachers := make([]func(), 0, len(c.effectors))
	for _, detach := range c.effectors {
		detachers = append(detachers, detach)
	}
	c.effectors = make(map[string]func())
	c.mu.Unlock()

	for _, detach := range detachers {
		detach()
	}
	c.closeOnce.Do(func() { close(c.send) })
	c.setState(ws.StateIdle)
}
