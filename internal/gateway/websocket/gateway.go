package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/container"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
	"github.com/agentx/agentx/internal/repository"
	"github.com/agentx/agentx/internal/session"
	"github.com/agentx/agentx/pkg/ws"
)

// Request envelope types the gateway serves. Every request is answered by a
// matching *_response envelope echoing the requestId.
const (
	TypeUserMessageRequest    = "user_message_request"
	TypeAgentReceiveRequest   = "agent_receive_request"
	TypeAgentInterruptRequest = "agent_interrupt_request"
	TypeImageListRequest      = "image_list_request"
	TypeImageResumeRequest    = "image_resume_request"
	TypeImageDeleteRequest    = "image_delete_request"
	TypeImageSnapshotRequest  = "image_snapshot_request"
	TypeAgentListRequest      = "agent_list_request"
	TypeAgentDestroyRequest   = "agent_destroy_request"
	TypeGetStateRequest       = "get_state_request"
	TypeGetMessagesRequest    = "get_messages_request"
)

// Options configures the gateway.
type Options struct {
	Repo      repository.Repository
	Container *container.Container
	Sessions  *session.Manager
	Logger    *logger.Logger

	// OnAgent is invoked for every agent the gateway brings live, letting
	// the caller attach process-level observers.
	OnAgent func(ag *agent.Agent)
}

// Gateway upgrades connections and bridges envelopes to agents.
type Gateway struct {
	hub        *Hub
	dispatcher *ws.Dispatcher
	repo       repository.Repository
	container  *container.Container
	sessions   *session.Manager
	onAgent    func(ag *agent.Agent)
	logger     *logger.Logger
	upgrader   websocket.Upgrader
}

// New creates the gateway and registers its request handlers.
func New(opts Options) *Gateway {
	g := &Gateway{
		hub:        NewHub(opts.Logger),
		dispatcher: ws.NewDispatcher(),
		repo:       opts.Repo,
		container:  opts.Container,
		sessions:   opts.Sessions,
		onAgent:    opts.OnAgent,
		logger:     opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	g.dispatcher.RegisterFunc(TypeImageListRequest, g.handleImageList)
	g.dispatcher.RegisterFunc(TypeImageDeleteRequest, g.handleImageDelete)
	g.dispatcher.RegisterFunc(TypeImageSnapshotRequest, g.handleImageSnapshot)
	g.dispatcher.RegisterFunc(TypeAgentListRequest, g.handleAgentList)
	g.dispatcher.RegisterFunc(TypeAgentDestroyRequest, g.handleAgentDestroy)
	g.dispatcher.RegisterFunc(TypeGetStateRequest, g.handleGetState)
	g.dispatcher.RegisterFunc(TypeGetMessagesRequest, g.handleGetMessages)
	return g
}

// Hub returns the client hub; the caller runs it.
func (g *Gateway) Hub() *Hub { return g.hub }

// Dispatcher returns the request dispatcher for additional handlers.
func (g *Gateway) Dispatcher() *ws.Dispatcher { return g.dispatcher }

// Handle upgrades an HTTP request into a bridged connection.
func (g *Gateway) Handle(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(id.New("client"), conn, g.hub, g, g.logger)
	g.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(c.Request.Context())
}

// receive is the receptor: it routes one inbound envelope. Turn-starting
// requests are special-cased because they attach the client's effector before
// the turn begins streaming; everything else goes through the dispatcher.
func (g *Gateway) receive(ctx context.Context, c *Client, env *ws.Envelope) {
	switch env.Type {
	case event.TypeUserMessage, TypeUserMessageRequest:
		g.receiveUserMessage(c, env)
	case ws.TypeInterruptAgent, TypeAgentInterruptRequest:
		g.receiveInterrupt(c, env)
	case TypeAgentReceiveRequest:
		g.receiveAgentReceive(ctx, c, env)
	case TypeImageResumeRequest:
		g.receiveImageResume(ctx, c, env)
	default:
		if !ws.IsRequest(env.Type) {
			c.sendError(env.RequestID, env.AgentID, "unknown_type", "unsupported envelope type: "+env.Type)
			return
		}
		reply, err := g.dispatcher.Dispatch(ctx, env)
		if err != nil {
			c.sendError(env.RequestID, env.AgentID, "request_failed", err.Error())
			return
		}
		if reply != nil {
			reply.RequestID = env.RequestID
			c.sendEvent(reply)
		}
	}
}

// userMessageData is the inbound user_message payload: either a full message
// or plain text.
type userMessageData struct {
	Text    string           `json:"text,omitempty"`
	Message *message.Message `json:"message,omitempty"`
}

func (g *Gateway) receiveUserMessage(c *Client, env *ws.Envelope) {
	ag, err := g.container.Get(env.AgentID)
	if err != nil {
		c.sendError(env.RequestID, env.AgentID, "agent_not_found", "no live agent "+env.AgentID)
		return
	}

	var data userMessageData
	if err := env.ParseData(&data); err != nil {
		c.sendError(env.RequestID, env.AgentID, "bad_request", "malformed user_message payload: "+err.Error())
		return
	}
	var msg message.Message
	switch {
	case data.Message != nil:
		msg = *data.Message
	case data.Text != "":
		msg = message.NewUser(data.Text)
	default:
		c.sendError(env.RequestID, env.AgentID, "bad_request", "user_message requires text or message")
		return
	}

	c.attachEffector(ag)

	// The request form acknowledges acceptance before the turn streams.
	if ws.IsRequest(env.Type) {
		reply := event.New(ws.ResponseType(env.Type), ag.ID, map[string]any{"status": "processing"})
		reply.RequestID = env.RequestID
		c.sendEvent(reply)
	}

	// Receive blocks for the whole turn; the effector streams its events.
	go func() {
		if err := ag.Receive(context.Background(), msg); err != nil {
			aerr := xerrors.AsAgentError(err)
			if aerr == nil {
				c.sendError(env.RequestID, env.AgentID, "receive_failed", err.Error())
				return
			}
			c.sendError(env.RequestID, env.AgentID, string(aerr.Code), aerr.Message)
		}
	}()
}

func (g *Gateway) receiveInterrupt(c *Client, env *ws.Envelope) {
	ag, err := g.container.Get(env.AgentID)
	if err != nil {
		c.sendError(env.RequestID, env.AgentID, "agent_not_found", "no live agent "+env.AgentID)
		return
	}
	ag.Interrupt()
	if ws.IsRequest(env.Type) {
		reply := event.New(ws.ResponseType(env.Type), ag.ID, map[string]any{"interrupted": true})
		reply.RequestID = env.RequestID
		c.sendEvent(reply)
	}
}

// agentReceiveData asks for a turn against an image that has no live agent
// yet: the gateway brings one up, then feeds it the content.
type agentReceiveData struct {
	ImageID string `json:"imageId"`
	Content string `json:"content"`
}

func (g *Gateway) receiveAgentReceive(ctx context.Context, c *Client, env *ws.Envelope) {
	var data agentReceiveData
	if err := env.ParseData(&data); err != nil || data.ImageID == "" {
		c.sendError(env.RequestID, "", "bad_request", "agent_receive_request requires imageId")
		return
	}

	img, err := g.repo.GetImage(ctx, data.ImageID)
	if err != nil {
		c.sendError(env.RequestID, "", "image_not_found", "no image "+data.ImageID)
		return
	}
	ag, err := g.container.Run(ctx, img)
	if err != nil {
		c.sendError(env.RequestID, "", "run_failed", err.Error())
		return
	}
	if g.onAgent != nil {
		g.onAgent(ag)
	}
	c.attachEffector(ag)

	reply := event.New(ws.ResponseType(env.Type), ag.ID, map[string]any{
		"agentId": ag.ID,
		"imageId": data.ImageID,
		"state":   string(ag.State()),
	})
	reply.RequestID = env.RequestID
	c.sendEvent(reply)

	if data.Content == "" {
		return
	}
	go func() {
		if err := ag.Receive(context.Background(), message.NewUser(data.Content)); err != nil {
			aerr := xerrors.AsAgentError(err)
			if aerr == nil {
				c.sendError(env.RequestID, ag.ID, "receive_failed", err.Error())
				return
			}
			c.sendError(env.RequestID, ag.ID, string(aerr.Code), aerr.Message)
		}
	}()
}

// imageResumeData names what to resume: a session brings back its collector
// wiring, a bare image just gets a fresh agent.
type imageResumeData struct {
	SessionID string `json:"sessionId,omitempty"`
	ImageID   string `json:"imageId,omitempty"`
}

func (g *Gateway) receiveImageResume(ctx context.Context, c *Client, env *ws.Envelope) {
	var data imageResumeData
	if err := env.ParseData(&data); err != nil || (data.SessionID == "" && data.ImageID == "") {
		c.sendError(env.RequestID, "", "bad_request", "image_resume_request requires sessionId or imageId")
		return
	}

	var (
		ag      *agent.Agent
		resumed = map[string]any{}
		err     error
	)
	if data.SessionID != "" {
		ag, err = g.sessions.Resume(ctx, data.SessionID, g.container)
		resumed["sessionId"] = data.SessionID
	} else {
		var img *image.Image
		img, err = g.repo.GetImage(ctx, data.ImageID)
		if err == nil {
			ag, err = g.container.Run(ctx, img)
		}
	}
	if err != nil {
		c.sendError(env.RequestID, "", "resume_failed", err.Error())
		return
	}
	if g.onAgent != nil {
		g.onAgent(ag)
	}
	c.attachEffector(ag)

	resumed["agentId"] = ag.ID
	resumed["imageId"] = ag.Image().ID
	resumed["state"] = string(ag.State())
	reply := event.New(ws.ResponseType(env.Type), ag.ID, resumed)
	reply.RequestID = env.RequestID
	c.sendEvent(reply)
}

func (g *Gateway) handleGetState(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	ag, err := g.container.Get(env.AgentID)
	if err != nil {
		return nil, err
	}
	return event.New(ws.ResponseType(env.Type), ag.ID, map[string]any{
		"state":     string(ag.State()),
		"lifecycle": string(ag.Lifecycle()),
	}), nil
}

func (g *Gateway) handleAgentList(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	agents := g.container.List()
	out := make([]map[string]any, 0, len(agents))
	for _, ag := range agents {
		out = append(out, map[string]any{
			"agentId": ag.ID,
			"state":   string(ag.State()),
			"imageId": ag.Image().ID,
		})
	}
	return event.New(ws.ResponseType(env.Type), "", map[string]any{"agents": out}), nil
}

type agentDestroyData struct {
	AgentID string `json:"agentId"`
}

func (g *Gateway) handleAgentDestroy(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	var data agentDestroyData
	if err := env.ParseData(&data); err != nil {
		return nil, err
	}
	agentID := data.AgentID
	if agentID == "" {
		agentID = env.AgentID
	}
	if err := g.container.Destroy(agentID); err != nil {
		return nil, err
	}
	return event.New(ws.ResponseType(env.Type), agentID, map[string]any{
		"agentId":   agentID,
		"destroyed": true,
	}), nil
}

func (g *Gateway) handleImageList(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	images, err := g.repo.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	return event.New(ws.ResponseType(env.Type), "", map[string]any{"images": images}), nil
}

type imageRequestData struct {
	ImageID string `json:"imageId"`
}

func (g *Gateway) handleImageDelete(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	var data imageRequestData
	if err := env.ParseData(&data); err != nil {
		return nil, err
	}
	if err := g.repo.DeleteImage(ctx, data.ImageID); err != nil {
		return nil, err
	}
	return event.New(ws.ResponseType(env.Type), "", map[string]any{
		"imageId": data.ImageID,
		"deleted": true,
	}), nil
}

// handleImageSnapshot forks the image and persists the fork, leaving the
// original untouched.
func (g *Gateway) handleImageSnapshot(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	var data imageRequestData
	if err := env.ParseData(&data); err != nil {
		return nil, err
	}
	img, err := g.repo.GetImage(ctx, data.ImageID)
	if err != nil {
		return nil, err
	}
	snap := img.Fork()
	if err := g.repo.SaveImage(ctx, snap); err != nil {
		return nil, err
	}
	return event.New(ws.ResponseType(env.Type), "", map[string]any{
		"imageId":    data.ImageID,
		"snapshotId": snap.ID,
	}), nil
}

type getMessagesData struct {
	SessionID string `json:"sessionId"`
}

func (g *Gateway) handleGetMessages(ctx context.Context, env *ws.Envelope) (*event.Event, error) {
	var data getMessagesData
	if err := env.ParseData(&data); err != nil {
		return nil, err
	}
	msgs, err := g.sessions.GetMessages(ctx, data.SessionID)
	if err != nil {
		return nil, err
	}
	return event.New(ws.ResponseType(env.Type), "", map[string]any{
		"sessionId": data.SessionID,
		"messages":  msgs,
	}), nil
}
