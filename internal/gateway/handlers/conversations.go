package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/message"
)

type createSessionRequest struct {
	ImageID string `json:"imageId" binding:"required"`
	Title   string `json:"title"`
}

func (h *Handlers) createSession(c *gin.Context) {
	var body createSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	sess, err := h.sessions.Create(c.Request.Context(), body.ImageID, h.container.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if body.Title != "" {
		if err := h.sessions.SetTitle(c.Request.Context(), sess.ID, body.Title); err != nil {
			h.fail(c, err)
			return
		}
		sess.Title = body.Title
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *Handlers) listSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handlers) getSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type updateSessionRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handlers) updateSession(c *gin.Context) {
	var body updateSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.sessions.SetTitle(c.Request.Context(), c.Param("id"), body.Title); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) headSession(c *gin.Context) {
	if _, err := h.sessions.Get(c.Request.Context(), c.Param("id")); err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handlers) deleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// resumeSession brings the session's agent live, restoring the driver cursor
// from the image.
func (h *Handlers) resumeSession(c *gin.Context) {
	ag, err := h.sessions.Resume(c.Request.Context(), c.Param("id"), h.container)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.onAgent != nil {
		h.onAgent(ag)
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": c.Param("id"),
		"agentId":   ag.ID,
		"state":     string(ag.State()),
	})
}

func (h *Handlers) forkSession(c *gin.Context) {
	forked, err := h.sessions.Fork(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, forked)
}

func (h *Handlers) getSessionMessages(c *gin.Context) {
	msgs, err := h.sessions.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handlers) listAgents(c *gin.Context) {
	agents := h.container.List()
	out := make([]gin.H, 0, len(agents))
	for _, ag := range agents {
		out = append(out, gin.H{
			"agentId":   ag.ID,
			"imageId":   ag.Image().ID,
			"state":     string(ag.State()),
			"lifecycle": string(ag.Lifecycle()),
			"createdAt": ag.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (h *Handlers) getAgent(c *gin.Context) {
	ag, err := h.container.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agentId":   ag.ID,
		"imageId":   ag.Image().ID,
		"state":     string(ag.State()),
		"lifecycle": string(ag.Lifecycle()),
		"createdAt": ag.CreatedAt,
	})
}

type postMessageRequest struct {
	Text    string           `json:"text"`
	Message *message.Message `json:"message"`
}

// postAgentMessage accepts a message for the agent's next turn. The turn runs
// asynchronously; its events stream over the WebSocket bridge. A busy agent
// answers 409, a destroyed one 410.
func (h *Handlers) postAgentMessage(c *gin.Context) {
	ag, err := h.container.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	var body postMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	var msg message.Message
	switch {
	case body.Message != nil:
		msg = *body.Message
	case body.Text != "":
		msg = message.NewUser(body.Text)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "text or message is required"})
		return
	}

	// Rejections (busy, destroyed, invalid message) return immediately;
	// give them a short window so they surface as HTTP statuses, then let
	// the turn run out of band.
	done := make(chan error)
	go func() {
		err := ag.Receive(context.Background(), msg)
		select {
		case done <- err:
		default:
			if err != nil {
				h.logger.Warn("Turn failed after accept",
					zap.String("agent_id", ag.ID),
					zap.Error(err))
			}
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
	case <-time.After(50 * time.Millisecond):
		c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
	}
}

func (h *Handlers) interruptAgent(c *gin.Context) {
	ag, err := h.container.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ag.Interrupt()
	c.JSON(http.StatusOK, gin.H{"interrupted": true})
}

func (h *Handlers) destroyAgent(c *gin.Context) {
	if err := h.container.Destroy(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("Agent destroyed over HTTP", zap.String("agent_id", c.Param("id")))
	c.Status(http.StatusNoContent)
}
