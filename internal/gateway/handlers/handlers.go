// Package handlers implements the HTTP control surface: definitions, images,
// sessions, agents, containers and auth.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/auth"
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/container"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/repository"
	"github.com/agentx/agentx/internal/session"
)

// Version is stamped at build time.
var Version = "dev"

// Handlers carries the wired components behind the HTTP surface.
type Handlers struct {
	repo      repository.Repository
	registry  *image.Registry
	container *container.Container
	sessions  *session.Manager
	auth      *auth.Service
	onAgent   func(ag *agent.Agent)
	logger    *logger.Logger
}

// Options configures the HTTP handlers.
type Options struct {
	Repo      repository.Repository
	Registry  *image.Registry
	Container *container.Container
	Sessions  *session.Manager
	Auth      *auth.Service
	Logger    *logger.Logger

	// OnAgent is invoked for every agent brought live over HTTP.
	OnAgent func(ag *agent.Agent)
}

// New creates the handler set.
func New(opts Options) *Handlers {
	return &Handlers{
		repo:      opts.Repo,
		registry:  opts.Registry,
		container: opts.Container,
		sessions:  opts.Sessions,
		auth:      opts.Auth,
		onAgent:   opts.OnAgent,
		logger:    opts.Logger.WithFields(zap.String("component", "http-handlers")),
	}
}

// RegisterRoutes wires every route onto the router. Mutating routes sit
// behind the auth middleware; info, health and auth endpoints are public.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/info", h.getInfo)
	router.GET("/health", h.getHealth)

	router.POST("/auth/register", h.register)
	router.POST("/auth/login", h.login)

	api := router.Group("/api/v1", h.auth.Middleware())
	api.GET("/definitions", h.listDefinitions)
	api.HEAD("/definitions", h.headCollection)
	api.GET("/definitions/:name", h.getDefinition)
	api.PUT("/definitions/:name", h.putDefinition)
	api.DELETE("/definitions/:name", h.deleteDefinition)
	api.HEAD("/definitions/:name", h.headDefinition)

	api.GET("/images", h.listImages)
	api.HEAD("/images", h.headCollection)
	api.POST("/images", h.createImage)
	api.GET("/images/:id", h.getImage)
	api.PUT("/images/:id", h.putImage)
	api.DELETE("/images/:id", h.deleteImage)
	api.HEAD("/images/:id", h.headImage)
	api.POST("/images/:id/run", h.runImage)

	api.GET("/sessions", h.listSessions)
	api.HEAD("/sessions", h.headCollection)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.PUT("/sessions/:id", h.updateSession)
	api.PATCH("/sessions/:id", h.updateSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.HEAD("/sessions/:id", h.headSession)
	api.POST("/sessions/:id/resume", h.resumeSession)
	api.POST("/sessions/:id/fork", h.forkSession)
	api.GET("/sessions/:id/messages", h.getSessionMessages)

	api.GET("/agents", h.listAgents)
	api.GET("/agents/:id", h.getAgent)
	api.POST("/agents/:id/messages", h.postAgentMessage)
	api.POST("/agents/:id/interrupt", h.interruptAgent)
	api.DELETE("/agents/:id", h.destroyAgent)

	api.GET("/containers", h.listContainers)
	api.HEAD("/containers", h.headCollection)
	api.POST("/containers", h.createContainer)
	api.GET("/containers/:id", h.getContainer)
	api.PUT("/containers/:id", h.putContainer)
	api.DELETE("/containers/:id", h.deleteContainer)
	api.HEAD("/containers/:id", h.headContainer)
}

func (h *Handlers) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform":   "agentx",
		"version":    Version,
		"agentCount": len(h.container.List()),
	})
}

func (h *Handlers) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"timestamp":  time.Now().UTC().UnixMilli(),
		"agentCount": len(h.container.List()),
	})
}

// headCollection answers HEAD on a collection: the resource always exists.
func (h *Handlers) headCollection(c *gin.Context) {
	c.Status(http.StatusOK)
}

// fail maps domain errors onto HTTP status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, container.ErrAgentNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrImageInUse),
		errors.Is(err, container.ErrImageBusy),
		errors.Is(err, auth.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInviteCodeInvalid):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		if aerr := xerrors.AsAgentError(err); aerr != nil {
			h.failAgent(c, aerr)
			return
		}
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// failAgent maps the error taxonomy: a busy agent is a conflict, a destroyed
// one is gone.
func (h *Handlers) failAgent(c *gin.Context, aerr *xerrors.AgentError) {
	status := http.StatusInternalServerError
	switch aerr.Code {
	case xerrors.CodeAgentBusy:
		status = http.StatusConflict
	case xerrors.CodeAgentDestroyed:
		status = http.StatusGone
	case xerrors.CodeInvalidMessage, xerrors.CodeSchemaViolation:
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"error":    aerr.Message,
		"category": string(aerr.Category),
		"code":     string(aerr.Code),
	})
}

type registerRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	InviteCode string `json:"inviteCode"`
}

func (h *Handlers) register(c *gin.Context) {
	var body registerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, token, err := h.auth.Register(c.Request.Context(), body.Username, body.Password, body.InviteCode)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": u, "token": token})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handlers) login(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, token, err := h.auth.Login(c.Request.Context(), body.Username, body.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "token": token})
}
