// Package main is the AgentX server entry point: one binary carrying the
// conversation engine, the repository, the HTTP control surface and the
// WebSocket bridge.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentx/agentx/internal/agent"
	"github.com/agentx/agentx/internal/auth"
	"github.com/agentx/agentx/internal/common/config"
	xerrors "github.com/agentx/agentx/internal/common/errors"
	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/container"
	anthropicdriver "github.com/agentx/agentx/internal/driver/anthropic"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/event"
	"github.com/agentx/agentx/internal/gateway/handlers"
	gateways "github.com/agentx/agentx/internal/gateway/websocket"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/platform"
	"github.com/agentx/agentx/internal/repository/sqlite"
	"github.com/agentx/agentx/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting AgentX...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core record store.
	repo, err := sqlite.New(cfg.Data.CoreDBPath())
	if err != nil {
		log.Fatal("Failed to open repository", zap.Error(err), zap.String("path", cfg.Data.CoreDBPath()))
	}
	defer repo.Close()
	log.Info("Repository opened", zap.String("path", cfg.Data.CoreDBPath()))

	// Auth store and service.
	authStore, err := auth.NewStore(cfg.Data.AuthDBPath())
	if err != nil {
		log.Fatal("Failed to open auth store", zap.Error(err))
	}
	defer authStore.Close()
	authSvc := auth.NewService(authStore, cfg.Auth, log)
	if cfg.Auth.InviteCodeRequired {
		log.Info("Registration gated by invite code")
	}

	// Platform bus and error manager.
	platformBus, err := platform.NewBus(cfg.NATS, log)
	if err != nil {
		log.Fatal("Failed to initialize platform bus", zap.Error(err))
	}
	defer platformBus.Close()
	if cfg.NATS.URL != "" {
		log.Info("Platform bus on NATS", zap.String("url", cfg.NATS.URL))
	} else {
		log.Info("Platform bus in memory")
	}
	errMgr := platform.NewErrorManager(platformBus, log)

	// Definitions: built-in default plus whatever earlier runs persisted.
	registry := image.NewRegistry()
	if err := registry.Register(image.Definition{
		Name:         "assistant",
		Description:  "General-purpose conversational assistant",
		SystemPrompt: "You are a helpful assistant.",
		Model:        cfg.Provider.Model,
	}); err != nil {
		log.Fatal("Failed to register default definition", zap.Error(err))
	}
	persisted, err := repo.ListDefinitions(ctx)
	if err != nil {
		log.Fatal("Failed to load definitions", zap.Error(err))
	}
	for _, def := range persisted {
		if _, exists := registry.Get(def.Name); !exists {
			if err := registry.Register(def); err != nil {
				log.Warn("Skipping persisted definition", zap.String("name", def.Name), zap.Error(err))
			}
		}
	}
	for _, def := range registry.List() {
		if err := repo.SaveDefinition(ctx, def); err != nil {
			log.Warn("Failed to persist definition", zap.String("name", def.Name), zap.Error(err))
		}
	}

	// Driver factory.
	factory, err := anthropicdriver.NewFactory(anthropicdriver.ClientConfig{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
		Model:   cfg.Provider.Model,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize provider driver", zap.Error(err))
	}

	// Engine, container, sessions.
	eng := engine.New(log)
	ctr, err := container.New(ctx, container.Options{
		Repo:    repo,
		Engine:  eng,
		Factory: factory,
		Logger:  log,
	})
	if err != nil {
		log.Fatal("Failed to create container", zap.Error(err))
	}
	sessions := session.NewManager(repo, log)
	log.Info("Container ready", zap.String("container_id", ctr.ID))

	// Every agent brought live is observed by the error manager and mirrored
	// onto the platform bus.
	onAgent := func(ag *agent.Agent) {
		errMgr.Observe(ag)
		platform.Mirror(platformBus, ag, log)
	}

	// WebSocket bridge.
	gateway := gateways.New(gateways.Options{
		Repo:      repo,
		Container: ctr,
		Sessions:  sessions,
		Logger:    log,
		OnAgent:   onAgent,
	})
	go gateway.Hub().Run(ctx)

	// Errors fan out to every connected client.
	errMgr.Register(func(agentID string, aerr *xerrors.AgentError) {
		gateway.Hub().Broadcast(event.New(event.TypeError, agentID, event.ErrorData{Error: aerr}))
	})

	// HTTP surface.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/ws", authSvc.Middleware(), gateway.Handle)
	handlers.New(handlers.Options{
		Repo:      repo,
		Registry:  registry,
		Container: ctr,
		Sessions:  sessions,
		Auth:      authSvc,
		Logger:    log,
		OnAgent:   onAgent,
	}).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening",
			zap.String("addr", server.Addr),
			zap.String("websocket", "/ws"),
			zap.String("http", "/api/v1"))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down AgentX...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Destroy live agents so driver streams cancel and images persist.
	ctr.DestroyAll()

	log.Info("AgentX stopped")
}

// corsMiddleware allows browser clients on other origins, including the
// WebSocket upgrade headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
