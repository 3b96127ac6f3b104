package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/container"
	"github.com/agentx/agentx/internal/driver"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/repository"
	"github.com/agentx/agentx/internal/session"
	"github.com/agentx/agentx/pkg/ws"
)

type gatewayFixture struct {
	gateway *Gateway
	repo    *repository.Memory
	cont    *container.Container
}

func setupGateway(t *testing.T, turns ...[]driver.ScriptEvent) *gatewayFixture {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	repo := repository.NewMemory()
	cont, err := container.New(context.Background(), container.Options{
		Repo:   repo,
		Engine: engine.New(log),
		Factory: driver.FactoryFunc(func(cfg driver.Config) (driver.Driver, error) {
			drv := driver.NewScripted(turns...)
			drv.SetState(cfg.InitialState)
			drv.SetPersist(cfg.Persist)
			return drv, nil
		}),
		Logger:      log,
		GraceWindow: 250 * time.Millisecond,
	})
	require.NoError(t, err)

	g := New(Options{
		Repo:      repo,
		Container: cont,
		Sessions:  session.NewManager(repo, log),
		Logger:    log,
	})
	return &gatewayFixture{gateway: g, repo: repo, cont: cont}
}

func request(t *testing.T, reqType, requestID string, data any) *ws.Envelope {
	t.Helper()
	env := &ws.Envelope{Type: reqType, RequestID: requestID}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		env.Data = raw
	}
	return env
}

func TestRequestAlphabetIsRegistered(t *testing.T) {
	f := setupGateway(t)

	for _, reqType := range []string{
		TypeImageListRequest,
		TypeImageDeleteRequest,
		TypeImageSnapshotRequest,
		TypeAgentListRequest,
		TypeAgentDestroyRequest,
		TypeGetStateRequest,
		TypeGetMessagesRequest,
	} {
		assert.True(t, f.gateway.Dispatcher().HasHandler(reqType), reqType)
	}
}

func TestImageRequestsOverDispatcher(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	img := image.Build(image.Definition{Name: "assistant"})
	require.NoError(t, f.repo.SaveImage(ctx, img))

	t.Run("list", func(t *testing.T) {
		reply, err := f.gateway.Dispatcher().Dispatch(ctx, request(t, TypeImageListRequest, "r1", nil))
		require.NoError(t, err)
		assert.Equal(t, "image_list_response", reply.Type)
		images := reply.Data.(map[string]any)["images"].([]*image.Image)
		require.Len(t, images, 1)
		assert.Equal(t, img.ID, images[0].ID)
	})

	t.Run("snapshot", func(t *testing.T) {
		reply, err := f.gateway.Dispatcher().Dispatch(ctx,
			request(t, TypeImageSnapshotRequest, "r2", map[string]any{"imageId": img.ID}))
		require.NoError(t, err)
		assert.Equal(t, "image_snapshot_response", reply.Type)

		data := reply.Data.(map[string]any)
		snapshotID := data["snapshotId"].(string)
		require.NotEmpty(t, snapshotID)
		assert.NotEqual(t, img.ID, snapshotID)

		snap, err := f.repo.GetImage(ctx, snapshotID)
		require.NoError(t, err)
		assert.Equal(t, img.ID, snap.ParentImageID)
	})

	t.Run("delete", func(t *testing.T) {
		reply, err := f.gateway.Dispatcher().Dispatch(ctx,
			request(t, TypeImageDeleteRequest, "r3", map[string]any{"imageId": img.ID}))
		require.NoError(t, err)
		assert.Equal(t, "image_delete_response", reply.Type)
		assert.Equal(t, true, reply.Data.(map[string]any)["deleted"])

		_, err = f.repo.GetImage(ctx, img.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("delete missing image fails", func(t *testing.T) {
		_, err := f.gateway.Dispatcher().Dispatch(ctx,
			request(t, TypeImageDeleteRequest, "r4", map[string]any{"imageId": "img_missing"}))
		assert.Error(t, err)
	})
}

func TestAgentRequestsOverDispatcher(t *testing.T) {
	f := setupGateway(t)
	ctx := context.Background()

	img := image.Build(image.Definition{Name: "assistant"})
	require.NoError(t, f.repo.SaveImage(ctx, img))
	ag, err := f.cont.Run(ctx, img)
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		reply, err := f.gateway.Dispatcher().Dispatch(ctx, request(t, TypeAgentListRequest, "r1", nil))
		require.NoError(t, err)
		assert.Equal(t, "agent_list_response", reply.Type)
		agents := reply.Data.(map[string]any)["agents"].([]map[string]any)
		require.Len(t, agents, 1)
		assert.Equal(t, ag.ID, agents[0]["agentId"])
		assert.Equal(t, img.ID, agents[0]["imageId"])
	})

	t.Run("state", func(t *testing.T) {
		env := request(t, TypeGetStateRequest, "r2", nil)
		env.AgentID = ag.ID
		reply, err := f.gateway.Dispatcher().Dispatch(ctx, env)
		require.NoError(t, err)
		assert.Equal(t, "get_state_response", reply.Type)
		assert.Equal(t, "idle", reply.Data.(map[string]any)["state"])
	})

	t.Run("destroy", func(t *testing.T) {
		reply, err := f.gateway.Dispatcher().Dispatch(ctx,
			request(t, TypeAgentDestroyRequest, "r3", map[string]any{"agentId": ag.ID}))
		require.NoError(t, err)
		assert.Equal(t, "agent_destroy_response", reply.Type)
		assert.Equal(t, true, reply.Data.(map[string]any)["destroyed"])

		_, err = f.cont.Get(ag.ID)
		assert.Error(t, err)
	})

	t.Run("destroy unknown agent fails", func(t *testing.T) {
		_, err := f.gateway.Dispatcher().Dispatch(ctx,
			request(t, TypeAgentDestroyRequest, "r4", map[string]any{"agentId": "ag_missing"}))
		assert.Error(t, err)
	})
}
