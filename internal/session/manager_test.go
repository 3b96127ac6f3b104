package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/logger"
	"github.com/agentx/agentx/internal/container"
	"github.com/agentx/agentx/internal/driver"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
	"github.com/agentx/agentx/internal/repository"
)

type fixture struct {
	manager   *Manager
	container *container.Container
	repo      *repository.Memory
	drivers   []*driver.Scripted
}

func setupManager(t *testing.T, turns ...[]driver.ScriptEvent) *fixture {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	f := &fixture{repo: repository.NewMemory()}
	f.container, err = container.New(context.Background(), container.Options{
		Repo:   f.repo,
		Engine: engine.New(log),
		Factory: driver.FactoryFunc(func(cfg driver.Config) (driver.Driver, error) {
			drv := driver.NewScripted(turns...)
			drv.SetState(cfg.InitialState)
			drv.SetPersist(cfg.Persist)
			f.drivers = append(f.drivers, drv)
			return drv, nil
		}),
		Logger:      log,
		GraceWindow: 250 * time.Millisecond,
	})
	require.NoError(t, err)
	f.manager = NewManager(f.repo, log)
	return f
}

func (f *fixture) saveImage(t *testing.T, msgs ...message.Message) *image.Image {
	img := image.Build(image.Definition{Name: "assistant", Model: "m"})
	img.Append(msgs...)
	require.NoError(t, f.repo.SaveImage(context.Background(), img))
	return img
}

func TestCreateRequiresImage(t *testing.T) {
	f := setupManager(t)
	_, err := f.manager.Create(context.Background(), "img_missing", f.container.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateGetListDelete(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()
	img := f.saveImage(t)

	sess, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, img.ID, sess.ImageID)

	got, err := f.manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	require.NoError(t, f.manager.SetTitle(ctx, sess.ID, "my chat"))
	got, err = f.manager.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "my chat", got.Title)

	list, err := f.manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.manager.Delete(ctx, sess.ID))
	_, err = f.manager.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResumeServesHistoryToDriver(t *testing.T) {
	f := setupManager(t, driver.TextTurn("msg_1", "reply"))
	ctx := context.Background()

	img := f.saveImage(t,
		message.NewUser("earlier question"),
		message.NewAssistant("a0", []message.Part{message.TextPart("earlier answer")}, message.StopReasonStop, "m"),
	)
	sess, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)

	ag, err := f.manager.Resume(ctx, sess.ID, f.container)
	require.NoError(t, err)
	require.NoError(t, ag.ReceiveText(ctx, "follow-up"))

	require.Len(t, f.drivers, 1)
	req, ok := f.drivers[0].LastRequest()
	require.True(t, ok)
	require.Len(t, req.History, 2)
	assert.Equal(t, "earlier question", req.History[0].Text())
	assert.Equal(t, "follow-up", req.UserMessage.Text())
}

func TestResumeBusyImage(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	img := f.saveImage(t)
	sess, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)

	first, err := f.manager.Resume(ctx, sess.ID, f.container)
	require.NoError(t, err)

	// The image's driver state has one owner at a time.
	_, err = f.manager.Resume(ctx, sess.ID, f.container)
	assert.ErrorIs(t, err, container.ErrImageBusy)

	first.Destroy()
	_, err = f.manager.Resume(ctx, sess.ID, f.container)
	assert.NoError(t, err)
}

func TestCollectorPersistsTurnMessages(t *testing.T) {
	f := setupManager(t, driver.TextTurn("msg_1", "the answer"))
	ctx := context.Background()

	img := f.saveImage(t)
	sess, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)

	ag, err := f.manager.Resume(ctx, sess.ID, f.container)
	require.NoError(t, err)
	require.NoError(t, ag.ReceiveText(ctx, "question"))

	// Collection runs off the bus handler on its own goroutine.
	require.Eventually(t, func() bool {
		recs, err := f.repo.ListMessages(ctx, sess.ID)
		return err == nil && len(recs) == 2
	}, time.Second, 5*time.Millisecond)

	recs, err := f.repo.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "question", recs[0].Message.Text())
	assert.Equal(t, "the answer", recs[1].Message.Text())
	assert.Equal(t, ag.ID, recs[0].AgentID)

	// Destroy flushes and detaches the collector.
	ag.Destroy()
}

func TestForkIsolation(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	img := f.saveImage(t, message.NewUser("shared history"))
	sess, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.SetTitle(ctx, sess.ID, "original"))

	forked, err := f.manager.Fork(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, forked.ID)
	assert.NotEqual(t, img.ID, forked.ImageID)
	assert.Equal(t, "Fork of original", forked.Title)

	// Both sessions see the pre-fork history.
	msgs, err := f.manager.GetMessages(ctx, forked.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "shared history", msgs[0].Text())

	// The forked image records its parent.
	derived, err := f.repo.GetImage(ctx, forked.ImageID)
	require.NoError(t, err)
	assert.Equal(t, image.TypeDerived, derived.Type)
	assert.Equal(t, img.ID, derived.ParentImageID)

	// Post-fork growth on the original stays on the original.
	require.NoError(t, f.repo.AppendImageMessages(ctx, img.ID, []message.Message{message.NewUser("only original")}))
	origMsgs, err := f.manager.GetMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, origMsgs, 2)
	forkMsgs, err := f.manager.GetMessages(ctx, forked.ID)
	require.NoError(t, err)
	assert.Len(t, forkMsgs, 1)
}

func TestForkMissingSession(t *testing.T) {
	f := setupManager(t)
	_, err := f.manager.Fork(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionsOnSameImageShareHistory(t *testing.T) {
	f := setupManager(t)
	ctx := context.Background()

	img := f.saveImage(t, message.NewUser("hello"))
	first, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)
	second, err := f.manager.Create(ctx, img.ID, f.container.ID)
	require.NoError(t, err)

	a, err := f.manager.GetMessages(ctx, first.ID)
	require.NoError(t, err)
	b, err := f.manager.GetMessages(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
