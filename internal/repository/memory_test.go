package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
)

func TestMemoryImages(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	img := image.Build(image.Definition{Name: "assistant"})
	img.Append(message.NewUser("hello"))
	require.NoError(t, repo.SaveImage(ctx, img))

	t.Run("get returns an isolated snapshot", func(t *testing.T) {
		got, err := repo.GetImage(ctx, img.ID)
		require.NoError(t, err)
		got.Append(message.NewUser("local only"))

		again, err := repo.GetImage(ctx, img.ID)
		require.NoError(t, err)
		assert.Len(t, again.Messages, 1)
	})

	t.Run("get missing image", func(t *testing.T) {
		_, err := repo.GetImage(ctx, "img_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set driver state", func(t *testing.T) {
		require.NoError(t, repo.SetDriverState(ctx, img.ID, map[string]any{"cursor": 1}))
		got, err := repo.GetImage(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.DriverState["cursor"])

		assert.ErrorIs(t, repo.SetDriverState(ctx, "img_missing", nil), ErrNotFound)
	})

	t.Run("append image messages", func(t *testing.T) {
		require.NoError(t, repo.AppendImageMessages(ctx, img.ID, []message.Message{message.NewUser("more")}))
		got, err := repo.GetImage(ctx, img.ID)
		require.NoError(t, err)
		assert.Len(t, got.Messages, 2)
	})

	t.Run("list orders by creation time", func(t *testing.T) {
		second := image.Build(image.Definition{Name: "assistant"})
		second.CreatedAt = img.CreatedAt.Add(time.Second)
		require.NoError(t, repo.SaveImage(ctx, second))

		images, err := repo.ListImages(ctx)
		require.NoError(t, err)
		require.Len(t, images, 2)
		assert.Equal(t, img.ID, images[0].ID)
		assert.Equal(t, second.ID, images[1].ID)
	})
}

func TestMemoryImageDeleteGuard(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	img := image.Build(image.Definition{Name: "assistant"})
	require.NoError(t, repo.SaveImage(ctx, img))
	require.NoError(t, repo.CreateSession(ctx, &Session{
		ID: "sess_1", ContainerID: "ctr_1", ImageID: img.ID, CreatedAt: time.Now().UTC(),
	}))

	// Referenced images cannot be deleted.
	assert.ErrorIs(t, repo.DeleteImage(ctx, img.ID), ErrImageInUse)

	require.NoError(t, repo.DeleteSession(ctx, "sess_1"))
	require.NoError(t, repo.DeleteImage(ctx, img.ID))
	assert.ErrorIs(t, repo.DeleteImage(ctx, img.ID), ErrNotFound)
}

func TestMemorySessionsAndMessages(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	sess := &Session{ID: "sess_1", ContainerID: "ctr_1", ImageID: "img_1", CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateSession(ctx, sess))

	t.Run("title update", func(t *testing.T) {
		require.NoError(t, repo.UpdateSessionTitle(ctx, "sess_1", "renamed"))
		got, err := repo.GetSession(ctx, "sess_1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Title)

		assert.ErrorIs(t, repo.UpdateSessionTitle(ctx, "missing", "x"), ErrNotFound)
	})

	t.Run("append requires an existing session", func(t *testing.T) {
		err := repo.AppendMessage(ctx, &MessageRecord{SessionID: "missing", Message: message.NewUser("x")})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("messages are kept in order and deleted with the session", func(t *testing.T) {
		require.NoError(t, repo.AppendMessage(ctx, &MessageRecord{SessionID: "sess_1", Message: message.NewUser("one")}))
		require.NoError(t, repo.AppendMessage(ctx, &MessageRecord{SessionID: "sess_1", Message: message.NewUser("two")}))

		recs, err := repo.ListMessages(ctx, "sess_1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "one", recs[0].Message.Text())
		assert.Equal(t, "two", recs[1].Message.Text())

		require.NoError(t, repo.DeleteSession(ctx, "sess_1"))
		recs, err = repo.ListMessages(ctx, "sess_1")
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestMemoryContainerCascade(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.SaveContainer(ctx, &Container{ID: "ctr_1", CreatedAt: time.Now().UTC()}))
	require.NoError(t, repo.CreateSession(ctx, &Session{
		ID: "sess_1", ContainerID: "ctr_1", ImageID: "img_1", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, repo.CreateSession(ctx, &Session{
		ID: "sess_2", ContainerID: "ctr_other", ImageID: "img_2", CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, repo.AppendMessage(ctx, &MessageRecord{SessionID: "sess_1", Message: message.NewUser("x")}))

	require.NoError(t, repo.DeleteContainer(ctx, "ctr_1"))

	_, err := repo.GetSession(ctx, "sess_1")
	assert.ErrorIs(t, err, ErrNotFound)
	recs, err := repo.ListMessages(ctx, "sess_1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Sessions of other containers survive.
	_, err = repo.GetSession(ctx, "sess_2")
	assert.NoError(t, err)
}

func TestMemoryDefinitions(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	require.NoError(t, repo.SaveDefinition(ctx, image.Definition{Name: "b"}))
	require.NoError(t, repo.SaveDefinition(ctx, image.Definition{Name: "a"}))

	defs, err := repo.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "b", defs[1].Name)

	def, err := repo.GetDefinition(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", def.Name)

	_, err = repo.GetDefinition(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteDefinition(ctx, "a"))
	_, err = repo.GetDefinition(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.DeleteDefinition(ctx, "a"), ErrNotFound)
}
