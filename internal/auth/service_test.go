package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx/agentx/internal/common/config"
	"github.com/agentx/agentx/internal/common/logger"
)

func setupService(t *testing.T, inviteRequired bool) *Service {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	store, err := NewStore(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewService(store, config.AuthConfig{
		JWTSecret:          "test-secret",
		TokenDuration:      3600,
		InviteCodeRequired: inviteRequired,
	}, log)
}

func TestRegisterAndLogin(t *testing.T) {
	s := setupService(t, false)
	ctx := context.Background()

	user, token, err := s.Register(ctx, "alice", "hunter2", "")
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, token)

	logged, token2, err := s.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)
	assert.NotEmpty(t, token2)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := setupService(t, false)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "alice", "hunter2", "")
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := s.Login(ctx, "alice", "wrong")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := s.Login(ctx, "bob", "hunter2")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestRegisterValidation(t *testing.T) {
	s := setupService(t, false)
	ctx := context.Background()

	t.Run("empty username", func(t *testing.T) {
		_, _, err := s.Register(ctx, "   ", "hunter2", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("empty password", func(t *testing.T) {
		_, _, err := s.Register(ctx, "alice", "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("duplicate username", func(t *testing.T) {
		_, _, err := s.Register(ctx, "alice", "hunter2", "")
		require.NoError(t, err)
		_, _, err = s.Register(ctx, "alice", "other", "")
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("username is trimmed", func(t *testing.T) {
		user, _, err := s.Register(ctx, "  bob  ", "hunter2", "")
		require.NoError(t, err)
		assert.Equal(t, "bob", user.Username)
	})
}

func TestInviteCodeGate(t *testing.T) {
	s := setupService(t, true)
	ctx := context.Background()

	_, _, err := s.Register(ctx, "alice", "hunter2", "not-a-code")
	assert.ErrorIs(t, err, ErrInviteCodeInvalid)

	_, _, err = s.Register(ctx, "alice", "hunter2", "")
	assert.ErrorIs(t, err, ErrInviteCodeInvalid)

	_, _, err = s.Register(ctx, "alice", "hunter2", InviteCode(time.Now()))
	assert.NoError(t, err)
}

func TestInviteCodeIsLocalMidnight(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 0, time.Local)
	midnight := time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)
	assert.Equal(t, InviteCode(now), InviteCode(midnight))
	assert.NotEqual(t, InviteCode(now), InviteCode(now.AddDate(0, 0, 1)))
}

func TestVerifyToken(t *testing.T) {
	s := setupService(t, false)
	ctx := context.Background()

	user, token, err := s.Register(ctx, "alice", "hunter2", "")
	require.NoError(t, err)

	got, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "alice", got.Username)

	t.Run("tampered token", func(t *testing.T) {
		_, err := s.Verify(token + "x")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := s.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := setupService(t, false)
		other.secret = []byte("a-different-secret")
		_, err := other.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestStoreLookups(t *testing.T) {
	s := setupService(t, false)
	ctx := context.Background()

	n, err := s.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	user, _, err := s.Register(ctx, "alice", "hunter2", "")
	require.NoError(t, err)

	got, err := s.store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = s.store.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	n, err = s.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
