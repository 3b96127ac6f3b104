// Package auth implements user accounts, invite-code gated registration and
// JWT issue/verify. Auth records live in their own SQLite store, separate
// from the conversation data.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentx/agentx/internal/db"
)

// User is a registered account. The password hash never leaves the store.
type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type userRow struct {
	User
	PasswordHash string `db:"password_hash"`
}

// ErrUserNotFound reports a lookup of an unknown user.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameTaken reports a registration with an existing username.
var ErrUsernameTaken = errors.New("username already taken")

// Store persists users in the auth SQLite database.
type Store struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewStore opens (or creates) the auth store at the given path.
func NewStore(path string) (*Store, error) {
	writer, err := db.OpenWriter(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open auth store: %w", err)
	}
	reader, err := db.OpenReader(path)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open auth store reader: %w", err)
	}
	s := &Store{
		db: sqlx.NewDb(writer, "sqlite3"),
		ro: sqlx.NewDb(reader, "sqlite3"),
	}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize auth schema: %w", err)
	}
	return nil
}

// CreateUser inserts a user with its password hash.
func (s *Store) CreateUser(ctx context.Context, u *User, passwordHash string) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Username, passwordHash, u.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	var u User
	err := s.ro.GetContext(ctx, &u, `
		SELECT id, username, created_at FROM users WHERE id = ?
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Credentials retrieves a user and its password hash by username.
func (s *Store) Credentials(ctx context.Context, username string) (*User, string, error) {
	var row userRow
	err := s.ro.GetContext(ctx, &row, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = ?
	`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrUserNotFound
	}
	if err != nil {
		return nil, "", err
	}
	return &row.User, row.PasswordHash, nil
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.ro.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases both connection pools.
func (s *Store) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.ro != nil {
		errs = append(errs, s.ro.Close())
	}
	return errors.Join(errs...)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
