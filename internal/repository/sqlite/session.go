package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentx/agentx/internal/id"
	"github.com/agentx/agentx/internal/repository"
)

// CreateSession persists a new session.
func (r *Repository) CreateSession(ctx context.Context, s *repository.Session) error {
	if s.ID == "" {
		s.ID = id.NewSession()
	}
	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, container_id, image_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.ContainerID, s.ImageID, s.Title, s.CreatedAt, s.UpdatedAt)
	return err
}

// GetSession retrieves a session by id.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	s := &repository.Session{}
	err := r.ro.GetContext(ctx, s, `
		SELECT id, container_id, image_id, title, created_at, updated_at
		FROM sessions WHERE id = ?
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSessions returns all sessions ordered by creation time.
func (r *Repository) ListSessions(ctx context.Context) ([]*repository.Session, error) {
	var out []*repository.Session
	err := r.ro.SelectContext(ctx, &out, `
		SELECT id, container_id, image_id, title, created_at, updated_at
		FROM sessions ORDER BY created_at
	`)
	return out, err
}

// ListSessionsByImage returns the sessions referencing an image.
func (r *Repository) ListSessionsByImage(ctx context.Context, imageID string) ([]*repository.Session, error) {
	var out []*repository.Session
	err := r.ro.SelectContext(ctx, &out, `
		SELECT id, container_id, image_id, title, created_at, updated_at
		FROM sessions WHERE image_id = ? ORDER BY created_at
	`, imageID)
	return out, err
}

// UpdateSessionTitle renames a session.
func (r *Repository) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?
	`, title, time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteSession removes a session; its messages cascade.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendMessage persists one collected message for a session.
func (r *Repository) AppendMessage(ctx context.Context, rec *repository.MessageRecord) error {
	if rec.ID == "" {
		rec.ID = rec.Message.ID
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec.Message)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO session_messages (id, session_id, agent_id, kind, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.SessionID, rec.AgentID, string(rec.Message.Kind), string(payload), rec.CreatedAt)
	return err
}

// ListMessages returns a session's messages in chronological order.
func (r *Repository) ListMessages(ctx context.Context, sessionID string) ([]*repository.MessageRecord, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, session_id, agent_id, payload, created_at
		FROM session_messages WHERE session_id = ? ORDER BY created_at, rowid
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.MessageRecord
	for rows.Next() {
		rec := &repository.MessageRecord{}
		var payload string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.AgentID, &payload, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Message); err != nil {
			return nil, fmt.Errorf("failed to deserialize message: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
