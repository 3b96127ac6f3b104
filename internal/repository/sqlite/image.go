package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/message"
	"github.com/agentx/agentx/internal/repository"
)

// SaveImage upserts the full image record including the message blob and
// driver state.
func (r *Repository) SaveImage(ctx context.Context, img *image.Image) error {
	defJSON, err := marshalJSON(img.Definition, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize image definition: %w", err)
	}
	configJSON, err := marshalJSON(img.Config, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize image config: %w", err)
	}
	messagesJSON, err := marshalJSON(img.Messages, "[]")
	if err != nil {
		return fmt.Errorf("failed to serialize image messages: %w", err)
	}
	stateJSON, err := marshalJSON(img.DriverState, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize driver state: %w", err)
	}

	now := time.Now().UTC()
	createdAt := img.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO images (id, type, definition_name, parent_image_id, definition, config, messages, driver_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config = excluded.config,
			messages = excluded.messages,
			driver_state = excluded.driver_state,
			updated_at = excluded.updated_at
	`, img.ID, string(img.Type), img.DefinitionName, img.ParentImageID, defJSON, configJSON, messagesJSON, stateJSON, createdAt, now)
	return err
}

// GetImage loads one image with its full history.
func (r *Repository) GetImage(ctx context.Context, imageID string) (*image.Image, error) {
	row := r.ro.QueryRowContext(ctx, `
		SELECT id, type, definition_name, parent_image_id, definition, config, messages, driver_state, created_at
		FROM images WHERE id = ?
	`, imageID)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return img, err
}

// ListImages returns all images ordered by creation time.
func (r *Repository) ListImages(ctx context.Context) ([]*image.Image, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, type, definition_name, parent_image_id, definition, config, messages, driver_state, created_at
		FROM images ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*image.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// DeleteImage removes an image. Images referenced by sessions cannot be
// deleted.
func (r *Repository) DeleteImage(ctx context.Context, imageID string) error {
	var refs int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE image_id = ?`, imageID).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return repository.ErrImageInUse
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, imageID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetDriverState writes the opaque resume cursor.
func (r *Repository) SetDriverState(ctx context.Context, imageID string, state map[string]any) error {
	stateJSON, err := marshalJSON(state, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize driver state: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE images SET driver_state = ?, updated_at = ? WHERE id = ?
	`, stateJSON, time.Now().UTC(), imageID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendImageMessages appends to the image's message blob. The history is
// append-only; this reads the blob, extends it and writes it back on the
// single writer connection.
func (r *Repository) AppendImageMessages(ctx context.Context, imageID string, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	var blob string
	err := r.db.QueryRowContext(ctx, `SELECT messages FROM images WHERE id = ?`, imageID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}

	var history []message.Message
	if blob != "" && blob != "[]" {
		if err := json.Unmarshal([]byte(blob), &history); err != nil {
			return fmt.Errorf("failed to deserialize image messages: %w", err)
		}
	}
	history = append(history, msgs...)

	out, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to serialize image messages: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE images SET messages = ?, updated_at = ? WHERE id = ?
	`, string(out), time.Now().UTC(), imageID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*image.Image, error) {
	var img image.Image
	var typ string
	var defJSON, configJSON, messagesJSON, stateJSON string
	if err := row.Scan(&img.ID, &typ, &img.DefinitionName, &img.ParentImageID,
		&defJSON, &configJSON, &messagesJSON, &stateJSON, &img.CreatedAt); err != nil {
		return nil, err
	}
	img.Type = image.Type(typ)
	if err := unmarshalJSON(defJSON, &img.Definition); err != nil {
		return nil, fmt.Errorf("failed to deserialize image definition: %w", err)
	}
	if err := unmarshalJSON(configJSON, &img.Config); err != nil {
		return nil, fmt.Errorf("failed to deserialize image config: %w", err)
	}
	if err := unmarshalJSON(messagesJSON, &img.Messages); err != nil {
		return nil, fmt.Errorf("failed to deserialize image messages: %w", err)
	}
	if err := unmarshalJSON(stateJSON, &img.DriverState); err != nil {
		return nil, fmt.Errorf("failed to deserialize driver state: %w", err)
	}
	return &img, nil
}

func marshalJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalJSON(raw string, v any) error {
	if raw == "" || raw == "{}" || raw == "[]" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
