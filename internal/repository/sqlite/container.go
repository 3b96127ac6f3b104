package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentx/agentx/internal/image"
	"github.com/agentx/agentx/internal/repository"
)

// SaveContainer upserts a container record.
func (r *Repository) SaveContainer(ctx context.Context, c *repository.Container) error {
	configJSON, err := marshalJSON(c.Config, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize container config: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO containers (id, config, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET config = excluded.config
	`, c.ID, configJSON, c.CreatedAt)
	return err
}

// GetContainer retrieves a container by id.
func (r *Repository) GetContainer(ctx context.Context, containerID string) (*repository.Container, error) {
	c := &repository.Container{}
	var configJSON string
	err := r.ro.QueryRowContext(ctx, `
		SELECT id, config, created_at FROM containers WHERE id = ?
	`, containerID).Scan(&c.ID, &configJSON, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(configJSON, &c.Config); err != nil {
		return nil, fmt.Errorf("failed to deserialize container config: %w", err)
	}
	return c, nil
}

// ListContainers returns all containers ordered by creation time.
func (r *Repository) ListContainers(ctx context.Context) ([]*repository.Container, error) {
	rows, err := r.ro.QueryContext(ctx, `SELECT id, config, created_at FROM containers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*repository.Container
	for rows.Next() {
		c := &repository.Container{}
		var configJSON string
		if err := rows.Scan(&c.ID, &configJSON, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(configJSON, &c.Config); err != nil {
			return nil, fmt.Errorf("failed to deserialize container config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteContainer removes a container; its sessions and their messages
// cascade.
func (r *Repository) DeleteContainer(ctx context.Context, containerID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM containers WHERE id = ?`, containerID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SaveDefinition upserts a definition record.
func (r *Repository) SaveDefinition(ctx context.Context, def image.Definition) error {
	paramsJSON, err := marshalJSON(def.Parameters, "{}")
	if err != nil {
		return fmt.Errorf("failed to serialize definition parameters: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO definitions (name, description, system_prompt, model, parameters, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			system_prompt = excluded.system_prompt,
			model = excluded.model,
			parameters = excluded.parameters
	`, def.Name, def.Description, def.SystemPrompt, def.Model, paramsJSON, time.Now().UTC())
	return err
}

// GetDefinition retrieves one persisted definition by name.
func (r *Repository) GetDefinition(ctx context.Context, name string) (image.Definition, error) {
	var def image.Definition
	var paramsJSON string
	err := r.ro.QueryRowContext(ctx, `
		SELECT name, description, system_prompt, model, parameters FROM definitions WHERE name = ?
	`, name).Scan(&def.Name, &def.Description, &def.SystemPrompt, &def.Model, &paramsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return image.Definition{}, repository.ErrNotFound
	}
	if err != nil {
		return image.Definition{}, err
	}
	if paramsJSON != "" && paramsJSON != "{}" {
		if err := json.Unmarshal([]byte(paramsJSON), &def.Parameters); err != nil {
			return image.Definition{}, fmt.Errorf("failed to deserialize definition parameters: %w", err)
		}
	}
	return def, nil
}

// DeleteDefinition removes a persisted definition.
func (r *Repository) DeleteDefinition(ctx context.Context, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM definitions WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDefinitions returns all persisted definitions sorted by name.
func (r *Repository) ListDefinitions(ctx context.Context) ([]image.Definition, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT name, description, system_prompt, model, parameters FROM definitions ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []image.Definition
	for rows.Next() {
		var def image.Definition
		var paramsJSON string
		if err := rows.Scan(&def.Name, &def.Description, &def.SystemPrompt, &def.Model, &paramsJSON); err != nil {
			return nil, err
		}
		if paramsJSON != "" && paramsJSON != "{}" {
			if err := json.Unmarshal([]byte(paramsJSON), &def.Parameters); err != nil {
				return nil, fmt.Errorf("failed to deserialize definition parameters: %w", err)
			}
		}
		out = append(out, def)
	}
	return out, rows.Err()
}
