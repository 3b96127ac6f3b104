// Package sqlite implements the core store on SQLite.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agentx/agentx/internal/db"
)

// Repository is the SQLite-backed core store.
type Repository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader (read-only pool)
	ownsDB bool
}

// New opens the database at path and initializes the schema.
func New(path string) (*Repository, error) {
	writer, err := db.OpenWriter(path)
	if err != nil {
		return nil, err
	}
	reader, err := db.OpenReader(path)
	if err != nil {
		_ = writer.Close()
		return nil, err
	}
	return newRepository(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"), true)
}

// NewWithDB creates a repository over existing connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*Repository, error) {
	return newRepository(writer, reader, false)
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*Repository, error) {
	repo := &Repository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			_ = writer.Close()
			_ = reader.Close()
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the connections when this repository owns them.
func (r *Repository) Close() error {
	if !r.ownsDB {
		return nil
	}
	if err := r.ro.Close(); err != nil {
		return err
	}
	return r.db.Close()
}

// initSchema creates the tables if they don't exist.
func (r *Repository) initSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS definitions (
		name TEXT PRIMARY KEY,
		description TEXT DEFAULT '',
		system_prompt TEXT DEFAULT '',
		model TEXT DEFAULT '',
		parameters TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS images (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		definition_name TEXT NOT NULL,
		parent_image_id TEXT DEFAULT '',
		definition TEXT NOT NULL DEFAULT '{}',
		config TEXT DEFAULT '{}',
		messages TEXT NOT NULL DEFAULT '[]',
		driver_state TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS containers (
		id TEXT PRIMARY KEY,
		config TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL,
		image_id TEXT NOT NULL,
		title TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (container_id) REFERENCES containers(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS session_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_id TEXT DEFAULT '',
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_images_definition_name ON images(definition_name);
	CREATE INDEX IF NOT EXISTS idx_sessions_container_id ON sessions(container_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_image_id ON sessions(image_id);
	CREATE INDEX IF NOT EXISTS idx_session_messages_session_id ON session_messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_session_messages_session_created ON session_messages(session_id, created_at);
	`)
	return err
}
