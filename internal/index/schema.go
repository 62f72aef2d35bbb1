// Package index provides a SQLite-backed catalogue of workspace documents with
// optional FTS5 search over reference keys.
//
// The index is derived data. Workspace documents on disk stay the source of
// truth and the index can be rebuilt from them at any time with Sync.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS workspaces (
	name         TEXT PRIMARY KEY,
	checksum     TEXT NOT NULL DEFAULT '',
	group_count  INTEGER NOT NULL DEFAULT 0,
	record_count INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS groups (
	workspace    TEXT NOT NULL,
	id           TEXT NOT NULL,
	key          TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (workspace, id)
);

CREATE INDEX IF NOT EXISTS idx_groups_key ON groups(key);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
