// Package index provides the SQLite-backed document catalog: metadata, text
// search (FTS5 when compiled with the sqlite_fts5 tag) and filter run history.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	path         TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	format       TEXT NOT NULL DEFAULT 'json',
	blocks       INTEGER NOT NULL DEFAULT 0,
	entity_types TEXT NOT NULL DEFAULT '[]',
	body         TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS filter_runs (
	id                     TEXT PRIMARY KEY,
	path                   TEXT NOT NULL,
	source                 TEXT NOT NULL DEFAULT '',
	depth_limited          INTEGER NOT NULL DEFAULT 0,
	block_types_reset      INTEGER NOT NULL DEFAULT 0,
	inline_styles_stripped INTEGER NOT NULL DEFAULT 0,
	atomic_blocks_reset    INTEGER NOT NULL DEFAULT 0,
	atomic_blocks_demoted  INTEGER NOT NULL DEFAULT 0,
	entities_stripped      INTEGER NOT NULL DEFAULT 0,
	changed                INTEGER NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_filter_runs_path ON filter_runs(path, created_at);
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

// Ping reports whether the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
