// Package index provides a SQLite-backed search index over the links of the
// ledger, with optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS links (
	position    INTEGER PRIMARY KEY,
	category    TEXT NOT NULL DEFAULT '',
	label       TEXT NOT NULL,
	reference   TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_links_reference ON links(reference);
CREATE INDEX IF NOT EXISTS idx_links_category ON links(category);

CREATE TABLE IF NOT EXISTS ledger_state (
	path       TEXT PRIMARY KEY,
	version    TEXT NOT NULL DEFAULT '',
	title      TEXT NOT NULL DEFAULT '',
	entries    INTEGER NOT NULL DEFAULT 0,
	indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
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
