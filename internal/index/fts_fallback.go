//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/linkledger/internal/ledger"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses a LIKE fallback on the links table.
	return nil
}

func ftsInsert(_ *sql.Tx, _ int, _ string, _ ledger.Entry) error {
	// Fields are already stored in the links table; nothing extra to do.
	return nil
}

func ftsClear(_ *sql.Tx) error { return nil }

// Search performs a LIKE-based search (fallback when FTS5 is not compiled in).
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	rows, err := db.conn.Query(`
		SELECT category, label, reference, substr(description, 1, 200)
		FROM links
		WHERE label LIKE ? OR reference LIKE ? OR description LIKE ? OR category LIKE ?
		ORDER BY position
		LIMIT ?
	`, like, like, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Category, &r.Label, &r.Reference, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
