//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/linkledger/internal/ledger"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS links_fts USING fts5(
			position UNINDEXED,
			category,
			label,
			reference,
			description,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, pos int, category string, e ledger.Entry) error {
	_, err := tx.Exec(`INSERT INTO links_fts (position, category, label, reference, description) VALUES (?, ?, ?, ?, ?)`,
		pos, category, e.Label, e.Reference, e.Description)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsClear(tx *sql.Tx) error {
	if _, err := tx.Exec(`DELETE FROM links_fts`); err != nil {
		return fmt.Errorf("index: clear fts: %w", err)
	}
	return nil
}

// Search performs an FTS5 full-text search and returns matching links with snippets.
// Every whitespace-separated term is matched as a literal phrase, so URLs and
// domains need no escaping.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := db.conn.Query(`
		SELECT category,
		       label,
		       reference,
		       snippet(links_fts, 4, '<b>', '</b>', '...', 32)
		FROM links_fts
		WHERE links_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
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

// ftsQuery quotes each term of q as an FTS5 string so that operators and
// punctuation such as ':' or '.' are taken literally.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
