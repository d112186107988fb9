package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/linkledger/internal/ledger"
)

// LinkRow represents a row in the links table.
type LinkRow struct {
	Position    int    `json:"position"`
	Category    string `json:"category"`
	Label       string `json:"label"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

// CategoryCount is a category name with the number of links it holds.
// Uncategorized links are reported under the empty name.
type CategoryCount struct {
	Name  string `json:"name"`
	Links int    `json:"links"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	Category  string `json:"category"`
	Label     string `json:"label"`
	Reference string `json:"reference"`
	Snippet   string `json:"snippet"`
}

// Replace swaps the indexed links for the entries of doc and records the
// version they were read at, within a single transaction.
func (db *DB) Replace(path, version string, doc ledger.Document) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM links`); err != nil {
		return fmt.Errorf("index: clear links: %w", err)
	}
	if err := ftsClear(tx); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO links (position, category, label, reference, description) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer stmt.Close()

	var insertErr error
	pos := 0
	doc.Walk(func(category string, e ledger.Entry) bool {
		pos++
		if _, insertErr = stmt.Exec(pos, category, e.Label, e.Reference, e.Description); insertErr != nil {
			insertErr = fmt.Errorf("index: insert link: %w", insertErr)
			return false
		}
		if insertErr = ftsInsert(tx, pos, category, e); insertErr != nil {
			return false
		}
		return true
	})
	if insertErr != nil {
		return insertErr
	}

	_, err = tx.Exec(`
		INSERT INTO ledger_state (path, version, title, entries, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			version    = excluded.version,
			title      = excluded.title,
			entries    = excluded.entries,
			indexed_at = excluded.indexed_at
	`, path, version, doc.Title(), pos, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: record state: %w", err)
	}

	return tx.Commit()
}

// Version returns the document version the index was built from, or an
// empty string if the document has never been indexed.
func (db *DB) Version(path string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT version FROM ledger_state WHERE path = ?`, path).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: version: %w", err)
	}
	return v, nil
}

// Links returns the indexed links in document order. A non-empty category
// restricts the result to that category.
func (db *DB) Links(category string) ([]LinkRow, error) {
	query := `SELECT position, category, label, reference, description FROM links`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY position`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: links: %w", err)
	}
	defer rows.Close()

	var out []LinkRow
	for rows.Next() {
		var r LinkRow
		if err := rows.Scan(&r.Position, &r.Category, &r.Label, &r.Reference, &r.Description); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Categories returns each category holding at least one link, in document
// order.
func (db *DB) Categories() ([]CategoryCount, error) {
	rows, err := db.conn.Query(`
		SELECT category, count(*)
		FROM links
		GROUP BY category
		ORDER BY min(position)
	`)
	if err != nil {
		return nil, fmt.Errorf("index: categories: %w", err)
	}
	defer rows.Close()

	var out []CategoryCount
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Name, &c.Links); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
