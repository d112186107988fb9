package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/checksum"
	"github.com/starford/linkledger/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ledger_documents (
	path       TEXT PRIMARY KEY,
	content    BYTEA NOT NULL,
	version    TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	author     TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_revisions (
	id           BIGSERIAL PRIMARY KEY,
	path         TEXT NOT NULL,
	version      TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	author       TEXT NOT NULL DEFAULT '',
	committed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ledger_revisions_path_idx ON ledger_revisions (path, id DESC);
`

// Postgres implements Provider on a PostgreSQL table. Conditional writes
// are single UPDATE/INSERT statements guarded by the stored version.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping db: %w", pgError(err))
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: create schema: %w", pgError(err))
	}
	return &Postgres{db: db}, nil
}

// Get returns the stored document.
func (p *Postgres) Get(ctx context.Context, path string) (Object, error) {
	if path == "" {
		return Object{}, fmt.Errorf("storage: %w: empty path", apperr.ErrMalformedRequest)
	}
	var obj Object
	err := p.db.QueryRowContext(ctx,
		`SELECT content, version FROM ledger_documents WHERE path = $1`, path,
	).Scan(&obj.Content, &obj.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return Object{}, fmt.Errorf("storage: get %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("storage: get %s: %w", path, pgError(err))
	}
	obj.Path = path
	return obj, nil
}

// Put writes the document when the stored version still matches.
func (p *Postgres) Put(ctx context.Context, req PutRequest) (models.Revision, error) {
	if req.Path == "" {
		return models.Revision{}, fmt.Errorf("storage: %w: empty path", apperr.ErrMalformedRequest)
	}
	rev := models.Revision{
		Path:        req.Path,
		Version:     checksum.Sum(req.Content),
		Message:     req.Message,
		Author:      req.Author,
		CommittedAt: time.Now().UTC(),
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: begin: %w", pgError(err))
	}
	defer tx.Rollback() //nolint:errcheck

	var res sql.Result
	if req.ExpectedVersion == "" {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_documents (path, content, version, message, author, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (path) DO NOTHING`,
			req.Path, req.Content, rev.Version, rev.Message, rev.Author, rev.CommittedAt)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE ledger_documents
			SET content = $2, version = $3, message = $4, author = $5, updated_at = $6
			WHERE path = $1 AND version = $7`,
			req.Path, req.Content, rev.Version, rev.Message, rev.Author, rev.CommittedAt, req.ExpectedVersion)
	}
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: put %s: %w", req.Path, pgError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: put %s: %w", req.Path, pgError(err))
	}
	if n == 0 {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT version FROM ledger_documents WHERE path = $1`, req.Path).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return models.Revision{}, fmt.Errorf("storage: put %s: %w", req.Path, pgError(err))
		}
		return models.Revision{}, &ConflictError{Path: req.Path, Expected: req.ExpectedVersion, Current: current}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_revisions (path, version, message, author, committed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rev.Path, rev.Version, rev.Message, rev.Author, rev.CommittedAt); err != nil {
		return models.Revision{}, fmt.Errorf("storage: record revision: %w", pgError(err))
	}
	if err := tx.Commit(); err != nil {
		return models.Revision{}, fmt.Errorf("storage: commit: %w", pgError(err))
	}
	return rev, nil
}

// History returns the most recent revisions of path, newest first.
func (p *Postgres) History(ctx context.Context, path string, limit int) ([]models.Revision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT version, message, author, committed_at
		FROM ledger_revisions
		WHERE path = $1
		ORDER BY id DESC
		LIMIT $2`, path, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: history %s: %w", path, pgError(err))
	}
	defer rows.Close()

	var out []models.Revision
	for rows.Next() {
		rev := models.Revision{Path: path}
		if err := rows.Scan(&rev.Version, &rev.Message, &rev.Author, &rev.CommittedAt); err != nil {
			return nil, fmt.Errorf("storage: scan revision: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// Ping checks that the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("storage: ping db: %w", pgError(err))
	}
	return nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func pgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "42501", "28000", "28P01":
			return fmt.Errorf("%w: %w", apperr.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %w", apperr.ErrRemoteUnavailable, err)
}
