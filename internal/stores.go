package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/linkledger/internal/storage"
)

// openStore builds the configured backend. The returned close function is
// never nil.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (storage.Provider, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendGit:
		store, err := storage.NewGit(storage.GitOptions{
			Dir:         cfg.Git.Dir,
			Branch:      cfg.Git.Branch,
			AuthorName:  cfg.Git.AuthorName,
			AuthorEmail: cfg.Git.AuthorEmail,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init git store: %w", err)
		}
		logger.Info("Using git store", slog.String("dir", cfg.Git.Dir), slog.String("branch", cfg.Git.Branch))
		return store, noop, nil

	case BackendRedis:
		store, err := storage.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("init redis store: %w", err)
		}
		logger.Info("Using redis store", slog.String("prefix", cfg.Redis.Prefix))
		return store, store.Close, nil

	case BackendPostgres:
		store, err := storage.OpenPostgres(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		logger.Info("Using postgres store")
		return store, store.Close, nil

	default:
		// Ensure store directory exists.
		if err := os.MkdirAll(cfg.FS.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store dir: %w", err)
		}
		store, err := storage.NewFS(cfg.FS.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("init fs store: %w", err)
		}
		logger.Info("Using fs store", slog.String("dir", store.Root()))
		return store, noop, nil
	}
}
