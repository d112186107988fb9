// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/linkledger/internal/api"
	"github.com/starford/linkledger/internal/index"
	"github.com/starford/linkledger/internal/linkservice"
	"github.com/starford/linkledger/internal/mcpserver"
	"github.com/starford/linkledger/internal/sse"
	"github.com/starford/linkledger/internal/storage"
	"github.com/starford/linkledger/internal/syncer"
)

var errConfigRequired = errors.New("config is required")

// runtime is the wired ledger stack shared by every entry point.
type runtime struct {
	store      storage.Provider
	closeStore func() error
	db         *index.DB
	ctrl       *syncer.Controller
	svc        *linkservice.Service
}

func (a *application) start(ctx context.Context, events linkservice.Publisher) (*runtime, error) {
	cfg := a.config

	store, closeStore, err := openStore(ctx, cfg.Store, a.logger)
	if err != nil {
		return nil, err
	}

	// Initialize SQLite index.
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("init index: %w", err)
	}

	ctrl := syncer.New(store, syncer.Config{
		Path:        cfg.Ledger.Path,
		Title:       cfg.Ledger.Title,
		Author:      cfg.Ledger.Author,
		MaxAttempts: cfg.Sync.MaxAttempts,
		BaseBackoff: cfg.Sync.BaseBackoff,
		MaxBackoff:  cfg.Sync.MaxBackoff,
		CallTimeout: cfg.Sync.CallTimeout,
	}, a.logger)

	return &runtime{
		store:      store,
		closeStore: closeStore,
		db:         db,
		ctrl:       ctrl,
		svc:        linkservice.NewService(ctrl, db, events, a.logger),
	}, nil
}

func (r *runtime) close(logger *slog.Logger) {
	if err := r.db.Close(); err != nil {
		logger.Warn("index close failed", slog.String("error", err.Error()))
	}
	if err := r.closeStore(); err != nil {
		logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stdout, opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("ledger_path", cfg.Ledger.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := app.start(ctx, broker)
	if err != nil {
		return err
	}
	defer rt.close(logger)

	// Run initial sync.
	if _, err := index.Sync(ctx, rt.db, rt.ctrl, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.store.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Keep the index in step with edits made outside this process.
	if fs, ok := rt.store.(*storage.FS); ok {
		g.Go(func() error {
			if err := index.Watch(gCtx, rt.db, rt.ctrl, fs.Root(), logger, rt.svc.NotifyExternalChange); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	} else if cfg.Sync.PollInterval > 0 {
		g.Go(func() error {
			poll(gCtx, rt.svc, cfg.Sync.PollInterval, logger)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// SSE streams only end when the broker closes them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group context so background loops stop with the
// server.
var errShutdown = errors.New("shutdown")

// poll re-indexes the ledger on a fixed interval until ctx is done.
func poll(ctx context.Context, svc *linkservice.Service, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Reindex(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("index poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}
	slog.SetDefault(app.logger)

	rt, err := app.start(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.close(app.logger)

	if _, err := index.Sync(ctx, rt.db, rt.ctrl, app.logger); err != nil {
		app.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	app.logger.Info("MCP server starting", slog.String("ledger_path", app.config.Ledger.Path))
	return mcpserver.New(rt.svc, app.version).ServeStdio()
}

// Exec wires the ledger stack, runs fn against it and tears it down. It
// backs the one-shot CLI commands; logs go to stderr.
func Exec(ctx context.Context, fn func(context.Context, *linkservice.Service) error, opts ...Option) error {
	app, err := newApplication(os.Stderr, opts)
	if err != nil {
		return err
	}

	rt, err := app.start(ctx, nil)
	if err != nil {
		return err
	}
	defer rt.close(app.logger)

	return fn(ctx, rt.svc)
}
