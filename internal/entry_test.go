package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/linkledger/internal/linkservice"
	"github.com/starford/linkledger/internal/storage"
	"github.com/starford/linkledger/internal/testutil"
)

func testConfig(t *testing.T, backend string) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Store.Backend = backend
	cfg.Store.FS.Dir = filepath.Join(dir, "data")
	cfg.Store.Git.Dir = filepath.Join(dir, "repo")
	cfg.SQLite.Path = filepath.Join(dir, "index.db")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestExec_RequiresConfig(t *testing.T) {
	err := Exec(context.Background(), func(context.Context, *linkservice.Service) error { return nil })
	if !errors.Is(err, errConfigRequired) {
		t.Fatalf("err = %v, want errConfigRequired", err)
	}
}

func TestExec_FSBackend(t *testing.T) {
	cfg := testConfig(t, BackendFS)
	ctx := context.Background()

	err := Exec(ctx, func(ctx context.Context, svc *linkservice.Service) error {
		_, err := svc.AddLink(ctx, linkservice.AddLinkRequest{URL: "https://go.dev", Title: "Go", Category: "Languages"})
		return err
	}, WithConfig(cfg), WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(cfg.Store.FS.Dir, cfg.Ledger.Path))
	if err != nil {
		t.Fatalf("ledger not written: %v", err)
	}
	if !strings.Contains(string(raw), "[Go](https://go.dev)") {
		t.Errorf("ledger:\n%s", raw)
	}
}

func TestExec_GitBackendKeepsHistory(t *testing.T) {
	cfg := testConfig(t, BackendGit)
	ctx := context.Background()

	err := Exec(ctx, func(ctx context.Context, svc *linkservice.Service) error {
		if _, err := svc.AddLink(ctx, linkservice.AddLinkRequest{URL: "https://a.example", Title: "A"}); err != nil {
			return err
		}
		revs, err := svc.History(ctx, 10)
		if err != nil {
			return err
		}
		if len(revs) != 1 || revs[0].Message != "Create links.md and add link: A" {
			t.Errorf("history = %+v", revs)
		}
		return nil
	}, WithConfig(cfg), WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
}

func TestOpenStore_Backends(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := openStore(ctx, testConfig(t, BackendFS).Store, testutil.Logger())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	if _, ok := store.(*storage.FS); !ok {
		t.Errorf("fs backend = %T", store)
	}
	_ = closeFn()

	store, closeFn, err = openStore(ctx, testConfig(t, BackendGit).Store, testutil.Logger())
	if err != nil {
		t.Fatalf("git: %v", err)
	}
	if _, ok := store.(storage.Historian); !ok {
		t.Errorf("git backend %T should keep history", store)
	}
	_ = closeFn()

	cfg := testConfig(t, BackendFS).Store
	cfg.Backend = BackendRedis
	cfg.Redis.URL = "not a url"
	if _, _, err := openStore(ctx, cfg, testutil.Logger()); err == nil {
		t.Error("bad redis URL should fail")
	}
}
