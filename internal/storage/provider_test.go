package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/linkledger/internal/apperr"
)

// testProviderContract exercises the behaviour every backend must share.
func testProviderContract(t *testing.T, p Provider) {
	t.Helper()
	ctx := context.Background()
	const path = "links.md"

	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if _, err := p.Get(ctx, path); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Get absent: err = %v, want ErrNotFound", err)
	}

	if _, err := p.Put(ctx, PutRequest{Path: path, Content: []byte("v1"), ExpectedVersion: "bogus"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Put absent with version: err = %v, want ErrConflict", err)
	}

	rev1, err := p.Put(ctx, PutRequest{Path: path, Content: []byte("# Useful Links\n"), Message: "create"})
	if err != nil {
		t.Fatalf("Put create: %v", err)
	}
	if rev1.Version == "" {
		t.Fatal("Put create returned empty version")
	}

	obj, err := p.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Content) != "# Useful Links\n" {
		t.Errorf("content = %q", obj.Content)
	}
	if obj.Version != rev1.Version {
		t.Errorf("version = %q, want %q", obj.Version, rev1.Version)
	}

	if _, err := p.Put(ctx, PutRequest{Path: path, Content: []byte("again")}); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Put existing without version: err = %v, want ErrConflict", err)
	}

	rev2, err := p.Put(ctx, PutRequest{Path: path, Content: []byte("# Useful Links\n\n## Tools\n"), ExpectedVersion: rev1.Version, Message: "update"})
	if err != nil {
		t.Fatalf("Put update: %v", err)
	}
	if rev2.Version == rev1.Version {
		t.Error("version did not change after update")
	}

	_, err = p.Put(ctx, PutRequest{Path: path, Content: []byte("lost update"), ExpectedVersion: rev1.Version})
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("stale Put: err = %v, want *ConflictError", err)
	}
	if ce.Expected != rev1.Version || ce.Current != rev2.Version {
		t.Errorf("conflict = %+v", ce)
	}

	obj, err = p.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if string(obj.Content) != "# Useful Links\n\n## Tools\n" || obj.Version != rev2.Version {
		t.Errorf("after update: content = %q, version = %q", obj.Content, obj.Version)
	}
}
