package storage

import (
	"context"
	"errors"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/models"
)

func tempGit(t *testing.T, branch string) *Git {
	t.Helper()
	g, err := NewGit(GitOptions{Dir: t.TempDir(), Branch: branch, AuthorName: "Link Bot"})
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	return g
}

func TestGit_Contract(t *testing.T) {
	testProviderContract(t, tempGit(t, "main"))
}

func TestGit_VersionIsBlobHash(t *testing.T) {
	g := tempGit(t, "main")
	content := []byte("# Useful Links\n")
	rev, err := g.Put(context.Background(), PutRequest{Path: "README.md", Content: content, Message: "Create README.md"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	want := plumbing.ComputeHash(plumbing.BlobObject, content).String()
	if rev.Version != want {
		t.Errorf("version = %q, want blob hash %q", rev.Version, want)
	}
}

func TestGit_CommitsOnConfiguredBranch(t *testing.T) {
	g := tempGit(t, "links")
	if _, err := g.Put(context.Background(), PutRequest{Path: "README.md", Content: []byte("x")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		t.Fatalf("PlainOpen: %v", err)
	}
	if _, err := repo.Reference(plumbing.NewBranchReferenceName("links"), true); err != nil {
		t.Errorf("branch links missing: %v", err)
	}
}

func TestGit_HistoryNewestFirst(t *testing.T) {
	g := tempGit(t, "main")
	ctx := context.Background()
	rev1, err := g.Put(ctx, PutRequest{Path: "README.md", Content: []byte("one"), Message: "Create README.md"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := g.Put(ctx, PutRequest{Path: "README.md", Content: []byte("two"), ExpectedVersion: rev1.Version, Message: "Add link: x", Author: "alice"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	revs, err := g.History(ctx, "README.md", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("history len = %d, want 2", len(revs))
	}
	if revs[0].Message != "Add link: x" || revs[0].Author != "alice" {
		t.Errorf("newest = %+v", revs[0])
	}
	if revs[1].Author != "Link Bot" || revs[1].Version != rev1.Version {
		t.Errorf("oldest = %+v", revs[1])
	}

	limited, err := g.History(ctx, "README.md", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited len = %d, want 1", len(limited))
	}
}

func TestGit_HistoryEmptyRepo(t *testing.T) {
	g := tempGit(t, "main")
	revs, err := g.History(context.Background(), "README.md", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(revs) != 0 {
		t.Errorf("history = %+v, want empty", revs)
	}
}

func TestGit_ReopenExisting(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := NewGit(GitOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	rev, err := first.Put(ctx, PutRequest{Path: "README.md", Content: []byte("kept")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	second, err := NewGit(GitOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewGit reopen: %v", err)
	}
	obj, err := second.Get(ctx, "README.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Content) != "kept" || obj.Version != rev.Version {
		t.Errorf("obj = %+v", obj)
	}
}

func TestGit_ConcurrentWriterOnSameRepoIsAConflict(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ours, err := NewGit(GitOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	theirs, err := NewGit(GitOptions{Dir: dir})
	if err != nil {
		t.Fatalf("NewGit: %v", err)
	}
	base, err := ours.Put(ctx, PutRequest{Path: "links.md", Content: []byte("base")})
	if err != nil {
		t.Fatalf("Put base: %v", err)
	}

	// Another handle on the same repository, as a separate process would
	// hold, commits after our comparison passed.
	var theirRev models.Revision
	ours.beforeAdvance = func() {
		rev, perr := theirs.Put(ctx, PutRequest{Path: "links.md", Content: []byte("theirs"), ExpectedVersion: base.Version})
		if perr != nil {
			t.Errorf("concurrent Put: %v", perr)
		}
		theirRev = rev
	}
	_, err = ours.Put(ctx, PutRequest{Path: "links.md", Content: []byte("ours"), ExpectedVersion: base.Version})
	ours.beforeAdvance = nil

	var conflict *ConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
	if conflict.Current != theirRev.Version {
		t.Errorf("current = %q, want %q", conflict.Current, theirRev.Version)
	}

	obj, err := ours.Get(ctx, "links.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Content) != "theirs" {
		t.Errorf("content = %q, want the other writer's commit kept", obj.Content)
	}
	revs, err := ours.History(ctx, "links.md", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(revs) != 2 {
		t.Errorf("history len = %d, want 2", len(revs))
	}

	// The retry against the new head goes through.
	if _, err := ours.Put(ctx, PutRequest{Path: "links.md", Content: []byte("ours"), ExpectedVersion: obj.Version}); err != nil {
		t.Fatalf("retry Put: %v", err)
	}
}
