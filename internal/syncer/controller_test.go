package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/ledger"
	"github.com/starford/linkledger/internal/models"
	"github.com/starford/linkledger/internal/storage"
)

// memStore is an in-memory Provider with hooks for simulating other writers.
type memStore struct {
	mu       sync.Mutex
	content  []byte
	version  string
	exists   bool
	seq      int
	gets     int
	messages []string

	// beforePut runs with the lock released before each Put is evaluated.
	beforePut func(n int)
	putErr    error
	blockGet  bool
}

func newMemStore(content string) *memStore {
	s := &memStore{}
	if content != "" {
		s.set(content)
	}
	return s
}

func (s *memStore) set(content string) {
	s.seq++
	s.content = []byte(content)
	s.version = fmt.Sprintf("v%d", s.seq)
	s.exists = true
}

// write simulates a concurrent writer outside the controller.
func (s *memStore) write(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(content)
}

func (s *memStore) Get(ctx context.Context, path string) (storage.Object, error) {
	if s.blockGet {
		<-ctx.Done()
		return storage.Object{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if !s.exists {
		return storage.Object{}, fmt.Errorf("mem: %w", apperr.ErrNotFound)
	}
	return storage.Object{Path: path, Content: append([]byte(nil), s.content...), Version: s.version}, nil
}

func (s *memStore) Put(_ context.Context, req storage.PutRequest) (models.Revision, error) {
	s.mu.Lock()
	n := len(s.messages) + 1
	hook := s.beforePut
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		s.messages = append(s.messages, "FAILED: "+req.Message)
		return models.Revision{}, s.putErr
	}
	current := ""
	if s.exists {
		current = s.version
	}
	if req.ExpectedVersion != current {
		s.messages = append(s.messages, "CONFLICT: "+req.Message)
		return models.Revision{}, &storage.ConflictError{Path: req.Path, Expected: req.ExpectedVersion, Current: current}
	}
	s.set(string(req.Content))
	s.messages = append(s.messages, req.Message)
	return models.Revision{Path: req.Path, Version: s.version, Message: req.Message}, nil
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.content)
}

func newTestController(store storage.Provider, cfg Config) *Controller {
	c := New(store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func insert(label, ref, category string) Mutation {
	return func(d ledger.Document) (ledger.Document, Change, error) {
		e := ledger.Entry{Label: label, Reference: ref}
		next, err := ledger.InsertEntry(d, e, category)
		return next, Change{Kind: ChangeInsert, Entries: []ledger.Entry{e}, Category: category}, err
	}
}

func TestApply_CreatesMissingDocument(t *testing.T) {
	store := newMemStore("")
	c := newTestController(store, Config{})

	res, err := c.Apply(context.Background(), insert("Go", "https://go.dev", "Languages"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Written || !res.Created || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
	want := "# Useful Links\n\n## Languages\n\n[Go](https://go.dev)\n"
	if got := store.text(); got != want {
		t.Errorf("stored =\n%q\nwant\n%q", got, want)
	}
	if diff := cmp.Diff([]string{"Create links.md and add link: Go"}, store.messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestApply_ConflictRestartsFromFreshFetch(t *testing.T) {
	store := newMemStore("# Useful Links\n\n## Tools\n\n[Foo](https://foo.com)\n")
	store.beforePut = func(n int) {
		if n == 1 {
			store.write("# Useful Links\n\n## Tools\n\n[Foo](https://foo.com)\n\n[Other](https://other.example)\n")
		}
	}
	c := newTestController(store, Config{})

	res, err := c.Apply(context.Background(), insert("Bar", "https://bar.com", "Tools"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	if store.gets != 2 {
		t.Errorf("gets = %d, want 2", store.gets)
	}
	got := store.text()
	for _, ref := range []string{"https://foo.com", "https://other.example", "https://bar.com"} {
		if !strings.Contains(got, ref) {
			t.Errorf("final document lost %s:\n%s", ref, got)
		}
	}
}

func TestApply_RepairsBeforeMutating(t *testing.T) {
	store := newMemStore("# Useful Links\n\n## Tools\n\n[Foo](https://foo.com)\n\n[Foo](https://foo.com)\n")
	c := newTestController(store, Config{})

	res, err := c.Apply(context.Background(), insert("Bar", "https://bar.com", "Tools"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]string{RepairMessage, "Add link: Bar"}, store.messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://foo.com"}, res.Repaired); diff != "" {
		t.Errorf("repaired (-want +got):\n%s", diff)
	}
	want := "# Useful Links\n\n## Tools\n\n[Foo](https://foo.com)\n\n[Bar](https://bar.com)\n"
	if got := store.text(); got != want {
		t.Errorf("stored =\n%q\nwant\n%q", got, want)
	}
}

func TestApply_RepairCommitConflictRestarts(t *testing.T) {
	store := newMemStore("## A\n\n[x](https://x)\n\n[x](https://x)\n")
	store.beforePut = func(n int) {
		if n == 1 {
			store.write("## A\n\n[x](https://x)\n")
		}
	}
	c := newTestController(store, Config{})

	res, err := c.Apply(context.Background(), insert("y", "https://y", "A"))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Attempts != 2 || len(res.Repaired) != 0 {
		t.Errorf("result = %+v", res)
	}
	if diff := cmp.Diff([]string{"CONFLICT: " + RepairMessage, "Add link: y"}, store.messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestApply_MutationErrorAbortsWithoutCommit(t *testing.T) {
	store := newMemStore("## A\n\n[x](https://x)\n")
	c := newTestController(store, Config{})

	_, err := c.Apply(context.Background(), func(d ledger.Document) (ledger.Document, Change, error) {
		next, rm, err := ledger.DeleteEntry(d, ledger.Match{Reference: "https://missing"})
		return next, Change{Kind: ChangeDelete, Entries: []ledger.Entry{rm.Entry}}, err
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if len(store.messages) != 0 {
		t.Errorf("unexpected commits: %v", store.messages)
	}
}

func TestApply_PermissionDeniedIsNotRetried(t *testing.T) {
	store := newMemStore("")
	store.putErr = fmt.Errorf("mem: %w", apperr.ErrPermissionDenied)
	c := newTestController(store, Config{})

	_, err := c.Apply(context.Background(), insert("a", "https://a", ""))
	if !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if store.gets != 1 || len(store.messages) != 1 {
		t.Errorf("gets = %d, puts = %d, want 1 each", store.gets, len(store.messages))
	}
}

func TestApply_ExhaustedConflictsSurfaceAsRemoteUnavailable(t *testing.T) {
	store := newMemStore("# Useful Links\n")
	store.beforePut = func(n int) {
		store.write(fmt.Sprintf("# Useful Links\n\n[w%d](https://w%d)\n", n, n))
	}
	c := newTestController(store, Config{MaxAttempts: 3})

	_, err := c.Apply(context.Background(), insert("a", "https://a", ""))
	if !errors.Is(err, apperr.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want the last conflict attached", err)
	}
	if store.gets != 3 {
		t.Errorf("gets = %d, want 3", store.gets)
	}
}

func TestApply_CallTimeoutIsRemoteUnavailable(t *testing.T) {
	store := newMemStore("")
	store.blockGet = true
	c := newTestController(store, Config{CallTimeout: 10 * time.Millisecond})

	_, err := c.Apply(context.Background(), insert("a", "https://a", ""))
	if !errors.Is(err, apperr.ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestApply_CancelledBeforeWrite(t *testing.T) {
	store := newMemStore("# Useful Links\n")
	c := newTestController(store, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.Apply(ctx, func(d ledger.Document) (ledger.Document, Change, error) {
		cancel()
		next, err := ledger.InsertEntry(d, ledger.Entry{Label: "a", Reference: "https://a"}, "")
		return next, Change{Kind: ChangeInsert}, err
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(store.messages) != 0 {
		t.Errorf("unexpected commits: %v", store.messages)
	}
	if store.text() != "# Useful Links\n" {
		t.Errorf("document changed: %q", store.text())
	}
}

func TestApply_UnchangedSkipsWrite(t *testing.T) {
	store := newMemStore("# Useful Links\n\n## A\n\n[x](https://x)\n")
	c := newTestController(store, Config{})

	res, err := c.Apply(context.Background(), func(d ledger.Document) (ledger.Document, Change, error) {
		return d, Change{Kind: ChangeRepair}, nil
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Written || res.Version != "v1" {
		t.Errorf("result = %+v", res)
	}
	if len(store.messages) != 0 {
		t.Errorf("unexpected commits: %v", store.messages)
	}
}

func TestRead_AbsentDocumentIsDefault(t *testing.T) {
	c := newTestController(newMemStore(""), Config{Title: "Bookmarks"})
	snap, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if snap.Exists || snap.Version != "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if got := snap.Document.Title(); got != "Bookmarks" {
		t.Errorf("title = %q", got)
	}
}

func TestBackoff_Bounded(t *testing.T) {
	c := New(newMemStore(""), Config{BaseBackoff: 10 * time.Millisecond, MaxBackoff: 40 * time.Millisecond}, nil)
	for retry := 1; retry <= 10; retry++ {
		d := c.backoff(retry)
		if d < 5*time.Millisecond || d > 40*time.Millisecond {
			t.Errorf("backoff(%d) = %s out of range", retry, d)
		}
	}
}

func TestChange_CommitMessages(t *testing.T) {
	foo := ledger.Entry{Label: "Foo", Reference: "https://foo.com"}
	cases := []struct {
		change  Change
		created bool
		want    string
	}{
		{Change{Kind: ChangeInsert, Entries: []ledger.Entry{foo}}, false, "Add link: Foo"},
		{Change{Kind: ChangeInsert, Entries: []ledger.Entry{foo}}, true, "Create links.md and add link: Foo"},
		{Change{Kind: ChangeDelete, Entries: []ledger.Entry{foo}}, false, "Delete link: Foo"},
		{Change{Kind: ChangeDelete, Entries: []ledger.Entry{foo}, Pruned: []string{"Tools"}}, false, "Delete link: Foo (removed empty category Tools)"},
		{Change{Kind: ChangeDeleteMany, Entries: []ledger.Entry{foo, foo}}, false, "Delete 2 link(s)"},
		{Change{Kind: ChangeDeleteMany, Entries: []ledger.Entry{foo}, Pruned: []string{"A"}}, false, "Delete 1 link(s) (removed 1 empty category)"},
		{Change{Kind: ChangeDeleteMany, Entries: []ledger.Entry{foo}, Pruned: []string{"A", "B"}}, false, "Delete 1 link(s) (removed 2 empty categories)"},
		{Change{Kind: ChangeRepair}, false, RepairMessage},
	}
	for _, tc := range cases {
		if got := tc.change.CommitMessage("links.md", tc.created); got != tc.want {
			t.Errorf("CommitMessage(%+v) = %q, want %q", tc.change, got, tc.want)
		}
	}
}
