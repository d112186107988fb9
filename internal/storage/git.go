package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	gitstorage "github.com/go-git/go-git/v5/storage"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/models"
)

// Historian is implemented by backends that keep a commit log.
type Historian interface {
	History(ctx context.Context, path string, limit int) ([]models.Revision, error)
}

// Git implements Provider on a local git repository. Every Put is one
// commit on the configured branch; the version of a document is the hash
// of its blob at the branch head.
//
// The branch ref is advanced with a compare-and-swap against the head that
// was read, so a second process committing to the same branch surfaces as a
// conflict instead of being overwritten. The very first commit on an unborn
// branch is not guarded this way.
type Git struct {
	dir    string
	branch string
	author string
	email  string
	mu     sync.Mutex

	beforeAdvance func() // test hook, runs between commit and ref update
}

// GitOptions configures a Git provider.
type GitOptions struct {
	Dir         string
	Branch      string
	AuthorName  string
	AuthorEmail string
}

// NewGit opens the repository at opts.Dir, initializing it when absent.
func NewGit(opts GitOptions) (*Git, error) {
	g := &Git{
		dir:    opts.Dir,
		branch: opts.Branch,
		author: opts.AuthorName,
		email:  opts.AuthorEmail,
	}
	if g.branch == "" {
		g.branch = "main"
	}
	if g.author == "" {
		g.author = "linkledger"
	}
	if g.email == "" {
		g.email = sanitizeEmail(g.author) + "@linkledger.local"
	}

	if _, err := git.PlainOpen(g.dir); err == nil {
		return g, nil
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("storage: open repo: %w", err)
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create repo dir: %w", err)
	}
	_, err := git.PlainInitWithOptions(g.dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(g.branch)},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init repo: %w", err)
	}
	return g, nil
}

// Get returns the document at the head of the branch.
func (g *Git) Get(_ context.Context, path string) (Object, error) {
	rel, err := cleanRel(path)
	if err != nil {
		return Object{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.open()
	if err != nil {
		return Object{}, err
	}
	file, err := g.headFile(repo, rel)
	if err != nil {
		return Object{}, err
	}
	if file == nil {
		return Object{}, fmt.Errorf("storage: %s on %s: %w", path, g.branch, apperr.ErrNotFound)
	}
	content, err := readBlob(file)
	if err != nil {
		return Object{}, err
	}
	return Object{Path: path, Content: content, Version: file.Hash.String()}, nil
}

// Put commits content when the expected blob hash matches the branch head.
func (g *Git) Put(ctx context.Context, req PutRequest) (models.Revision, error) {
	rel, err := cleanRel(req.Path)
	if err != nil {
		return models.Revision{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Revision{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.open()
	if err != nil {
		return models.Revision{}, err
	}
	branchRef := plumbing.NewBranchReferenceName(g.branch)
	base, err := repo.Reference(branchRef, false)
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return models.Revision{}, fmt.Errorf("storage: resolve branch %s: %w", g.branch, err)
	}
	current := ""
	if base != nil {
		file, err := fileAt(repo, base.Hash(), rel)
		if err != nil {
			return models.Revision{}, err
		}
		if file != nil {
			current = file.Hash.String()
		}
	}
	if err := checkVersion(req.Path, req.ExpectedVersion, current); err != nil {
		return models.Revision{}, err
	}

	if err := g.checkoutBranch(repo); err != nil {
		return models.Revision{}, err
	}
	if base != nil {
		// Detach HEAD so the commit below leaves the branch ref alone.
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, base.Hash())); err != nil {
			return models.Revision{}, fmt.Errorf("storage: detach HEAD: %w", err)
		}
		defer func() {
			_ = repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef))
		}()
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: open worktree: %w", err)
	}
	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return models.Revision{}, fsError("mkdir", req.Path, err)
	}
	if err := os.WriteFile(abs, req.Content, 0o644); err != nil {
		return models.Revision{}, fsError("write", req.Path, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return models.Revision{}, fmt.Errorf("storage: git add %s: %w", req.Path, err)
	}

	author := req.Author
	if author == "" {
		author = g.author
	}
	message := req.Message
	if message == "" {
		message = "Update " + req.Path
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: g.email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: commit %s: %w", req.Path, err)
	}
	if base != nil {
		if err := g.advance(repo, worktree, base, hash, rel, req); err != nil {
			return models.Revision{}, err
		}
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: read commit object: %w", err)
	}
	written, err := commit.File(rel)
	if err != nil {
		return models.Revision{}, fmt.Errorf("storage: read committed file: %w", err)
	}
	return toRevision(req.Path, written.Hash.String(), commit), nil
}

// advance moves the branch from base to hash. When another writer moved the
// branch first, the worktree is reset to its head and a ConflictError is
// returned.
func (g *Git) advance(repo *git.Repository, worktree *git.Worktree, base *plumbing.Reference, hash plumbing.Hash, rel string, req PutRequest) error {
	if g.beforeAdvance != nil {
		g.beforeAdvance()
	}
	next := plumbing.NewHashReference(base.Name(), hash)
	err := repo.Storer.CheckAndSetReference(next, base)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gitstorage.ErrReferenceHasChanged) {
		return fmt.Errorf("storage: update branch %s: %w", g.branch, err)
	}

	current := ""
	head, rerr := repo.Reference(base.Name(), false)
	if rerr != nil {
		return fmt.Errorf("storage: resolve branch %s: %w", g.branch, rerr)
	}
	if rerr := worktree.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); rerr != nil {
		return fmt.Errorf("storage: reset worktree: %w", rerr)
	}
	if file, ferr := g.headFile(repo, rel); ferr == nil && file != nil {
		current = file.Hash.String()
	}
	return &ConflictError{Path: req.Path, Expected: req.ExpectedVersion, Current: current}
}

// Ping checks that the repository can be opened.
func (g *Git) Ping(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.open()
	return err
}

// History returns the commits that touched path, newest first.
func (g *Git) History(ctx context.Context, path string, limit int) ([]models.Revision, error) {
	rel, err := cleanRel(path)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(g.branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: resolve branch %s: %w", g.branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &rel})
	if err != nil {
		return nil, fmt.Errorf("storage: read log: %w", err)
	}
	defer iter.Close()

	var out []models.Revision
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		version := ""
		if f, ferr := c.File(rel); ferr == nil {
			version = f.Hash.String()
		}
		out = append(out, toRevision(path, version, c))
		if limit > 0 && len(out) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("storage: iterate log: %w", err)
	}
	return out, nil
}

func (g *Git) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.dir)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("storage: open repo: %w: %v", apperr.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("storage: open repo: %w: %v", apperr.ErrRemoteUnavailable, err)
	}
	return repo, nil
}

// headFile returns the file at the branch head, or nil when the branch or
// the file does not exist yet.
func (g *Git) headFile(repo *git.Repository, rel string) (*object.File, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(g.branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: resolve branch %s: %w", g.branch, err)
	}
	return fileAt(repo, ref.Hash(), rel)
}

// fileAt returns rel as of the given commit, or nil when it is absent there.
func fileAt(repo *git.Repository, commitHash plumbing.Hash, rel string) (*object.File, error) {
	commit, err := repo.CommitObject(commitHash)
	if err != nil {
		return nil, fmt.Errorf("storage: load commit object: %w", err)
	}
	file, err := commit.File(rel)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load %s from commit: %w", rel, err)
	}
	return file, nil
}

func (g *Git) checkoutBranch(repo *git.Repository) error {
	branchRef := plumbing.NewBranchReferenceName(g.branch)
	head, headErr := repo.Head()
	if headErr == nil && head.Name() == branchRef {
		return nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("storage: open worktree: %w", err)
	}
	if _, err := repo.Reference(branchRef, true); err == nil {
		if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
			return fmt.Errorf("storage: checkout branch %s: %w", g.branch, err)
		}
		return nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("storage: resolve branch %s: %w", g.branch, err)
	}

	if headErr != nil {
		// Unborn repository: point HEAD at the branch so the first commit creates it.
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
			return fmt.Errorf("storage: set HEAD to %s: %w", g.branch, err)
		}
		return nil
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
		return fmt.Errorf("storage: create branch %s: %w", g.branch, err)
	}
	return nil
}

func readBlob(file *object.File) ([]byte, error) {
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("storage: open blob reader: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("storage: read blob: %w", err)
	}
	return data, nil
}

func toRevision(path, version string, c *object.Commit) models.Revision {
	return models.Revision{
		Path:        path,
		Version:     version,
		Message:     strings.TrimSpace(c.Message),
		Author:      c.Author.Name,
		CommittedAt: c.Author.When,
	}
}

// cleanRel normalizes a document path to a slash-separated path inside the
// repository.
func cleanRel(path string) (string, error) {
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if path == "" || filepath.IsAbs(path) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: %w: invalid document path %q", apperr.ErrMalformedRequest, path)
	}
	return cleaned, nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
