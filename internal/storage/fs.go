package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/checksum"
	"github.com/starford/linkledger/internal/models"
)

// FS implements Provider backed by a local directory. The version of a
// document is the SHA-256 of its content.
//
// Compare-and-swap is serialized within this process only; an editor that
// rewrites the file between the comparison and the rename is not detected
// until the next read.
type FS struct {
	root string // absolute path to the store directory
	mu   sync.Mutex
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute store directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("storage: %w: empty path", apperr.ErrMalformedRequest)
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: %w: absolute paths not allowed: %s", apperr.ErrMalformedRequest, rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: %w: path escapes store root: %s", apperr.ErrMalformedRequest, rel)
	}
	return abs, nil
}

// Get returns the document content and its checksum version.
func (f *FS) Get(_ context.Context, path string) (Object, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return Object{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Object{}, fsError("read", path, err)
	}
	return Object{Path: path, Content: data, Version: checksum.Sum(data)}, nil
}

// Put atomically replaces the document when the expected version matches.
func (f *FS) Put(ctx context.Context, req PutRequest) (models.Revision, error) {
	abs, err := f.safePath(req.Path)
	if err != nil {
		return models.Revision{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Revision{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current := ""
	existing, err := os.ReadFile(abs)
	switch {
	case err == nil:
		current = checksum.Sum(existing)
	case !errors.Is(err, os.ErrNotExist):
		return models.Revision{}, fsError("read", req.Path, err)
	}
	if err := checkVersion(req.Path, req.ExpectedVersion, current); err != nil {
		return models.Revision{}, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return models.Revision{}, fsError("mkdir", req.Path, err)
	}
	if err := atomic.WriteFile(abs, bytes.NewReader(req.Content)); err != nil {
		return models.Revision{}, fsError("write", req.Path, err)
	}

	return models.Revision{
		Path:        req.Path,
		Version:     checksum.Sum(req.Content),
		Message:     req.Message,
		Author:      req.Author,
		CommittedAt: time.Now().UTC(),
	}, nil
}

// Ping checks that the root directory is still present.
func (f *FS) Ping(_ context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fsError("stat", f.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: %w: root is not a directory: %s", apperr.ErrRemoteUnavailable, f.root)
	}
	return nil
}

func fsError(op, path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("storage: %s %s: %w", op, path, apperr.ErrNotFound)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("storage: %s %s: %w: %v", op, path, apperr.ErrPermissionDenied, err)
	}
	return fmt.Errorf("storage: %s %s: %w: %v", op, path, apperr.ErrRemoteUnavailable, err)
}
