// Package storage defines the versioned document store the ledger is
// committed to, and its backends.
//
// Every read returns an opaque version token and every write must present
// the token it read. A write whose token no longer matches the stored
// version is rejected with a *ConflictError.
package storage

import (
	"context"
	"fmt"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/checksum"
	"github.com/starford/linkledger/internal/models"
)

// Provider is the interface for versioned single-document stores.
type Provider interface {
	// Get returns the content and version of path. It fails with
	// apperr.ErrNotFound when the document does not exist.
	Get(ctx context.Context, path string) (Object, error)
	// Put replaces the document when req.ExpectedVersion matches the stored
	// version. An empty ExpectedVersion requires the document to be absent.
	Put(ctx context.Context, req PutRequest) (models.Revision, error)
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

// Object is one read of a stored document.
type Object struct {
	Path    string
	Content []byte
	Version string
}

// PutRequest describes a conditional whole-document write.
type PutRequest struct {
	Path            string
	Content         []byte
	ExpectedVersion string
	Message         string
	Author          string
}

// ConflictError reports a rejected conditional write.
type ConflictError struct {
	Path     string
	Expected string
	Current  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage: version conflict on %s: expected %q, current %q",
		e.Path, checksum.Short(e.Expected), checksum.Short(e.Current))
}

// Is makes errors.Is(err, apperr.ErrConflict) hold.
func (e *ConflictError) Is(target error) bool {
	return target == apperr.ErrConflict
}

// checkVersion compares the version a writer read with the current one.
// current is empty when the document does not exist.
func checkVersion(path, expected, current string) error {
	if expected != current {
		return &ConflictError{Path: path, Expected: expected, Current: current}
	}
	return nil
}
