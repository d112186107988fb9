// Package apperr defines the error taxonomy shared by the ledger engine,
// the store backends and the outer surfaces.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRemoteUnavailable = errors.New("remote unavailable")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrMalformedRequest  = errors.New("malformed request")
)

// PermissionRemediation is shown to callers whenever the store refuses a
// write because the configured credential lacks rights on the document.
const PermissionRemediation = "The store rejected the write. Make sure the configured credential " +
	"has read and write access to the ledger document (for repository-backed stores this is " +
	"\"Contents: Read and write\"), and that the document location is included in its scope."
