package index

import "github.com/starford/linkledger/internal/ledger"

// LinkIndex defines the interface for link indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type LinkIndex interface {
	Replace(path, version string, doc ledger.Document) error
	Version(path string) (string, error)
	Links(category string) ([]LinkRow, error)
	Categories() ([]CategoryCount, error)
	Search(query string, limit int) ([]SearchResult, error)
	Close() error
}

// Verify *DB satisfies LinkIndex at compile time.
var _ LinkIndex = (*DB)(nil)
