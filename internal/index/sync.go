package index

import (
	"context"
	"log/slog"

	"github.com/starford/linkledger/internal/syncer"
)

// Source reads the authoritative ledger.
type Source interface {
	Path() string
	Read(ctx context.Context) (syncer.Snapshot, error)
}

// Sync reads the ledger and rebuilds the index when the stored version
// differs from the indexed one. It reports whether the index changed.
func Sync(ctx context.Context, db LinkIndex, src Source, logger *slog.Logger) (bool, error) {
	snap, err := src.Read(ctx)
	if err != nil {
		return false, err
	}

	indexed, err := db.Version(src.Path())
	if err != nil {
		return false, err
	}
	if snap.Exists && indexed == snap.Version {
		return false, nil
	}
	if !snap.Exists && indexed == "" {
		links, err := db.Links("")
		if err == nil && len(links) == 0 {
			return false, nil
		}
	}

	if err := db.Replace(src.Path(), snap.Version, snap.Document); err != nil {
		return false, err
	}
	logger.Debug("sync: indexed ledger",
		slog.String("path", src.Path()),
		slog.String("version", snap.Version),
		slog.Int("links", snap.Document.Len()),
	)
	return true, nil
}
