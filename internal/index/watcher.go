package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called after a watcher-driven index change.
type EventCallback func(kind string, path string)

// EventChanged is the kind passed to EventCallback when the ledger was
// modified outside this process.
const EventChanged = "changed"

const watchDebounce = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the directory holding the ledger file
// under root and re-indexes the ledger whenever it is written, replaced or
// removed, until ctx is cancelled. It calls cb (if non-nil) after each sync
// that changed the index.
//
// Editors and atomic writers replace files through a rename, so events on
// the file are debounced and followed by a full Sync rather than handled
// one by one.
func Watch(ctx context.Context, db LinkIndex, src Source, root string, logger *slog.Logger, cb EventCallback) error {
	target := filepath.Join(root, filepath.FromSlash(src.Path()))
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("index: create watch dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("index: watch %s: %w", dir, err)
	}

	logger.Info("watcher: started", slog.String("dir", dir), slog.String("file", src.Path()))

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(watchDebounce)
			debounceCh = debounce.C
		} else {
			debounce.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-debounceCh:
			changed, err := Sync(ctx, db, src, logger)
			if err != nil {
				logger.Warn("watcher: sync failed", slog.String("path", src.Path()), slog.String("error", err.Error()))
				continue
			}
			if changed {
				logger.Debug("watcher: ledger re-indexed", slog.String("path", src.Path()))
				if cb != nil {
					cb(EventChanged, src.Path())
				}
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
