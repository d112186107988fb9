// Package linkservice validates link requests, runs them through the sync
// controller and keeps the search index and event stream up to date.
package linkservice

import (
	"context"
	"log/slog"
	"strings"

	"github.com/starford/linkledger/internal/index"
	"github.com/starford/linkledger/internal/ledger"
	"github.com/starford/linkledger/internal/models"
	"github.com/starford/linkledger/internal/sse"
	"github.com/starford/linkledger/internal/storage"
	"github.com/starford/linkledger/internal/syncer"
)

// Publisher receives ledger change events.
type Publisher interface {
	PublishLedgerEvent(kind string, data any)
}

// LedgerView is the parsed ledger as returned to readers.
type LedgerView struct {
	Path       string          `json:"path"`
	Title      string          `json:"title"`
	Version    string          `json:"version"`
	Exists     bool            `json:"exists"`
	Links      int             `json:"links"`
	Duplicates []string        `json:"duplicates"`
	Document   ledger.Document `json:"document"`
}

// ChangeResult reports a committed (or skipped) mutation.
type ChangeResult struct {
	Change   syncer.Change `json:"change"`
	Version  string        `json:"version"`
	Attempts int           `json:"attempts"`
	Written  bool          `json:"written"`
	Repaired []string      `json:"repaired"`
}

// StoreStatus is the diagnostic view of the backing store.
type StoreStatus struct {
	Path      string `json:"path"`
	Reachable bool   `json:"reachable"`
	Exists    bool   `json:"exists"`
	Version   string `json:"version,omitempty"`
	Size      int    `json:"size"`
	Links     int    `json:"links"`
	Error     string `json:"error,omitempty"`
}

// Service coordinates the sync controller, index and event broker.
type Service struct {
	ctrl   *syncer.Controller
	db     index.LinkIndex
	events Publisher
	logger *slog.Logger
}

// NewService creates a new link service. db and events may be nil.
func NewService(ctrl *syncer.Controller, db index.LinkIndex, events Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ctrl: ctrl, db: db, events: events, logger: logger}
}

// Ledger reads and parses the current ledger.
func (s *Service) Ledger(ctx context.Context) (*LedgerView, error) {
	snap, err := s.ctrl.Read(ctx)
	if err != nil {
		return nil, err
	}
	return &LedgerView{
		Path:       s.ctrl.Path(),
		Title:      snap.Document.Title(),
		Version:    snap.Version,
		Exists:     snap.Exists,
		Links:      snap.Document.Len(),
		Duplicates: nonNilSlice(ledger.Detect(snap.Document)),
		Document:   snap.Document,
	}, nil
}

// RawLedger returns the stored text and its version. An absent ledger
// returns the default document with an empty version.
func (s *Service) RawLedger(ctx context.Context) ([]byte, string, error) {
	snap, err := s.ctrl.Read(ctx)
	if err != nil {
		return nil, "", err
	}
	return snap.Content, snap.Version, nil
}

// AddLink appends a link to its category, creating the category (and the
// ledger) when needed.
func (s *Service) AddLink(ctx context.Context, req AddLinkRequest) (*ChangeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, malformed(err)
	}
	entry := req.entry()
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	category := strings.TrimSpace(req.Category)

	res, err := s.ctrl.Apply(ctx, func(d ledger.Document) (ledger.Document, syncer.Change, error) {
		next, err := ledger.InsertEntry(d, entry, category)
		return next, syncer.Change{Kind: syncer.ChangeInsert, Entries: []ledger.Entry{entry}, Category: category}, err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, res)
	s.publish(sse.EventLinkAdded, map[string]string{
		"url":         entry.Reference,
		"title":       entry.Label,
		"description": entry.Description,
		"category":    category,
	})
	s.logger.Info("link added",
		slog.String("url", entry.Reference),
		slog.String("category", category),
		slog.Int("attempts", res.Attempts),
	)
	return toChangeResult(res), nil
}

// DeleteLink removes the first link matching the request and prunes its
// category when it became empty.
func (s *Service) DeleteLink(ctx context.Context, req DeleteLinkRequest) (*ChangeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, malformed(err)
	}
	m := req.match()

	res, err := s.ctrl.Apply(ctx, func(d ledger.Document) (ledger.Document, syncer.Change, error) {
		next, rm, err := ledger.DeleteEntry(d, m)
		if err != nil {
			return d, syncer.Change{}, err
		}
		var pruned []string
		if rm.Category != "" {
			next, pruned = ledger.PruneEmptyCategories(next, []string{rm.Category})
		}
		return next, syncer.Change{
			Kind:     syncer.ChangeDelete,
			Entries:  []ledger.Entry{rm.Entry},
			Category: rm.Category,
			Pruned:   pruned,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, res)
	removed := res.Change.Entries[0]
	s.publish(sse.EventLinkDeleted, map[string]any{
		"url":    removed.Reference,
		"title":  removed.Label,
		"pruned": nonNilSlice(res.Change.Pruned),
	})
	s.logger.Info("link deleted", slog.String("match", m.String()), slog.Int("attempts", res.Attempts))
	return toChangeResult(res), nil
}

// DeleteLinks removes every link matching any element of the request and
// prunes the categories that became empty.
func (s *Service) DeleteLinks(ctx context.Context, req DeleteLinksRequest) (*ChangeResult, error) {
	if err := req.Validate(); err != nil {
		return nil, malformed(err)
	}
	matches := req.matches()

	res, err := s.ctrl.Apply(ctx, func(d ledger.Document) (ledger.Document, syncer.Change, error) {
		next, batch, err := ledger.DeleteEntries(d, matches)
		if err != nil {
			return d, syncer.Change{}, err
		}
		next, pruned := ledger.PruneEmptyCategories(next, batch.Touched)
		return next, syncer.Change{
			Kind:    syncer.ChangeDeleteMany,
			Entries: batch.Removed,
			Pruned:  pruned,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, res)
	s.publish(sse.EventLinksDeleted, map[string]any{
		"count":  len(res.Change.Entries),
		"pruned": nonNilSlice(res.Change.Pruned),
	})
	s.logger.Info("links deleted",
		slog.Int("count", len(res.Change.Entries)),
		slog.Int("pruned", len(res.Change.Pruned)),
		slog.Int("attempts", res.Attempts),
	)
	return toChangeResult(res), nil
}

// Repair removes duplicate links without any other change.
func (s *Service) Repair(ctx context.Context) (*ChangeResult, error) {
	res, err := s.ctrl.Apply(ctx, func(d ledger.Document) (ledger.Document, syncer.Change, error) {
		return d, syncer.Change{Kind: syncer.ChangeRepair}, nil
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, res)
	return toChangeResult(res), nil
}

// Search looks up links by text. It uses the index when one is configured
// and scans the ledger otherwise.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.db != nil {
		return s.db.Search(query, limit)
	}

	snap, err := s.ctrl.Read(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []index.SearchResult
	snap.Document.Walk(func(category string, e ledger.Entry) bool {
		for _, field := range []string{e.Label, e.Reference, e.Description, category} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, index.SearchResult{
					Category:  category,
					Label:     e.Label,
					Reference: e.Reference,
					Snippet:   e.Description,
				})
				break
			}
		}
		return len(out) < limit
	})
	return out, nil
}

// Links lists indexed links, optionally restricted to one category.
func (s *Service) Links(ctx context.Context, category string) ([]index.LinkRow, error) {
	if s.db != nil {
		return s.db.Links(category)
	}
	snap, err := s.ctrl.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []index.LinkRow
	pos := 0
	snap.Document.Walk(func(c string, e ledger.Entry) bool {
		pos++
		if category == "" || c == category {
			out = append(out, index.LinkRow{Position: pos, Category: c, Label: e.Label, Reference: e.Reference, Description: e.Description})
		}
		return true
	})
	return out, nil
}

// Categories lists the categories holding links, in document order, with
// their link counts. Uncategorized links are reported under the empty name.
func (s *Service) Categories(ctx context.Context) ([]index.CategoryCount, error) {
	if s.db != nil {
		return s.db.Categories()
	}
	snap, err := s.ctrl.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out []index.CategoryCount
	seen := make(map[string]int)
	snap.Document.Walk(func(c string, _ ledger.Entry) bool {
		if i, ok := seen[c]; ok {
			out[i].Links++
			return true
		}
		seen[c] = len(out)
		out = append(out, index.CategoryCount{Name: c, Links: 1})
		return true
	})
	return out, nil
}

// History returns recent commits of the ledger when the backend keeps them.
func (s *Service) History(ctx context.Context, limit int) ([]models.Revision, error) {
	h, ok := s.ctrl.Store().(storage.Historian)
	if !ok {
		return []models.Revision{}, nil
	}
	revs, err := h.History(ctx, s.ctrl.Path(), limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(revs), nil
}

// StoreStatus pings the backend and describes the stored ledger.
func (s *Service) StoreStatus(ctx context.Context) *StoreStatus {
	st := &StoreStatus{Path: s.ctrl.Path()}
	if err := s.ctrl.Store().Ping(ctx); err != nil {
		st.Error = err.Error()
		return st
	}
	st.Reachable = true

	snap, err := s.ctrl.Read(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Exists = snap.Exists
	st.Version = snap.Version
	st.Size = len(snap.Content)
	st.Links = snap.Document.Len()
	return st
}

// Reindex brings the index up to date with the store and announces
// external changes.
func (s *Service) Reindex(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	changed, err := index.Sync(ctx, s.db, s.ctrl, s.logger)
	if err != nil {
		return err
	}
	if changed {
		s.NotifyExternalChange(index.EventChanged, s.ctrl.Path())
	}
	return nil
}

// NotifyExternalChange is the watcher callback for edits made outside
// this process.
func (s *Service) NotifyExternalChange(_ string, path string) {
	s.publish(sse.EventLedgerChanged, map[string]string{"path": path})
}

// afterCommit refreshes the index and announces a repair. Failures are
// logged only: the commit already happened.
func (s *Service) afterCommit(_ context.Context, res syncer.Result) {
	if len(res.Repaired) > 0 {
		s.publish(sse.EventLedgerRepaired, map[string]any{"duplicates": res.Repaired})
		s.logger.Warn("ledger contained duplicate links", slog.Int("removed", len(res.Repaired)))
	}
	if s.db == nil || (!res.Written && len(res.Repaired) == 0) {
		return
	}
	if err := s.db.Replace(s.ctrl.Path(), res.Version, res.Document); err != nil {
		s.logger.Warn("index refresh failed", slog.String("error", err.Error()))
	}
}

func (s *Service) publish(kind string, data any) {
	if s.events != nil {
		s.events.PublishLedgerEvent(kind, data)
	}
}

func toChangeResult(res syncer.Result) *ChangeResult {
	return &ChangeResult{
		Change:   res.Change,
		Version:  res.Version,
		Attempts: res.Attempts,
		Written:  res.Written,
		Repaired: nonNilSlice(res.Repaired),
	}
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
