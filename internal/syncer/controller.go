// Package syncer applies ledger mutations against a versioned store.
//
// Each call to Apply is an independent read-modify-write cycle. The store's
// version token is the only synchronization: a conflicting write restarts
// the cycle from a fresh read, up to a bounded number of attempts.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/linkledger/internal/apperr"
	"github.com/starford/linkledger/internal/ledger"
	"github.com/starford/linkledger/internal/storage"
)

// Config controls the retry loop.
type Config struct {
	Path        string
	Title       string
	Author      string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "links.md"
	}
	if c.Title == "" {
		c.Title = ledger.DefaultTitle
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// Mutation transforms a freshly fetched document. It must be a pure
// function of its input; it may run once per attempt.
type Mutation func(ledger.Document) (ledger.Document, Change, error)

// Result reports a completed cycle.
type Result struct {
	Change   Change
	Version  string
	Attempts int
	// Repaired lists the duplicate references removed by a repair commit.
	Repaired []string
	// Written is false when the mutation left the document unchanged.
	Written  bool
	Created  bool
	Document ledger.Document
}

// Snapshot is one read of the ledger.
type Snapshot struct {
	Document ledger.Document
	Content  []byte
	Version  string
	Exists   bool
}

// Controller runs mutation cycles against one document.
type Controller struct {
	store  storage.Provider
	cfg    Config
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a controller. A nil logger uses slog.Default.
func New(store storage.Provider, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		sleep:  sleepContext,
	}
}

// Path returns the document path the controller manages.
func (c *Controller) Path() string {
	return c.cfg.Path
}

// Store returns the underlying provider.
func (c *Controller) Store() storage.Provider {
	return c.store
}

// Read fetches and parses the document. An absent document reads as the
// default empty ledger with Exists false.
func (c *Controller) Read(ctx context.Context) (Snapshot, error) {
	obj, err := c.get(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		doc := ledger.NewDocument(c.cfg.Title)
		return Snapshot{Document: doc, Content: []byte(ledger.Serialize(doc))}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Document: ledger.Parse(string(obj.Content)),
		Content:  obj.Content,
		Version:  obj.Version,
		Exists:   true,
	}, nil
}

// Apply runs mutate in a fetch, repair, mutate, commit cycle, restarting
// from a fresh fetch whenever the store reports a version conflict.
func (c *Controller) Apply(ctx context.Context, mutate Mutation) (Result, error) {
	log := c.logger.With(
		slog.String("cycle_id", ulid.Make().String()),
		slog.String("path", c.cfg.Path),
	)

	var (
		repaired     []string
		lastConflict error
	)
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return Result{}, fmt.Errorf("syncer: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("syncer: %w", err)
		}

		res, fixed, err := c.attempt(ctx, log.With(slog.Int("attempt", attempt)), mutate)
		repaired = append(repaired, fixed...)
		if err == nil {
			res.Attempts = attempt
			res.Repaired = repaired
			return res, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return Result{}, err
		}
		lastConflict = err
		log.Warn("version conflict, restarting cycle",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	log.Error("giving up after repeated conflicts", slog.Int("attempts", c.cfg.MaxAttempts))
	return Result{}, fmt.Errorf("syncer: %d attempts exhausted: %w",
		c.cfg.MaxAttempts, errors.Join(apperr.ErrRemoteUnavailable, lastConflict))
}

// attempt runs one cycle. It returns the references removed by a repair
// commit that succeeded, even when a later step fails.
func (c *Controller) attempt(ctx context.Context, log *slog.Logger, mutate Mutation) (Result, []string, error) {
	snap, err := c.Read(ctx)
	if err != nil {
		log.Error("fetch failed", slog.String("error", err.Error()))
		return Result{}, nil, err
	}
	doc, version := snap.Document, snap.Version

	var fixed []string
	if dups := ledger.Detect(doc); len(dups) > 0 {
		doc = ledger.Repair(doc)
		rev, err := c.put(ctx, log, ledger.Serialize(doc), version, RepairMessage)
		if err != nil {
			return Result{}, nil, err
		}
		log.Info("repaired duplicate links", slog.Int("removed", len(dups)))
		version = rev
		fixed = dups
		snap.Exists = true
	}

	next, change, err := mutate(doc.Clone())
	if err != nil {
		return Result{}, fixed, err
	}

	text := ledger.Serialize(next)
	if text == ledger.Serialize(doc) {
		return Result{Change: change, Version: version, Document: next}, fixed, nil
	}

	rev, err := c.put(ctx, log, text, version, change.CommitMessage(c.cfg.Path, !snap.Exists))
	if err != nil {
		return Result{}, fixed, err
	}
	log.Info("committed ledger change", slog.String("kind", string(change.Kind)), slog.String("version", rev))
	return Result{
		Change:   change,
		Version:  rev,
		Written:  true,
		Created:  !snap.Exists,
		Document: next,
	}, fixed, nil
}

func (c *Controller) get(ctx context.Context) (storage.Object, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	obj, err := c.store.Get(callCtx, c.cfg.Path)
	return obj, c.callError(ctx, callCtx, err)
}

func (c *Controller) put(ctx context.Context, log *slog.Logger, text, version, message string) (string, error) {
	// Nothing is written once the caller has gone away.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("syncer: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	rev, err := c.store.Put(callCtx, storage.PutRequest{
		Path:            c.cfg.Path,
		Content:         []byte(text),
		ExpectedVersion: version,
		Message:         message,
		Author:          c.cfg.Author,
	})
	if err = c.callError(ctx, callCtx, err); err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			log.Error("commit failed",
				slog.String("expected_version", version),
				slog.String("error", err.Error()),
			)
		}
		return "", err
	}
	return rev.Version, nil
}

// callError classifies a store error, turning a per-call deadline into
// ErrRemoteUnavailable.
func (c *Controller) callError(ctx, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("syncer: %w", ctx.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("syncer: %w: store call exceeded %s: %w", apperr.ErrRemoteUnavailable, c.cfg.CallTimeout, err)
	}
	return err
}

func (c *Controller) backoff(retry int) time.Duration {
	d := c.cfg.BaseBackoff << (retry - 1)
	if d <= 0 || d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	half := d / 2
	return half + rand.N(half+1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
