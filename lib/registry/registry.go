// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
	"github.com/potato-foundation/potato/lib/clock"
	"github.com/potato-foundation/potato/lib/version"
)

// Config holds the registry's collaborators and tuning knobs.
type Config struct {
	Blobs   *blob.Store
	Catalog *catalog.Catalog

	// Clock drives retry backoff and download timestamps.
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// WriteAttempts bounds retries of catalog writes that fail
	// transiently. Defaults to 3.
	WriteAttempts int

	// RetryBackoff is the initial delay between retries, doubled
	// each attempt. Defaults to 200ms.
	RetryBackoff time.Duration
}

// Registry coordinates publishes and fetches across the blob store
// and the catalog. Safe for concurrent use.
type Registry struct {
	blobs    *blob.Store
	catalog  *catalog.Catalog
	clock    clock.Clock
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

// New builds a Registry from its collaborators.
func New(cfg Config) (*Registry, error) {
	if cfg.Blobs == nil {
		return nil, errors.New("registry: Config.Blobs is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("registry: Config.Catalog is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.WriteAttempts <= 0 {
		cfg.WriteAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Registry{
		blobs:    cfg.Blobs,
		catalog:  cfg.Catalog,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		attempts: cfg.WriteAttempts,
		backoff:  cfg.RetryBackoff,
	}, nil
}

// PublishRequest carries one incoming publish.
type PublishRequest struct {
	Name    string
	Version string

	// Content is the artifact byte stream. Read exactly once.
	Content io.Reader

	// ContentType hints codec selection in the blob store. Optional.
	ContentType string

	// DeclaredHash and DeclaredSize are the publisher's claim about
	// Content. The publish fails with *IntegrityError when the
	// received bytes do not match.
	DeclaredHash blob.Hash
	DeclaredSize int64
}

// Publish runs the publish saga: reserve the (name, version) slot,
// stream the content durable, verify it against the declaration, and
// commit. Republishing identical content to the same pair succeeds
// idempotently; different content is *catalog.ConflictError.
//
// On a hash or size mismatch the reservation is aborted and the
// orphaned blob left for the collector. On a transient storage
// failure the pending reservation is deliberately left in place: the
// reconciliation sweep reclaims it once it goes stale, and an earlier
// manual retry of the same publish resumes it.
func (r *Registry) Publish(ctx context.Context, req PublishRequest) (entry *catalog.Entry, err error) {
	defer func() {
		metricPublishes.WithLabelValues(resultLabel(err)).Inc()
	}()

	name, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}
	if _, err := version.Parse(req.Version); err != nil {
		return nil, &ValidationError{Field: "version", Value: req.Version, Reason: err.Error()}
	}
	if req.DeclaredHash.IsZero() {
		return nil, &ValidationError{Field: "declared hash", Value: "", Reason: "required"}
	}
	if req.DeclaredSize <= 0 {
		return nil, &ValidationError{
			Field:  "declared size",
			Value:  fmt.Sprint(req.DeclaredSize),
			Reason: "must be positive",
		}
	}

	var entryID int64
	err = r.withRetry(ctx, "begin publish", func() error {
		var beginErr error
		entryID, beginErr = r.catalog.BeginPublish(ctx, name, req.Version, req.DeclaredHash, req.DeclaredSize)
		return beginErr
	})
	if err != nil {
		return nil, err
	}

	// An identical-content republish may have matched an entry that
	// is already live; the bytes are durable, so skip the write.
	existing, err := r.catalog.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if existing.State == catalog.StatePublished {
		r.logger.Info("publish is idempotent replay",
			"package", name, "version", req.Version, "hash", req.DeclaredHash)
		return existing, nil
	}

	result, err := r.blobs.Put(&contextReader{ctx: ctx, r: req.Content}, req.ContentType)
	if err != nil {
		if ctxErr := context.Cause(ctx); ctxErr != nil {
			// The client went away; release the slot now rather
			// than waiting for the reconciliation sweep.
			r.abortReservation(ctx, entryID)
			return nil, ctxErr
		}
		return nil, &TransientError{Op: "blob put", Err: err}
	}

	if result.Size != req.DeclaredSize || result.Hash != req.DeclaredHash {
		r.abortReservation(ctx, entryID)
		return nil, &IntegrityError{
			Name:         name,
			Version:      req.Version,
			Expected:     req.DeclaredHash,
			Computed:     result.Hash,
			ExpectedSize: req.DeclaredSize,
			ComputedSize: result.Size,
		}
	}

	err = r.withRetry(ctx, "commit publish", func() error {
		return r.catalog.CommitPublish(ctx, entryID)
	})
	if err != nil {
		// A concurrent identical publish may have committed first.
		var invalidState *catalog.InvalidStateError
		if errors.As(err, &invalidState) && invalidState.State == catalog.StatePublished {
			committed, getErr := r.catalog.Get(ctx, entryID)
			if getErr == nil && committed.ContentHash == req.DeclaredHash {
				return committed, nil
			}
		}
		return nil, err
	}

	metricPublishBytes.Add(float64(result.Size))
	if result.Deduplicated {
		metricDedupHits.Inc()
	}
	r.logger.Info("published",
		"package", name,
		"version", req.Version,
		"hash", result.Hash,
		"size", result.Size,
		"codec", result.Codec,
		"deduplicated", result.Deduplicated)

	return r.catalog.Get(ctx, entryID)
}

// FetchResult is a resolved entry plus its verified content stream.
type FetchResult struct {
	Entry *catalog.Entry

	// Content re-hashes every byte as it is read and fails with
	// *IntegrityError instead of returning EOF if the bytes do not
	// match the catalog's recorded hash and size. The caller must
	// close it.
	Content io.ReadCloser
}

// Fetch resolves a version expression against the published versions
// of a package and opens its content. The expression is either an
// exact version or a range; ranges resolve to the highest published
// version that satisfies them.
func (r *Registry) Fetch(ctx context.Context, name, versionExpr string) (result *FetchResult, err error) {
	defer func() {
		metricFetches.WithLabelValues(resultLabel(err)).Inc()
	}()

	name, err = NormalizeName(name)
	if err != nil {
		return nil, err
	}

	resolved, err := r.resolveVersion(ctx, name, versionExpr)
	if err != nil {
		return nil, err
	}

	entry, err := r.catalog.Lookup(ctx, name, resolved)
	if err != nil {
		return nil, err
	}

	content, err := r.blobs.Open(entry.ContentHash)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			// A published entry always references a durable blob;
			// its absence means storage corruption, not a 404.
			return nil, &IntegrityError{
				Name:         name,
				Version:      entry.Version,
				Expected:     entry.ContentHash,
				ExpectedSize: entry.Size,
				ComputedSize: -1,
			}
		}
		return nil, &TransientError{Op: "blob open", Err: err}
	}

	if recordErr := r.catalog.RecordDownload(ctx, entry.ID, r.clock.Now()); recordErr != nil {
		// Accounting must not fail the fetch.
		r.logger.Warn("recording download failed",
			"package", name, "version", entry.Version, "error", recordErr)
	}

	return &FetchResult{
		Entry:   entry,
		Content: newVerifyReader(content, entry),
	}, nil
}

// resolveVersion turns a version expression into the exact published
// version to serve.
func (r *Registry) resolveVersion(ctx context.Context, name, versionExpr string) (string, error) {
	if version.IsExact(versionExpr) {
		return versionExpr, nil
	}

	if _, err := version.ParseRange(versionExpr); err != nil {
		return "", &ValidationError{Field: "version", Value: versionExpr, Reason: err.Error()}
	}

	published, err := r.catalog.Versions(ctx, name)
	if err != nil {
		return "", err
	}
	resolved, ok, err := version.Resolve(versionExpr, published)
	if err != nil {
		return "", &ValidationError{Field: "version", Value: versionExpr, Reason: err.Error()}
	}
	if !ok {
		return "", &catalog.NotFoundError{Name: name, Version: versionExpr}
	}
	return resolved, nil
}

// Delete yanks a published version. The reason, if any, is kept on
// the tombstone for the retention window. The content becomes
// collectable once nothing else references it.
func (r *Registry) Delete(ctx context.Context, name, ver, reason string) error {
	name, err := NormalizeName(name)
	if err != nil {
		return err
	}
	if _, err := version.Parse(ver); err != nil {
		return &ValidationError{Field: "version", Value: ver, Reason: err.Error()}
	}

	err = r.withRetry(ctx, "soft delete", func() error {
		return r.catalog.SoftDelete(ctx, name, ver, reason)
	})
	if err != nil {
		return err
	}

	r.logger.Info("deleted", "package", name, "version", ver, "reason", reason)
	return nil
}

// Versions lists the published versions of a package in descending
// order. Unknown packages yield an empty list, not an error.
func (r *Registry) Versions(ctx context.Context, name string) ([]string, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	return r.catalog.Versions(ctx, name)
}

// Packages summarizes every package with at least one published
// version.
func (r *Registry) Packages(ctx context.Context) ([]catalog.PackageInfo, error) {
	return r.catalog.Packages(ctx)
}

// Downloads returns the recorded fetch count of a published version.
func (r *Registry) Downloads(ctx context.Context, name, ver string) (int64, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return 0, err
	}
	entry, err := r.catalog.Lookup(ctx, name, ver)
	if err != nil {
		return 0, err
	}
	return r.catalog.DownloadCount(ctx, entry.ID)
}

// abortReservation releases a pending slot on the publish error path.
// Best effort: a failure here only delays the cleanup until the
// reconciliation sweep.
func (r *Registry) abortReservation(ctx context.Context, entryID int64) {
	// The client's context may already be cancelled; the abort
	// should still happen.
	ctx = context.WithoutCancel(ctx)
	err := r.withRetry(ctx, "abort publish", func() error {
		return r.catalog.AbortPublish(ctx, entryID)
	})
	if err != nil {
		r.logger.Warn("aborting reservation failed", "entry", entryID, "error", err)
	}
}

// withRetry runs fn up to the configured attempt budget, backing off
// between attempts. Terminal errors and context cancellation return
// immediately; a transient error that survives the budget is wrapped
// in *TransientError.
func (r *Registry) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := r.backoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if terminal(err) {
			return err
		}
		if attempt >= r.attempts {
			return &TransientError{Op: op, Err: err}
		}
		r.logger.Warn("retrying after transient failure",
			"op", op, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(backoff):
		}
		backoff *= 2
	}
}

// contextReader fails reads promptly once ctx is cancelled, so a
// dropped client cannot hold a publish open.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
