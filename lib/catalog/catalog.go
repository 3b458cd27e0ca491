// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog implements the registry's metadata catalog: the
// authoritative SQLite record of which (name, version) pairs exist,
// what content they reference, and where each sits in the publish
// lifecycle.
//
// Every entry moves through a small state machine:
//
//	pending ──commit──▶ published ──soft delete──▶ deleted ──purge──▶ gone
//	   │
//	 abort (row removed)
//
// A pending row is a reservation created before the blob write is
// confirmed durable; resolvers never see it. The UNIQUE index on
// (name, version) is the single point of mutual exclusion for
// concurrent publishes of the same pair. The blob store needs no
// locking because identical content is idempotent there.
//
// The catalog is also the garbage collector's source of truth:
// [Catalog.ReferencedHashes] returns the hashes of every pending and
// published entry, and a blob is collectable only when absent from
// that set.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/clock"
	"github.com/potato-foundation/potato/lib/sqlitepool"
	"github.com/potato-foundation/potato/lib/version"
)

// State is the lifecycle state of a catalog entry.
type State string

const (
	// StatePending marks a reservation whose blob write is not yet
	// confirmed durable. Invisible to resolvers.
	StatePending State = "pending"

	// StatePublished marks a live, fetchable entry.
	StatePublished State = "published"

	// StateDeleted marks a yanked entry. Invisible to resolvers; the
	// row survives until the retention purge so the deletion (and
	// its reason) remains auditable.
	StateDeleted State = "deleted"
)

// schema creates the catalog tables. Timestamps are Unix seconds UTC.
const schema = `
	CREATE TABLE IF NOT EXISTS entries (
		id           INTEGER PRIMARY KEY,
		name         TEXT NOT NULL,
		version      TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_bytes   INTEGER NOT NULL,
		state        TEXT NOT NULL CHECK (state IN ('pending', 'published', 'deleted')),
		uploaded_at  INTEGER NOT NULL,
		published_at INTEGER,
		deleted_at   INTEGER,
		yank_reason  TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_name_version ON entries(name, version);
	CREATE INDEX IF NOT EXISTS idx_entries_state ON entries(state);
	CREATE INDEX IF NOT EXISTS idx_entries_hash ON entries(content_hash);

	CREATE TABLE IF NOT EXISTS downloads (
		id         INTEGER PRIMARY KEY,
		entry_id   INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_downloads_entry ON downloads(entry_id);
`

// Entry is one catalog row.
type Entry struct {
	ID          int64
	Name        string
	Version     string
	ContentHash blob.Hash
	Size        int64
	State       State
	UploadedAt  time.Time
	PublishedAt time.Time // zero unless published
	DeletedAt   time.Time // zero unless deleted
	YankReason  string
}

// PackageInfo summarizes one package for listings.
type PackageInfo struct {
	Name          string
	VersionCount  int
	LatestVersion string
}

// Config holds the parameters for opening a catalog.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock stamps entry lifecycle transitions.
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Catalog is the SQLite-backed metadata catalog. Safe for concurrent
// use.
type Catalog struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates the catalog, creating the database and schema if
// needed.
func Open(cfg Config) (*Catalog, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	return &Catalog{pool: pool, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool.
func (c *Catalog) Close() error {
	return c.pool.Close()
}

// BeginPublish reserves the (name, version) slot for an incoming
// publish, before any bytes are durably written.
//
//   - No row: a pending row is inserted and its ID returned.
//   - Deleted row: the tombstone is resurrected as a new pending
//     reservation (the slot is free again after a delete).
//   - Pending or published row with the SAME hash: the existing ID is
//     returned with no new row; republishing identical content is
//     idempotent.
//   - Pending or published row with a DIFFERENT hash: *ConflictError.
//     Published versions are immutable, and a pending reservation
//     holds the slot until committed, aborted, or reclaimed by the
//     reconciliation sweep.
func (c *Catalog) BeginPublish(ctx context.Context, name, ver string, contentHash blob.Hash, size int64) (entryID int64, err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	existing, err := lookupEntry(conn, name, ver)
	if err != nil {
		return 0, err
	}

	now := c.clock.Now().UTC().Unix()

	switch {
	case existing == nil:
		err = sqlitex.Execute(conn, `INSERT INTO entries
			(name, version, content_hash, size_bytes, state, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
			Args: []any{name, ver, contentHash.String(), size, string(StatePending), now},
		})
		if err != nil {
			return 0, fmt.Errorf("catalog: inserting pending entry: %w", err)
		}
		return conn.LastInsertRowID(), nil

	case existing.State == StateDeleted:
		// The slot was freed by a soft delete; reuse the row so the
		// unique index stays one row per (name, version).
		err = sqlitex.Execute(conn, `UPDATE entries
			SET content_hash = ?, size_bytes = ?, state = ?, uploaded_at = ?,
			    published_at = NULL, deleted_at = NULL, yank_reason = NULL
			WHERE id = ?`, &sqlitex.ExecOptions{
			Args: []any{contentHash.String(), size, string(StatePending), now, existing.ID},
		})
		if err != nil {
			return 0, fmt.Errorf("catalog: resurrecting deleted entry: %w", err)
		}
		return existing.ID, nil

	case existing.ContentHash == contentHash:
		// Idempotent republish of identical content.
		return existing.ID, nil

	default:
		return 0, &ConflictError{
			Name:     name,
			Version:  ver,
			Existing: existing.ContentHash,
			Proposed: contentHash,
		}
	}
}

// CommitPublish transitions a pending entry to published. Returns
// *InvalidStateError when the entry is not pending (concurrently
// committed, aborted by the reconciliation sweep, or never created).
func (c *Catalog) CommitPublish(ctx context.Context, entryID int64) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := c.clock.Now().UTC().Unix()
	err = sqlitex.Execute(conn, `UPDATE entries
		SET state = ?, published_at = ?
		WHERE id = ? AND state = ?`, &sqlitex.ExecOptions{
		Args: []any{string(StatePublished), now, entryID, string(StatePending)},
	})
	if err != nil {
		return fmt.Errorf("catalog: committing entry %d: %w", entryID, err)
	}
	if conn.Changes() == 0 {
		state, lookupErr := entryState(conn, entryID)
		if lookupErr != nil {
			return lookupErr
		}
		return &InvalidStateError{EntryID: entryID, State: state, Op: "commit"}
	}
	return nil
}

// AbortPublish removes a pending reservation. Aborting an entry that
// no longer exists is a no-op: the reconciliation sweep may have
// reclaimed it first, and a double abort must not fail the caller's
// error path. Aborting a published entry is *InvalidStateError.
func (c *Catalog) AbortPublish(ctx context.Context, entryID int64) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `DELETE FROM entries WHERE id = ? AND state = ?`,
		&sqlitex.ExecOptions{
			Args: []any{entryID, string(StatePending)},
		})
	if err != nil {
		return fmt.Errorf("catalog: aborting entry %d: %w", entryID, err)
	}
	if conn.Changes() == 0 {
		state, lookupErr := entryState(conn, entryID)
		if lookupErr != nil {
			// Row is gone: already aborted.
			return nil
		}
		return &InvalidStateError{EntryID: entryID, State: state, Op: "abort"}
	}
	return nil
}

// Get returns an entry by ID, in any state. Returns *NotFoundError
// when no row exists.
func (c *Catalog) Get(ctx context.Context, entryID int64) (*Entry, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	var found *Entry
	err = sqlitex.Execute(conn, `SELECT `+entryColumns+` FROM entries WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{entryID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, scanErr := scanEntry(stmt)
				if scanErr != nil {
					return scanErr
				}
				found = entry
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: loading entry %d: %w", entryID, err)
	}
	if found == nil {
		return nil, &NotFoundError{Name: fmt.Sprintf("entry %d", entryID)}
	}
	return found, nil
}

// Lookup returns the published entry for an exact (name, version)
// pair. Pending and deleted entries are invisible: a fetch
// overlapping an uncommitted publish must not observe it.
func (c *Catalog) Lookup(ctx context.Context, name, ver string) (*Entry, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	entry, err := lookupEntry(conn, name, ver)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.State != StatePublished {
		return nil, &NotFoundError{Name: name, Version: ver}
	}
	return entry, nil
}

// Versions returns the published versions of a package in descending
// semver order.
func (c *Catalog) Versions(ctx context.Context, name string) ([]string, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	var versions []string
	err = sqlitex.Execute(conn, `SELECT version FROM entries
		WHERE name = ? AND state = ?`, &sqlitex.ExecOptions{
		Args: []any{name, string(StatePublished)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			versions = append(versions, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing versions of %q: %w", name, err)
	}

	version.SortDescending(versions)
	return versions, nil
}

// Packages summarizes all packages with at least one published
// version, ordered by name.
func (c *Catalog) Packages(ctx context.Context) ([]PackageInfo, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	type accumulator struct {
		count    int
		versions []string
	}
	byName := make(map[string]*accumulator)
	var names []string

	err = sqlitex.Execute(conn, `SELECT name, version FROM entries
		WHERE state = ? ORDER BY name`, &sqlitex.ExecOptions{
		Args: []any{string(StatePublished)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			name := stmt.ColumnText(0)
			acc, seen := byName[name]
			if !seen {
				acc = &accumulator{}
				byName[name] = acc
				names = append(names, name)
			}
			acc.count++
			acc.versions = append(acc.versions, stmt.ColumnText(1))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing packages: %w", err)
	}

	packages := make([]PackageInfo, 0, len(names))
	for _, name := range names {
		acc := byName[name]
		latest, _ := version.Latest(acc.versions)
		packages = append(packages, PackageInfo{
			Name:          name,
			VersionCount:  acc.count,
			LatestVersion: latest,
		})
	}
	return packages, nil
}

// SoftDelete yanks a published entry. The row survives as a deleted
// tombstone (with the optional reason) until the retention purge.
// Returns *NotFoundError when no published entry matches.
func (c *Catalog) SoftDelete(ctx context.Context, name, ver, reason string) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	var reasonValue any
	if reason != "" {
		reasonValue = reason
	}

	now := c.clock.Now().UTC().Unix()
	err = sqlitex.Execute(conn, `UPDATE entries
		SET state = ?, deleted_at = ?, yank_reason = ?
		WHERE name = ? AND version = ? AND state = ?`, &sqlitex.ExecOptions{
		Args: []any{string(StateDeleted), now, reasonValue, name, ver, string(StatePublished)},
	})
	if err != nil {
		return fmt.Errorf("catalog: deleting %q version %s: %w", name, ver, err)
	}
	if conn.Changes() == 0 {
		return &NotFoundError{Name: name, Version: ver}
	}
	return nil
}

// ReferencedHashes returns the content hashes of all pending and
// published entries. A blob absent from this set, and older than the
// grace period, is garbage.
func (c *Catalog) ReferencedHashes(ctx context.Context) (map[blob.Hash]bool, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	referenced := make(map[blob.Hash]bool)
	err = sqlitex.Execute(conn, `SELECT DISTINCT content_hash FROM entries
		WHERE state IN (?, ?)`, &sqlitex.ExecOptions{
		Args: []any{string(StatePending), string(StatePublished)},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			parsed, parseErr := blob.ParseHash(stmt.ColumnText(0))
			if parseErr != nil {
				return fmt.Errorf("catalog: corrupt content_hash: %w", parseErr)
			}
			referenced[parsed] = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing referenced hashes: %w", err)
	}
	return referenced, nil
}

// StalePending returns pending entries created before cutoff. These
// are reservations orphaned by a crash or dropped upload; the
// reconciliation sweep aborts them so the slot and the blob become
// reclaimable.
func (c *Catalog) StalePending(ctx context.Context, cutoff time.Time) ([]Entry, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(conn)

	var stale []Entry
	err = sqlitex.Execute(conn, `SELECT `+entryColumns+` FROM entries
		WHERE state = ? AND uploaded_at < ?`, &sqlitex.ExecOptions{
		Args: []any{string(StatePending), cutoff.UTC().Unix()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, scanErr := scanEntry(stmt)
			if scanErr != nil {
				return scanErr
			}
			stale = append(stale, *entry)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing stale pending entries: %w", err)
	}
	return stale, nil
}

// PurgeDeleted removes deleted tombstones whose deletion happened
// before cutoff, together with their download logs. Returns the
// number of entries purged.
func (c *Catalog) PurgeDeleted(ctx context.Context, cutoff time.Time) (purged int, err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn, `DELETE FROM downloads WHERE entry_id IN
		(SELECT id FROM entries WHERE state = ? AND deleted_at < ?)`,
		&sqlitex.ExecOptions{
			Args: []any{string(StateDeleted), cutoff.UTC().Unix()},
		})
	if err != nil {
		return 0, fmt.Errorf("catalog: purging download logs: %w", err)
	}

	err = sqlitex.Execute(conn, `DELETE FROM entries WHERE state = ? AND deleted_at < ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(StateDeleted), cutoff.UTC().Unix()},
		})
	if err != nil {
		return 0, fmt.Errorf("catalog: purging deleted entries: %w", err)
	}
	return conn.Changes(), nil
}

// RecordDownload logs one fetch of an entry. Download logs live in
// their own high-volume table so fetch accounting never contends
// with entry state transitions.
func (c *Catalog) RecordDownload(ctx context.Context, entryID int64, at time.Time) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO downloads (entry_id, fetched_at) VALUES (?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{entryID, at.UTC().Unix()},
		})
	if err != nil {
		return fmt.Errorf("catalog: recording download for entry %d: %w", entryID, err)
	}
	return nil
}

// DownloadCount returns the number of recorded fetches of an entry.
func (c *Catalog) DownloadCount(ctx context.Context, entryID int64) (int64, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer c.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM downloads WHERE entry_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{entryID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("catalog: counting downloads for entry %d: %w", entryID, err)
	}
	return count, nil
}

// entryColumns is the SELECT list scanEntry expects, in order.
const entryColumns = `id, name, version, content_hash, size_bytes, state,
	uploaded_at, published_at, deleted_at, yank_reason`

// scanEntry builds an Entry from a row produced by entryColumns.
func scanEntry(stmt *sqlite.Stmt) (*Entry, error) {
	contentHash, err := blob.ParseHash(stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("catalog: corrupt content_hash: %w", err)
	}

	entry := &Entry{
		ID:          stmt.ColumnInt64(0),
		Name:        stmt.ColumnText(1),
		Version:     stmt.ColumnText(2),
		ContentHash: contentHash,
		Size:        stmt.ColumnInt64(4),
		State:       State(stmt.ColumnText(5)),
		UploadedAt:  time.Unix(stmt.ColumnInt64(6), 0).UTC(),
		YankReason:  stmt.ColumnText(9),
	}
	if publishedAt := stmt.ColumnInt64(7); publishedAt != 0 {
		entry.PublishedAt = time.Unix(publishedAt, 0).UTC()
	}
	if deletedAt := stmt.ColumnInt64(8); deletedAt != 0 {
		entry.DeletedAt = time.Unix(deletedAt, 0).UTC()
	}
	return entry, nil
}

// lookupEntry fetches the single row for (name, version) in any
// state, or nil.
func lookupEntry(conn *sqlite.Conn, name, ver string) (*Entry, error) {
	var found *Entry
	err := sqlitex.Execute(conn, `SELECT `+entryColumns+` FROM entries
		WHERE name = ? AND version = ?`, &sqlitex.ExecOptions{
		Args: []any{name, ver},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry, scanErr := scanEntry(stmt)
			if scanErr != nil {
				return scanErr
			}
			found = entry
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: looking up %q version %s: %w", name, ver, err)
	}
	return found, nil
}

// entryState returns the state of an entry by ID, or an error when
// the row does not exist.
func entryState(conn *sqlite.Conn, entryID int64) (State, error) {
	var state State
	found := false
	err := sqlitex.Execute(conn, `SELECT state FROM entries WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{entryID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				state = State(stmt.ColumnText(0))
				found = true
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("catalog: loading entry %d state: %w", entryID, err)
	}
	if !found {
		return "", fmt.Errorf("catalog: entry %d does not exist", entryID)
	}
	return state, nil
}
