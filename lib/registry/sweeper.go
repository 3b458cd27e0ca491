// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
	"github.com/potato-foundation/potato/lib/clock"
)

// SweeperConfig holds the sweeper's collaborators and policy.
type SweeperConfig struct {
	Blobs   *blob.Store
	Catalog *catalog.Catalog

	Clock  clock.Clock
	Logger *slog.Logger

	// PendingTimeout is how long a pending reservation may sit
	// before the sweep treats it as orphaned and aborts it.
	// Defaults to 15 minutes.
	PendingTimeout time.Duration

	// GracePeriod is the minimum age of an unreferenced blob before
	// the collector removes it. It must comfortably exceed the gap
	// between a blob write and its catalog reservation becoming
	// visible. Zero disables the shield.
	GracePeriod time.Duration

	// Retention is how long deleted tombstones are kept before the
	// purge, preserving yank reasons for audit. Defaults to 7 days.
	Retention time.Duration

	// Interval is the pause between sweep passes when running as a
	// loop. Defaults to 5 minutes.
	Interval time.Duration
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	PendingAborted   int
	TombstonesPurged int
	BlobsReclaimed   int
	BytesReclaimed   int64
	StagingPurged    int
}

// Sweeper is the registry's background janitor. One pass aborts
// stale pending reservations, purges expired tombstones, collects
// unreferenced blobs past the grace period, and clears abandoned
// staging files.
type Sweeper struct {
	blobs   *blob.Store
	catalog *catalog.Catalog
	clock   clock.Clock
	logger  *slog.Logger

	pendingTimeout time.Duration
	gracePeriod    time.Duration
	retention      time.Duration
	interval       time.Duration
}

// NewSweeper builds a Sweeper.
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("sweeper: SweeperConfig.Blobs is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("sweeper: SweeperConfig.Catalog is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 15 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Sweeper{
		blobs:          cfg.Blobs,
		catalog:        cfg.Catalog,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		pendingTimeout: cfg.PendingTimeout,
		gracePeriod:    cfg.GracePeriod,
		retention:      cfg.Retention,
		interval:       cfg.Interval,
	}, nil
}

// Run sweeps at the configured interval until ctx is cancelled.
// Sweep failures are logged, not fatal: a pass that fails leaves
// garbage for the next one.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep pass.
//
// Ordering matters: stale reservations are aborted first so the
// blobs they referenced become unreferenced within the same pass,
// then the reference set is computed, then collection runs against
// it. A blob is removed only when it is absent from the reference
// set AND older than the grace period; the age check is what
// protects a publish that has written bytes but not yet reserved its
// slot.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepStats, error) {
	started := s.clock.Now()
	defer func() {
		metricSweepDuration.Observe(s.clock.Now().Sub(started).Seconds())
	}()

	var stats SweepStats
	now := s.clock.Now()

	stale, err := s.catalog.StalePending(ctx, now.Add(-s.pendingTimeout))
	if err != nil {
		return stats, fmt.Errorf("sweep: listing stale reservations: %w", err)
	}
	for _, entry := range stale {
		if err := s.catalog.AbortPublish(ctx, entry.ID); err != nil {
			s.logger.Warn("aborting stale reservation failed",
				"entry", entry.ID, "package", entry.Name, "version", entry.Version, "error", err)
			continue
		}
		s.logger.Info("aborted stale reservation",
			"entry", entry.ID, "package", entry.Name, "version", entry.Version,
			"age", now.Sub(entry.UploadedAt))
		stats.PendingAborted++
	}
	metricSweepPendingAborted.Add(float64(stats.PendingAborted))

	purged, err := s.catalog.PurgeDeleted(ctx, now.Add(-s.retention))
	if err != nil {
		return stats, fmt.Errorf("sweep: purging tombstones: %w", err)
	}
	stats.TombstonesPurged = purged

	if err := s.collect(ctx, now, &stats); err != nil {
		return stats, err
	}

	stagingPurged, err := s.blobs.PurgeStaging(now.Add(-s.pendingTimeout))
	if err != nil {
		return stats, fmt.Errorf("sweep: purging staging files: %w", err)
	}
	stats.StagingPurged = stagingPurged

	if stats != (SweepStats{}) {
		s.logger.Info("sweep complete",
			"pending_aborted", stats.PendingAborted,
			"tombstones_purged", stats.TombstonesPurged,
			"blobs_reclaimed", stats.BlobsReclaimed,
			"bytes_reclaimed", stats.BytesReclaimed,
			"staging_purged", stats.StagingPurged)
	}
	return stats, nil
}

// collect removes blobs that no pending or published entry
// references, subject to the grace period.
func (s *Sweeper) collect(ctx context.Context, now time.Time, stats *SweepStats) error {
	referenced, err := s.catalog.ReferencedHashes(ctx)
	if err != nil {
		return fmt.Errorf("sweep: loading reference set: %w", err)
	}
	stored, err := s.blobs.Hashes()
	if err != nil {
		return fmt.Errorf("sweep: listing stored blobs: %w", err)
	}

	for _, h := range stored {
		if referenced[h] {
			continue
		}

		info, err := s.blobs.Stat(h)
		if err != nil {
			s.logger.Warn("stat of unreferenced blob failed", "hash", h, "error", err)
			continue
		}
		if s.gracePeriod > 0 && now.Sub(info.StoredAt) < s.gracePeriod {
			continue
		}

		if err := s.blobs.Remove(h); err != nil {
			s.logger.Warn("removing unreferenced blob failed", "hash", h, "error", err)
			continue
		}
		stats.BlobsReclaimed++
		if info.Size > 0 {
			stats.BytesReclaimed += info.Size
		}
	}

	metricSweepBlobsReclaimed.Add(float64(stats.BlobsReclaimed))
	metricSweepBytesReclaimed.Add(float64(stats.BytesReclaimed))
	return nil
}
