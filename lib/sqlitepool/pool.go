// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the registry's SQLite connection pool.
//
// It wraps zombiezen.com/go/sqlite with pragmas tuned for a metadata
// store that is the system's source of truth: WAL journal mode for
// concurrent readers alongside the single writer, and
// synchronous=FULL because a catalog row acknowledged to a publisher
// must survive power loss, not just a process crash. (This is the
// opposite trade from a telemetry or cache database, where NORMAL is
// the right call.)
//
// The pool is built on sqlitex.Pool. Callers [Pool.Take] a
// connection, do their work, and [Pool.Put] it back. Connections are
// not safe for concurrent use: each goroutine holds its own for the
// duration of its work. Write transactions use
// sqlitex.ImmediateTransaction so lock acquisition fails fast under
// contention instead of deadlocking at commit.
package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist; the file is created if absent. ":memory:" works for
	// tests but requires PoolSize 1, since each in-memory connection
	// is an independent database.
	Path string

	// PoolSize is the number of connections. Zero or negative means
	// max(NumCPU, 4). SQLite serializes writes regardless of pool
	// size; extra connections only help concurrent reads.
	PoolSize int

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas,
	// for schema creation and similar per-connection setup. An error
	// discards the connection.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections. Safe for
// concurrent use; individual connections are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool and applies the registry-standard pragmas to
// every connection. The caller must Close the pool when done.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize < 4 {
			poolSize = 4
		}
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened", "path", cfg.Path, "pool_size", poolSize)

	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is available or ctx
// is cancelled. The caller must Put it back, typically via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections, blocking until borrowed connections
// are returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies the registry-standard pragmas, then the
// optional OnConnect callback. Runs once per pooled connection.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		// Concurrent readers with the single writer; readers never
		// block the writer and vice versa.
		"PRAGMA journal_mode=WAL",
		// The catalog is authoritative: rows acknowledged to
		// publishers must survive power failure.
		"PRAGMA synchronous=FULL",
		// Wait for a write lock instead of failing with SQLITE_BUSY.
		"PRAGMA busy_timeout=5000",
		// Referential integrity between entries and download logs is
		// managed explicitly; cascades are a footgun here.
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}
	return nil
}
