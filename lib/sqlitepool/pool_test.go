// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	if err == nil {
		t.Fatal("Open with empty Path succeeded")
	}
}

func TestTakePutRoundTrip(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 2,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "CREATE TABLE t (x INTEGER)", nil); err != nil {
		t.Fatalf("CREATE TABLE failed: %v", err)
	}
	if err := sqlitex.ExecuteTransient(conn, "INSERT INTO t VALUES (42)", nil); err != nil {
		t.Fatalf("INSERT failed: %v", err)
	}

	var got int64
	err = sqlitex.ExecuteTransient(conn, "SELECT x FROM t", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			got = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("SELECT failed: %v", err)
	}
	if got != 42 {
		t.Errorf("SELECT returned %d, want 42", got)
	}
}

func TestOnConnectRuns(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 1,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, "CREATE TABLE IF NOT EXISTS setup (x INTEGER);", nil)
		},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer pool.Put(conn)

	// The table created by OnConnect must be visible.
	if err := sqlitex.ExecuteTransient(conn, "INSERT INTO setup VALUES (1)", nil); err != nil {
		t.Fatalf("table from OnConnect missing: %v", err)
	}
}

func TestPragmasApplied(t *testing.T) {
	pool, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	defer pool.Put(conn)

	var mode string
	err = sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			mode = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
