// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "potato.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
storage:
  root: /srv/potato
  pool_size: 8
server:
  listen: "127.0.0.1:9000"
  max_upload_bytes: 1048576
publish:
  pending_timeout: 30m
sweep:
  grace_period: 24h
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Production {
		t.Errorf("Environment = %s, want production", cfg.Environment)
	}
	if cfg.Storage.Root != "/srv/potato" {
		t.Errorf("Storage.Root = %s", cfg.Storage.Root)
	}
	if cfg.Storage.PoolSize != 8 {
		t.Errorf("Storage.PoolSize = %d, want 8", cfg.Storage.PoolSize)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Errorf("Server.Listen = %s", cfg.Server.Listen)
	}
	if cfg.Server.MaxUploadBytes != 1048576 {
		t.Errorf("Server.MaxUploadBytes = %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Publish.PendingTimeout.Std() != 30*time.Minute {
		t.Errorf("Publish.PendingTimeout = %v", cfg.Publish.PendingTimeout.Std())
	}
	if cfg.Sweep.GracePeriod.Std() != 24*time.Hour {
		t.Errorf("Sweep.GracePeriod = %v", cfg.Sweep.GracePeriod.Std())
	}

	// Unset fields keep their defaults.
	if cfg.Server.InternalListen != ":8401" {
		t.Errorf("Server.InternalListen = %s, want default :8401", cfg.Server.InternalListen)
	}
	if cfg.Sweep.Retention.Std() != 7*24*time.Hour {
		t.Errorf("Sweep.Retention = %v, want default 168h", cfg.Sweep.Retention.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config does not validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile of missing file succeeded")
	}
}

func TestLoadFileBadDuration(t *testing.T) {
	path := writeConfig(t, `
sweep:
  interval: soon
`)
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("err = %v, want invalid duration", err)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
storage:
  root: /srv/potato
sweep:
  grace_period: 1h
production:
  sweep:
    grace_period: 48h
  server:
    listen: ":443"
development:
  sweep:
    grace_period: 1m
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Sweep.GracePeriod.Std() != 48*time.Hour {
		t.Errorf("GracePeriod = %v, want 48h from production override", cfg.Sweep.GracePeriod.Std())
	}
	if cfg.Server.Listen != ":443" {
		t.Errorf("Listen = %s, want :443 from production override", cfg.Server.Listen)
	}
	// The development section must not apply.
	if cfg.Sweep.GracePeriod.Std() == time.Minute {
		t.Error("development override applied under production")
	}
}

func TestVariableExpansion(t *testing.T) {
	path := writeConfig(t, `
storage:
  root: /srv/potato
  blobs: ${POTATO_ROOT}/blob-data
  database: ${POTATO_ROOT}/db/catalog.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Storage.Blobs != "/srv/potato/blob-data" {
		t.Errorf("Storage.Blobs = %s", cfg.Storage.Blobs)
	}
	if cfg.Storage.Database != "/srv/potato/db/catalog.db" {
		t.Errorf("Storage.Database = %s", cfg.Storage.Database)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		label  string
		mutate func(*Config)
	}{
		{"bad environment", func(c *Config) { c.Environment = "prod" }},
		{"empty root", func(c *Config) { c.Storage.Root = "" }},
		{"zero pool", func(c *Config) { c.Storage.PoolSize = 0 }},
		{"empty listen", func(c *Config) { c.Server.Listen = "" }},
		{"zero upload cap", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"zero pending timeout", func(c *Config) { c.Publish.PendingTimeout = 0 }},
		{"negative grace", func(c *Config) { c.Sweep.GracePeriod = Duration(-time.Hour) }},
		{"zero retention", func(c *Config) { c.Sweep.Retention = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate passed", tc.label)
		}
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "potato")
	cfg := Default()
	cfg.Storage.Root = root
	cfg.Storage.Blobs = filepath.Join(root, "blobs")
	cfg.Storage.Database = filepath.Join(root, "db", "catalog.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths failed: %v", err)
	}
	for _, dir := range []string{root, cfg.Storage.Blobs, filepath.Join(root, "db")} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("POTATO_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Error("Load without POTATO_CONFIG succeeded")
	}

	path := writeConfig(t, "storage:\n  root: /srv/potato\n")
	t.Setenv("POTATO_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Root != "/srv/potato" {
		t.Errorf("Storage.Root = %s", cfg.Storage.Root)
	}
}
