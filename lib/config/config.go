// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the potato
// registry.
//
// Configuration is loaded from a single file specified by:
//   - POTATO_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections
// (development, staging, production) that override base values when
// the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Duration is a time.Duration that unmarshals from a YAML string
// like "15m" or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for the registry.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Storage configures where blobs and the catalog live.
	Storage StorageConfig `yaml:"storage"`

	// Server configures the HTTP listeners.
	Server ServerConfig `yaml:"server"`

	// Publish configures the upload coordinator.
	Publish PublishConfig `yaml:"publish"`

	// Sweep configures reconciliation and garbage collection.
	Sweep SweepConfig `yaml:"sweep"`

	// Per-environment overrides, applied after the base config is
	// loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
	Publish *PublishConfig `yaml:"publish,omitempty"`
	Sweep   *SweepConfig   `yaml:"sweep,omitempty"`
}

// StorageConfig configures the data directories.
type StorageConfig struct {
	// Root is the base directory for registry data.
	Root string `yaml:"root"`

	// Blobs is the content-addressed blob store directory.
	// Default: ${POTATO_ROOT}/blobs
	Blobs string `yaml:"blobs"`

	// Database is the catalog SQLite file.
	// Default: ${POTATO_ROOT}/catalog.db
	Database string `yaml:"database"`

	// PoolSize is the catalog connection pool size. Default: 4.
	PoolSize int `yaml:"pool_size"`
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// Listen is the public API address. Default: :8400
	Listen string `yaml:"listen"`

	// InternalListen serves /metrics and /healthz, kept off the
	// public listener. Default: :8401
	InternalListen string `yaml:"internal_listen"`

	// MaxUploadBytes caps a single publish body. Default: 1 GiB.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// ReadHeaderTimeout bounds slow-header clients. Default: 5s.
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful drain on exit. Default: 10s.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// PublishConfig configures the upload coordinator.
type PublishConfig struct {
	// PendingTimeout is how long a pending reservation may sit
	// before the sweep reclaims it. Default: 15m.
	PendingTimeout Duration `yaml:"pending_timeout"`

	// WriteAttempts bounds transient catalog write retries.
	// Default: 3.
	WriteAttempts int `yaml:"write_attempts"`

	// RetryBackoff is the initial retry delay, doubled per attempt.
	// Default: 200ms.
	RetryBackoff Duration `yaml:"retry_backoff"`
}

// SweepConfig configures the background sweeper.
type SweepConfig struct {
	// Interval is the pause between sweep passes. Default: 5m.
	Interval Duration `yaml:"interval"`

	// GracePeriod shields young unreferenced blobs from
	// collection. Default: 1h.
	GracePeriod Duration `yaml:"grace_period"`

	// Retention is how long deleted tombstones are kept for audit.
	// Default: 168h (7 days).
	Retention Duration `yaml:"retention"`
}

// Default returns the default configuration. These defaults ensure
// all fields have sensible values before the config file is merged
// on top.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "potato")

	return &Config{
		Environment: Development,
		Storage: StorageConfig{
			Root:     defaultRoot,
			Blobs:    filepath.Join(defaultRoot, "blobs"),
			Database: filepath.Join(defaultRoot, "catalog.db"),
			PoolSize: 4,
		},
		Server: ServerConfig{
			Listen:            ":8400",
			InternalListen:    ":8401",
			MaxUploadBytes:    1 << 30,
			ReadHeaderTimeout: Duration(5 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Publish: PublishConfig{
			PendingTimeout: Duration(15 * time.Minute),
			WriteAttempts:  3,
			RetryBackoff:   Duration(200 * time.Millisecond),
		},
		Sweep: SweepConfig{
			Interval:    Duration(5 * time.Minute),
			GracePeriod: Duration(time.Hour),
			Retention:   Duration(7 * 24 * time.Hour),
		},
	}
}

// Load loads configuration from the POTATO_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit
// path. There are no fallbacks: if POTATO_CONFIG is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("POTATO_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("POTATO_CONFIG environment variable not set; " +
			"set it to the path of your potato.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment
// variables do not override config values. The only expansion
// performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific
// overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Storage != nil {
		if overrides.Storage.Root != "" {
			c.Storage.Root = overrides.Storage.Root
		}
		if overrides.Storage.Blobs != "" {
			c.Storage.Blobs = overrides.Storage.Blobs
		}
		if overrides.Storage.Database != "" {
			c.Storage.Database = overrides.Storage.Database
		}
		if overrides.Storage.PoolSize != 0 {
			c.Storage.PoolSize = overrides.Storage.PoolSize
		}
	}

	if overrides.Server != nil {
		if overrides.Server.Listen != "" {
			c.Server.Listen = overrides.Server.Listen
		}
		if overrides.Server.InternalListen != "" {
			c.Server.InternalListen = overrides.Server.InternalListen
		}
		if overrides.Server.MaxUploadBytes != 0 {
			c.Server.MaxUploadBytes = overrides.Server.MaxUploadBytes
		}
		if overrides.Server.ReadHeaderTimeout != 0 {
			c.Server.ReadHeaderTimeout = overrides.Server.ReadHeaderTimeout
		}
		if overrides.Server.ShutdownTimeout != 0 {
			c.Server.ShutdownTimeout = overrides.Server.ShutdownTimeout
		}
	}

	if overrides.Publish != nil {
		if overrides.Publish.PendingTimeout != 0 {
			c.Publish.PendingTimeout = overrides.Publish.PendingTimeout
		}
		if overrides.Publish.WriteAttempts != 0 {
			c.Publish.WriteAttempts = overrides.Publish.WriteAttempts
		}
		if overrides.Publish.RetryBackoff != 0 {
			c.Publish.RetryBackoff = overrides.Publish.RetryBackoff
		}
	}

	if overrides.Sweep != nil {
		if overrides.Sweep.Interval != 0 {
			c.Sweep.Interval = overrides.Sweep.Interval
		}
		if overrides.Sweep.GracePeriod != 0 {
			c.Sweep.GracePeriod = overrides.Sweep.GracePeriod
		}
		if overrides.Sweep.Retention != 0 {
			c.Sweep.Retention = overrides.Sweep.Retention
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in
// paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"POTATO_ROOT": c.Storage.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Storage.Root = expandVars(c.Storage.Root, vars)
	vars["POTATO_ROOT"] = c.Storage.Root // Update for dependent paths.

	c.Storage.Blobs = expandVars(c.Storage.Blobs, vars)
	c.Storage.Database = expandVars(c.Storage.Database, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Storage.Root == "" {
		errs = append(errs, fmt.Errorf("storage.root is required"))
	}
	if c.Storage.Blobs == "" {
		errs = append(errs, fmt.Errorf("storage.blobs is required"))
	}
	if c.Storage.Database == "" {
		errs = append(errs, fmt.Errorf("storage.database is required"))
	}
	if c.Storage.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("storage.pool_size must be at least 1"))
	}

	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Server.InternalListen == "" {
		errs = append(errs, fmt.Errorf("server.internal_listen is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive"))
	}

	if c.Publish.PendingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("publish.pending_timeout must be positive"))
	}
	if c.Publish.WriteAttempts < 1 {
		errs = append(errs, fmt.Errorf("publish.write_attempts must be at least 1"))
	}

	if c.Sweep.Interval <= 0 {
		errs = append(errs, fmt.Errorf("sweep.interval must be positive"))
	}
	if c.Sweep.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("sweep.grace_period must not be negative"))
	}
	if c.Sweep.Retention <= 0 {
		errs = append(errs, fmt.Errorf("sweep.retention must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured data directories if they don't
// exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Storage.Root,
		c.Storage.Blobs,
		filepath.Dir(c.Storage.Database),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
