// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
	"github.com/potato-foundation/potato/lib/clock"
	"github.com/potato-foundation/potato/lib/config"
	"github.com/potato-foundation/potato/lib/registry"
	"github.com/potato-foundation/potato/lib/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to potato.yaml (overrides POTATO_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("potato-registry %s\n", buildVersion())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := service.NewLogger()
	clk := clock.Real()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := blob.NewStore(cfg.Storage.Blobs, clk, logger)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	cat, err := catalog.Open(catalog.Config{
		Path:     cfg.Storage.Database,
		PoolSize: cfg.Storage.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening catalog: %w", err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logger.Error("closing catalog", "error", err)
		}
	}()

	reg, err := registry.New(registry.Config{
		Blobs:         blobs,
		Catalog:       cat,
		Clock:         clk,
		Logger:        logger,
		WriteAttempts: cfg.Publish.WriteAttempts,
		RetryBackoff:  cfg.Publish.RetryBackoff.Std(),
	})
	if err != nil {
		return err
	}

	sweeper, err := registry.NewSweeper(registry.SweeperConfig{
		Blobs:          blobs,
		Catalog:        cat,
		Clock:          clk,
		Logger:         logger,
		PendingTimeout: cfg.Publish.PendingTimeout.Std(),
		GracePeriod:    cfg.Sweep.GracePeriod.Std(),
		Retention:      cfg.Sweep.Retention.Std(),
		Interval:       cfg.Sweep.Interval.Std(),
	})
	if err != nil {
		return err
	}

	handler := newHandler(reg, logger, cfg.Server.MaxUploadBytes)

	publicServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:           cfg.Server.Listen,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Std(),
		ShutdownTimeout:   cfg.Server.ShutdownTimeout.Std(),
		Logger:            logger,
	})

	internalMux := http.NewServeMux()
	internalMux.Handle("/metrics", promhttp.Handler())
	internalMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	internalServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Server.InternalListen,
		Handler:         internalMux,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		Logger:          logger,
	})

	logger.Info("potato registry starting",
		"environment", cfg.Environment,
		"listen", cfg.Server.Listen,
		"internal", cfg.Server.InternalListen,
		"blobs", cfg.Storage.Blobs,
		"database", cfg.Storage.Database)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return publicServer.Serve(groupCtx) })
	group.Go(func() error { return internalServer.Serve(groupCtx) })
	group.Go(func() error {
		err := sweeper.Run(groupCtx)
		if err != nil && groupCtx.Err() != nil {
			// Cancellation is the normal way down for the sweeper.
			return nil
		}
		return err
	})

	err = group.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	logger.Info("potato registry stopped")
	return err
}

// buildVersion reports the module version baked in by the Go
// toolchain, or "devel" for a plain working-tree build.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}
