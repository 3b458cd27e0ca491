// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"os"
)

// NewLogger creates the standard logger for registry processes:
// JSON on stderr at info level. Also installs it as the slog
// default so stray log calls from dependencies are captured in the
// same stream.
func NewLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
