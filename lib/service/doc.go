// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the shared runtime pieces of registry
// processes: structured logging setup and an HTTP server with
// lifecycle management (readiness signaling, graceful shutdown on
// context cancellation).
package service
