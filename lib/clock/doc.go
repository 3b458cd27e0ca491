// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance time explicitly.
//
// The registry's time-dependent behavior (the pending-publish
// reconciliation timeout, the garbage collector's grace period, the
// deleted-row retention window) all runs off an injected Clock so
// tests never sleep and never flake on wall-clock timing.
package clock
