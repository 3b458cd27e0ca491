// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the potato registry's core: the upload
// coordinator, the retrieval resolver, and the background sweeper
// that reconciles interrupted publishes and collects unreferenced
// blobs.
//
// A publish is a saga across two stores with independent failure
// modes: the content-addressed blob store and the SQLite catalog.
// There is deliberately no single transaction spanning both.
// Instead:
//
//  1. The catalog reserves the (name, version) slot as a pending
//     entry. Conflicts fail here, before any storage I/O.
//  2. The blob store streams the bytes durable, hashing as it goes.
//     A hash or size mismatch against the publisher's declaration
//     aborts the reservation; the orphaned blob is left for the
//     collector.
//  3. The catalog commits pending → published.
//
// A crash between steps leaves a pending row and possibly a blob.
// The sweeper aborts pending rows older than the publish timeout,
// which frees the slot for retry and drops the last reference to the
// blob; the collector then reclaims any blob that is unreferenced
// and older than the grace period. The grace period is what makes
// collection safe against in-flight publishes that have written
// bytes but not yet reserved their slot.
//
// Fetches verify end to end: the stream handed to the caller
// re-hashes every byte and fails with an integrity error instead of
// completing if the content does not match the catalog's recorded
// hash and size.
package registry
