// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob implements the registry's content-addressable blob
// store: durable, deduplicated persistence of artifact bytes on a
// local filesystem.
//
// Every blob is identified by the BLAKE3 keyed hash of its
// uncompressed content. Identical bytes always land at the same path,
// so storing the same artifact twice is a no-op and two packages with
// identical content share one blob on disk.
//
// The write path is crash-safe by construction: bytes are streamed
// into a staging file under tmp/, hashed incrementally, and made
// visible only by an atomic rename into the content-addressed final
// path. A reader can never observe a half-written blob; an
// interrupted upload leaves only a staging file, which the periodic
// sweep reclaims.
//
// Blobs are transparently compressed on disk (zstd for text-like
// content, LZ4 for compressible binary, none for already-compressed
// data). The content hash is always computed over uncompressed bytes,
// so deduplication is stable across codec changes. Each blob carries
// a small CBOR sidecar record with its sizes, codec, and storage
// timestamp.
//
// On-disk layout, sharded by hash prefix to bound directory fan-out:
//
//	<root>/blobs/<hex[:2]>/<hex[2:4]>/<hex>       blob data
//	<root>/meta/<hex[:2]>/<hex[2:4]>/<hex>.cbor   sidecar record
//	<root>/tmp/                                   staging files
package blob
