// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest of a blob's uncompressed content.
type Hash [32]byte

// blobDomainKey is the BLAKE3 key for blob content hashing. Keyed
// hashing gives the registry its own hash domain: a registry blob
// hash can never collide with a hash of the same bytes computed by
// an unrelated system. The bytes are the ASCII domain name,
// zero-padded to 32: readable in hex dumps, and BLAKE3 treats the
// key as an opaque 32-byte value either way.
var blobDomainKey = [32]byte{
	'p', 'o', 't', 'a', 't', 'o', '.', 'r', 'e', 'g', 'i', 's', 't', 'r', 'y', '.',
	'b', 'l', 'o', 'b', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Hasher computes a blob content hash incrementally. The zero value
// is not usable; create one with NewHasher.
type Hasher struct {
	inner *blake3.Hasher
}

// NewHasher returns a Hasher for the blob content domain.
func NewHasher() *Hasher {
	inner, err := blake3.NewKeyed(blobDomainKey[:])
	if err != nil {
		// NewKeyed fails only on wrong key length; the key is a
		// compile-time constant of the right size.
		panic("blob: keyed hasher initialization failed: " + err.Error())
	}
	return &Hasher{inner: inner}
}

// Write adds data to the running hash. Never returns an error.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.inner.Write(p)
}

// Sum returns the hash of all bytes written so far.
func (h *Hasher) Sum() Hash {
	var out Hash
	copy(out[:], h.inner.Sum(nil))
	return out
}

// HashBytes computes the content hash of data in one call.
func HashBytes(data []byte) Hash {
	hasher := NewHasher()
	hasher.Write(data)
	return hasher.Sum()
}

// String returns the lowercase hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a 64-character lowercase hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var out Hash
	if len(s) != hex.EncodedLen(len(out)) {
		return Hash{}, fmt.Errorf("invalid hash %q: want %d hex characters, got %d",
			s, hex.EncodedLen(len(out)), len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	copy(out[:], decoded)
	return out, nil
}
