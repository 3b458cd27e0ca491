// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"io"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
)

// verifyReader re-hashes a fetch stream against the catalog entry it
// was resolved from. The final Read returns *IntegrityError instead
// of io.EOF when the bytes do not match, so a caller that streams to
// completion has verified the content without a second pass.
type verifyReader struct {
	inner  io.ReadCloser
	hasher *blob.Hasher
	entry  *catalog.Entry
	read   int64
	failed error
}

func newVerifyReader(inner io.ReadCloser, entry *catalog.Entry) *verifyReader {
	return &verifyReader{inner: inner, hasher: blob.NewHasher(), entry: entry}
}

func (v *verifyReader) Read(p []byte) (int, error) {
	if v.failed != nil {
		return 0, v.failed
	}

	n, err := v.inner.Read(p)
	if n > 0 {
		v.read += int64(n)
		v.hasher.Write(p[:n])
	}
	if err == io.EOF {
		if verifyErr := v.verify(); verifyErr != nil {
			v.failed = verifyErr
			return n, verifyErr
		}
	}
	return n, err
}

func (v *verifyReader) verify() error {
	computed := v.hasher.Sum()
	if v.read == v.entry.Size && computed == v.entry.ContentHash {
		return nil
	}
	return &IntegrityError{
		Name:         v.entry.Name,
		Version:      v.entry.Version,
		Expected:     v.entry.ContentHash,
		Computed:     computed,
		ExpectedSize: v.entry.Size,
		ComputedSize: v.read,
	}
}

func (v *verifyReader) Close() error { return v.inner.Close() }
