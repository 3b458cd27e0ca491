// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
)

// ValidationError reports a publish or fetch argument the registry
// rejects before touching storage: a malformed name, a non-semver
// version, a missing content declaration.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IntegrityError reports a mismatch between content bytes and the
// hash or size the catalog (or the publisher) declared for them. On
// publish it means the upload does not match its declaration; on
// fetch it means the stored blob no longer matches the catalog and
// the stream must not be trusted.
type IntegrityError struct {
	Name    string
	Version string

	Expected     blob.Hash
	Computed     blob.Hash
	ExpectedSize int64
	ComputedSize int64
}

func (e *IntegrityError) Error() string {
	switch {
	case e.Computed.IsZero():
		return fmt.Sprintf("integrity failure for %s %s: content %s is missing from the blob store",
			e.Name, e.Version, e.Expected)
	case e.ExpectedSize != e.ComputedSize:
		return fmt.Sprintf("integrity failure for %s %s: size %d, declared %d",
			e.Name, e.Version, e.ComputedSize, e.ExpectedSize)
	default:
		return fmt.Sprintf("integrity failure for %s %s: content hash %s, declared %s",
			e.Name, e.Version, e.Computed, e.Expected)
	}
}

// TransientError wraps a storage failure that did not change the
// registry's logical state and is safe to retry: an I/O error from
// the blob store, a busy database. The coordinator retries these
// internally; one escaping to a caller means the retry budget is
// exhausted.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// terminal reports whether err is a definitive outcome that retrying
// cannot change. Everything else is presumed transient.
func terminal(err error) bool {
	var (
		conflict     *catalog.ConflictError
		notFound     *catalog.NotFoundError
		invalidState *catalog.InvalidStateError
		integrity    *IntegrityError
		validation   *ValidationError
	)
	switch {
	case err == nil:
		return true
	case errors.As(err, &conflict),
		errors.As(err, &notFound),
		errors.As(err, &invalidState),
		errors.As(err, &integrity),
		errors.As(err, &validation):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
