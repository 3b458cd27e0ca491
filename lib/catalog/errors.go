// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"

	"github.com/potato-foundation/potato/lib/blob"
)

// NotFoundError reports that no published entry matches a lookup.
type NotFoundError struct {
	Name    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("package %q not found", e.Name)
	}
	return fmt.Sprintf("package %q version %s not found", e.Name, e.Version)
}

// ConflictError reports an attempt to publish a (name, version) pair
// that already holds different content. Published versions are
// immutable: the caller must bump the version, not overwrite.
type ConflictError struct {
	Name     string
	Version  string
	Existing blob.Hash
	Proposed blob.Hash
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("package %q version %s already exists with different content (existing %s, proposed %s)",
		e.Name, e.Version, e.Existing, e.Proposed)
}

// InvalidStateError reports an operation illegal for the entry's
// current state, such as committing an entry that is not pending.
type InvalidStateError struct {
	EntryID int64
	State   State
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s entry %d in state %q", e.Op, e.EntryID, e.State)
}
