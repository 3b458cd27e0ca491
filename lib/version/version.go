// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

// Package version implements the registry's version ordering and
// range resolution as pure functions over version strings, with no
// storage dependency.
//
// Versions are strict semantic versions (no leading "v", all three
// components required). Range expressions use Masterminds constraint
// syntax: "^1.2.0", "~1.2", ">=1.0.0 <2.0.0", "1.2.x". Resolution
// always selects the highest version satisfying the range under
// semver precedence.
package version

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Parse validates a version string and returns its parsed form.
// Leading "v" and partial versions ("1.2") are rejected: published
// versions are canonical identifiers, and accepting aliases would
// let "1.2.0" and "v1.2.0" name different catalog rows.
func Parse(s string) (*semver.Version, error) {
	parsed, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return parsed, nil
}

// IsExact reports whether s is a single concrete version rather than
// a range expression. Exact lookups and range resolution follow
// different paths: an exact fetch of a missing version is NotFound
// even when a range would have matched something else.
func IsExact(s string) bool {
	_, err := semver.StrictNewVersion(s)
	return err == nil
}

// ParseRange validates a range expression for use with [Resolve].
func ParseRange(s string) (*semver.Constraints, error) {
	constraints, err := semver.NewConstraint(s)
	if err != nil {
		return nil, fmt.Errorf("invalid version range %q: %w", s, err)
	}
	return constraints, nil
}

// Resolve returns the highest version in candidates satisfying the
// range expression, and false when none does. Candidates that fail
// strict parsing are skipped: the catalog never stores them, but
// Resolve is a pure function and defends its own input.
func Resolve(rangeExpr string, candidates []string) (string, bool, error) {
	constraints, err := ParseRange(rangeExpr)
	if err != nil {
		return "", false, err
	}

	var best *semver.Version
	for _, candidate := range candidates {
		parsed, err := semver.StrictNewVersion(candidate)
		if err != nil {
			continue
		}
		if !constraints.Check(parsed) {
			continue
		}
		if best == nil || parsed.GreaterThan(best) {
			best = parsed
		}
	}

	if best == nil {
		return "", false, nil
	}
	return best.Original(), true, nil
}

// Latest returns the highest version in candidates, and false when
// the slice holds no parseable version.
func Latest(candidates []string) (string, bool) {
	var best *semver.Version
	bestRaw := ""
	for _, candidate := range candidates {
		parsed, err := semver.StrictNewVersion(candidate)
		if err != nil {
			continue
		}
		if best == nil || parsed.GreaterThan(best) {
			best = parsed
			bestRaw = candidate
		}
	}
	return bestRaw, best != nil
}

// SortDescending orders versions highest-first in place under semver
// precedence. Unparseable entries sort after all parseable ones,
// keeping their original relative order.
func SortDescending(versions []string) {
	parsed := make(map[string]*semver.Version, len(versions))
	for _, v := range versions {
		if p, err := semver.StrictNewVersion(v); err == nil {
			parsed[v] = p
		}
	}

	sort.SliceStable(versions, func(i, j int) bool {
		pi, oki := parsed[versions[i]]
		pj, okj := parsed[versions[j]]
		if oki && okj {
			return pi.GreaterThan(pj)
		}
		return oki && !okj
	})
}
