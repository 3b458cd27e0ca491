// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"regexp"
	"strings"
)

// maxNameLength bounds normalized package names.
const maxNameLength = 128

// namePattern is the canonical form: lowercase alphanumerics with
// interior dots and hyphens.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)

// NormalizeName canonicalizes a package name: trimmed, lowercased,
// underscores folded to hyphens. Names that cannot be canonicalized
// are *ValidationError. All registry operations key on the canonical
// form, so "Left_Pad" and "left-pad" are the same package.
func NormalizeName(raw string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "_", "-")

	switch {
	case name == "":
		return "", &ValidationError{Field: "name", Value: raw, Reason: "empty"}
	case len(name) > maxNameLength:
		return "", &ValidationError{Field: "name", Value: raw, Reason: "too long"}
	case !namePattern.MatchString(name):
		return "", &ValidationError{Field: "name", Value: raw,
			Reason: "must be alphanumerics with interior dots, hyphens, or underscores"}
	}
	return name, nil
}
