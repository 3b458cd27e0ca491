// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"reflect"
	"testing"
)

func TestParseStrict(t *testing.T) {
	valid := []string{"1.0.0", "0.1.2", "2.0.0-rc.1", "1.2.3+build.5"}
	for _, v := range valid {
		if _, err := Parse(v); err != nil {
			t.Errorf("Parse(%q) failed: %v", v, err)
		}
	}

	invalid := []string{"", "v1.0.0", "1.2", "1", "latest", "1.0.0 ", "one.two.three"}
	for _, v := range invalid {
		if _, err := Parse(v); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", v)
		}
	}
}

func TestIsExact(t *testing.T) {
	if !IsExact("1.2.3") {
		t.Error("IsExact(1.2.3) = false")
	}
	for _, expr := range []string{"^1.2.0", ">=1.0.0", "1.2.x", "~1.2.3", "1.2"} {
		if IsExact(expr) {
			t.Errorf("IsExact(%q) = true, want false", expr)
		}
	}
}

func TestResolvePicksHighestSatisfying(t *testing.T) {
	candidates := []string{"1.0.0", "1.2.0", "1.9.3", "2.0.0", "2.1.4"}

	tests := []struct {
		expr string
		want string
	}{
		{"^1.0.0", "1.9.3"},
		{">=1.2.0 <2.1.0", "2.0.0"},
		{"~1.2.0", "1.2.0"},
		{"2.x", "2.1.4"},
		{">=0.0.1", "2.1.4"},
	}
	for _, tt := range tests {
		got, ok, err := Resolve(tt.expr, candidates)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.expr, err)
			continue
		}
		if !ok || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q, true", tt.expr, got, ok, tt.want)
		}
	}
}

func TestResolveNoMatch(t *testing.T) {
	got, ok, err := Resolve("^3.0.0", []string{"1.0.0", "2.0.0"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if ok || got != "" {
		t.Errorf("Resolve = %q, %v; want no match", got, ok)
	}
}

func TestResolveInvalidRange(t *testing.T) {
	if _, _, err := Resolve("not a range", []string{"1.0.0"}); err == nil {
		t.Error("Resolve with invalid range succeeded")
	}
}

func TestResolvePrereleaseExcludedByDefault(t *testing.T) {
	// Masterminds constraint semantics: plain ranges do not match
	// prerelease versions.
	got, ok, err := Resolve("^1.0.0", []string{"1.0.0", "1.1.0-rc.1"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if !ok || got != "1.0.0" {
		t.Errorf("Resolve = %q, %v; want 1.0.0, true", got, ok)
	}
}

func TestLatest(t *testing.T) {
	got, ok := Latest([]string{"0.9.0", "1.10.0", "1.2.0"})
	if !ok || got != "1.10.0" {
		t.Errorf("Latest = %q, %v; want 1.10.0, true", got, ok)
	}

	if _, ok := Latest(nil); ok {
		t.Error("Latest(nil) reported a version")
	}
}

func TestSortDescending(t *testing.T) {
	versions := []string{"1.2.0", "0.1.0", "1.10.0", "1.2.0-alpha"}
	SortDescending(versions)

	want := []string{"1.10.0", "1.2.0", "1.2.0-alpha", "0.1.0"}
	if !reflect.DeepEqual(versions, want) {
		t.Errorf("SortDescending = %v, want %v", versions, want)
	}
}
