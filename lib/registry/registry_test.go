// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/potato-foundation/potato/lib/blob"
	"github.com/potato-foundation/potato/lib/catalog"
	"github.com/potato-foundation/potato/lib/clock"
)

var registryTestEpoch = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// testRegistry bundles a Registry with the real stores beneath it so
// tests can reach past the facade.
type testRegistry struct {
	*Registry
	blobs    *blob.Store
	catalog  *catalog.Catalog
	blobRoot string
	clock    *clock.FakeClock
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()

	fake := clock.Fake(registryTestEpoch)
	dir := t.TempDir()

	blobRoot := filepath.Join(dir, "blobs")
	blobs, err := blob.NewStore(blobRoot, fake, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	cat, err := catalog.Open(catalog.Config{
		Path:  filepath.Join(dir, "catalog.db"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("catalog.Open failed: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	reg, err := New(Config{Blobs: blobs, Catalog: cat, Clock: fake})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &testRegistry{Registry: reg, blobs: blobs, catalog: cat, blobRoot: blobRoot, clock: fake}
}

func publishRequest(name, ver string, content []byte) PublishRequest {
	return PublishRequest{
		Name:         name,
		Version:      ver,
		Content:      bytes.NewReader(content),
		DeclaredHash: blob.HashBytes(content),
		DeclaredSize: int64(len(content)),
	}
}

func mustPublish(t *testing.T, reg *testRegistry, name, ver string, content []byte) *catalog.Entry {
	t.Helper()
	entry, err := reg.Publish(context.Background(), publishRequest(name, ver, content))
	if err != nil {
		t.Fatalf("Publish %s %s failed: %v", name, ver, err)
	}
	return entry
}

func fetchAll(t *testing.T, reg *testRegistry, name, ver string) (*catalog.Entry, []byte) {
	t.Helper()
	result, err := reg.Fetch(context.Background(), name, ver)
	if err != nil {
		t.Fatalf("Fetch %s %s failed: %v", name, ver, err)
	}
	defer result.Content.Close()
	content, err := io.ReadAll(result.Content)
	if err != nil {
		t.Fatalf("reading fetched content: %v", err)
	}
	return result.Entry, content
}

func TestPublishFetchRoundTrip(t *testing.T) {
	reg := newTestRegistry(t)

	content := []byte("left-pad 1.0.0: pads strings on the left")
	published := mustPublish(t, reg, "left-pad", "1.0.0", content)

	if published.State != catalog.StatePublished {
		t.Errorf("State = %s, want published", published.State)
	}
	if published.Size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", published.Size, len(content))
	}
	if published.ContentHash != blob.HashBytes(content) {
		t.Error("ContentHash does not match content")
	}

	entry, fetched := fetchAll(t, reg, "left-pad", "1.0.0")
	if !bytes.Equal(fetched, content) {
		t.Error("fetched content differs from published content")
	}
	if entry.ID != published.ID {
		t.Errorf("fetched entry ID = %d, want %d", entry.ID, published.ID)
	}

	count, err := reg.Downloads(context.Background(), "left-pad", "1.0.0")
	if err != nil {
		t.Fatalf("Downloads failed: %v", err)
	}
	if count != 1 {
		t.Errorf("download count = %d, want 1", count)
	}
}

func TestPublishIdempotentReplay(t *testing.T) {
	reg := newTestRegistry(t)

	content := []byte("same bytes both times")
	first := mustPublish(t, reg, "acme", "1.0.0", content)
	second := mustPublish(t, reg, "acme", "1.0.0", content)

	if second.ID != first.ID {
		t.Errorf("replay created entry %d, want %d", second.ID, first.ID)
	}
	if second.State != catalog.StatePublished {
		t.Errorf("replay State = %s, want published", second.State)
	}
}

func TestPublishConflict(t *testing.T) {
	reg := newTestRegistry(t)

	original := []byte("the original release")
	mustPublish(t, reg, "acme", "1.0.0", original)

	_, err := reg.Publish(context.Background(), publishRequest("acme", "1.0.0", []byte("sneaky replacement")))
	var conflict *catalog.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	// The published content is untouched.
	_, fetched := fetchAll(t, reg, "acme", "1.0.0")
	if !bytes.Equal(fetched, original) {
		t.Error("conflicting publish altered the stored content")
	}
}

func TestPublishHashMismatch(t *testing.T) {
	reg := newTestRegistry(t)

	content := []byte("what actually arrives")
	req := publishRequest("acme", "1.0.0", content)
	req.DeclaredHash = blob.HashBytes([]byte("what was promised"))

	_, err := reg.Publish(context.Background(), req)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
	if integrity.Computed != blob.HashBytes(content) {
		t.Error("IntegrityError does not carry the computed hash")
	}

	// The reservation was aborted: the slot is free for a correct
	// publish.
	mustPublish(t, reg, "acme", "1.0.0", content)
}

func TestPublishSizeMismatch(t *testing.T) {
	reg := newTestRegistry(t)

	content := []byte("short")
	req := publishRequest("acme", "1.0.0", content)
	req.DeclaredSize = int64(len(content)) + 100

	_, err := reg.Publish(context.Background(), req)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
}

func TestPublishValidation(t *testing.T) {
	reg := newTestRegistry(t)
	content := []byte("x")

	cases := []struct {
		label  string
		mutate func(*PublishRequest)
	}{
		{"bad name", func(r *PublishRequest) { r.Name = "no spaces allowed" }},
		{"empty name", func(r *PublishRequest) { r.Name = "" }},
		{"not semver", func(r *PublishRequest) { r.Version = "latest" }},
		{"partial version", func(r *PublishRequest) { r.Version = "1.0" }},
		{"v prefix", func(r *PublishRequest) { r.Version = "v1.0.0" }},
		{"zero hash", func(r *PublishRequest) { r.DeclaredHash = blob.Hash{} }},
		{"zero size", func(r *PublishRequest) { r.DeclaredSize = 0 }},
	}
	for _, tc := range cases {
		req := publishRequest("acme", "1.0.0", content)
		tc.mutate(&req)
		_, err := reg.Publish(context.Background(), req)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Errorf("%s: err = %v, want ValidationError", tc.label, err)
		}
	}
}

func TestNameNormalization(t *testing.T) {
	reg := newTestRegistry(t)

	content := []byte("padding, but from the left")
	entry := mustPublish(t, reg, "Left_Pad", "1.0.0", content)
	if entry.Name != "left-pad" {
		t.Errorf("stored name = %q, want left-pad", entry.Name)
	}

	// Every spelling variant resolves to the same package.
	for _, spelling := range []string{"left-pad", "LEFT_PAD", "Left-Pad"} {
		_, fetched := fetchAll(t, reg, spelling, "1.0.0")
		if !bytes.Equal(fetched, content) {
			t.Errorf("fetch via %q returned wrong content", spelling)
		}
	}
}

func TestFetchRangeResolution(t *testing.T) {
	reg := newTestRegistry(t)

	for _, ver := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		mustPublish(t, reg, "acme", ver, []byte("acme "+ver))
	}

	cases := []struct {
		expr string
		want string
	}{
		{"^1.0.0", "1.1.0"},
		{"~1.0.0", "1.0.0"},
		{">=1.0.0", "2.0.0"},
		{"2.0.0", "2.0.0"},
	}
	for _, tc := range cases {
		entry, _ := fetchAll(t, reg, "acme", tc.expr)
		if entry.Version != tc.want {
			t.Errorf("fetch %q resolved to %s, want %s", tc.expr, entry.Version, tc.want)
		}
	}

	// Unsatisfiable range.
	_, err := reg.Fetch(context.Background(), "acme", "^3.0.0")
	var notFound *catalog.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("unsatisfiable range: err = %v, want NotFoundError", err)
	}

	// Garbage expression.
	_, err = reg.Fetch(context.Background(), "acme", "not a version")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Errorf("garbage expression: err = %v, want ValidationError", err)
	}
}

func TestFetchUnknownPackage(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Fetch(context.Background(), "no-such-package", "1.0.0")
	var notFound *catalog.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestFetchVerifiesContent(t *testing.T) {
	reg := newTestRegistry(t)

	// Incompressible content so the blob is stored raw and a flipped
	// byte surfaces as a hash mismatch rather than a codec error.
	content := make([]byte, 4096)
	if _, err := rand.Read(content); err != nil {
		t.Fatal(err)
	}
	entry := mustPublish(t, reg, "acme", "1.0.0", content)

	corruptBlobFile(t, reg.blobRoot, entry.ContentHash)

	result, err := reg.Fetch(context.Background(), "acme", "1.0.0")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer result.Content.Close()

	_, err = io.ReadAll(result.Content)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("reading corrupted blob: err = %v, want IntegrityError", err)
	}
}

func TestFetchMissingBlob(t *testing.T) {
	reg := newTestRegistry(t)

	entry := mustPublish(t, reg, "acme", "1.0.0", []byte("soon to vanish"))
	if err := reg.blobs.Remove(entry.ContentHash); err != nil {
		t.Fatal(err)
	}

	_, err := reg.Fetch(context.Background(), "acme", "1.0.0")
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("err = %v, want IntegrityError", err)
	}
}

func TestDeleteThenRepublish(t *testing.T) {
	reg := newTestRegistry(t)

	mustPublish(t, reg, "acme", "1.0.0", []byte("first take"))
	if err := reg.Delete(context.Background(), "acme", "1.0.0", "botched release"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// Deleted versions are invisible.
	_, err := reg.Fetch(context.Background(), "acme", "1.0.0")
	var notFound *catalog.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("fetch after delete: err = %v, want NotFoundError", err)
	}
	versions, err := reg.Versions(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 0 {
		t.Errorf("Versions after delete = %v, want empty", versions)
	}

	// The slot is reusable with new content.
	replacement := []byte("second take")
	mustPublish(t, reg, "acme", "1.0.0", replacement)
	_, fetched := fetchAll(t, reg, "acme", "1.0.0")
	if !bytes.Equal(fetched, replacement) {
		t.Error("republished content mismatch")
	}
}

func TestDeleteUnknown(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Delete(context.Background(), "acme", "1.0.0", "")
	var notFound *catalog.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("err = %v, want NotFoundError", err)
	}
}

func TestVersionsDescending(t *testing.T) {
	reg := newTestRegistry(t)

	for _, ver := range []string{"1.0.0", "2.0.0", "1.5.0", "2.0.0-rc.1"} {
		mustPublish(t, reg, "acme", ver, []byte("acme "+ver))
	}

	versions, err := reg.Versions(context.Background(), "acme")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2.0.0", "2.0.0-rc.1", "1.5.0", "1.0.0"}
	if len(versions) != len(want) {
		t.Fatalf("Versions = %v, want %v", versions, want)
	}
	for i := range want {
		if versions[i] != want[i] {
			t.Fatalf("Versions = %v, want %v", versions, want)
		}
	}
}

func TestPackagesSummary(t *testing.T) {
	reg := newTestRegistry(t)

	mustPublish(t, reg, "alpha", "1.0.0", []byte("alpha 1"))
	mustPublish(t, reg, "alpha", "2.0.0", []byte("alpha 2"))
	mustPublish(t, reg, "beta", "0.1.0", []byte("beta"))

	packages, err := reg.Packages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(packages) != 2 {
		t.Fatalf("Packages returned %d entries, want 2", len(packages))
	}
	if packages[0].Name != "alpha" || packages[0].VersionCount != 2 || packages[0].LatestVersion != "2.0.0" {
		t.Errorf("alpha summary = %+v", packages[0])
	}
	if packages[1].Name != "beta" || packages[1].VersionCount != 1 || packages[1].LatestVersion != "0.1.0" {
		t.Errorf("beta summary = %+v", packages[1])
	}
}

func TestPublishTransientFailureLeavesResumableReservation(t *testing.T) {
	reg := newTestRegistry(t)

	content := bytes.Repeat([]byte("chunk "), 10000)
	req := publishRequest("acme", "1.0.0", content)
	req.Content = io.MultiReader(
		bytes.NewReader(content[:1024]),
		&brokenReader{err: errors.New("disk on fire")},
	)

	_, err := reg.Publish(context.Background(), req)
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want TransientError", err)
	}

	// The pending reservation holds the slot against other content.
	_, err = reg.Publish(context.Background(), publishRequest("acme", "1.0.0", []byte("interloper")))
	var conflict *catalog.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError while reservation pending", err)
	}

	// A retry with the same declaration resumes it.
	mustPublish(t, reg, "acme", "1.0.0", content)
	_, fetched := fetchAll(t, reg, "acme", "1.0.0")
	if !bytes.Equal(fetched, content) {
		t.Error("resumed publish content mismatch")
	}
}

func TestPublishClientCancelReleasesSlot(t *testing.T) {
	reg := newTestRegistry(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	content := bytes.Repeat([]byte("payload "), 16*1024)
	req := publishRequest("acme", "1.0.0", content)
	req.Content = &cancelingReader{data: content, cancel: cancel, cancelAt: 2}

	_, err := reg.Publish(ctx, req)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// The abort freed the slot: different content publishes cleanly.
	mustPublish(t, reg, "acme", "1.0.0", []byte("fresh attempt"))
}

// corruptBlobFile flips the final byte of the stored blob file for
// hash, leaving the header intact.
func corruptBlobFile(t *testing.T, blobRoot string, hash blob.Hash) {
	t.Helper()

	var path string
	err := filepath.WalkDir(blobRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == hash.String() {
			path = p
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if path == "" {
		t.Fatalf("blob file for %s not found under %s", hash, blobRoot)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

type brokenReader struct {
	err error
}

func (r *brokenReader) Read([]byte) (int, error) { return 0, r.err }

// cancelingReader hands out fixed-size chunks and cancels the
// context on its Nth read, simulating a client that disconnects
// mid-upload.
type cancelingReader struct {
	data     []byte
	off      int
	reads    int
	cancelAt int
	cancel   context.CancelFunc
}

func (r *cancelingReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads == r.cancelAt {
		r.cancel()
	}
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	limit := len(p)
	if limit > 4096 {
		limit = 4096
	}
	n := copy(p[:limit], r.data[r.off:])
	r.off += n
	return n, nil
}
