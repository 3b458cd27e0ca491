// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/potato-foundation/potato/lib/clock"
	"github.com/potato-foundation/potato/lib/codec"
)

// Directory names within the store root.
const (
	blobDir = "blobs"
	metaDir = "meta"
	tmpDir  = "tmp"
)

// fileMagic identifies a blob data file. The byte after the magic is
// the compression codec tag.
var fileMagic = [4]byte{'P', 'B', 'L', 'B'}

// headerSize is the length of the blob file header: magic plus codec.
const headerSize = len(fileMagic) + 1

// ErrNotFound is returned when no blob exists for a requested hash.
var ErrNotFound = errors.New("blob not found")

// ErrCorrupt is returned by VerifiedOpen streams whose content no
// longer hashes to the name it is stored under.
var ErrCorrupt = errors.New("blob content corrupt")

// Store is a content-addressed blob store rooted at a local
// directory. Safe for concurrent use: distinct hashes map to distinct
// paths, identical content is idempotent, and visibility is gated on
// atomic rename, so no two writers can corrupt each other.
type Store struct {
	root   string
	clock  clock.Clock
	logger *slog.Logger
}

// NewStore creates a Store rooted at root, creating the directory
// structure if needed. The clock stamps sidecar records; the garbage
// collector's grace period runs off those stamps.
func NewStore(root string, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	for _, dir := range []string{root,
		filepath.Join(root, blobDir),
		filepath.Join(root, metaDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, clock: clk, logger: logger}, nil
}

// sidecarRecord is the CBOR sidecar persisted next to each blob.
type sidecarRecord struct {
	Hash           []byte `cbor:"hash"`
	Size           int64  `cbor:"size"`
	CompressedSize int64  `cbor:"compressed_size"`
	Codec          string `cbor:"codec"`
	StoredAt       int64  `cbor:"stored_at"` // Unix seconds, UTC.
}

// Info describes a stored blob.
type Info struct {
	Hash Hash

	// Size is the uncompressed content length. -1 when the sidecar
	// record is missing and the size is unknown without a full read.
	Size int64

	// CompressedSize is the on-disk payload length (excluding the
	// file header). -1 when unknown.
	CompressedSize int64

	Codec    Codec
	StoredAt time.Time
}

// PutResult is returned by [Store.Put].
type PutResult struct {
	Hash           Hash
	Size           int64
	CompressedSize int64
	Codec          Codec

	// Deduplicated is true when a blob with this hash already
	// existed and the staged copy was discarded.
	Deduplicated bool
}

// Put streams content from r into the store and returns its content
// hash. Bytes are staged under tmp/, hashed incrementally, and made
// visible only by an atomic rename; a crash mid-write leaves no
// trace at the final path. Storing content that already exists is a
// no-op that reports Deduplicated.
//
// The contentType hint steers compression codec selection; pass ""
// to rely on the content probe alone.
func (s *Store) Put(r io.Reader, contentType string) (*PutResult, error) {
	// Probe the leading bytes for codec selection, then stitch the
	// probe back in front of the remaining stream.
	probe := make([]byte, probeSize)
	probeLen, err := io.ReadFull(r, probe)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if probeLen == 0 {
		return nil, fmt.Errorf("cannot store empty content")
	}
	selected := selectCodec(probe[:probeLen], contentType)
	source := io.MultiReader(bytes.NewReader(probe[:probeLen]), r)

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	header := append(append([]byte{}, fileMagic[:]...), byte(selected))
	if _, err := tmpFile.Write(header); err != nil {
		return nil, fmt.Errorf("writing blob header: %w", err)
	}

	compressor, err := newCompressor(tmpFile, selected)
	if err != nil {
		return nil, err
	}

	hasher := NewHasher()
	size, err := io.Copy(compressor, io.TeeReader(source, hasher))
	if err != nil {
		return nil, fmt.Errorf("staging content: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return nil, fmt.Errorf("flushing compressor: %w", err)
	}

	// The blob must be durable before the catalog may reference it.
	if err := tmpFile.Sync(); err != nil {
		return nil, fmt.Errorf("syncing staging file: %w", err)
	}

	info, err := tmpFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("stating staging file: %w", err)
	}
	compressedSize := info.Size() - int64(headerSize)

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing staging file: %w", err)
	}

	contentHash := hasher.Sum()
	finalPath := s.dataPath(contentHash)

	result := &PutResult{
		Hash:           contentHash,
		Size:           size,
		CompressedSize: compressedSize,
		Codec:          selected,
	}

	// Dedup: identical bytes produce an identical hash, and the
	// existing blob is identical by construction.
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		success = true
		result.Deduplicated = true
		if err := s.ensureSidecar(contentHash, size, compressedSize, selected); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating blob shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("publishing blob: %w", err)
	}
	success = true

	if err := s.writeSidecar(contentHash, size, compressedSize, selected); err != nil {
		return nil, err
	}

	s.logger.Debug("blob stored",
		"hash", contentHash.String(),
		"size", size,
		"compressed_size", compressedSize,
		"codec", selected.String(),
	)
	return result, nil
}

// Open returns a stream of the blob's uncompressed content. The
// caller must close it. Returns ErrNotFound when no blob exists for
// the hash.
func (s *Store) Open(contentHash Hash) (io.ReadCloser, error) {
	file, err := os.Open(s.dataPath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", contentHash, ErrNotFound)
		}
		return nil, fmt.Errorf("opening blob %s: %w", contentHash, err)
	}

	var header [headerSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading blob %s header: %w", contentHash, err)
	}
	if !bytes.Equal(header[:len(fileMagic)], fileMagic[:]) {
		file.Close()
		return nil, fmt.Errorf("blob %s: bad file magic", contentHash)
	}

	decompressor, err := newDecompressor(file, Codec(header[len(fileMagic)]))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("opening blob %s: %w", contentHash, err)
	}
	return &blobReader{inner: decompressor, file: file}, nil
}

// VerifiedOpen is Open with the stream re-hashed as it is read. The
// final read returns an error wrapping ErrCorrupt instead of io.EOF
// when the stored bytes no longer hash to contentHash. A caller that
// drains the stream has therefore verified it without a second pass.
func (s *Store) VerifiedOpen(contentHash Hash) (io.ReadCloser, error) {
	inner, err := s.Open(contentHash)
	if err != nil {
		return nil, err
	}
	return &verifiedReader{inner: inner, hasher: NewHasher(), want: contentHash}, nil
}

type verifiedReader struct {
	inner  io.ReadCloser
	hasher *Hasher
	want   Hash
	failed error
}

func (r *verifiedReader) Read(p []byte) (int, error) {
	if r.failed != nil {
		return 0, r.failed
	}
	n, err := r.inner.Read(p)
	if n > 0 {
		r.hasher.Write(p[:n])
	}
	if err == io.EOF {
		if got := r.hasher.Sum(); got != r.want {
			r.failed = fmt.Errorf("blob %s hashes to %s: %w", r.want, got, ErrCorrupt)
			return n, r.failed
		}
	}
	return n, err
}

func (r *verifiedReader) Close() error { return r.inner.Close() }

// blobReader chains the decompressor and the underlying file so a
// single Close releases both.
type blobReader struct {
	inner io.ReadCloser
	file  *os.File
}

func (r *blobReader) Read(p []byte) (int, error) { return r.inner.Read(p) }

func (r *blobReader) Close() error {
	innerErr := r.inner.Close()
	fileErr := r.file.Close()
	if innerErr != nil {
		return innerErr
	}
	return fileErr
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(contentHash Hash) bool {
	_, err := os.Stat(s.dataPath(contentHash))
	return err == nil
}

// Stat returns metadata about a stored blob without reading its
// content. Sizes come from the sidecar record; when the sidecar is
// missing they are reported as -1 and StoredAt falls back to the
// data file's modification time.
func (s *Store) Stat(contentHash Hash) (*Info, error) {
	fileInfo, err := os.Stat(s.dataPath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", contentHash, ErrNotFound)
		}
		return nil, fmt.Errorf("stating blob %s: %w", contentHash, err)
	}

	info := &Info{
		Hash:           contentHash,
		Size:           -1,
		CompressedSize: -1,
		StoredAt:       fileInfo.ModTime(),
	}

	data, err := os.ReadFile(s.sidecarPath(contentHash))
	if err != nil {
		return info, nil
	}
	var record sidecarRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		s.logger.Warn("corrupt blob sidecar", "hash", contentHash.String(), "error", err)
		return info, nil
	}

	info.Size = record.Size
	info.CompressedSize = record.CompressedSize
	info.StoredAt = time.Unix(record.StoredAt, 0).UTC()
	if parsed, err := ParseCodec(record.Codec); err == nil {
		info.Codec = parsed
	}
	return info, nil
}

// Remove deletes a blob and its sidecar. Idempotent: removing an
// absent blob is not an error. Only the garbage collector calls this,
// after confirming no catalog entry references the hash.
func (s *Store) Remove(contentHash Hash) error {
	if err := os.Remove(s.dataPath(contentHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob %s: %w", contentHash, err)
	}
	if err := os.Remove(s.sidecarPath(contentHash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob %s sidecar: %w", contentHash, err)
	}
	return nil
}

// Hashes returns the hashes of all stored blobs. Files with names
// that do not parse as hashes are skipped.
func (s *Store) Hashes() ([]Hash, error) {
	var hashes []Hash
	root := filepath.Join(s.root, blobDir)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		parsed, parseErr := ParseHash(entry.Name())
		if parseErr != nil {
			return nil
		}
		hashes = append(hashes, parsed)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking blob directory: %w", err)
	}
	return hashes, nil
}

// PurgeStaging removes staging files last modified before cutoff.
// Live uploads keep their staging file's mtime fresh by writing to
// it; anything old under tmp/ is debris from an interrupted upload.
// Returns the number of files removed.
func (s *Store) PurgeStaging(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, tmpDir))
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, tmpDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing stale staging file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// writeSidecar persists the sidecar record for a blob via the same
// stage-and-rename dance as the blob itself.
func (s *Store) writeSidecar(contentHash Hash, size, compressedSize int64, blobCodec Codec) error {
	record := sidecarRecord{
		Hash:           contentHash[:],
		Size:           size,
		CompressedSize: compressedSize,
		Codec:          blobCodec.String(),
		StoredAt:       s.clock.Now().UTC().Unix(),
	}
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding blob sidecar: %w", err)
	}

	finalPath := s.sidecarPath(contentHash)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating sidecar shard directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "meta-*")
	if err != nil {
		return fmt.Errorf("creating sidecar staging file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing sidecar: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publishing sidecar: %w", err)
	}
	return nil
}

// ensureSidecar writes a sidecar record only if one is missing;
// the dedup path must not refresh StoredAt, or a re-upload could
// shield an unreferenced blob from collection indefinitely.
func (s *Store) ensureSidecar(contentHash Hash, size, compressedSize int64, blobCodec Codec) error {
	if _, err := os.Stat(s.sidecarPath(contentHash)); err == nil {
		return nil
	}
	return s.writeSidecar(contentHash, size, compressedSize, blobCodec)
}

// dataPath returns the content-addressed path of a blob's data file.
func (s *Store) dataPath(contentHash Hash) string {
	hexHash := contentHash.String()
	return filepath.Join(s.root, blobDir, hexHash[:2], hexHash[2:4], hexHash)
}

// sidecarPath returns the path of a blob's sidecar record.
func (s *Store) sidecarPath(contentHash Hash) string {
	hexHash := contentHash.String()
	return filepath.Join(s.root, metaDir, hexHash[:2], hexHash[2:4], hexHash+".cbor")
}
