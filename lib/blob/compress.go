// Copyright 2026 The Potato Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the on-disk compression of a blob. The tag is
// stored in the blob file header (1 byte) and in the sidecar record.
// These values are format constants; changing them breaks existing
// stores.
type Codec uint8

const (
	// CodecNone stores bytes as-is. Used for already-compressed
	// content (wheels, tarballs, images) where recompression burns
	// CPU for nothing.
	CodecNone Codec = 0

	// CodecLZ4 is LZ4 stream compression. Fast default for
	// compressible binary content (~4 GB/s decode).
	CodecLZ4 Codec = 1

	// CodecZstd is zstd at the default level. Better ratios for
	// text-like content: source archives, JSON, metadata dumps.
	CodecZstd Codec = 2
)

// String returns the codec's canonical name.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec from its canonical name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// probeSize is how many leading bytes selectCodec examines. Big
// enough to defeat small uniform headers, small enough to stay out
// of the streaming path's way.
const probeSize = 32 * 1024

// selectCodec picks a compression codec from a content-type hint and
// a probe of the leading bytes. Text-like declared types go straight
// to zstd. Otherwise a trial LZ4 compression of the probe decides:
// if LZ4 can't shave at least 10% off, the content is almost
// certainly already compressed and gets stored raw.
func selectCodec(probe []byte, contentType string) Codec {
	if isTextContentType(contentType) {
		return CodecZstd
	}
	if len(probe) == 0 {
		return CodecNone
	}

	buf := make([]byte, lz4.CompressBlockBound(len(probe)))
	n, err := lz4.CompressBlock(probe, buf, nil)
	if err != nil || n == 0 || n >= len(probe) {
		return CodecNone
	}
	if float64(n) > 0.9*float64(len(probe)) {
		return CodecNone
	}
	return CodecLZ4
}

// isTextContentType reports whether a declared media type is
// text-like enough to favor zstd.
func isTextContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/yaml",
		"application/toml", "application/javascript":
		return true
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}

// newCompressor wraps w with the codec's stream compressor. The
// returned WriteCloser must be closed to flush; closing it does not
// close w.
func newCompressor(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecZstd:
		encoder, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", uint8(codec))
	}
}

// newDecompressor wraps r with the codec's stream decompressor.
// Closing the returned ReadCloser does not close r.
func newDecompressor(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return decoder.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown codec %d", uint8(codec))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
