// Package codec implements the versioned compression schemes framing
// chunk payloads inside region files.
//
// The compression tag is a format compatibility boundary: region files
// written with one tag must stay readable forever, so the set of schemes
// is closed and every switch over it is exhaustive. Adding a scheme means
// adding a new constant, never changing an existing one.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the scheme a chunk payload is compressed with.
// The value is stored as the record's version byte on disk.
type Compression uint8

const (
	// GZip is the original scheme (tag 1). Kept readable for backward
	// compatibility; new files should not write it.
	GZip Compression = 1
	// Zlib is the deflate scheme (tag 2) used for all new writes by
	// default.
	Zlib Compression = 2
	// None stores the payload uncompressed (tag 3).
	None Compression = 3
	// LZ4 uses the LZ4 frame format (tag 4).
	LZ4 Compression = 4
)

// Default is the scheme used for new writes unless configured otherwise.
const Default = Zlib

// ErrUnknownCompression is returned for tags outside the closed set.
// Readers treat it as "chunk absent": the file may have been written by a
// newer implementation.
var ErrUnknownCompression = errors.New("unknown compression tag")

// Valid reports whether c is a known scheme.
func (c Compression) Valid() bool {
	switch c {
	case GZip, Zlib, None, LZ4:
		return true
	default:
		return false
	}
}

func (c Compression) String() string {
	switch c {
	case GZip:
		return "gzip"
	case Zlib:
		return "zlib"
	case None:
		return "none"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Encode compresses payload with scheme c and returns the compressed
// bytes, ready to be framed into a chunk record.
func Encode(c Compression, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case GZip:
		w = gzip.NewWriter(&buf)
	case Zlib:
		w = zlib.NewWriter(&buf)
	case None:
		return bytes.Clone(payload), nil
	case LZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("%s compression failed: %w", c, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compression failed: %w", c, err)
	}
	return buf.Bytes(), nil
}

// Decoder wraps r, a stream of bytes compressed with scheme c, and
// returns a reader yielding the decompressed payload.
func Decoder(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case GZip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip decompression failed: %w", err)
		}
		return zr, nil
	case Zlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zlib decompression failed: %w", err)
		}
		return zr, nil
	case None:
		return io.NopCloser(r), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
}
