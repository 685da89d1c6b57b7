package mcregion

import (
	"bytes"

	"github.com/mcworld/mcregion/codec"
	"github.com/mcworld/mcregion/internal/header"
)

// ChunkWriter accumulates one chunk's payload in memory and commits it
// to the region file as a single framed record.
//
// Nothing touches the file until Commit. Compression also happens in
// Commit, before the region lock is acquired, so concurrent writers
// compress in parallel and only the final allocate-and-write is
// serialized.
type ChunkWriter struct {
	region    *RegionFile
	x, z      int
	buf       *bytes.Buffer
	committed bool
}

// ChunkWriter returns a writer accumulating the payload for cell (x, z).
func (r *RegionFile) ChunkWriter(x, z int) (*ChunkWriter, error) {
	if !header.InBounds(x, z) {
		return nil, &ErrOutOfBounds{X: x, Z: z}
	}
	return &ChunkWriter{
		region: r,
		x:      x,
		z:      z,
		buf:    bytes.NewBuffer(make([]byte, 0, 8192)),
	}, nil
}

// Write appends payload bytes to the in-memory buffer.
func (w *ChunkWriter) Write(p []byte) (int, error) {
	if w.committed {
		return 0, ErrCommitted
	}
	return w.buf.Write(p)
}

// Commit compresses the accumulated payload and commits the framed
// record plus the header entry update under the region lock. Commit runs
// at most once per writer; further calls return ErrCommitted.
//
// Oversized payloads return *ErrChunkTooLarge; IO failures are returned
// as-is. Either way the chunk's previous record handling is done under
// the lock, and a failed commit is never silently dropped.
func (w *ChunkWriter) Commit() error {
	if w.committed {
		return ErrCommitted
	}
	w.committed = true

	data, err := codec.Encode(w.region.compression, w.buf.Bytes())
	if err != nil {
		return err
	}

	return w.region.commitChunk(w.x, w.z, data)
}

// Close commits the chunk if Commit has not been called yet. It exists
// so a ChunkWriter can be managed with defer as a resource guard; after
// an explicit Commit it is a no-op.
func (w *ChunkWriter) Close() error {
	if w.committed {
		return nil
	}
	return w.Commit()
}
