package mcregion

import (
	"errors"
	"fmt"

	"github.com/mcworld/mcregion/internal/sector"
)

var (
	// ErrNotFound is returned by ReadChunk when no chunk is stored at the
	// requested cell, or when the stored record is unreadable (invalid
	// sector range, invalid length, unknown compression tag). Region
	// files may be truncated or written by other implementations, so
	// unreadable records degrade to "absent" instead of failing reads.
	ErrNotFound = errors.New("chunk not found")

	// ErrClosed is returned by operations on a closed RegionFile.
	ErrClosed = errors.New("region file closed")

	// ErrCommitted is returned when a ChunkWriter is used after Commit.
	ErrCommitted = errors.New("chunk writer already committed")
)

// ErrOutOfBounds indicates chunk coordinates outside the 32x32 grid.
type ErrOutOfBounds struct {
	X, Z int
}

func (e *ErrOutOfBounds) Error() string {
	return fmt.Sprintf("chunk coordinates out of bounds: (%d,%d)", e.X, e.Z)
}

// ErrChunkTooLarge indicates a compressed chunk that cannot be
// represented by a header entry's one-byte sector count.
type ErrChunkTooLarge struct {
	Size    int // compressed payload size in bytes
	Sectors int // sectors the record would need
}

func (e *ErrChunkTooLarge) Error() string {
	return fmt.Sprintf("chunk too large: %d compressed bytes need %d sectors (max %d)",
		e.Size, e.Sectors, sector.MaxPerChunk)
}
