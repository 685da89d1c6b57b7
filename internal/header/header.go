// Package header implements the region file's first-sector index: 1024
// big-endian entries, one per chunk cell of the 32x32 grid.
package header

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Width is the chunk grid dimension per axis.
	Width = 32
	// Entries is the number of header entries (one per grid cell).
	Entries = Width * Width
	// Size is the on-disk size of the header table in bytes.
	Size = Entries * 4
)

// Entry packs a chunk's location into one uint32: the top 24 bits are the
// starting sector number, the bottom 8 bits the sector count. The zero
// value means no chunk is stored at that cell.
type Entry uint32

// NewEntry builds an entry from a starting sector and a sector count.
// count must fit in one byte; sector must fit in 24 bits.
func NewEntry(sector, count int) Entry {
	return Entry(uint32(sector)<<8 | uint32(count)&0xFF)
}

// SectorNumber returns the starting sector of the chunk.
func (e Entry) SectorNumber() int { return int(e >> 8) }

// SectorCount returns the number of sectors allocated to the chunk.
func (e Entry) SectorCount() int { return int(e & 0xFF) }

// IsZero reports whether no chunk is stored at this cell.
func (e Entry) IsZero() bool { return e == 0 }

// InBounds reports whether (x, z) addresses a cell of the grid.
func InBounds(x, z int) bool {
	return x >= 0 && x < Width && z >= 0 && z < Width
}

// Index returns the entry index for cell (x, z).
func Index(x, z int) int { return x + z*Width }

// Table is the in-memory cache of all header entries. Mutations go
// through Put, which persists the entry and updates the cache together;
// the caller is responsible for locking.
type Table struct {
	entries [Entries]Entry
}

// Load reads all entries sequentially from r, which must be positioned at
// the start of the header sector.
func Load(r io.Reader) (*Table, error) {
	var buf [Size]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("failed to read header table: %w", err)
	}
	t := &Table{}
	for i := range t.entries {
		t.entries[i] = Entry(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return t, nil
}

// Entry returns the cached entry for cell (x, z).
func (t *Table) Entry(x, z int) Entry {
	return t.entries[Index(x, z)]
}

// EntryAt returns the cached entry at index i.
func (t *Table) EntryAt(i int) Entry {
	return t.entries[i]
}

// Put persists the entry for cell (x, z) at its fixed file offset and
// updates the cache.
func (t *Table) Put(w io.WriterAt, x, z int, e Entry) error {
	i := Index(x, z)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(e))
	if _, err := w.WriteAt(buf[:], int64(i)*4); err != nil {
		return fmt.Errorf("failed to write header entry (%d,%d): %w", x, z, err)
	}
	t.entries[i] = e
	return nil
}
