package mcregion

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mcworld/mcregion/codec"
	"github.com/mcworld/mcregion/internal/fs"
	"github.com/mcworld/mcregion/internal/header"
	"github.com/mcworld/mcregion/internal/sector"
)

// RegionFile is one open handle bound to exactly one region file on disk.
//
// A single mutex guards the header cache, the sector map, and the file's
// sector contents. A RegionFile must be the only instance open on its
// file; see the package documentation for the concurrency contract.
type RegionFile struct {
	mu     sync.Mutex
	file   fs.File
	path   string
	table  *header.Table
	alloc  *sector.Allocator
	closed bool

	// sizeDelta accumulates bytes the file has grown since the last
	// SizeDelta call.
	sizeDelta int64

	// lastModified is the file's mtime captured at Open; zero if the
	// file did not exist yet.
	lastModified time.Time

	compression  codec.Compression
	syncOnCommit bool
	logger       *Logger
	metrics      MetricsCollector
}

// Open opens the region file at path, creating it if absent.
//
// Files shorter than one sector get a zeroed header table written; files
// whose length is not a multiple of the sector size are padded up to the
// next multiple. The header table and the sector occupancy map are then
// rebuilt from the file. Header entries whose implied sector range falls
// outside the file are preserved as read but contribute no occupancy;
// the chunks behind them read as absent until overwritten.
func Open(path string, optFns ...Option) (*RegionFile, error) {
	o := applyOptions(optFns)

	var lastModified time.Time
	if info, err := o.fs.Stat(path); err == nil {
		lastModified = info.ModTime()
	}

	file, err := o.fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open region file %s: %w", path, err)
	}

	r := &RegionFile{
		file:         file,
		path:         path,
		lastModified: lastModified,
		compression:  o.compression,
		syncOnCommit: o.syncOnCommit,
		logger:       o.logger.WithPath(path),
		metrics:      o.metrics,
	}

	if err := r.initialize(); err != nil {
		_ = file.Close()
		return nil, err
	}

	r.logger.Debug("region file opened", "sectors", r.alloc.Total())

	return r, nil
}

// initialize normalizes the file shape and rebuilds the in-memory state.
func (r *RegionFile) initialize() error {
	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat region file: %w", err)
	}
	size := info.Size()

	if size < header.Size {
		// Fresh or truncated file: write the chunk offset table. The
		// growth counter only tracks chunk-sector growth, so the header
		// sector is not counted.
		if _, err := r.file.WriteAt(make([]byte, header.Size), 0); err != nil {
			return fmt.Errorf("failed to write header table: %w", err)
		}
		size = header.Size
	}

	if rem := size % sector.Size; rem != 0 {
		// The file length is not a multiple of the sector size; pad it
		// to the next boundary.
		size += sector.Size - rem
		if err := r.file.Truncate(size); err != nil {
			return fmt.Errorf("failed to pad region file: %w", err)
		}
	}

	total := int(size / sector.Size)
	r.alloc = sector.New(total)

	table, err := header.Load(io.NewSectionReader(r.file, 0, header.Size))
	if err != nil {
		return err
	}
	r.table = table

	for i := 0; i < header.Entries; i++ {
		e := table.EntryAt(i)
		if e.IsZero() {
			continue
		}
		if e.SectorNumber()+e.SectorCount() > total {
			// Keep the entry as read, but give it no occupancy; the
			// chunk is unreadable until overwritten.
			r.logger.Warn("header entry outside file",
				"index", i,
				"sector", e.SectorNumber(),
				"count", e.SectorCount(),
				"total", total,
			)
			continue
		}
		r.alloc.Mark(e.SectorNumber(), e.SectorCount())
	}

	return nil
}

// ReadChunk returns a single-pass reader over the decompressed payload
// stored at cell (x, z). The reader is backed by memory, not the file;
// call ReadChunk again to re-read a chunk.
//
// Absent chunks and unreadable records both return an error matching
// ErrNotFound. Coordinates outside the grid return *ErrOutOfBounds.
func (r *RegionFile) ReadChunk(x, z int) (io.ReadCloser, error) {
	if !header.InBounds(x, z) {
		return nil, &ErrOutOfBounds{X: x, Z: z}
	}

	start := time.Now()
	rc, err := r.readChunk(x, z)
	r.metrics.RecordRead(time.Since(start), err)

	return rc, err
}

func (r *RegionFile) readChunk(x, z int) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	e := r.table.Entry(x, z)
	if e.IsZero() {
		return nil, ErrNotFound
	}

	num, cnt := e.SectorNumber(), e.SectorCount()
	if !r.alloc.InRange(num, cnt) {
		r.logger.LogDegradedRead(x, z, "invalid sector range",
			"sector", num, "count", cnt, "total", r.alloc.Total())
		return nil, fmt.Errorf("%w: sector range [%d,%d) outside file", ErrNotFound, num, num+cnt)
	}

	off := int64(num) * sector.Size

	var head [sector.RecordHeader]byte
	if _, err := r.file.ReadAt(head[:], off); err != nil {
		return nil, fmt.Errorf("failed to read record header at (%d,%d): %w", x, z, err)
	}

	length := int(binary.BigEndian.Uint32(head[:4]))
	if length < 1 || length > sector.Size*cnt {
		r.logger.LogDegradedRead(x, z, "invalid record length",
			"length", length, "capacity", sector.Size*cnt)
		return nil, fmt.Errorf("%w: record length %d exceeds %d allocated bytes", ErrNotFound, length, sector.Size*cnt)
	}

	// The compressed payload is read fully under the lock so the
	// returned stream never touches the file.
	data := make([]byte, length-1)
	if _, err := r.file.ReadAt(data, off+sector.RecordHeader); err != nil {
		return nil, fmt.Errorf("failed to read record at (%d,%d): %w", x, z, err)
	}

	dec, err := codec.Decoder(codec.Compression(head[4]), bytes.NewReader(data))
	if err != nil {
		r.logger.LogDegradedRead(x, z, "undecodable record", "tag", head[4], "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	return dec, nil
}

// WriteChunk stores payload at cell (x, z), compressing it with the
// configured scheme. It is shorthand for ChunkWriter + Write + Commit.
func (r *RegionFile) WriteChunk(x, z int, payload []byte) error {
	w, err := r.ChunkWriter(x, z)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Commit()
}

// commitChunk frames and stores an already-compressed record. data is
// the compressed payload; the caller compressed it outside the lock.
func (r *RegionFile) commitChunk(x, z int, data []byte) error {
	start := time.Now()
	err := r.commit(x, z, data)
	r.metrics.RecordCommit(len(data), time.Since(start), err)
	return err
}

func (r *RegionFile) commit(x, z int, data []byte) error {
	needed := sector.Needed(len(data))
	if needed > sector.MaxPerChunk {
		return &ErrChunkTooLarge{Size: len(data), Sectors: needed}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	e := r.table.Entry(x, z)
	cur, cnt := e.SectorNumber(), e.SectorCount()

	if cnt == needed && r.alloc.InRange(cur, cnt) {
		// The record still fits exactly; overwrite the old sectors in
		// place. No allocator or header mutation needed. Entries whose
		// range falls outside the file are not live allocations and
		// take the relocation path instead.
		if err := r.writeRecord(cur, needed, data, false); err != nil {
			return err
		}
		r.logger.LogCommit(x, z, len(data), needed, "rewrite")
		return r.syncIfNeeded()
	}

	// Release the old sectors first so the scan may reuse them. A
	// malformed entry owns no sectors: its in-file prefix may belong to
	// a live neighbor chunk, so freeing it would let the next write
	// overwrite that neighbor.
	if r.alloc.InRange(cur, cnt) {
		r.alloc.Free(cur, cnt)
	}

	num, grown := r.alloc.Allocate(needed)
	if err := r.writeRecord(num, needed, data, grown); err != nil {
		return err
	}
	if grown {
		r.sizeDelta += int64(needed) * sector.Size
		r.logger.LogCommit(x, z, len(data), needed, "grow")
	} else {
		r.logger.LogCommit(x, z, len(data), needed, "reuse")
	}

	if err := r.table.Put(r.file, x, z, header.NewEntry(num, needed)); err != nil {
		return err
	}

	return r.syncIfNeeded()
}

// writeRecord commits the framed record in one sequential write. When the
// file grows, the whole run is written zero-filled so appended sectors
// never contain stale bytes; otherwise only the record bytes are written
// and trailing bytes of the last sector are left as-is.
func (r *RegionFile) writeRecord(num, sectors int, data []byte, zeroFill bool) error {
	n := sector.RecordHeader + len(data)
	if zeroFill {
		n = sectors * sector.Size
	}

	buf := make([]byte, n)
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)+1))
	buf[4] = byte(r.compression)
	copy(buf[sector.RecordHeader:], data)

	if _, err := r.file.WriteAt(buf, int64(num)*sector.Size); err != nil {
		return fmt.Errorf("failed to write chunk record: %w", err)
	}
	return nil
}

func (r *RegionFile) syncIfNeeded() error {
	if !r.syncOnCommit {
		return nil
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync region file: %w", err)
	}
	return nil
}

// SizeDelta returns how many bytes the file has grown since the last
// call, and resets the counter. It touches no file state and remains
// safe to call after Close, so footprint trackers can drain the counter
// during teardown.
func (r *RegionFile) SizeDelta() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.sizeDelta
	r.sizeDelta = 0
	return d
}

// LastModified returns the file's modification time captured at Open, or
// the zero time if the file did not exist yet. It does not reflect
// writes made through this handle and, like Path, is safe after Close.
func (r *RegionFile) LastModified() time.Time {
	return r.lastModified
}

// Path returns the file path this handle was opened with.
func (r *RegionFile) Path() string {
	return r.path
}

// Close releases the underlying file handle. Close is idempotent; all
// other operations on a closed RegionFile return ErrClosed.
func (r *RegionFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close region file: %w", err)
	}
	return nil
}
