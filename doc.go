// Package mcregion reads and writes region files: single files that
// multiplex up to 1024 compressed chunks, arranged as a 32x32 grid, over
// a fixed-size sector allocator.
//
// # File format
//
// A region file is a sequence of 4096-byte sectors. Sector 0 holds 1024
// big-endian uint32 header entries, one per grid cell at index x + 32*z.
// An entry of 0 means the cell is empty; otherwise the top 24 bits are
// the chunk's starting sector and the bottom 8 bits its sector count.
//
// Chunk data starts at sector boundaries: a 4-byte big-endian length
// (covering the tag byte plus the compressed payload), one compression
// tag byte, then the compressed payload. Chunks are rewritten in place
// when they still fit, relocated into freed sectors first-fit otherwise,
// and the file grows at the tail only when no run is large enough.
//
// # Usage
//
//	r, err := mcregion.Open("r.0.0.data")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	w, _ := r.ChunkWriter(5, 5)
//	w.Write(payload)
//	if err := w.Commit(); err != nil {
//	    log.Fatal(err)
//	}
//
//	rc, err := r.ReadChunk(5, 5)
//	if errors.Is(err, mcregion.ErrNotFound) {
//	    // chunk absent (or unreadable on disk)
//	}
//
// # Concurrency
//
// A RegionFile may be shared by concurrent goroutines. Payload
// accumulation and compression happen outside the region lock, so
// producers compress in parallel; only the final commit (allocate, write
// sectors, update the header entry) is serialized. Two RegionFile
// instances must never be opened on the same file: they would corrupt
// each other's allocator state.
package mcregion
