// Package sector tracks free and occupied 4 KiB sectors across a region
// file and hands out contiguous runs for chunk records.
package sector

import "github.com/bits-and-blooms/bitset"

const (
	// Size is the fixed sector size in bytes.
	Size = 4096
	// RecordHeader is the fixed per-record overhead: a 4-byte length
	// field plus a 1-byte compression tag.
	RecordHeader = 5
	// MaxPerChunk is the largest sector count representable in a header
	// entry's one-byte count field.
	MaxPerChunk = 255
)

// Needed returns the number of sectors reserved for a record with dataLen
// compressed payload bytes.
//
// The formula intentionally reserves one sector more than the minimum
// when the record exactly fills a sector boundary. It is the allocation
// policy existing region files were written with and must not be
// "corrected" without version-gating the format.
func Needed(dataLen int) int {
	return (dataLen+RecordHeader)/Size + 1
}

// Allocator is the free/occupied map over all sectors of one file.
// Sector 0 (the header table) is permanently occupied. The caller is
// responsible for locking.
type Allocator struct {
	used  *bitset.BitSet
	count int
}

// New creates an allocator for a file of total sectors, all free except
// sector 0.
func New(total int) *Allocator {
	used := bitset.New(uint(total))
	used.Set(0)
	return &Allocator{used: used, count: total}
}

// Total returns the number of sectors currently in the file.
func (a *Allocator) Total() int { return a.count }

// InRange reports whether [start, start+n) lies inside the file and does
// not touch the header sector.
func (a *Allocator) InRange(start, n int) bool {
	return start >= 1 && n >= 1 && start+n <= a.count
}

// Mark flags [start, start+n) occupied.
func (a *Allocator) Mark(start, n int) {
	for i := start; i < start+n; i++ {
		a.used.Set(uint(i))
	}
}

// Free releases [start, start+n), clamped to the valid sector range so a
// malformed header entry cannot poison the map.
func (a *Allocator) Free(start, n int) {
	for i := start; i < start+n; i++ {
		if i >= 1 && i < a.count {
			a.used.Clear(uint(i))
		}
	}
}

// Allocate finds sectors for a run of n. It first scans for the lowest
// contiguous run of n free sectors; if none exists it appends n sectors
// at the tail. grown reports whether the file must be extended by n
// sectors at start*Size.
func (a *Allocator) Allocate(n int) (start int, grown bool) {
	if s, ok := a.findRun(n); ok {
		a.Mark(s, n)
		return s, false
	}
	start = a.count
	a.count += n
	a.Mark(start, n)
	return start, true
}

// findRun scans from the lowest sector for the first contiguous run of n
// free sectors. A region holds at most 1024 chunks, which bounds the cost
// of the linear scan.
func (a *Allocator) findRun(n int) (int, bool) {
	run, start := 0, 0
	for i := 1; i < a.count; i++ {
		if a.used.Test(uint(i)) {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			return start, true
		}
	}
	return 0, false
}
