package mcregion

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcworld/mcregion/codec"
	"github.com/mcworld/mcregion/internal/sector"
)

func openTemp(t *testing.T, optFns ...Option) (*RegionFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r.0.0.data")
	r, err := Open(path, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, path
}

func readAll(t *testing.T, r *RegionFile, x, z int) []byte {
	t.Helper()
	rc, err := r.ReadChunk(x, z)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func TestHelloWorld(t *testing.T) {
	r, _ := openTemp(t)

	require.NoError(t, r.WriteChunk(5, 5, []byte("hello world")))
	assert.Equal(t, []byte("hello world"), readAll(t, r, 5, 5))

	// Header + 11-byte payload fit in one sector, so the file grew by
	// exactly one.
	assert.Equal(t, int64(4096), r.SizeDelta())
	assert.Equal(t, int64(0), r.SizeDelta())
}

func TestRoundTripSizes(t *testing.T) {
	r, _ := openTemp(t)

	sizes := []int{0, 1, 11, 4091, 4096, 5000, 100_000, 1_000_000}
	for i, n := range sizes {
		payload := make([]byte, n)
		for j := range payload {
			payload[j] = byte(i + j)
		}
		x, z := i%32, i/32
		require.NoError(t, r.WriteChunk(x, z, payload))
		assert.Equal(t, payload, readAll(t, r, x, z), "size %d", n)
	}
}

func TestRoundTripAllCompressions(t *testing.T) {
	payload := []byte("compression round trip payload")

	for _, c := range []codec.Compression{codec.GZip, codec.Zlib, codec.None, codec.LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			r, path := openTemp(t, WithCompression(c))
			require.NoError(t, r.WriteChunk(3, 4, payload))
			assert.Equal(t, payload, readAll(t, r, 3, 4))
			require.NoError(t, r.Close())

			// Tag dispatch on read is driven by the record, not the
			// handle's configured scheme.
			r2, err := Open(path)
			require.NoError(t, err)
			defer r2.Close()
			assert.Equal(t, payload, readAll(t, r2, 3, 4))
		})
	}
}

func TestReadAbsent(t *testing.T) {
	r, _ := openTemp(t)

	_, err := r.ReadChunk(0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOutOfBounds(t *testing.T) {
	r, _ := openTemp(t)

	for _, c := range [][2]int{{-1, 0}, {0, -1}, {32, 0}, {0, 32}, {-1, 32}} {
		_, err := r.ReadChunk(c[0], c[1])
		var oob *ErrOutOfBounds
		assert.ErrorAs(t, err, &oob)
		assert.Equal(t, c[0], oob.X)
		assert.Equal(t, c[1], oob.Z)

		_, err = r.ChunkWriter(c[0], c[1])
		assert.ErrorAs(t, err, &oob)
	}
}

func TestRewriteInPlace(t *testing.T) {
	r, _ := openTemp(t, WithCompression(codec.None))

	require.NoError(t, r.WriteChunk(2, 2, make([]byte, 100)))
	num := r.table.Entry(2, 2).SectorNumber()
	_ = r.SizeDelta()

	// Same sector count: the record is overwritten in place.
	require.NoError(t, r.WriteChunk(2, 2, make([]byte, 200)))
	assert.Equal(t, num, r.table.Entry(2, 2).SectorNumber())
	assert.Equal(t, int64(0), r.SizeDelta())
}

func TestRelocationLeavesNeighborIntact(t *testing.T) {
	r, _ := openTemp(t, WithCompression(codec.None))

	b := []byte("neighbor chunk that must not move")
	require.NoError(t, r.WriteChunk(0, 0, make([]byte, 10)))
	require.NoError(t, r.WriteChunk(3, 3, b))

	// Growing (0,0) past its single sector forces relocation.
	big := make([]byte, 9000)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, r.WriteChunk(0, 0, big))

	assert.Equal(t, big, readAll(t, r, 0, 0))
	assert.Equal(t, b, readAll(t, r, 3, 3))
}

func TestFreedSectorReuse(t *testing.T) {
	r, _ := openTemp(t, WithCompression(codec.None))

	// 5000 bytes span 2 sectors under the allocation formula.
	require.NoError(t, r.WriteChunk(1, 1, make([]byte, 5000)))
	first := r.table.Entry(1, 1).SectorNumber()
	require.Equal(t, 2, r.table.Entry(1, 1).SectorCount())

	// Shrinking to 1 sector frees the tail sector...
	require.NoError(t, r.WriteChunk(1, 1, make([]byte, 10)))
	assert.Equal(t, first, r.table.Entry(1, 1).SectorNumber())
	assert.Equal(t, 1, r.table.Entry(1, 1).SectorCount())

	// ...which the next single-sector chunk picks up, first-fit.
	require.NoError(t, r.WriteChunk(2, 2, make([]byte, 10)))
	assert.Equal(t, first+1, r.table.Entry(2, 2).SectorNumber())
}

func TestSizeDeltaAccumulates(t *testing.T) {
	r, _ := openTemp(t, WithCompression(codec.None))

	require.NoError(t, r.WriteChunk(0, 0, make([]byte, 10)))   // 1 sector
	require.NoError(t, r.WriteChunk(1, 0, make([]byte, 5000))) // 2 sectors
	assert.Equal(t, int64(3*4096), r.SizeDelta())
	assert.Equal(t, int64(0), r.SizeDelta())
}

func TestChunkTooLarge(t *testing.T) {
	r, _ := openTemp(t, WithCompression(codec.None))

	err := r.WriteChunk(0, 0, make([]byte, 256*4096))
	var tooLarge *ErrChunkTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 257, tooLarge.Sectors)

	// The failed write left no trace.
	_, err = r.ReadChunk(0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileAlwaysSectorAligned(t *testing.T) {
	r, path := openTemp(t)

	require.NoError(t, r.WriteChunk(0, 0, []byte("x")))
	require.NoError(t, r.WriteChunk(1, 0, make([]byte, 5000)))
	require.NoError(t, r.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size()%4096)
	assert.GreaterOrEqual(t, info.Size(), int64(4096*2))
}

func TestOpenPadsUnalignedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.data")
	require.NoError(t, os.WriteFile(path, make([]byte, 5000), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), info.Size())
}

func TestOpenWritesHeaderForShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.data")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}

func TestInvalidLengthReadsAsAbsent(t *testing.T) {
	r, path := openTemp(t, WithCompression(codec.None))
	require.NoError(t, r.WriteChunk(0, 0, []byte("soon corrupt")))
	num := r.table.Entry(0, 0).SectorNumber()
	require.NoError(t, r.Close())

	// Declare a length larger than the single allocated sector.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], 4097)
	_, err = f.WriteAt(buf[:], int64(num)*4096)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.ReadChunk(0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnknownVersionReadsAsAbsent(t *testing.T) {
	r, path := openTemp(t, WithCompression(codec.None))
	require.NoError(t, r.WriteChunk(0, 0, []byte("tagged wrong")))
	num := r.table.Entry(0, 0).SectorNumber()
	require.NoError(t, r.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{9}, int64(num)*4096+4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.ReadChunk(0, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, codec.ErrUnknownCompression)
}

func TestInvalidSectorEntryExcludedAtOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.data")
	r, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// Point cell (10,0) far past the end of the file.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(100<<8|2))
	_, err = f.WriteAt(buf[:], 10*4)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.ReadChunk(10, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	// The bogus entry contributes no occupancy and overwriting the cell
	// heals it.
	require.NoError(t, r2.WriteChunk(10, 0, []byte("healed")))
	assert.Equal(t, []byte("healed"), readAll(t, r2, 10, 0))
}

func TestMalformedEntryOverlappingLiveChunk(t *testing.T) {
	r, path := openTemp(t, WithCompression(codec.None))
	b := []byte("chunk B")
	c := []byte("chunk C")
	require.NoError(t, r.WriteChunk(1, 0, b)) // sector 1
	require.NoError(t, r.WriteChunk(2, 0, c)) // sector 2
	require.NoError(t, r.Close())

	// Corrupt cell (0,0) so its range starts inside C's sector but runs
	// past the end of the file. The entry is malformed and excluded
	// from occupancy at open.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(2<<8|100))
	_, err = f.WriteAt(buf[:], 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r2, err := Open(path, WithCompression(codec.None))
	require.NoError(t, err)
	defer r2.Close()

	// Overwriting the malformed cell must not treat its in-file prefix
	// as freeable: C's sector stays occupied and A lands elsewhere.
	a := []byte("chunk A")
	require.NoError(t, r2.WriteChunk(0, 0, a))

	assert.NotEqual(t, r2.table.Entry(2, 0).SectorNumber(), r2.table.Entry(0, 0).SectorNumber())
	assert.Equal(t, a, readAll(t, r2, 0, 0))
	assert.Equal(t, b, readAll(t, r2, 1, 0))
	assert.Equal(t, c, readAll(t, r2, 2, 0))
}

func TestPersistsAcrossReopen(t *testing.T) {
	r, path := openTemp(t)
	require.NoError(t, r.WriteChunk(7, 9, []byte("durable")))
	require.NoError(t, r.Close())

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()

	assert.Equal(t, []byte("durable"), readAll(t, r2, 7, 9))
	assert.False(t, r2.LastModified().IsZero())
}

func TestLastModifiedZeroForNewFile(t *testing.T) {
	r, _ := openTemp(t)
	assert.True(t, r.LastModified().IsZero())
}

func TestChunkWriterCommitOnce(t *testing.T) {
	r, _ := openTemp(t)

	w, err := r.ChunkWriter(1, 2)
	require.NoError(t, err)
	_, err = w.Write([]byte("once"))
	require.NoError(t, err)

	require.NoError(t, w.Commit())
	assert.ErrorIs(t, w.Commit(), ErrCommitted)
	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, ErrCommitted)

	// Close after an explicit Commit is a no-op.
	assert.NoError(t, w.Close())
	assert.Equal(t, []byte("once"), readAll(t, r, 1, 2))
}

func TestChunkWriterCloseCommits(t *testing.T) {
	r, _ := openTemp(t)

	w, err := r.ChunkWriter(4, 4)
	require.NoError(t, err)
	_, err = w.Write([]byte("via close"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, []byte("via close"), readAll(t, r, 4, 4))
}

func TestClosedOperations(t *testing.T) {
	r, _ := openTemp(t)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close()) // idempotent

	_, err := r.ReadChunk(0, 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.WriteChunk(0, 0, []byte("x")), ErrClosed)

	// Accessors keep working after close so callers can drain the
	// growth counter during teardown.
	assert.Equal(t, int64(0), r.SizeDelta())
	assert.True(t, r.LastModified().IsZero())
	assert.NotEmpty(t, r.Path())
}

func TestMetricsCollected(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	r, _ := openTemp(t, WithMetricsCollector(metrics))

	require.NoError(t, r.WriteChunk(0, 0, []byte("counted")))
	_ = readAll(t, r, 0, 0)
	_, _ = r.ReadChunk(1, 1) // absent, counted as read error

	assert.Equal(t, int64(1), metrics.CommitCount.Load())
	assert.Equal(t, int64(2), metrics.ReadCount.Load())
	assert.Equal(t, int64(1), metrics.ReadErrors.Load())
	assert.Greater(t, metrics.CommitBytes.Load(), int64(0))
}

func TestNeededSpansMatchHeaderEntries(t *testing.T) {
	r, _ := openTemp(t, WithCompression(codec.None))

	// Pin the record-size-to-sector-count mapping through the public
	// write path.
	cases := []struct {
		size    int
		sectors int
	}{
		{0, 1},
		{4090, 1},
		{4091, 2},
		{5000, 2},
	}
	for i, c := range cases {
		require.NoError(t, r.WriteChunk(i, 0, make([]byte, c.size)))
		assert.Equal(t, c.sectors, r.table.Entry(i, 0).SectorCount(), "size %d", c.size)
		assert.Equal(t, sector.Needed(c.size), c.sectors)
	}
}
