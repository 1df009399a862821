package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nvbbu/bbucache/backend"
	"github.com/nvbbu/bbucache/region"
)

// testCache builds a running, unstriped (M=1) Cache over a
// MemRegion/MemBackend pair sized to hold at least minBlocks 4 KiB
// blocks (regions are allocated in whole megabytes, so small values
// round up to one).
func testCache(t *testing.T, minBlocks int) (*Cache, *region.MemRegion, *backend.MemBackend) {
	t.Helper()
	name, err := region.NewName("test")
	require.NoError(t, err)
	h := region.Header{
		Magic:      region.Magic,
		Name:       name,
		UUID:       uuid.New(),
		StartPFN:   0,
		SizeMB:     (uint32(minBlocks)*4 + 1023) / 1024, // 4 KiB blocks (order 0)
		BlockOrder: 0,
	}.Seal()
	if h.SizeMB == 0 {
		h.SizeMB = 1
	}
	layout := region.ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	nv := region.NewMemRegion(h, layout)
	be := backend.NewMemBackend(region.SectorSize)

	c, err := New(Config{
		Region:     nv,
		Backend:    be,
		CopyEngine: backend.NewAsyncCopyEngine(),
		Geometry:   Geometry{StripeMembers: 1},
		Name:       "test-" + uuid.NewString(),
	})
	require.NoError(t, err)
	require.NoError(t, c.Recover())
	c.Start()
	t.Cleanup(c.Stop)
	return c, nv, be
}

func submitAndWait(t *testing.T, c *Cache, sector, sectors uint64, dir Direction, buf []byte, barrier bool) error {
	t.Helper()
	req := NewRequest(sector, sectors, dir, buf)
	req.Barrier = barrier
	c.Submit(req)
	return waitWithTimeout(t, req)
}

func waitWithTimeout(t *testing.T, req *Request) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- req.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete within timeout")
		return nil
	}
}

func fill(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// Scenario 1: cold init.
func TestColdInit(t *testing.T) {
	c, _, _ := testCache(t, 4096)
	stats := c.StatsSnapshot()
	require.Equal(t, 4096, stats.EntryCount)
	require.Equal(t, 0, stats.Dirty)
	require.Equal(t, 0, stats.Active)
}

// Scenario 2: single write, read-back, flush.
func TestSingleWriteReadBack(t *testing.T) {
	c, nv, _ := testCache(t, 16)

	data := fill('A', region.SectorSize*int(c.layout.BlockSectors))
	require.NoError(t, submitAndWait(t, c, 0, c.layout.BlockSectors, Write, data, false))
	require.Equal(t, 1, c.StatsSnapshot().Dirty)

	out := make([]byte, len(data))
	require.NoError(t, submitAndWait(t, c, 0, c.layout.BlockSectors, Read, out, false))
	require.Equal(t, data, out)

	require.NoError(t, submitAndWait(t, c, 0, 0, Write, nil, true)) // barrier: flush
	require.Equal(t, 0, c.StatsSnapshot().Dirty)

	st, sector, err := nv.ReadDescriptor(0)
	require.NoError(t, err)
	require.Equal(t, Sync, st)
	require.Equal(t, uint64(0), sector)
}

// Scenario 3: crash between persist-UpdateLock and drain-complete.
func TestRecoveryNormalizesUpdateLockToDirty(t *testing.T) {
	name, err := region.NewName("crash3")
	require.NoError(t, err)
	h := region.Header{Magic: region.Magic, Name: name, UUID: uuid.New(), SizeMB: 1, BlockOrder: 0}.Seal()
	layout := region.ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	nv := region.NewMemRegion(h, layout)
	be := backend.NewMemBackend(region.SectorSize)

	page := nv.DataPage(0, 0)
	copy(page, fill('Z', len(page)))
	nv.ForceDescriptor(0, region.UpdateLock, 0)

	c, err := New(Config{Region: nv, Backend: be, CopyEngine: backend.NewAsyncCopyEngine(), Geometry: Geometry{StripeMembers: 1}, Name: "crash3"})
	require.NoError(t, err)
	require.NoError(t, c.Recover())
	c.Start()
	t.Cleanup(c.Stop)

	st, _, err := nv.ReadDescriptor(0)
	require.NoError(t, err)
	require.Equal(t, Dirty, st)
	require.Equal(t, 1, c.StatsSnapshot().Dirty)

	out := make([]byte, len(page))
	require.NoError(t, submitAndWait(t, c, 0, layout.BlockSectors, Read, out, false))
	require.Equal(t, fill('Z', len(page)), out)
}

// Scenario 4: crash between persist-WritebackLock and backing-ack.
func TestRecoveryNormalizesWritebackLockAndReissues(t *testing.T) {
	name, err := region.NewName("crash4")
	require.NoError(t, err)
	h := region.Header{Magic: region.Magic, Name: name, UUID: uuid.New(), SizeMB: 1, BlockOrder: 0}.Seal()
	layout := region.ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	nv := region.NewMemRegion(h, layout)
	be := backend.NewMemBackend(region.SectorSize)

	page := nv.DataPage(0, 0)
	copy(page, fill('Q', len(page)))
	nv.ForceDescriptor(0, region.WritebackLock, 0)

	c, err := New(Config{Region: nv, Backend: be, CopyEngine: backend.NewAsyncCopyEngine(), Geometry: Geometry{StripeMembers: 1}, Name: "crash4"})
	require.NoError(t, err)
	require.NoError(t, c.Recover())
	c.Start()
	t.Cleanup(c.Stop)

	require.NoError(t, submitAndWait(t, c, 0, 0, Write, nil, true)) // barrier forces writeback
	require.Equal(t, 0, c.StatsSnapshot().Dirty)
	require.Equal(t, fill('Q', len(page)), be.Peek(0))
}

// Scenario 5: overlap serialization — two concurrent writes to the same
// sector must serialize, and a subsequent read sees whichever was
// admitted last.
func TestOverlapSerialization(t *testing.T) {
	c, _, _ := testCache(t, 16)
	sectors := c.layout.BlockSectors
	bufSize := int(sectors) * region.SectorSize

	first := NewRequest(0, sectors, Write, fill('1', bufSize))
	second := NewRequest(0, sectors, Write, fill('2', bufSize))
	c.Submit(first)
	c.Submit(second)
	require.NoError(t, waitWithTimeout(t, first))
	require.NoError(t, waitWithTimeout(t, second))

	out := make([]byte, bufSize)
	require.NoError(t, submitAndWait(t, c, 0, sectors, Read, out, false))
	require.Equal(t, fill('2', bufSize), out)
}

// Scenario 6: bypass-dirty-merge snapshot. A stripe sector is dirty in
// cache while the backing device still holds stale content; a bypass
// read issued directly against that sector (the miss path, exercised
// here without going through the normal entry lookup in Submit so the
// assertion doesn't depend on worker scheduling order) must observe the
// cache's dirty content, never the backing device's stale snapshot.
func TestBypassDirtyMergeSnapshot(t *testing.T) {
	c, _, be := testCache(t, 16)
	sectors := c.layout.BlockSectors
	bufSize := int(sectors) * region.SectorSize

	done := make(chan struct{})
	be.Submit(context.Background(), backend.WriteIO, 0, fill('O', bufSize), func(backend.Completion) { close(done) })
	<-done

	require.NoError(t, submitAndWait(t, c, 0, sectors, Write, fill('N', bufSize), false))

	buf := make([]byte, bufSize)
	req := NewRequest(0, sectors, Read, buf)
	req.addSegments(1)
	c.issueBypassRead(req, 0, 0, 0, sectors)
	require.NoError(t, waitWithTimeout(t, req))
	require.Equal(t, fill('N', bufSize), buf)
}

// Scenario 7: failed-cache behavior.
func TestFailedCacheBehavior(t *testing.T) {
	c, _, be := testCache(t, 16)
	sectors := c.layout.BlockSectors
	bufSize := int(sectors) * region.SectorSize

	require.NoError(t, submitAndWait(t, c, 0, sectors, Write, fill('A', bufSize), false))

	be.FailWrite = true
	// The barrier itself only waits for quiescence; it does not surface
	// the writeback error to its own caller. MemBackend.FailWrite fails
	// exactly one write, so the entry's mandatory retry (still Dirty,
	// barrier still active) succeeds on its second attempt and drainAll
	// returns normally — but the first failure has already flipped the
	// cache to Failed permanently.
	require.NoError(t, submitAndWait(t, c, 0, 0, Write, nil, true))
	require.True(t, c.StatsSnapshot().Failed)

	// A read hitting the still-cached (now failed-to-drain) entry succeeds.
	out := make([]byte, bufSize)
	require.NoError(t, submitAndWait(t, c, 0, sectors, Read, out, false))

	// A miss (unrelated sector, no entry) fails.
	miss := make([]byte, bufSize)
	err := submitAndWait(t, c, sectors*2, sectors, Read, miss, false)
	require.ErrorIs(t, err, ErrFailed)

	// A new write fails outright.
	err = submitAndWait(t, c, sectors*3, sectors, Write, fill('B', bufSize), false)
	require.ErrorIs(t, err, ErrFailed)
}

// (P4) hash index correctness across entry recycling. Builds a cache
// with exactly 8 entries, fills and flushes all 8, then writes a 9th,
// previously-unused sector — forcing getFreeEntry to recycle one of the
// 8 entries into the new stripe sector. Every one of the original 8
// sectors must still read back correctly (whether served from its
// still-cached entry, or via a bypass read to the backing device for
// whichever one was recycled), proving recycling neither loses data nor
// corrupts the old hash bucket's chain.
func TestHashIndexSurvivesEntryRecycling(t *testing.T) {
	name, err := region.NewName("recycle")
	require.NoError(t, err)
	h := region.Header{Magic: region.Magic, Name: name, UUID: uuid.New(), SizeMB: 1, BlockOrder: 5}.Seal()
	layout := region.ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	require.Equal(t, 8, layout.TotalBlocks)
	nv := region.NewMemRegion(h, layout)
	be := backend.NewMemBackend(region.SectorSize)

	c, err := New(Config{Region: nv, Backend: be, CopyEngine: backend.NewAsyncCopyEngine(), Geometry: Geometry{StripeMembers: 1}, Name: "recycle"})
	require.NoError(t, err)
	require.NoError(t, c.Recover())
	c.Start()
	t.Cleanup(c.Stop)

	sectors := layout.BlockSectors
	bufSize := int(sectors) * region.SectorSize

	for i := uint64(0); i < 8; i++ {
		data := fill(byte('a'+i), bufSize)
		require.NoError(t, submitAndWait(t, c, i*sectors, sectors, Write, data, false))
	}
	require.NoError(t, submitAndWait(t, c, 0, 0, Write, nil, true)) // barrier: writeback and release all 8

	// A 9th, previously-unused sector forces recycling of one free entry.
	require.NoError(t, submitAndWait(t, c, 8*sectors, sectors, Write, fill('Z', bufSize), false))
	out := make([]byte, bufSize)
	require.NoError(t, submitAndWait(t, c, 8*sectors, sectors, Read, out, false))
	require.Equal(t, fill('Z', bufSize), out)

	for i := uint64(0); i < 8; i++ {
		out := make([]byte, bufSize)
		require.NoError(t, submitAndWait(t, c, i*sectors, sectors, Read, out, false))
		require.Equal(t, fill(byte('a'+i), bufSize), out, "sector %d", i*sectors)
	}
}
