package manager

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nvbbu/bbucache/backend"
	"github.com/nvbbu/bbucache/cache"
	"github.com/nvbbu/bbucache/region"
)

// registerTestCache places a region via AddRegion and activates a cache
// over it with a MemRegion/MemBackend pair, returning both the manager
// handle and the underlying cache for direct inspection.
func registerTestCache(t *testing.T, m *Manager, name string, sizeMB uint32) (uuid.UUID, *cache.Cache, *backend.MemBackend) {
	t.Helper()
	h, err := m.AddRegion(CacheSpec{Name: name, SizeMB: sizeMB})
	require.NoError(t, err)

	layout := region.ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	nv := region.NewMemRegion(h, layout)
	be := backend.NewMemBackend(region.SectorSize)

	id, err := m.Register(h, nv, cache.Config{
		Region:     nv,
		Backend:    be,
		CopyEngine: backend.NewAsyncCopyEngine(),
		Geometry:   cache.Geometry{StripeMembers: 1},
		Name:       name,
	})
	require.NoError(t, err)

	mc, err := m.lookup(id)
	require.NoError(t, err)
	return id, mc.c, be
}

// Scenario 8: AddRegion with SizeMB 0 takes the largest free span in full.
func TestAddRegionLargestFreeFitDefault(t *testing.T) {
	m := New(0, 20000)

	h1, err := m.AddRegion(CacheSpec{Name: "first", SizeMB: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(1), h1.StartPFN)

	h2, err := m.AddRegion(CacheSpec{Name: "second", SizeMB: 0})
	require.NoError(t, err)
	layout1 := region.ComputeLayout(h1.StartPFN, h1.SizeMB, h1.BlockOrder)
	require.Equal(t, h1.StartPFN+layout1.TotalPages(), h2.StartPFN)
	require.Greater(t, h2.SizeMB, uint32(0))

	_, err = m.AddRegion(CacheSpec{Name: "first", SizeMB: 1})
	require.ErrorIs(t, err, ErrExists)
}

func TestAddRegionNoSpace(t *testing.T) {
	m := New(0, 10)
	_, err := m.AddRegion(CacheSpec{Name: "toobig", SizeMB: 100})
	require.ErrorIs(t, err, ErrNoSpace)
}

// Scenario 9: geometry validation. A block size that doesn't divide the
// stripe size, or too few blocks for the requested stripe width, must be
// rejected at activation with ErrBadGeometry rather than silently admitted.
func TestRegisterRejectsBadGeometry(t *testing.T) {
	m := New(0, 20000)
	h, err := m.AddRegion(CacheSpec{Name: "geo", SizeMB: 1})
	require.NoError(t, err)
	layout := region.ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	nv := region.NewMemRegion(h, layout)
	be := backend.NewMemBackend(region.SectorSize)

	_, err = m.Register(h, nv, cache.Config{
		Region:     nv,
		Backend:    be,
		CopyEngine: backend.NewAsyncCopyEngine(),
		Geometry:   cache.Geometry{StripeMembers: 2, StripeSectors: layout.BlockSectors + 1},
		Name:       "geo",
	})
	require.ErrorIs(t, err, cache.ErrBadGeometry)

	_, err = m.Register(h, nv, cache.Config{
		Region:     nv,
		Backend:    be,
		CopyEngine: backend.NewAsyncCopyEngine(),
		Geometry:   cache.Geometry{StripeMembers: layout.TotalBlocks + 1},
		Name:       "geo",
	})
	require.ErrorIs(t, err, cache.ErrBadGeometry)
}

// Scenario 10: config surface round trip.
func TestConfigSurfaceRoundTrip(t *testing.T) {
	m := New(0, 20000)
	id, c, _ := registerTestCache(t, m, "surface", 1)

	st, err := m.Get(id, "state")
	require.NoError(t, err)
	require.Equal(t, "active", st)

	size, err := m.Get(id, "size")
	require.NoError(t, err)
	require.NotEmpty(t, size)

	for _, field := range []string{"meta_pfn", "uuid", "order", "active", "pfn", "dirty", "writeback", "entry_count"} {
		v, err := m.Get(id, field)
		require.NoError(t, err, field)
		require.NotEmpty(t, v, field)
	}

	_, err = m.Get(id, "bogus")
	require.ErrorIs(t, err, ErrUnknownField)

	stats := c.StatsSnapshot()
	require.Equal(t, "0", mustGet(t, m, id, "dirty"))
	require.Equal(t, strconv.Itoa(stats.EntryCount), mustGet(t, m, id, "entry_count"))

	require.NoError(t, m.Set(id, "flush", "1"))
	require.ErrorIs(t, m.Set(id, "flush", "0"), ErrUnknownField)

	newID := uuid.New()
	require.NoError(t, m.Set(id, "uuid", newID.String()))
	require.Equal(t, newID.String(), mustGet(t, m, newID, "uuid"))
	_, err = m.Get(id, "uuid")
	require.ErrorIs(t, err, cache.ErrNoSuchCache)
	id = newID

	require.ErrorIs(t, m.Set(id, "uuid", "not-a-uuid"), ErrUnknownField)

	require.NoError(t, m.Set(id, "state", "delete"))
	_, err = m.Get(id, "state")
	require.ErrorIs(t, err, cache.ErrNoSuchCache)
}

// Scenario 10 continued: writing uuid is refused while the cache is busy.
func TestSetUUIDRejectsWhileBusy(t *testing.T) {
	m := New(0, 20000)
	id, c, _ := registerTestCache(t, m, "uuidbusy", 1)

	layout := c.Layout()
	sectors := layout.BlockSectors
	buf := make([]byte, int(sectors)*region.SectorSize)
	req := cache.NewRequest(0, sectors, cache.Write, buf)
	c.Submit(req)
	require.NoError(t, waitReq(t, req))

	err := m.Set(id, "uuid", uuid.New().String())
	require.ErrorIs(t, err, cache.ErrBusy)
}

func mustGet(t *testing.T, m *Manager, id uuid.UUID, field string) string {
	t.Helper()
	v, err := m.Get(id, field)
	require.NoError(t, err)
	return v
}

// Scenario 11: unregister/delete busy semantics. A cache with an admitted
// dirty entry refuses deletion until it is flushed back to quiescence.
func TestUnregisterBusySemantics(t *testing.T) {
	m := New(0, 20000)
	id, c, _ := registerTestCache(t, m, "busy", 1)

	layout := c.Layout()
	sectors := layout.BlockSectors
	buf := make([]byte, int(sectors)*region.SectorSize)
	for i := range buf {
		buf[i] = 'x'
	}
	req := cache.NewRequest(0, sectors, cache.Write, buf)
	c.Submit(req)
	require.NoError(t, waitReq(t, req))

	err := m.Unregister(id)
	require.ErrorIs(t, err, cache.ErrBusy)

	err = m.Set(id, "state", "delete")
	require.ErrorIs(t, err, cache.ErrBusy)

	flush := cache.NewRequest(0, 0, cache.Write, nil)
	flush.Barrier = true
	c.Submit(flush)
	require.NoError(t, waitReq(t, flush))

	require.NoError(t, m.Unregister(id))
	require.ErrorIs(t, m.Unregister(id), cache.ErrNotActive)
}

func waitReq(t *testing.T, req *cache.Request) error {
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
