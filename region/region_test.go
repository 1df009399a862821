package region

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testHeader(t *testing.T) Header {
	t.Helper()
	name, err := NewName("test-cache")
	require.NoError(t, err)
	return Header{
		Magic:      Magic,
		Name:       name,
		UUID:       uuid.New(),
		StartPFN:   0,
		SizeMB:     16,
		BlockOrder: 0,
	}.Seal()
}

func TestHeaderChecksumRoundTrip(t *testing.T) {
	h := testHeader(t)
	require.NoError(t, h.Validate())

	buf := h.Marshal()
	got, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	require.NoError(t, got.Validate())
	require.Equal(t, h.NameString(), got.NameString())
}

func TestHeaderChecksumDetectsCorruption(t *testing.T) {
	h := testHeader(t)
	buf := h.Marshal()
	buf[10] ^= 0xFF // corrupt a byte inside the name field

	got, err := UnmarshalHeader(buf)
	require.NoError(t, err)
	require.ErrorIs(t, got.Validate(), ErrChecksum)
}

func TestHeaderBadMagic(t *testing.T) {
	h := testHeader(t)
	h.Magic = 0
	require.ErrorIs(t, h.Validate(), ErrBadMagic)
}

// 16 MiB at block order 0 (4 KiB blocks) yields exactly 4096 blocks, per
// the cold-init scenario in the testable properties section.
func TestComputeLayoutColdInit(t *testing.T) {
	layout := ComputeLayout(0, 16, 0)
	require.Equal(t, 4096, layout.TotalBlocks)
	require.Equal(t, 1, layout.BlockPages)
	require.Equal(t, uint64(8), layout.BlockSectors)
}

func TestComputeLayoutLargerBlocks(t *testing.T) {
	// order=3 => 8 pages/block => 32 KiB blocks.
	layout := ComputeLayout(100, 32, 3)
	require.Equal(t, 8, layout.BlockPages)
	require.Equal(t, 1024, layout.TotalBlocks) // 32MiB / 32KiB
	require.Equal(t, uint64(100+1+layout.DescPages), layout.DataStartPFN)
}

func TestEncodeDecodeDescriptorRoundTrip(t *testing.T) {
	for _, st := range []State{Unassociated, Sync, Dirty, ReplaceLock, ReadLock, UpdateLock, WritebackLock} {
		for _, sector := range []uint64{0, 1, 1 << 40} {
			word := EncodeDescriptor(st, sector)
			gotSt, gotSector := DecodeDescriptor(word)
			require.Equal(t, st, gotSt)
			require.Equal(t, sector, gotSector)
		}
	}
}

func TestMemRegionDescriptorHistory(t *testing.T) {
	h := testHeader(t)
	layout := ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	r := NewMemRegion(h, layout)

	require.NoError(t, r.WriteDescriptor(0, ReplaceLock, 10))
	require.NoError(t, r.WriteDescriptor(0, Dirty, 10))

	hist := r.History()
	require.Len(t, hist, 2)
	require.Equal(t, ReplaceLock, hist[0].State)
	require.Equal(t, Dirty, hist[1].State)

	st, sector, err := r.ReadDescriptor(0)
	require.NoError(t, err)
	require.Equal(t, Dirty, st)
	require.Equal(t, uint64(10), sector)
}
