package region

// PageSize is the native page size assumed for all region arithmetic.
// The source driver inherits this from the host MMU page size; we fix it
// since this module never runs against a real MMU.
const PageSize = 4096

// SectorSize is the backing-device sector size in bytes.
const SectorSize = 512

// Layout describes the derived geometry of a region: where the descriptor
// table starts, how many pages it occupies, where the data area starts and
// how many fixed-size blocks it holds.
type Layout struct {
	StartPFN      uint64 // first page of the region (header page)
	DescStartPFN  uint64 // first page of the descriptor table
	DescPages     int    // whole pages occupied by the descriptor table
	DataStartPFN  uint64 // first page of the data area
	BlockOrder    uint8  // a block is 2^BlockOrder pages
	BlockPages    int    // 1 << BlockOrder
	BlockSectors  uint64 // block size expressed in backing-device sectors
	TotalBlocks   int    // number of fixed-size block slots in the data area
}

// ceilDiv divides rounding up, for whole-page accounting.
func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ComputeLayout derives a Layout from a region's durable header fields.
// sizeMB is the data-area capacity (the "size" config attribute); the
// descriptor table is additional overhead laid out ahead of it, matching
// the on-media diagram in the on-media layout section of the spec.
func ComputeLayout(startPFN uint64, sizeMB uint32, blockOrder uint8) Layout {
	blockPages := 1 << blockOrder
	blockBytes := blockPages * PageSize
	totalBlocks := int(uint64(sizeMB) * 1024 * 1024 / uint64(blockBytes))

	descPages := ceilDiv(totalBlocks*8, PageSize)
	descStart := startPFN + 1 // one page reserved for the region header
	dataStart := descStart + uint64(descPages)

	return Layout{
		StartPFN:     startPFN,
		DescStartPFN: descStart,
		DescPages:    descPages,
		DataStartPFN: dataStart,
		BlockOrder:   blockOrder,
		BlockPages:   blockPages,
		BlockSectors: uint64(blockBytes / SectorSize),
		TotalBlocks:  totalBlocks,
	}
}

// SlotSector returns the sector offset of a data slot in the region:
// slot multiplied by the block size in sectors.
func (l Layout) SlotSector(slot uint32) uint64 {
	return uint64(slot) * l.BlockSectors
}

// DataPageOffset returns the byte offset (from the start of the region's
// mapped memory) of the given page within the given block slot.
func (l Layout) DataPageOffset(slot uint32, pageInBlock int) int64 {
	blockOffsetPages := (l.DataStartPFN - l.StartPFN) + uint64(slot)*uint64(l.BlockPages)
	return (int64(blockOffsetPages) + int64(pageInBlock)) * PageSize
}

// DescWordOffset returns the byte offset of a descriptor word within the
// mapped memory.
func (l Layout) DescWordOffset(slot uint32) int64 {
	return (int64(l.DescStartPFN-l.StartPFN)*PageSize + int64(slot)*8)
}

// TotalPages is the number of pages the whole region (header + descriptor
// table + data area) spans.
func (l Layout) TotalPages() uint64 {
	return (l.DataStartPFN - l.StartPFN) + uint64(l.TotalBlocks*l.BlockPages)
}
