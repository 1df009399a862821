package region

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MmapRegion maps a backing file MAP_SHARED and treats it as the region's
// non-volatile memory. This is the closest a user-space Go process can get
// to write-combining, power-loss-protected memory: StoreFence issues
// msync(MS_SYNC) so the mapped pages are pushed to the backing file before
// any dependent I/O is allowed to proceed, and every descriptor word is
// written with a single atomic store so no reader ever observes a
// torn word.
type MmapRegion struct {
	file   *os.File
	data   []byte
	header Header
	layout Layout
}

// OpenMmapRegion maps the given file as a region. If create is true the
// file is truncated to the size implied by h and layout and the header
// page is written out; otherwise the existing header is read back, its
// magic and checksum are validated, and it is used in place of h (h only
// sizes the mapping).
func OpenMmapRegion(path string, h Header, create bool) (*MmapRegion, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, fmt.Errorf("region: open %s: %w", path, err)
	}

	layout := ComputeLayout(h.StartPFN, h.SizeMB, h.BlockOrder)
	size := int64(layout.TotalPages()) * PageSize

	if create {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("region: truncate: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("region: mmap: %w", err)
	}

	r := &MmapRegion{file: f, data: data, header: h.Seal(), layout: layout}
	if create {
		copy(r.data[:HeaderSize], r.header.Marshal())
	} else {
		stored, err := UnmarshalHeader(r.data[:HeaderSize])
		if err != nil {
			r.Close()
			return nil, err
		}
		if err := stored.Validate(); err != nil {
			r.Close()
			return nil, err
		}
		r.header = stored
		r.layout = ComputeLayout(stored.StartPFN, stored.SizeMB, stored.BlockOrder)
	}
	return r, nil
}

func (r *MmapRegion) Header() Header { return r.header }
func (r *MmapRegion) Layout() Layout { return r.layout }

func (r *MmapRegion) ReadDescriptor(slot uint32) (State, uint64, error) {
	if int(slot) >= r.layout.TotalBlocks {
		return 0, 0, fmt.Errorf("region: slot %d out of range", slot)
	}
	off := r.layout.DescWordOffset(slot)
	word := atomic.LoadUint64((*uint64)(wordPtr(r.data[off : off+8])))
	st, sector := DecodeDescriptor(word)
	return st, sector, nil
}

func (r *MmapRegion) WriteDescriptor(slot uint32, st State, sector uint64) error {
	if int(slot) >= r.layout.TotalBlocks {
		return fmt.Errorf("region: slot %d out of range", slot)
	}
	off := r.layout.DescWordOffset(slot)
	word := EncodeDescriptor(st, sector)
	atomic.StoreUint64((*uint64)(wordPtr(r.data[off:off+8])), word)
	return nil
}

func (r *MmapRegion) StoreFence() {
	_ = unix.Msync(r.data, unix.MS_SYNC)
}

func (r *MmapRegion) DataPage(slot uint32, pageInBlock int) []byte {
	off := r.layout.DataPageOffset(slot, pageInBlock)
	return r.data[off : off+PageSize]
}

func (r *MmapRegion) Sync() error {
	return unix.Msync(r.data, unix.MS_SYNC)
}

func (r *MmapRegion) Close() error {
	if r.data != nil {
		unix.Munmap(r.data)
		r.data = nil
	}
	return r.file.Close()
}

// wordPtr reinterprets an 8-byte slice as a *uint64 for the atomic
// load/store, matching the "written whole, never read-modify-write"
// requirement on the descriptor word.
func wordPtr(b []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[0]))
}
