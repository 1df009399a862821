// Package region models the power-loss-protected memory region that backs
// one battery-backed cache: its on-media header, its descriptor table, and
// the data-page slots that hold cached block content.
package region

// NvRegion abstracts the non-volatile, write-combining memory region that
// backs a single cache. Descriptor updates must be visible to the region
// before any dependent data transfer is considered committed; StoreFence
// is the explicit hook an implementer maps onto the platform's
// write-combining flush primitive (see the design notes on descriptor
// persistence).
type NvRegion interface {
	// Header returns the durable region header.
	Header() Header

	// Layout returns the derived geometry of the region.
	Layout() Layout

	// ReadDescriptor reads the descriptor word for a data slot.
	ReadDescriptor(slot uint32) (State, uint64, error)

	// WriteDescriptor writes a whole descriptor word for a data slot. No
	// read-modify-write is ever performed; callers always supply the full
	// new state.
	WriteDescriptor(slot uint32, st State, sector uint64) error

	// StoreFence issues a store barrier guaranteeing that descriptor
	// writes issued before the call are visible to any reader (including
	// a post-crash recovery pass) before the call returns.
	StoreFence()

	// DataPage returns a mutable view of one page of a block's data slot.
	// pageInBlock must be in [0, 2^BlockOrder).
	DataPage(slot uint32, pageInBlock int) []byte

	// Sync flushes any buffered region state to its backing medium. For
	// an in-memory fake this is a no-op; for the mmap-backed
	// implementation it is msync(MS_SYNC).
	Sync() error

	// Close releases any resources (file handles, mappings) held by the
	// region.
	Close() error
}
