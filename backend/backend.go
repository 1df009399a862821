// Package backend provides the reference implementations of the two
// external collaborators the cache engine assumes but does not itself
// implement: the backing-device I/O submission primitive, and the async
// scatter/gather copy primitive that moves bytes between a client's
// buffers and a block's data pages.
package backend

import "context"

// IOKind distinguishes a read from a write on the backing device.
type IOKind uint8

const (
	ReadIO IOKind = iota
	WriteIO
)

// Completion is delivered once a submitted backing-device I/O finishes.
type Completion struct {
	Err error
}

// BackingDevice is "submit one block-sized request, get a completion
// callback" per the scope note in the specification: concurrency within
// the implementation is entirely up to it.
type BackingDevice interface {
	// Submit issues one block-sized I/O. kind selects direction; sector
	// is the backing-device sector, buf is exactly one block's worth of
	// bytes (read target or write source). done is invoked exactly once,
	// from any goroutine, when the operation completes.
	Submit(ctx context.Context, kind IOKind, sector uint64, buf []byte, done func(Completion))

	// SectorSize reports the backing device's sector size in bytes.
	SectorSize() int

	// Close releases resources held by the backend.
	Close() error
}

// CopyRange describes one (offset, length) span within a data page to
// copy to/from a client buffer.
type CopyRange struct {
	PageOffset int
	Length     int
	Buf        []byte // client-side buffer slice for this range
}

// CopyEngine is the async memory-copy primitive: copy N scatter ranges
// into or out of a data page, then call a completion.
type CopyEngine interface {
	// CopyIn copies ranges from client buffers into page (a drain / write
	// path copy).
	CopyIn(ctx context.Context, page []byte, ranges []CopyRange, done func(error))

	// CopyOut copies ranges from page into client buffers (a fill / read
	// path copy).
	CopyOut(ctx context.Context, page []byte, ranges []CopyRange, done func(error))
}
