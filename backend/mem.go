package backend

import (
	"context"
	"fmt"
	"sync"
)

// MemBackend is an in-memory sector store used by unit tests and as the
// default backend for the "mem" cmd/bbuctl --backend option. Submit
// performs the copy and invokes done on its own goroutine, so callers
// cannot rely on completion ordering.
type MemBackend struct {
	mu         sync.Mutex
	sectorSize int
	data       map[uint64][]byte

	// FailWrite, if set, makes the next write submission fail; used to
	// drive the Failed-cache test scenario.
	FailWrite bool
}

// NewMemBackend creates an empty backend with the given sector size.
func NewMemBackend(sectorSize int) *MemBackend {
	return &MemBackend{sectorSize: sectorSize, data: make(map[uint64][]byte)}
}

func (m *MemBackend) SectorSize() int { return m.sectorSize }

func (m *MemBackend) Submit(ctx context.Context, kind IOKind, sector uint64, buf []byte, done func(Completion)) {
	go func() {
		m.mu.Lock()
		var err error
		switch kind {
		case WriteIO:
			if m.FailWrite {
				err = fmt.Errorf("backend: simulated write failure at sector %d", sector)
				m.FailWrite = false
			} else {
				cp := make([]byte, len(buf))
				copy(cp, buf)
				m.data[sector] = cp
			}
		case ReadIO:
			if existing, ok := m.data[sector]; ok {
				copy(buf, existing)
			} else {
				for i := range buf {
					buf[i] = 0
				}
			}
		}
		m.mu.Unlock()
		done(Completion{Err: err})
	}()
}

func (m *MemBackend) Close() error { return nil }

// Peek returns a copy of what is currently stored at sector, for test
// assertions.
func (m *MemBackend) Peek(sector uint64) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[sector]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out
	}
	return nil
}
