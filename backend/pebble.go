package backend

import (
	"context"

	"github.com/cockroachdb/pebble"
)

// PebbleBackend implements BackingDevice over a Pebble key-value store.
// It is selected with `bbuctl serve --backend pebble` (the flag's default
// is "mem"), exercising the same storage engine go-ethereum
// itself uses for its path-based trie database.
type PebbleBackend struct {
	db         *pebble.DB
	sectorSize int
}

// OpenPebbleBackend opens (or creates) a Pebble database at path.
func OpenPebbleBackend(path string, sectorSize int) (*PebbleBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleBackend{db: db, sectorSize: sectorSize}, nil
}

func (p *PebbleBackend) SectorSize() int { return p.sectorSize }

func (p *PebbleBackend) Submit(ctx context.Context, kind IOKind, sector uint64, buf []byte, done func(Completion)) {
	go func() {
		key := sectorKey(sector)
		var err error
		switch kind {
		case WriteIO:
			err = p.db.Set(key, buf, pebble.Sync)
		case ReadIO:
			var v []byte
			var closer pebble.Closer
			v, closer, err = p.db.Get(key)
			if err == pebble.ErrNotFound {
				err = nil
				for i := range buf {
					buf[i] = 0
				}
			} else if err == nil {
				copy(buf, v)
				_ = closer.Close()
			}
		}
		done(Completion{Err: err})
	}()
}

func (p *PebbleBackend) Close() error { return p.db.Close() }
