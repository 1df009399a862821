package backend

import (
	"context"
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
)

// LevelDBBackend implements BackingDevice over a goleveldb key-value
// store, keying each block-sized write by its backing sector. It is
// selected with `bbuctl serve --backend leveldb`.
type LevelDBBackend struct {
	db         *leveldb.DB
	sectorSize int
}

// OpenLevelDBBackend opens (or creates) a goleveldb database at path.
func OpenLevelDBBackend(path string, sectorSize int) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBBackend{db: db, sectorSize: sectorSize}, nil
}

func (l *LevelDBBackend) SectorSize() int { return l.sectorSize }

func sectorKey(sector uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], sector)
	return k[:]
}

func (l *LevelDBBackend) Submit(ctx context.Context, kind IOKind, sector uint64, buf []byte, done func(Completion)) {
	go func() {
		key := sectorKey(sector)
		var err error
		switch kind {
		case WriteIO:
			err = l.db.Put(key, buf, nil)
		case ReadIO:
			var v []byte
			v, err = l.db.Get(key, nil)
			if err == leveldb.ErrNotFound {
				err = nil
				for i := range buf {
					buf[i] = 0
				}
			} else if err == nil {
				copy(buf, v)
			}
		}
		done(Completion{Err: err})
	}()
}

func (l *LevelDBBackend) Close() error { return l.db.Close() }
