package cache

import (
	"context"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore keeps every version in one LevelDB database. Version
// markers live under "v!" and entries under "e!<version>!".
type LevelDBStore struct {
	db *leveldb.DB
}

func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func versionKey(version string) []byte {
	return []byte("v!" + version)
}

func entryPrefix(version string) []byte {
	return []byte("e!" + version + "!")
}

func entryKey(version, key string) []byte {
	return append(entryPrefix(version), key...)
}

func (s *LevelDBStore) Open(_ context.Context, version string) (Handle, error) {
	if err := s.db.Put(versionKey(version), []byte{1}, nil); err != nil {
		return nil, err
	}
	return &levelDBHandle{db: s.db, version: version}, nil
}

func (s *LevelDBStore) DeleteVersion(_ context.Context, version string) error {
	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(version)), nil)
	for it.Next() {
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		batch.Delete(k)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	batch.Delete(versionKey(version))
	return s.db.Write(batch, nil)
}

func (s *LevelDBStore) ListVersions(_ context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte("v!")), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(it.Key()[len("v!"):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

type levelDBHandle struct {
	db      *leveldb.DB
	version string
}

func (h *levelDBHandle) Version() string { return h.version }

func (h *levelDBHandle) Match(_ context.Context, key string) (Entry, error) {
	b, err := h.db.Get(entryKey(h.version, key), nil)
	if err == leveldb.ErrNotFound {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(b)
}

func (h *levelDBHandle) Put(_ context.Context, key string, ent Entry) error {
	if !Cacheable(key, ent) {
		return nil
	}
	b, err := encodeEntry(ent)
	if err != nil {
		return err
	}
	return h.db.Put(entryKey(h.version, key), b, nil)
}

func (h *levelDBHandle) SweepExpired(_ context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge)
	batch := new(leveldb.Batch)
	removed := 0

	it := h.db.NewIterator(util.BytesPrefix(entryPrefix(h.version)), nil)
	for it.Next() {
		ent, err := decodeEntry(it.Value())
		if err != nil || ent.CapturedAt.Before(cutoff) {
			k := make([]byte, len(it.Key()))
			copy(k, it.Key())
			batch.Delete(k)
			removed++
		}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, h.db.Write(batch, nil)
}
