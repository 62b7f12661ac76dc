// Package pebblekv implements the kv contract on cockroachdb/pebble.
package pebblekv

import (
	"errors"

	"github.com/arcstep/voidring/kv"
	"github.com/cockroachdb/pebble"
)

// Store wraps a pebble database. All writes go through a single
// WriteOptions chosen at Open time.
type Store struct {
	db *pebble.DB
	wo *pebble.WriteOptions
}

// Open opens the pebble database in dir, creating it when absent. A nil
// opts uses pebble defaults; tests pass &pebble.Options{FS: vfs.NewMem()}.
// When sync is set every commit waits for the WAL to reach stable
// storage.
func Open(dir string, opts *pebble.Options, sync bool) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	wo := pebble.NoSync
	if sync {
		wo = pebble.Sync
	}
	return &Store{db: db, wo: wo}, nil
}

// DB exposes the underlying pebble handle for the metrics collector.
func (s *Store) DB() *pebble.DB { return s.db }

func get(r pebble.Reader, key []byte) ([]byte, error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	err = closer.Close()
	return out, err
}

func (s *Store) Get(key []byte) ([]byte, error) { return get(s.db, key) }

func (s *Store) NewIter(opts kv.IterOptions) kv.Iterator { return newIter(s.db, opts) }

func (s *Store) Set(key, value []byte) error { return s.db.Set(key, value, s.wo) }

func (s *Store) Delete(key []byte) error { return s.db.Delete(key, s.wo) }

func (s *Store) DeleteRange(start, end []byte) error {
	return s.db.DeleteRange(start, end, s.wo)
}

func (s *Store) NewBatch() kv.Batch {
	return &batch{b: s.db.NewBatch(), wo: s.wo}
}

func (s *Store) Snapshot() kv.Snapshot {
	return &snapshot{snap: s.db.NewSnapshot()}
}

func (s *Store) Close() error { return s.db.Close() }

type batch struct {
	b  *pebble.Batch
	wo *pebble.WriteOptions
}

func (b *batch) Set(key, value []byte) error { return b.b.Set(key, value, nil) }
func (b *batch) Delete(key []byte) error     { return b.b.Delete(key, nil) }
func (b *batch) Count() int                  { return int(b.b.Count()) }
func (b *batch) Commit() error               { return b.b.Commit(b.wo) }
func (b *batch) Close() error                { return b.b.Close() }

type snapshot struct {
	snap *pebble.Snapshot
}

func (s *snapshot) Get(key []byte) ([]byte, error) { return get(s.snap, key) }

func (s *snapshot) NewIter(opts kv.IterOptions) kv.Iterator {
	return newIter(s.snap, opts)
}

func (s *snapshot) Close() error { return s.snap.Close() }

type iterator struct {
	it  *pebble.Iterator
	rev bool
	err error
}

func newIter(r pebble.Reader, opts kv.IterOptions) kv.Iterator {
	it, err := r.NewIter(&pebble.IterOptions{
		LowerBound: opts.Lower,
		UpperBound: opts.Upper,
	})
	if err != nil {
		return &iterator{err: err}
	}
	return &iterator{it: it, rev: opts.Reverse}
}

func (i *iterator) First() bool {
	if i.it == nil {
		return false
	}
	if i.rev {
		return i.it.Last()
	}
	return i.it.First()
}

func (i *iterator) Next() bool {
	if i.it == nil {
		return false
	}
	if i.rev {
		return i.it.Prev()
	}
	return i.it.Next()
}

func (i *iterator) Key() []byte {
	if i.it == nil {
		return nil
	}
	return i.it.Key()
}

func (i *iterator) Value() []byte {
	if i.it == nil {
		return nil
	}
	return i.it.Value()
}

func (i *iterator) Err() error {
	if i.it == nil {
		return i.err
	}
	return i.it.Error()
}

func (i *iterator) Close() error {
	if i.it == nil {
		return nil
	}
	return i.it.Close()
}
