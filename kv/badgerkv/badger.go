// Package badgerkv implements the kv contract on dgraph-io/badger, a
// pure-Go LSM engine. It serves deployments that cannot take the cgo
// and platform baggage of larger engines; pebblekv remains the default.
package badgerkv

import (
	"bytes"
	"errors"

	"github.com/arcstep/voidring/kv"
	badger "github.com/dgraph-io/badger/v4"
)

const deleteRangeChunk = 1024

// Store wraps a badger database.
type Store struct {
	db *badger.DB
}

// Open opens the badger database in dir, creating it when absent. An
// empty dir opens a transient in-memory database. When sync is set
// every write waits for the value log to reach stable storage.
func Open(dir string, sync bool) (*Store, error) {
	opt := badger.DefaultOptions(dir)
	if dir == "" {
		opt = opt.WithInMemory(true)
	}
	opt = opt.WithLogger(nil).WithSyncWrites(sync)
	db, err := badger.Open(opt)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenDB wraps an already-open badger handle. Close closes it.
func OpenDB(db *badger.DB) *Store { return &Store{db: db} }

func itemValue(item *badger.Item) ([]byte, error) {
	return item.ValueCopy(nil)
}

func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = itemValue(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	return val, err
}

func (s *Store) NewIter(opts kv.IterOptions) kv.Iterator {
	return newIter(s.db.NewTransaction(false), opts, true)
}

func (s *Store) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *Store) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// DeleteRange scans keys in [start, end) and deletes them in chunks.
// Unlike pebble there is no native range tombstone, so the scan repeats
// until the interval is empty.
func (s *Store) DeleteRange(start, end []byte) error {
	for {
		keys, err := s.rangeKeys(start, end, deleteRangeChunk)
		if err != nil || len(keys) == 0 {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(keys) < deleteRangeChunk {
			return nil
		}
	}
}

func (s *Store) rangeKeys(start, end []byte, limit int) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		bo := badger.DefaultIteratorOptions
		bo.PrefetchValues = false
		it := txn.NewIterator(bo)
		defer it.Close()
		if start == nil {
			it.Rewind()
		} else {
			it.Seek(start)
		}
		for ; it.Valid() && len(keys) < limit; it.Next() {
			item := it.Item()
			if end != nil && bytes.Compare(item.Key(), end) >= 0 {
				break
			}
			keys = append(keys, item.KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (s *Store) NewBatch() kv.Batch { return &batch{s: s} }

func (s *Store) Snapshot() kv.Snapshot {
	return &snapshot{txn: s.db.NewTransaction(false)}
}

func (s *Store) Close() error { return s.db.Close() }

type op struct {
	del  bool
	k, v []byte
}

// batch buffers writes and applies them in one badger transaction.
// Inputs are copied at staging time since callers may reuse buffers.
// Batches beyond badger's transaction limit fail at Commit with
// badger.ErrTxnTooBig; callers keep batches modest.
type batch struct {
	s   *Store
	ops []op
}

func (b *batch) Set(key, value []byte) error {
	b.ops = append(b.ops, op{k: bytes.Clone(key), v: bytes.Clone(value)})
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.ops = append(b.ops, op{del: true, k: bytes.Clone(key)})
	return nil
}

func (b *batch) Count() int { return len(b.ops) }

func (b *batch) Commit() error {
	return b.s.db.Update(func(txn *badger.Txn) error {
		for _, o := range b.ops {
			var err error
			if o.del {
				err = txn.Delete(o.k)
			} else {
				err = txn.Set(o.k, o.v)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *batch) Close() error {
	b.ops = nil
	return nil
}

// snapshot pins a read-only transaction at its start timestamp. Close
// promptly; long-lived snapshots hold back value log garbage collection.
type snapshot struct {
	txn *badger.Txn
}

func (sn *snapshot) Get(key []byte) ([]byte, error) {
	item, err := sn.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return itemValue(item)
}

func (sn *snapshot) NewIter(opts kv.IterOptions) kv.Iterator {
	return newIter(sn.txn, opts, false)
}

func (sn *snapshot) Close() error {
	sn.txn.Discard()
	return nil
}

type iterator struct {
	txn    *badger.Txn
	it     *badger.Iterator
	lower  []byte
	upper  []byte
	rev    bool
	ownTxn bool
	val    []byte
	err    error
}

func newIter(txn *badger.Txn, opts kv.IterOptions, ownTxn bool) *iterator {
	bo := badger.DefaultIteratorOptions
	bo.Reverse = opts.Reverse
	return &iterator{
		txn:    txn,
		it:     txn.NewIterator(bo),
		lower:  opts.Lower,
		upper:  opts.Upper,
		rev:    opts.Reverse,
		ownTxn: ownTxn,
	}
}

func (i *iterator) First() bool {
	if i.rev {
		if i.upper == nil {
			i.it.Rewind()
		} else {
			// Seek in reverse lands on the largest key <= upper; the
			// upper bound itself is exclusive.
			i.it.Seek(i.upper)
			for i.it.Valid() && bytes.Compare(i.it.Item().Key(), i.upper) >= 0 {
				i.it.Next()
			}
		}
	} else {
		if i.lower == nil {
			i.it.Rewind()
		} else {
			i.it.Seek(i.lower)
		}
	}
	return i.settle()
}

func (i *iterator) Next() bool {
	if !i.it.Valid() {
		return false
	}
	i.it.Next()
	return i.settle()
}

func (i *iterator) settle() bool {
	i.val = nil
	if !i.it.Valid() {
		return false
	}
	k := i.it.Item().Key()
	if i.rev {
		return i.lower == nil || bytes.Compare(k, i.lower) >= 0
	}
	return i.upper == nil || bytes.Compare(k, i.upper) < 0
}

func (i *iterator) Key() []byte {
	if !i.it.Valid() {
		return nil
	}
	return i.it.Item().Key()
}

func (i *iterator) Value() []byte {
	if i.val != nil {
		return i.val
	}
	if !i.it.Valid() {
		return nil
	}
	v, err := itemValue(i.it.Item())
	if err != nil {
		i.err = err
		return nil
	}
	i.val = v
	return v
}

func (i *iterator) Err() error { return i.err }

func (i *iterator) Close() error {
	i.it.Close()
	if i.ownTxn {
		i.txn.Discard()
	}
	return nil
}
