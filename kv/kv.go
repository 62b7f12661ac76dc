// Package kv abstracts the ordered key-value engine a database runs on:
// point reads, ordered iteration, atomic batches and snapshots. The
// default engine is pebble (kv/pebblekv); badger (kv/badgerkv) is the
// pure-Go alternative.
package kv

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// IterOptions bound an iteration. Lower is inclusive and Upper is
// exclusive; a nil bound leaves that side open. Reverse walks the same
// interval from the upper end down.
type IterOptions struct {
	Lower   []byte
	Upper   []byte
	Reverse bool
}

// Iterator walks keys in byte order within the configured bounds. Key
// and Value stay valid only until the next positioning call; callers
// copy what they keep.
type Iterator interface {
	First() bool
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// Reader is the read surface shared by a live store and its snapshots.
type Reader interface {
	// Get returns a copy of the value stored under key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	NewIter(opts IterOptions) Iterator
}

// Batch stages writes that Commit applies as a single atomic unit.
// Close releases the batch; closing without committing discards it.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Count() int
	Commit() error
	Close() error
}

// Snapshot is a point-in-time read view, isolated from later writes.
type Snapshot interface {
	Reader
	Close() error
}

// Store is an ordered byte-keyed store with atomic batches and
// snapshots. Implementations are safe for concurrent use.
type Store interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
	// DeleteRange removes every key in [start, end).
	DeleteRange(start, end []byte) error
	NewBatch() Batch
	Snapshot() Snapshot
	Close() error
}
