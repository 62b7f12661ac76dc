package voidring

import (
	"bytes"
	"errors"
	"iter"

	"github.com/arcstep/voidring/ikey"
	"github.com/arcstep/voidring/kv"
)

// Item is one query result: the record's primary key and its stored
// body.
type Item struct {
	Key   []byte
	Value []byte
}

// Query selects entries of one index. Equal matches a single value.
// Start and End bound a half-open value range [Start, End) with nil
// meaning open on that side; Equal cannot be combined with bounds.
// Reverse walks the selected interval from the top down without
// changing it.
type Query struct {
	Equal   any
	Start   any
	End     any
	Reverse bool
}

// Lookup iterates the records whose indexed field equals value, in
// primary key order. Null values are never indexed, so a nil value is
// rejected rather than answered with silence.
func (db *DB) Lookup(collection, fieldPath string, value any) iter.Seq2[Item, error] {
	if value == nil {
		return errSeq(errors.Join(ErrInvalidQuery, errors.New("nil lookup value")))
	}
	return db.query(db.st, true, collection, fieldPath, Query{Equal: value}, "lookup")
}

// Range iterates the records selected by q in field value order; equal
// values come out in primary key order.
func (db *DB) Range(collection, fieldPath string, q Query) iter.Seq2[Item, error] {
	return db.query(db.st, true, collection, fieldPath, q, "range")
}

// Get returns the stored record body, or ErrNotFound.
func (db *DB) Get(collection string, pk []byte) ([]byte, error) {
	return db.getRecord(db.st, true, collection, pk)
}

func (db *DB) getRecord(r kv.Reader, useCache bool, collection string, pk []byte) ([]byte, error) {
	if err := db.alive(); err != nil {
		return nil, err
	}
	if _, err := db.collection(collection); err != nil {
		return nil, err
	}
	if len(pk) == 0 {
		return nil, errors.Join(ErrMalformedKey, errors.New("empty primary key"))
	}
	return db.readRecord(r, useCache, collection, pk)
}

// IterCollection iterates a whole collection in primary key order,
// without touching any index.
func (db *DB) IterCollection(collection string) iter.Seq2[Item, error] {
	return db.iterCollection(db.st, collection)
}

func errSeq(err error) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		yield(Item{}, err)
	}
}

// query runs an index scan over r and joins each entry to its record.
// Entries whose record is gone are skipped; a concurrent delete is not
// an error for the reader that raced it.
func (db *DB) query(r kv.Reader, useCache bool, collection, fieldPath string, q Query, form string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		def, lower, upper, err := db.queryBounds(collection, fieldPath, q)
		if err != nil {
			yield(Item{}, err)
			return
		}
		queryCount.WithLabelValues(collection, fieldPath, form).Inc()
		for e, err := range db.scanEntries(r, def, lower, upper, q.Reverse) {
			if err != nil {
				yield(Item{}, err)
				return
			}
			rec, err := db.readRecord(r, useCache, collection, e.pk)
			if errors.Is(err, kv.ErrNotFound) {
				danglingCount.WithLabelValues(collection, fieldPath).Inc()
				db.log.Debug("dangling index entry",
					"collection", collection, "field", fieldPath, "key", string(e.pk))
				continue
			}
			if err != nil {
				yield(Item{}, err)
				return
			}
			if !yield(Item{Key: e.pk, Value: rec}, nil) {
				return
			}
		}
	}
}

func (db *DB) queryBounds(collection, fieldPath string, q Query) (IndexDef, []byte, []byte, error) {
	if err := db.alive(); err != nil {
		return IndexDef{}, nil, nil, err
	}
	col, err := db.collection(collection)
	if err != nil {
		return IndexDef{}, nil, nil, err
	}
	def, err := col.index(fieldPath)
	if err != nil {
		return IndexDef{}, nil, nil, err
	}
	if q.Equal != nil && (q.Start != nil || q.End != nil) {
		return IndexDef{}, nil, nil, errors.Join(ErrInvalidQuery, errors.New("Equal combined with Start or End"))
	}
	lower := def.prefix
	upper := ikey.PrefixSuccessor(def.prefix)
	if q.Equal != nil {
		v, err := ikey.Coerce(def.Kind, q.Equal)
		if err != nil {
			return IndexDef{}, nil, nil, err
		}
		// value encodings are prefix-free, so the successor of
		// prefix+value covers exactly the equal entries
		lower = ikey.AppendValue(bytes.Clone(def.prefix), v)
		upper = ikey.PrefixSuccessor(lower)
		return def, lower, upper, nil
	}
	if q.Start != nil {
		v, err := ikey.Coerce(def.Kind, q.Start)
		if err != nil {
			return IndexDef{}, nil, nil, err
		}
		lower = ikey.AppendValue(bytes.Clone(def.prefix), v)
	}
	if q.End != nil {
		v, err := ikey.Coerce(def.Kind, q.End)
		if err != nil {
			return IndexDef{}, nil, nil, err
		}
		upper = ikey.AppendValue(bytes.Clone(def.prefix), v)
	}
	return def, lower, upper, nil
}

type indexEntry struct {
	key []byte
	pk  []byte
}

// scanEntries walks raw index entries between the bounds, validating
// each key against the duplicated primary key in the entry value.
// Malformed entries are counted and skipped so one bad key cannot wedge
// every query that crosses it.
func (db *DB) scanEntries(r kv.Reader, def IndexDef, lower, upper []byte, reverse bool) iter.Seq2[indexEntry, error] {
	return func(yield func(indexEntry, error) bool) {
		it := r.NewIter(kv.IterOptions{Lower: lower, Upper: upper, Reverse: reverse})
		defer it.Close()
		for ok := it.First(); ok; ok = it.Next() {
			key := bytes.Clone(it.Key())
			_, pk, err := ikey.SplitEntry(def.prefix, def.Kind, key)
			if err != nil || len(pk) == 0 || !bytes.Equal(pk, it.Value()) {
				malformedCount.WithLabelValues(def.Collection, def.FieldPath).Inc()
				db.log.Warn("malformed index entry",
					"collection", def.Collection, "field", def.FieldPath, "err", err)
				continue
			}
			if !yield(indexEntry{key: key, pk: pk}, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(indexEntry{}, errors.Join(ErrStorageUnavailable, err))
		}
	}
}

func (db *DB) readRecord(r kv.Reader, useCache bool, collection string, pk []byte) ([]byte, error) {
	recKey := ikey.RecordKey(collection, pk)
	ck := string(recKey)
	if useCache {
		if v, ok := db.recs.Get(ck); ok {
			recordCacheCount.WithLabelValues("hit").Inc()
			return bytes.Clone(v), nil
		}
		recordCacheCount.WithLabelValues("miss").Inc()
	}
	v, err := r.Get(recKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Join(ErrStorageUnavailable, err)
	}
	if useCache {
		db.recs.Add(ck, bytes.Clone(v))
	}
	return v, nil
}

func (db *DB) iterCollection(r kv.Reader, collection string) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		if err := db.alive(); err != nil {
			yield(Item{}, err)
			return
		}
		col, err := db.collection(collection)
		if err != nil {
			yield(Item{}, err)
			return
		}
		it := r.NewIter(kv.IterOptions{Lower: col.prefix, Upper: ikey.PrefixSuccessor(col.prefix)})
		defer it.Close()
		for ok := it.First(); ok; ok = it.Next() {
			key := bytes.Clone(it.Key())
			if !yield(Item{Key: key[len(col.prefix):], Value: bytes.Clone(it.Value())}, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Item{}, errors.Join(ErrStorageUnavailable, err))
		}
	}
}
