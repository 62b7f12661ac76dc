package voidring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/arcstep/voidring/ikey"
	"github.com/arcstep/voidring/kv"
	"github.com/arcstep/voidring/utils"
)

const rebuildBatchSize = 1024

// RebuildResult sums up one RebuildIndexes run.
type RebuildResult struct {
	// Entries counts index entries written across all definitions.
	Entries int
	// Skipped counts record and definition pairs left unindexed because
	// the field was absent, null, or unusable.
	Skipped int
}

// RebuildIndexes drops and repopulates every index of a collection from
// a snapshot of its records. Run it after registering an index over
// existing data, or to repair the damage CheckIndexes reports. Writes
// racing the rebuild can be missed by it; quiesce the collection or
// check afterwards.
func (db *DB) RebuildIndexes(ctx context.Context, collection string) (RebuildResult, error) {
	res := RebuildResult{}
	if err := db.alive(); err != nil {
		return res, err
	}
	col, err := db.collection(collection)
	if err != nil {
		return res, err
	}
	defs := col.sortedIndexes()
	task := uuid.Must(uuid.NewV7()).String()
	ctx = utils.WithDefaultArgs(ctx, "task", task, "collection", collection)
	rebuildCount.WithLabelValues(collection).Inc()
	db.log.InfoCtx(ctx, "index rebuild started", "indexes", len(defs))
	start := time.Now()

	snap := db.st.Snapshot()
	defer snap.Close()
	for _, def := range defs {
		entries, skipped, err := db.rebuildOne(ctx, snap, col, def)
		res.Entries += entries
		res.Skipped += skipped
		rebuildResults.WithLabelValues(collection, def.FieldPath, resultLabel(err)).Inc()
		if err != nil {
			db.log.ErrorCtx(ctx, "index rebuild failed", "field", def.FieldPath, "err", err)
			return res, err
		}
		db.log.DebugCtx(ctx, "index rebuilt",
			"field", def.FieldPath, "entries", entries, "skipped", skipped)
	}
	rebuildDuration.WithLabelValues(collection).Observe(time.Since(start).Seconds())
	db.log.InfoCtx(ctx, "index rebuild finished",
		"entries", res.Entries, "skipped", res.Skipped, "elapsed", time.Since(start).String())
	return res, nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// rebuildOne drops def's namespace and refills it from the record
// snapshot, committing in chunks so memory stays flat on any collection
// size.
func (db *DB) rebuildOne(ctx context.Context, snap kv.Snapshot, col *collection, def IndexDef) (entries, skipped int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if err := db.st.DeleteRange(def.prefix, ikey.PrefixSuccessor(def.prefix)); err != nil {
		return 0, 0, errors.Join(ErrStorageUnavailable, err)
	}
	batch := db.st.NewBatch()
	defer func() { _ = batch.Close() }()
	flush := func() error {
		if batch.Count() == 0 {
			return nil
		}
		if err := batch.Commit(); err != nil {
			return errors.Join(ErrStorageUnavailable, err)
		}
		if err := batch.Close(); err != nil {
			return err
		}
		batch = db.st.NewBatch()
		return nil
	}

	it := snap.NewIter(kv.IterOptions{Lower: col.prefix, Upper: ikey.PrefixSuccessor(col.prefix)})
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return entries, skipped, err
		}
		pk := bytes.Clone(it.Key()[len(col.prefix):])
		if len(pk) == 0 {
			skipped++
			continue
		}
		enc, ok := db.encodeField(col, def, it.Value(), nil)
		if !ok {
			skipped++
			continue
		}
		if err := batch.Set(entryKey(def, enc, pk), pk); err != nil {
			return entries, skipped, errors.Join(ErrStorageUnavailable, err)
		}
		entries++
		if batch.Count() >= rebuildBatchSize {
			if err := flush(); err != nil {
				return entries, skipped, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return entries, skipped, errors.Join(ErrStorageUnavailable, err)
	}
	return entries, skipped, flush()
}

// Violation is one inconsistency between a collection's records and one
// of its indexes.
type Violation struct {
	Kind       string
	Collection string
	FieldPath  string
	// IndexKey is the entry involved; for missing entries it holds the
	// key that should have existed.
	IndexKey []byte
	// RecordKey is the primary key involved, when it is known.
	RecordKey []byte
}

const (
	// An index entry points at a record that does not exist.
	ViolationDangling = "dangling_entry"
	// A record's field value has no matching index entry.
	ViolationMissing = "missing_entry"
	// An index entry disagrees with the record's current field value.
	ViolationDrift = "value_drift"
	// An index entry's key does not parse or its value does not match.
	ViolationMalformed = "malformed_entry"
)

// VerifyIndexes cross-checks every index of a collection against its
// records on one snapshot and yields each inconsistency found. It walks
// index entries first, then records, so a single damaged pair surfaces
// once.
func (db *DB) VerifyIndexes(ctx context.Context, collection string) iter.Seq2[Violation, error] {
	return func(yield func(Violation, error) bool) {
		if err := db.alive(); err != nil {
			yield(Violation{}, err)
			return
		}
		col, err := db.collection(collection)
		if err != nil {
			yield(Violation{}, err)
			return
		}
		snap := db.st.Snapshot()
		defer snap.Close()
		for _, def := range col.sortedIndexes() {
			if !db.verifyEntries(ctx, snap, col, def, yield) {
				return
			}
			if !db.verifyRecords(ctx, snap, col, def, yield) {
				return
			}
		}
	}
}

func (db *DB) verifyEntries(ctx context.Context, snap kv.Snapshot, col *collection, def IndexDef, yield func(Violation, error) bool) bool {
	report := func(kind string, entry, pk []byte) bool {
		verifyViolations.WithLabelValues(col.name, kind).Inc()
		return yield(Violation{
			Kind:       kind,
			Collection: col.name,
			FieldPath:  def.FieldPath,
			IndexKey:   entry,
			RecordKey:  pk,
		}, nil)
	}
	it := snap.NewIter(kv.IterOptions{Lower: def.prefix, Upper: ikey.PrefixSuccessor(def.prefix)})
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			yield(Violation{}, err)
			return false
		}
		key := bytes.Clone(it.Key())
		_, pk, err := ikey.SplitEntry(def.prefix, def.Kind, key)
		if err != nil || len(pk) == 0 || !bytes.Equal(pk, it.Value()) {
			if !report(ViolationMalformed, key, nil) {
				return false
			}
			continue
		}
		rec, err := snap.Get(ikey.RecordKey(col.name, pk))
		if errors.Is(err, kv.ErrNotFound) {
			if !report(ViolationDangling, key, pk) {
				return false
			}
			continue
		}
		if err != nil {
			yield(Violation{}, errors.Join(ErrStorageUnavailable, err))
			return false
		}
		enc, indexed, err := col.encode(def, rec)
		if err != nil || !indexed || !bytes.Equal(entryKey(def, enc, pk), key) {
			if !report(ViolationDrift, key, pk) {
				return false
			}
		}
	}
	if err := it.Err(); err != nil {
		yield(Violation{}, errors.Join(ErrStorageUnavailable, err))
		return false
	}
	return true
}

func (db *DB) verifyRecords(ctx context.Context, snap kv.Snapshot, col *collection, def IndexDef, yield func(Violation, error) bool) bool {
	it := snap.NewIter(kv.IterOptions{Lower: col.prefix, Upper: ikey.PrefixSuccessor(col.prefix)})
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			yield(Violation{}, err)
			return false
		}
		pk := bytes.Clone(it.Key()[len(col.prefix):])
		enc, indexed, err := col.encode(def, it.Value())
		if err != nil || !indexed {
			continue
		}
		expect := entryKey(def, enc, pk)
		_, err = snap.Get(expect)
		if errors.Is(err, kv.ErrNotFound) {
			verifyViolations.WithLabelValues(col.name, ViolationMissing).Inc()
			if !yield(Violation{
				Kind:       ViolationMissing,
				Collection: col.name,
				FieldPath:  def.FieldPath,
				IndexKey:   expect,
				RecordKey:  pk,
			}, nil) {
				return false
			}
			continue
		}
		if err != nil {
			yield(Violation{}, errors.Join(ErrStorageUnavailable, err))
			return false
		}
	}
	if err := it.Err(); err != nil {
		yield(Violation{}, errors.Join(ErrStorageUnavailable, err))
		return false
	}
	return true
}

// CheckIndexes folds VerifyIndexes into a single answer: nil when the
// collection is clean, ErrConsistencyViolation with a count otherwise.
// Each violation is logged on the way.
func (db *DB) CheckIndexes(ctx context.Context, collection string) error {
	n := 0
	for v, err := range db.VerifyIndexes(ctx, collection) {
		if err != nil {
			return err
		}
		n++
		db.log.WarnCtx(ctx, "index violation",
			"collection", v.Collection, "field", v.FieldPath, "kind", v.Kind, "key", string(v.RecordKey))
	}
	if n > 0 {
		return errors.Join(ErrConsistencyViolation, fmt.Errorf("%d violations", n))
	}
	return nil
}
