package voidring

import (
	"bytes"
	"errors"

	"github.com/arcstep/voidring/field"
	"github.com/arcstep/voidring/ikey"
	"github.com/arcstep/voidring/kv"
)

// Warning reports a record left out of one index by a resolution or
// type problem. Warnings never fail the write; the record itself is
// still stored.
type Warning struct {
	FieldPath string
	Err       error
}

// UpsertResult reports what a write did to the collection's indexes.
type UpsertResult struct {
	// AppliedIndexes lists the field paths whose entries were touched,
	// ordered by field path.
	AppliedIndexes []string
	Warnings       []Warning
}

// Upsert writes a record and patches every active index of the
// collection in the same atomic batch. Stale entries of the previous
// version are removed; entries whose encoded value did not move are
// left alone.
func (db *DB) Upsert(collectionName string, pk, value []byte) (UpsertResult, error) {
	res := UpsertResult{}
	col, err := db.writeTarget(collectionName, pk)
	if err != nil {
		return res, err
	}
	recKey := ikey.RecordKey(collectionName, pk)
	unlock := db.lockKey(recKey)
	defer unlock()

	prev, err := db.st.Get(recKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return res, errors.Join(ErrStorageUnavailable, err)
	}

	batch := db.st.NewBatch()
	defer batch.Close()
	for _, def := range col.sortedIndexes() {
		oldEnc, oldOK := db.encodeField(col, def, prev, &res)
		newEnc, newOK := db.encodeField(col, def, value, &res)
		moved := false
		if oldOK && (!newOK || !bytes.Equal(oldEnc, newEnc)) {
			if err := batch.Delete(entryKey(def, oldEnc, pk)); err != nil {
				return res, errors.Join(ErrStorageUnavailable, err)
			}
			indexEntryCount.WithLabelValues(collectionName, def.FieldPath, "delete").Inc()
			moved = true
		}
		if newOK && (!oldOK || !bytes.Equal(oldEnc, newEnc)) {
			if err := batch.Set(entryKey(def, newEnc, pk), pk); err != nil {
				return res, errors.Join(ErrStorageUnavailable, err)
			}
			indexEntryCount.WithLabelValues(collectionName, def.FieldPath, "put").Inc()
			moved = true
		}
		if moved {
			res.AppliedIndexes = append(res.AppliedIndexes, def.FieldPath)
		}
	}
	if err := batch.Set(recKey, value); err != nil {
		return res, errors.Join(ErrStorageUnavailable, err)
	}
	if err := batch.Commit(); err != nil {
		return res, errors.Join(ErrStorageUnavailable, err)
	}
	db.recs.Remove(string(recKey))
	upsertCount.WithLabelValues(collectionName).Inc()
	db.log.Debug("upsert", "collection", collectionName, "key", string(pk),
		"indexes", len(res.AppliedIndexes), "warnings", len(res.Warnings))
	return res, nil
}

// Delete removes a record and its index entries in one atomic batch.
// Deleting an absent record is a no-op.
func (db *DB) Delete(collectionName string, pk []byte) error {
	col, err := db.writeTarget(collectionName, pk)
	if err != nil {
		return err
	}
	recKey := ikey.RecordKey(collectionName, pk)
	unlock := db.lockKey(recKey)
	defer unlock()

	prev, err := db.st.Get(recKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Join(ErrStorageUnavailable, err)
	}

	batch := db.st.NewBatch()
	defer batch.Close()
	for _, def := range col.sortedIndexes() {
		if enc, ok := db.encodeField(col, def, prev, nil); ok {
			if err := batch.Delete(entryKey(def, enc, pk)); err != nil {
				return errors.Join(ErrStorageUnavailable, err)
			}
			indexEntryCount.WithLabelValues(collectionName, def.FieldPath, "delete").Inc()
		}
	}
	if err := batch.Delete(recKey); err != nil {
		return errors.Join(ErrStorageUnavailable, err)
	}
	if err := batch.Commit(); err != nil {
		return errors.Join(ErrStorageUnavailable, err)
	}
	db.recs.Remove(string(recKey))
	deleteCount.WithLabelValues(collectionName).Inc()
	db.log.Debug("delete", "collection", collectionName, "key", string(pk))
	return nil
}

func (db *DB) writeTarget(collectionName string, pk []byte) (*collection, error) {
	if err := db.alive(); err != nil {
		return nil, err
	}
	col, err := db.collection(collectionName)
	if err != nil {
		return nil, err
	}
	if len(pk) == 0 {
		return nil, errors.Join(ErrMalformedKey, errors.New("empty primary key"))
	}
	return col, nil
}

func entryKey(def IndexDef, enc, pk []byte) []byte {
	k := make([]byte, 0, len(def.prefix)+len(enc)+len(pk))
	k = append(k, def.prefix...)
	k = append(k, enc...)
	k = append(k, pk...)
	return k
}

// encode extracts and encodes def's value from record. ok is false when
// the record has nothing to index under def: record absent, path
// missing, or value null. A non-nil error means the record has a value
// there but it cannot serve the index.
func (c *collection) encode(def IndexDef, record []byte) (enc []byte, ok bool, err error) {
	if record == nil {
		return nil, false, nil
	}
	raw, err := c.resolver.Resolve(record, def.FieldPath)
	if errors.Is(err, field.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	v, err := ikey.Coerce(def.Kind, raw)
	if err != nil {
		return nil, false, err
	}
	return ikey.AppendValue(nil, v), true, nil
}

// encodeField is encode plus the write-path warning treatment: failures
// surface on the result and the warning counters instead of failing the
// write.
func (db *DB) encodeField(col *collection, def IndexDef, record []byte, res *UpsertResult) ([]byte, bool) {
	enc, ok, err := col.encode(def, record)
	if err != nil {
		kind := "resolve"
		if errors.Is(err, ikey.ErrTypeMismatch) {
			kind = "type_mismatch"
		}
		db.warn(col, def, res, kind, err)
		return nil, false
	}
	return enc, ok
}

func (db *DB) warn(col *collection, def IndexDef, res *UpsertResult, kind string, err error) {
	warningCount.WithLabelValues(col.name, def.FieldPath, kind).Inc()
	if res != nil {
		res.Warnings = append(res.Warnings, Warning{FieldPath: def.FieldPath, Err: err})
	}
	db.log.Warn("record not indexed",
		"collection", col.name, "field", def.FieldPath, "reason", kind, "err", err)
}
