package voidring

import (
	"errors"
	"iter"

	"github.com/arcstep/voidring/kv"
)

// View is a point-in-time read surface over the store. Every query,
// page and point read on a View observes the snapshot taken by View();
// later writes stay invisible. Views bypass the record cache, which
// tracks the live state. Close releases the snapshot; keep Views short,
// engines pin resources under them.
type View struct {
	db   *DB
	snap kv.Snapshot
}

// View pins the current state of the store for reading.
func (db *DB) View() *View {
	return &View{db: db, snap: db.st.Snapshot()}
}

func (v *View) Close() error { return v.snap.Close() }

// Get returns the record body as of the snapshot, or ErrNotFound.
func (v *View) Get(collection string, pk []byte) ([]byte, error) {
	return v.db.getRecord(v.snap, false, collection, pk)
}

// Lookup iterates the snapshot's records whose indexed field equals
// value, in primary key order.
func (v *View) Lookup(collection, fieldPath string, value any) iter.Seq2[Item, error] {
	if value == nil {
		return errSeq(errors.Join(ErrInvalidQuery, errors.New("nil lookup value")))
	}
	return v.db.query(v.snap, false, collection, fieldPath, Query{Equal: value}, "lookup")
}

// Range iterates the snapshot's records selected by q in field value
// order.
func (v *View) Range(collection, fieldPath string, q Query) iter.Seq2[Item, error] {
	return v.db.query(v.snap, false, collection, fieldPath, q, "range")
}

// Paginate pages through the snapshot. Cursors exchanged with a single
// View walk one frozen sequence with no skips or repeats; the tokens
// stay valid across Views of the same index.
func (v *View) Paginate(collection, fieldPath string, q Query, pageSize int, cursor string) (*Page, error) {
	return v.db.paginate(v.snap, false, collection, fieldPath, q, pageSize, cursor)
}

// IterCollection iterates the snapshot's records in primary key order.
func (v *View) IterCollection(collection string) iter.Seq2[Item, error] {
	return v.db.iterCollection(v.snap, collection)
}
