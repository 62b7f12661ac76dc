package voidring

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/arcstep/voidring/ikey"
	"github.com/arcstep/voidring/kv"
)

// Page is one bounded slice of a query's results.
type Page struct {
	Items []Item
	// HasMore reports whether results past this page existed when the
	// page was read.
	HasMore bool
	// NextCursor resumes strictly after the last item; empty when the
	// query was exhausted.
	NextCursor string
}

// Paginate runs q like Range but returns at most pageSize records plus
// an opaque cursor that resumes strictly after them. A cursor only fits
// the query family it came from: same index, same direction; anything
// else fails with ErrCursorInvalid, as does a token that was tampered
// with. Index entries removed or added between fetches are respected,
// so consecutive pages over the live store may skip or repeat records
// relative to one frozen moment; paginate inside a View for a stable
// sequence.
func (db *DB) Paginate(collection, fieldPath string, q Query, pageSize int, cursor string) (*Page, error) {
	return db.paginate(db.st, true, collection, fieldPath, q, pageSize, cursor)
}

func (db *DB) paginate(r kv.Reader, useCache bool, collection, fieldPath string, q Query, pageSize int, cursor string) (*Page, error) {
	if pageSize <= 0 {
		return nil, errors.Join(ErrInvalidPageSize, fmt.Errorf("got %d", pageSize))
	}
	def, lower, upper, err := db.queryBounds(collection, fieldPath, q)
	if err != nil {
		return nil, err
	}
	if cursor != "" {
		c, err := ikey.ParseCursor(cursor)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(c.Prefix, def.prefix) || c.Reverse != q.Reverse {
			return nil, errors.Join(ErrCursorInvalid, errors.New("cursor from a different query"))
		}
		// clamp the resume point into the query's own bounds
		if q.Reverse {
			if bytes.Compare(c.LastKey, upper) < 0 {
				upper = c.LastKey
			}
		} else {
			if next := ikey.Next(c.LastKey); bytes.Compare(next, lower) > 0 {
				lower = next
			}
		}
	}
	queryCount.WithLabelValues(collection, fieldPath, "page").Inc()

	page := &Page{}
	var lastKey []byte
	for e, err := range db.scanEntries(r, def, lower, upper, q.Reverse) {
		if err != nil {
			return nil, err
		}
		rec, err := db.readRecord(r, useCache, collection, e.pk)
		if errors.Is(err, kv.ErrNotFound) {
			danglingCount.WithLabelValues(collection, fieldPath).Inc()
			db.log.Debug("dangling index entry",
				"collection", collection, "field", fieldPath, "key", string(e.pk))
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(page.Items) == pageSize {
			page.HasMore = true
			break
		}
		page.Items = append(page.Items, Item{Key: e.pk, Value: rec})
		lastKey = e.key
	}
	if page.HasMore {
		page.NextCursor = ikey.Cursor{Prefix: def.prefix, LastKey: lastKey, Reverse: q.Reverse}.Encode()
	}
	return page, nil
}
