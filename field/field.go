// Package field resolves dotted field paths inside serialized records.
package field

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound reports that a record has no value at the requested path.
// It is a normal condition, not a failure: such records are simply left
// out of the index built over that path.
var ErrNotFound = errors.New("field: path not found")

// Resolver extracts the value at a dotted field path from a serialized
// record. One implementation exists per record representation; all of
// them report a missing path as ErrNotFound.
type Resolver interface {
	Resolve(record []byte, path string) (any, error)
}

// ResolverFunc adapts a plain function to the Resolver interface, for
// callers that decode into their own typed structures.
type ResolverFunc func(record []byte, path string) (any, error)

func (f ResolverFunc) Resolve(record []byte, path string) (any, error) {
	return f(record, path)
}

// JSON resolves paths inside JSON documents. Path segments name object
// fields; a segment that parses as a non-negative integer also indexes
// into arrays. Numbers come back as json.Number so large integers keep
// their precision. The empty path resolves to the document itself.
type JSON struct{}

func (JSON) Resolve(record []byte, path string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(record))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("field: record is not valid JSON: %w", err)
	}
	if path == "" {
		return doc, nil
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, errors.Join(ErrNotFound, fmt.Errorf("no field %q in %q", seg, path))
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, errors.Join(ErrNotFound, fmt.Errorf("no element %q in %q", seg, path))
			}
			cur = node[idx]
		default:
			return nil, errors.Join(ErrNotFound, fmt.Errorf("%q is not traversable at %q", path, seg))
		}
	}
	return cur, nil
}
