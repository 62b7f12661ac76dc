package ikey

import (
	"bytes"
	"errors"
	"fmt"
)

// Single-letter namespaces partition one ordered keyspace:
//
//	'D' <collection> 0x00 <primary key>                      record bytes
//	'I' <collection> 0x00 <field path> 0x00 <value> <pk>     index entry, value = pk
//	'M' <collection> 0x00 <field path>                       index definition
//
// Collection names and field paths never contain bytes below 0x20, so the
// 0x00 separators are unambiguous.
const (
	RecordSpace byte = 'D'
	IndexSpace  byte = 'I'
	MetaSpace   byte = 'M'
)

const sep byte = 0x00

// RecordPrefix returns the primary namespace prefix of a collection.
func RecordPrefix(collection string) []byte {
	p := make([]byte, 0, len(collection)+2)
	p = append(p, RecordSpace)
	p = append(p, collection...)
	return append(p, sep)
}

// RecordKey returns the primary key of a record within its collection.
func RecordKey(collection string, pk []byte) []byte {
	return append(RecordPrefix(collection), pk...)
}

// IndexPrefix returns the index namespace prefix of one (collection,
// field path) definition. Every entry of that index starts with it.
func IndexPrefix(collection, fieldPath string) []byte {
	p := make([]byte, 0, len(collection)+len(fieldPath)+3)
	p = append(p, IndexSpace)
	p = append(p, collection...)
	p = append(p, sep)
	p = append(p, fieldPath...)
	return append(p, sep)
}

// MetaKey returns the key a persisted index definition is stored under.
func MetaKey(collection, fieldPath string) []byte {
	k := make([]byte, 0, len(collection)+len(fieldPath)+2)
	k = append(k, MetaSpace)
	k = append(k, collection...)
	k = append(k, sep)
	return append(k, fieldPath...)
}

// MetaPrefix bounds the persisted definitions of one collection.
func MetaPrefix(collection string) []byte {
	p := make([]byte, 0, len(collection)+2)
	p = append(p, MetaSpace)
	p = append(p, collection...)
	return append(p, sep)
}

// SplitMetaKey recovers collection and field path from a metadata key.
func SplitMetaKey(key []byte) (collection, fieldPath string, err error) {
	if len(key) < 2 || key[0] != MetaSpace {
		return "", "", errors.Join(ErrMalformedKey, errors.New("not a metadata key"))
	}
	i := bytes.IndexByte(key[1:], sep)
	if i < 0 {
		return "", "", errors.Join(ErrMalformedKey, errors.New("metadata key without separator"))
	}
	return string(key[1 : 1+i]), string(key[2+i:]), nil
}

// Entry assembles a full index entry key: prefix, encoded value, primary
// key. Entries of one index sort by encoded value first, primary key
// second, because value encodings are prefix-free.
func Entry(prefix []byte, v Value, pk []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(pk)+10)
	key = append(key, prefix...)
	key = AppendValue(key, v)
	return append(key, pk...)
}

// SplitEntry is the exact inverse of Entry given the definition's kind.
func SplitEntry(prefix []byte, k Kind, key []byte) (v Value, pk []byte, err error) {
	if !bytes.HasPrefix(key, prefix) {
		return Value{}, nil, errors.Join(ErrMalformedKey, fmt.Errorf("key outside index namespace %q", prefix))
	}
	v, pk, err = DecodeValue(k, key[len(prefix):])
	if err != nil {
		return Value{}, nil, err
	}
	return v, pk, nil
}
