package ikey

import (
	"encoding/base64"
	"encoding/binary"
	"errors"

	"github.com/cespare/xxhash"
	"github.com/learn-decentralized-systems/toytlv"
)

// Cursor is a resumption point for ordered iteration over one index
// namespace. LastKey is the full index entry key of the last item already
// returned; iteration resumes strictly after it in the stored direction.
type Cursor struct {
	Prefix  []byte
	LastKey []byte
	Reverse bool
}

const (
	cursorFwd byte = 'F'
	cursorRev byte = 'R'
)

// Encode packs the cursor into an opaque, URL-safe token. The token
// carries an integrity hash; any torn or hand-edited token is rejected
// by ParseCursor.
func (c Cursor) Encode() string {
	dir := cursorFwd
	if c.Reverse {
		dir = cursorRev
	}
	body := toytlv.Concat(
		toytlv.Record('P', c.Prefix),
		toytlv.Record('K', c.LastKey),
		toytlv.Record('D', []byte{dir}),
	)
	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(body))
	body = append(body, toytlv.Record('H', sum[:])...)
	return base64.RawURLEncoding.EncodeToString(toytlv.Record('C', body))
}

// ParseCursor decodes a token produced by Encode. Any failure, from bad
// base64 to a stale integrity hash, comes back as ErrCursorInvalid.
func ParseCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, errors.Join(ErrCursorInvalid, err)
	}
	body, rest, err := toytlv.TakeWary('C', raw)
	if err != nil || len(rest) != 0 {
		return Cursor{}, errors.Join(ErrCursorInvalid, errors.New("bad envelope"))
	}
	prefix, rest, err := toytlv.TakeWary('P', body)
	if err != nil {
		return Cursor{}, errors.Join(ErrCursorInvalid, err)
	}
	lastKey, rest, err := toytlv.TakeWary('K', rest)
	if err != nil {
		return Cursor{}, errors.Join(ErrCursorInvalid, err)
	}
	dir, rest, err := toytlv.TakeWary('D', rest)
	if err != nil || len(dir) != 1 {
		return Cursor{}, errors.Join(ErrCursorInvalid, errors.New("bad direction"))
	}
	hashed := body[:len(body)-len(rest)]
	sum, rest, err := toytlv.TakeWary('H', rest)
	if err != nil || len(sum) != 8 || len(rest) != 0 {
		return Cursor{}, errors.Join(ErrCursorInvalid, errors.New("bad integrity hash"))
	}
	if binary.BigEndian.Uint64(sum) != xxhash.Sum64(hashed) {
		return Cursor{}, errors.Join(ErrCursorInvalid, errors.New("integrity hash mismatch"))
	}
	c := Cursor{Prefix: prefix, LastKey: lastKey}
	switch dir[0] {
	case cursorFwd:
	case cursorRev:
		c.Reverse = true
	default:
		return Cursor{}, errors.Join(ErrCursorInvalid, errors.New("bad direction"))
	}
	return c, nil
}
