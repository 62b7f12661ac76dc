package ikey

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	prefix := IndexPrefix("users", "age")
	last := Entry(prefix, Int(22), []byte("user:17"))
	for _, reverse := range []bool{false, true} {
		c := Cursor{Prefix: prefix, LastKey: last, Reverse: reverse}
		token := c.Encode()
		got, err := ParseCursor(token)
		require.NoError(t, err)
		assert.Equal(t, c.Prefix, got.Prefix)
		assert.Equal(t, c.LastKey, got.LastKey)
		assert.Equal(t, reverse, got.Reverse)
	}
}

func TestCursorRejectsGarbage(t *testing.T) {
	_, err := ParseCursor("not base64 at all!!!")
	assert.ErrorIs(t, err, ErrCursorInvalid)

	_, err = ParseCursor(base64.RawURLEncoding.EncodeToString([]byte("plain bytes")))
	assert.ErrorIs(t, err, ErrCursorInvalid)

	_, err = ParseCursor("")
	assert.ErrorIs(t, err, ErrCursorInvalid)
}

func TestCursorRejectsTampering(t *testing.T) {
	prefix := IndexPrefix("users", "age")
	c := Cursor{Prefix: prefix, LastKey: Entry(prefix, Int(22), []byte("user:3"))}
	raw, err := base64.RawURLEncoding.DecodeString(c.Encode())
	require.NoError(t, err)

	// flipping any byte must break either the framing or the hash
	for i := 0; i < len(raw)-9; i++ {
		bent := make([]byte, len(raw))
		copy(bent, raw)
		bent[i] ^= 0x40
		_, err := ParseCursor(base64.RawURLEncoding.EncodeToString(bent))
		assert.ErrorIs(t, err, ErrCursorInvalid, "flipped byte %d went unnoticed", i)
	}

	truncated := raw[:len(raw)-4]
	_, err = ParseCursor(base64.RawURLEncoding.EncodeToString(truncated))
	assert.ErrorIs(t, err, ErrCursorInvalid)
}
