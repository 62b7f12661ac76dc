package pebblekv

import (
	"testing"

	"github.com/arcstep/voidring/kv"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T, fs vfs.FS) *Store {
	t.Helper()
	s, err := Open("db", &pebble.Options{FS: fs}, false)
	require.NoError(t, err)
	return s
}

func TestGetSetDelete(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	_, err := s.Get([]byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete([]byte("a")))
	_, err = s.Get([]byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestIterBounds(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.Set([]byte(k), []byte(k)))
	}

	collect := func(opts kv.IterOptions) (keys []string) {
		it := s.NewIter(opts)
		for ok := it.First(); ok; ok = it.Next() {
			keys = append(keys, string(it.Key()))
		}
		require.NoError(t, it.Err())
		require.NoError(t, it.Close())
		return
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(kv.IterOptions{}))
	assert.Equal(t, []string{"b", "c"}, collect(kv.IterOptions{Lower: []byte("b"), Upper: []byte("d")}))
	assert.Equal(t, []string{"c", "b"}, collect(kv.IterOptions{Lower: []byte("b"), Upper: []byte("d"), Reverse: true}))
	assert.Equal(t, []string{"e", "d", "c", "b", "a"}, collect(kv.IterOptions{Reverse: true}))
	assert.Empty(t, collect(kv.IterOptions{Lower: []byte("x"), Upper: []byte("y")}))
}

func TestBatchAtomicVisibility(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	b := s.NewBatch()
	require.NoError(t, b.Set([]byte("a"), []byte("1")))
	require.NoError(t, b.Set([]byte("b"), []byte("2")))
	require.NoError(t, b.Delete([]byte("a")))
	assert.Equal(t, 3, b.Count())

	_, err := s.Get([]byte("b"))
	assert.ErrorIs(t, err, kv.ErrNotFound, "staged writes must not leak")

	require.NoError(t, b.Commit())
	require.NoError(t, b.Close())

	_, err = s.Get([]byte("a"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
	v, err := s.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
}

func TestSnapshotIsolation(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	require.NoError(t, s.Set([]byte("a"), []byte("old")))
	snap := s.Snapshot()
	defer snap.Close()

	require.NoError(t, s.Set([]byte("a"), []byte("new")))
	require.NoError(t, s.Set([]byte("b"), []byte("2")))

	v, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), v)
	_, err = snap.Get([]byte("b"))
	assert.ErrorIs(t, err, kv.ErrNotFound)

	it := snap.NewIter(kv.IterOptions{})
	n := 0
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	require.NoError(t, it.Close())
	assert.Equal(t, 1, n)
}

func TestDeleteRange(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Set([]byte(k), []byte(k)))
	}
	require.NoError(t, s.DeleteRange([]byte("b"), []byte("d")))

	it := s.NewIter(kv.IterOptions{})
	var keys []string
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Close())
	assert.Equal(t, []string{"a", "d"}, keys)
}

func TestReopenKeepsData(t *testing.T) {
	fs := vfs.NewMem()

	s := openMem(t, fs)
	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	require.NoError(t, s.Close())

	s = openMem(t, fs)
	defer s.Close()
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)
}

func TestGetReturnsCopy(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	require.NoError(t, s.Set([]byte("a"), []byte("abc")))
	v, err := s.Get([]byte("a"))
	require.NoError(t, err)
	v[0] = 'x'

	v2, err := s.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), v2)
}
