package voidring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcstep/voidring/ikey"
)

func rangeKeys(t *testing.T, db *DB, collection, fieldPath string, q Query) (keys []string) {
	t.Helper()
	for item, err := range db.Range(collection, fieldPath, q) {
		require.NoError(t, err)
		keys = append(keys, string(item.Key))
	}
	return
}

func seedAges(t *testing.T, db *DB, ages map[string]int64) {
	t.Helper()
	for pk, age := range ages {
		_, err := db.Upsert("users", []byte(pk), userJSON(pk, age, "x"))
		require.NoError(t, err)
	}
}

func TestLookupEqualValues(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25, "u2": 30, "u3": 25, "u4": 31})

	assert.Equal(t, []string{"u1", "u3"}, lookupKeys(t, db, "users", "age", int64(25)))
	assert.Equal(t, []string{"u2"}, lookupKeys(t, db, "users", "age", int64(30)))
	assert.Empty(t, lookupKeys(t, db, "users", "age", int64(99)))
}

func TestLookupDoesNotBleedIntoNeighbors(t *testing.T) {
	db := usersDB(t)
	// 25 and 250 share decimal digits but not encodings
	seedAges(t, db, map[string]int64{"a": 25, "b": 250, "c": 2})

	assert.Equal(t, []string{"a"}, lookupKeys(t, db, "users", "age", int64(25)))
	assert.Equal(t, []string{"b"}, lookupKeys(t, db, "users", "age", int64(250)))
}

func TestRangeHalfOpen(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 20, "u2": 25, "u3": 30, "u4": 35, "u5": 40})

	// [25, 35) keeps the start, drops the end
	assert.Equal(t, []string{"u2", "u3"},
		rangeKeys(t, db, "users", "age", Query{Start: int64(25), End: int64(35)}))
	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"},
		rangeKeys(t, db, "users", "age", Query{}))
	assert.Equal(t, []string{"u3", "u4", "u5"},
		rangeKeys(t, db, "users", "age", Query{Start: int64(30)}))
	assert.Equal(t, []string{"u1", "u2"},
		rangeKeys(t, db, "users", "age", Query{End: int64(30)}))
	assert.Empty(t, rangeKeys(t, db, "users", "age", Query{Start: int64(50), End: int64(60)}))
}

func TestRangeReverse(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 20, "u2": 25, "u3": 30, "u4": 35})

	// Reverse flips traversal, not the interval
	assert.Equal(t, []string{"u3", "u2"},
		rangeKeys(t, db, "users", "age", Query{Start: int64(25), End: int64(35), Reverse: true}))
	assert.Equal(t, []string{"u4", "u3", "u2", "u1"},
		rangeKeys(t, db, "users", "age", Query{Reverse: true}))
}

func TestRangeNegativeValues(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RegisterCollection("readings", CollectionDef{}))
	require.NoError(t, db.RegisterIndex("readings", "celsius", ikey.IntKind))
	for pk, c := range map[string]int64{"r1": -40, "r2": -5, "r3": 0, "r4": 17} {
		_, err := db.Upsert("readings", []byte(pk), []byte(fmt.Sprintf(`{"celsius":%d}`, c)))
		require.NoError(t, err)
	}

	var keys []string
	for item, err := range db.Range("readings", "celsius", Query{}) {
		require.NoError(t, err)
		keys = append(keys, string(item.Key))
	}
	assert.Equal(t, []string{"r1", "r2", "r3", "r4"}, keys)
}

func TestRangeTiesOrderByPrimaryKey(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"user:9": 25, "user:10": 25, "user:1": 30})

	// byte order, not numeric order of the suffix
	assert.Equal(t, []string{"user:10", "user:9", "user:1"},
		rangeKeys(t, db, "users", "age", Query{}))
}

func TestFloatAndBoolIndexes(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RegisterCollection("games", CollectionDef{}))
	require.NoError(t, db.RegisterIndex("games", "score", ikey.FloatKind))
	require.NoError(t, db.RegisterIndex("games", "won", ikey.BoolKind))
	for pk, row := range map[string]string{
		"g1": `{"score":-1.5,"won":false}`,
		"g2": `{"score":0.25,"won":true}`,
		"g3": `{"score":12,"won":true}`,
	} {
		_, err := db.Upsert("games", []byte(pk), []byte(row))
		require.NoError(t, err)
	}

	var keys []string
	for item, err := range db.Range("games", "score", Query{}) {
		require.NoError(t, err)
		keys = append(keys, string(item.Key))
	}
	assert.Equal(t, []string{"g1", "g2", "g3"}, keys)

	keys = nil
	for item, err := range db.Lookup("games", "won", true) {
		require.NoError(t, err)
		keys = append(keys, string(item.Key))
	}
	assert.Equal(t, []string{"g2", "g3"}, keys)
}

func TestQueryErrors(t *testing.T) {
	db := usersDB(t)

	for _, err := range db.Lookup("ghosts", "age", int64(1)) {
		assert.ErrorIs(t, err, ErrUnknownCollection)
	}
	for _, err := range db.Lookup("users", "shoe_size", int64(1)) {
		assert.ErrorIs(t, err, ErrUnknownIndex)
	}
	// a queried value of the wrong type is a hard error, unlike writes
	for _, err := range db.Lookup("users", "age", "25") {
		assert.ErrorIs(t, err, ErrTypeMismatch)
	}
	for _, err := range db.Lookup("users", "age", nil) {
		assert.ErrorIs(t, err, ErrInvalidQuery)
	}
	for _, err := range db.Range("users", "age", Query{Equal: int64(1), Start: int64(0)}) {
		assert.ErrorIs(t, err, ErrInvalidQuery)
	}
}

func TestQuerySkipsDanglingEntries(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25, "u2": 25, "u3": 25})

	// lose a record behind the index's back
	require.NoError(t, db.st.Delete(ikey.RecordKey("users", []byte("u2"))))

	assert.Equal(t, []string{"u1", "u3"}, lookupKeys(t, db, "users", "age", int64(25)))
}

func TestQuerySkipsMalformedEntries(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25})

	// an int entry whose encoded value is truncated
	junk := append(ikey.IndexPrefix("users", "age"), 0x01, 0x02, 0x03)
	require.NoError(t, db.st.Set(junk, []byte("zz")))

	assert.Equal(t, []string{"u1"}, lookupKeys(t, db, "users", "age", int64(25)))
	assert.Equal(t, []string{"u1"}, rangeKeys(t, db, "users", "age", Query{}))
}

func TestGet(t *testing.T) {
	db := usersDB(t)
	body := userJSON("ada", 36, "tartu")
	_, err := db.Upsert("users", []byte("u1"), body)
	require.NoError(t, err)

	val, err := db.Get("users", []byte("u1"))
	require.NoError(t, err)
	assert.Equal(t, body, val)

	// cached reads hand out copies
	val[0] = 'X'
	val, err = db.Get("users", []byte("u1"))
	require.NoError(t, err)
	assert.Equal(t, body, val)

	_, err = db.Get("users", []byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Get("ghosts", []byte("u1"))
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestIterCollection(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"b": 1, "a": 2, "c": 3})

	var keys []string
	for item, err := range db.IterCollection("users") {
		require.NoError(t, err)
		keys = append(keys, string(item.Key))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	for _, err := range db.IterCollection("ghosts") {
		assert.ErrorIs(t, err, ErrUnknownCollection)
	}
}

func TestClosedDB(t *testing.T) {
	db := usersDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "closing twice is fine")

	_, err := db.Upsert("users", []byte("u1"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, db.Delete("users", []byte("u1")), ErrClosed)
	_, err = db.Get("users", []byte("u1"))
	assert.ErrorIs(t, err, ErrClosed)
	for _, err := range db.Lookup("users", "age", int64(1)) {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.ErrorIs(t, db.RegisterCollection("more", CollectionDef{}), ErrClosed)
}
