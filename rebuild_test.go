package voidring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcstep/voidring/ikey"
)

func TestRegisterIndexDoesNotBackfill(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.RegisterCollection("users", CollectionDef{}))
	seedAges(t, db, map[string]int64{"u1": 25, "u2": 30})

	require.NoError(t, db.RegisterIndex("users", "age", ikey.IntKind))
	assert.Empty(t, lookupKeys(t, db, "users", "age", int64(25)),
		"old records stay invisible until a rebuild")

	res, err := db.RebuildIndexes(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Entries)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, []string{"u1"}, lookupKeys(t, db, "users", "age", int64(25)))
	assert.Equal(t, []string{"u2"}, lookupKeys(t, db, "users", "age", int64(30)))
}

func TestRebuildCountsSkips(t *testing.T) {
	db := usersDB(t)
	_, err := db.Upsert("users", []byte("u1"), userJSON("ada", 36, "tartu"))
	require.NoError(t, err)
	_, err = db.Upsert("users", []byte("u2"), []byte(`{"name":"bob","city":"riga"}`))
	require.NoError(t, err)
	_, err = db.Upsert("users", []byte("u3"), []byte(`{"name":"eve","age":"old","city":"oslo"}`))
	require.NoError(t, err)

	res, err := db.RebuildIndexes(context.Background(), "users")
	require.NoError(t, err)
	// age: u2 has no age, u3 has a bad one; city: all three index
	assert.Equal(t, 4, res.Entries)
	assert.Equal(t, 2, res.Skipped)
}

func TestRebuildRepairsCorruption(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25, "u2": 30, "u3": 35})

	// wreck the index namespace by hand: drop one entry, plant a fake
	prefix := ikey.IndexPrefix("users", "age")
	require.NoError(t, db.st.DeleteRange(prefix, ikey.PrefixSuccessor(prefix)))
	fake := ikey.Entry(prefix, ikey.Int(99), []byte("phantom"))
	require.NoError(t, db.st.Set(fake, []byte("phantom")))

	require.Error(t, db.CheckIndexes(context.Background(), "users"))

	res, err := db.RebuildIndexes(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, 6, res.Entries)

	require.NoError(t, db.CheckIndexes(context.Background(), "users"))
	assert.Empty(t, lookupKeys(t, db, "users", "age", int64(99)))
	assert.Equal(t, []string{"u2"}, lookupKeys(t, db, "users", "age", int64(30)))
}

func TestRebuildHonorsCancel(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := db.RebuildIndexes(ctx, "users")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRebuildUnknownCollection(t *testing.T) {
	db := testDB(t)
	_, err := db.RebuildIndexes(context.Background(), "ghosts")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func violationsByKind(t *testing.T, db *DB, collection string) map[string]int {
	t.Helper()
	kinds := map[string]int{}
	for v, err := range db.VerifyIndexes(context.Background(), collection) {
		require.NoError(t, err)
		kinds[v.Kind]++
	}
	return kinds
}

func TestVerifyCleanCollection(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25, "u2": 30})

	assert.Empty(t, violationsByKind(t, db, "users"))
	require.NoError(t, db.CheckIndexes(context.Background(), "users"))
}

func TestVerifyFindsDangling(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25})

	require.NoError(t, db.st.Delete(ikey.RecordKey("users", []byte("u1"))))

	kinds := violationsByKind(t, db, "users")
	assert.Equal(t, 2, kinds[ViolationDangling], "one per index")
	err := db.CheckIndexes(context.Background(), "users")
	assert.ErrorIs(t, err, ErrConsistencyViolation)
}

func TestVerifyFindsMissing(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25})

	prefix := ikey.IndexPrefix("users", "age")
	require.NoError(t, db.st.DeleteRange(prefix, ikey.PrefixSuccessor(prefix)))

	kinds := violationsByKind(t, db, "users")
	assert.Equal(t, map[string]int{ViolationMissing: 1}, kinds)
}

func TestVerifyFindsDrift(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25})

	// rewrite the record behind the index's back
	recKey := ikey.RecordKey("users", []byte("u1"))
	require.NoError(t, db.st.Set(recKey, userJSON("u1", 99, "x")))

	kinds := violationsByKind(t, db, "users")
	// the stale age entry drifted and the fresh value has no entry
	assert.Equal(t, 1, kinds[ViolationDrift])
	assert.Equal(t, 1, kinds[ViolationMissing])
}

func TestVerifyFindsMalformed(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25})

	junk := append(ikey.IndexPrefix("users", "age"), 0xAA)
	require.NoError(t, db.st.Set(junk, []byte("u1")))

	kinds := violationsByKind(t, db, "users")
	assert.Equal(t, map[string]int{ViolationMalformed: 1}, kinds)
}

func TestVerifyAfterRepairIsClean(t *testing.T) {
	db := usersDB(t)
	seedAges(t, db, map[string]int64{"u1": 25, "u2": 30})
	require.NoError(t, db.st.Delete(ikey.RecordKey("users", []byte("u1"))))

	require.Error(t, db.CheckIndexes(context.Background(), "users"))
	_, err := db.RebuildIndexes(context.Background(), "users")
	require.NoError(t, err)
	require.NoError(t, db.CheckIndexes(context.Background(), "users"))
}
