// Package voidring is an embedded secondary-index layer over an ordered
// key-value store. Records live in collections keyed by an opaque
// primary key; registered indexes map typed field values, extracted
// from the record body, onto key ranges whose byte order matches the
// value order. Queries are plain range scans joined back to the records
// they point at.
package voidring

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/pebble"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arcstep/voidring/field"
	"github.com/arcstep/voidring/kv"
	"github.com/arcstep/voidring/kv/pebblekv"
	"github.com/arcstep/voidring/utils"
)

// FormatJSON is the record format every database understands out of the
// box.
const FormatJSON = "json"

const lockStripes = 256

type Options struct {
	// Store overrides the storage engine; when nil Open starts pebble in
	// the directory it is given.
	Store kv.Store
	// Pebble tunes the default engine. Ignored when Store is set.
	Pebble *pebble.Options
	// WriteSync makes every commit wait for stable storage.
	WriteSync bool

	Logger utils.Logger
	// RecordCacheSize caps the LRU cache of record bodies used when
	// joining index entries. Zero picks a default.
	RecordCacheSize int
	// MetricsRegisterer, when set, receives the package collectors and
	// the engine collector.
	MetricsRegisterer prometheus.Registerer
	// Resolvers maps record format names to field resolvers. FormatJSON
	// is always available.
	Resolvers map[string]field.Resolver
}

func (o *Options) SetDefaults() {
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelError)
	}
	if o.RecordCacheSize <= 0 {
		o.RecordCacheSize = 16384
	}
	if o.Resolvers == nil {
		o.Resolvers = make(map[string]field.Resolver)
	}
	if _, ok := o.Resolvers[FormatJSON]; !ok {
		o.Resolvers[FormatJSON] = field.JSON{}
	}
}

type DB struct {
	log    utils.Logger
	opts   Options
	st     kv.Store
	cols   *xsync.MapOf[string, *collection]
	recs   *lru.Cache[string, []byte]
	locks  [lockStripes]sync.Mutex
	closed atomic.Bool
}

func Open(dirname string, opts Options) (*DB, error) {
	opts.SetDefaults()
	st := opts.Store
	ownStore := false
	if st == nil {
		var err error
		st, err = pebblekv.Open(dirname, opts.Pebble, opts.WriteSync)
		if err != nil {
			return nil, errors.Join(ErrStorageUnavailable, err)
		}
		ownStore = true
	}
	fail := func(err error) (*DB, error) {
		if ownStore {
			_ = st.Close()
		}
		return nil, err
	}
	recs, err := lru.New[string, []byte](opts.RecordCacheSize)
	if err != nil {
		return fail(err)
	}
	db := &DB{
		log:  opts.Logger,
		opts: opts,
		st:   st,
		cols: xsync.NewMapOf[string, *collection](),
		recs: recs,
	}
	if opts.MetricsRegisterer != nil {
		if err := registerMetrics(opts.MetricsRegisterer, Collectors()...); err != nil {
			return fail(err)
		}
		if ps, ok := st.(*pebblekv.Store); ok {
			if err := registerMetrics(opts.MetricsRegisterer, pebblekv.NewCollector(ps.DB())); err != nil {
				return fail(err)
			}
		}
	}
	db.log.Info("database opened", "dir", dirname)
	return db, nil
}

// Close closes the underlying store, including one passed in through
// Options.Store. Safe to call twice.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := db.st.Close()
	db.log.Info("database closed")
	return err
}

func (db *DB) alive() error {
	if db.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (db *DB) lockKey(key []byte) func() {
	m := &db.locks[xxhash.Sum64(key)&(lockStripes-1)]
	m.Lock()
	return m.Unlock
}
