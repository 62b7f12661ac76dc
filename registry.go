package voidring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/learn-decentralized-systems/toytlv"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arcstep/voidring/field"
	"github.com/arcstep/voidring/ikey"
	"github.com/arcstep/voidring/kv"
)

// CollectionDef describes a collection. Format names the record
// representation and selects the resolver from Options.Resolvers; empty
// means FormatJSON.
type CollectionDef struct {
	Format string
}

func (d CollectionDef) normalize() CollectionDef {
	if d.Format == "" {
		d.Format = FormatJSON
	}
	return d
}

// IndexDef describes one active index: the field path it extracts from
// each record and the kind its values are coerced to.
type IndexDef struct {
	Collection string
	FieldPath  string
	Kind       ikey.Kind

	prefix []byte
}

type collection struct {
	name     string
	def      CollectionDef
	resolver field.Resolver
	prefix   []byte
	indexes  *xsync.MapOf[string, IndexDef]
}

func (c *collection) index(fieldPath string) (IndexDef, error) {
	def, ok := c.indexes.Load(fieldPath)
	if !ok {
		return IndexDef{}, errors.Join(ErrUnknownIndex, fmt.Errorf("%s.%s", c.name, fieldPath))
	}
	return def, nil
}

func (c *collection) sortedIndexes() []IndexDef {
	var defs []IndexDef
	c.indexes.Range(func(_ string, def IndexDef) bool {
		defs = append(defs, def)
		return true
	})
	sort.Slice(defs, func(i, j int) bool { return defs[i].FieldPath < defs[j].FieldPath })
	return defs
}

func checkName(name string) error {
	if name == "" {
		return errors.Join(ErrInvalidName, errors.New("empty name"))
	}
	return checkPath(name)
}

// checkPath rejects control bytes so the 0x00 separators inside keys
// stay unambiguous.
func checkPath(path string) error {
	for i := 0; i < len(path); i++ {
		if path[i] < 0x20 {
			return errors.Join(ErrInvalidName, fmt.Errorf("control byte at offset %d", i))
		}
	}
	return nil
}

// RegisterCollection makes a collection usable and activates any index
// definitions persisted for it. Registering the same name again with an
// equal descriptor is a no-op; a different descriptor fails with
// ErrAlreadyRegistered.
func (db *DB) RegisterCollection(name string, def CollectionDef) error {
	if err := db.alive(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}
	def = def.normalize()
	resolver, ok := db.opts.Resolvers[def.Format]
	if !ok {
		return errors.Join(ErrUnknownFormat, fmt.Errorf("%q", def.Format))
	}
	defs, err := db.storedIndexes(name)
	if err != nil {
		return err
	}
	fresh := &collection{
		name:     name,
		def:      def,
		resolver: resolver,
		prefix:   ikey.RecordPrefix(name),
		indexes:  xsync.NewMapOf[string, IndexDef](),
	}
	for _, d := range defs {
		fresh.indexes.Store(d.FieldPath, d)
	}
	cur, loaded := db.cols.LoadOrStore(name, fresh)
	if loaded {
		if cur.def != def {
			return errors.Join(ErrAlreadyRegistered, fmt.Errorf("%q is registered with format %q", name, cur.def.Format))
		}
		return nil
	}
	db.log.Debug("collection registered", "collection", name, "format", def.Format, "indexes", len(defs))
	return nil
}

// RegisterIndex persists and activates an index on collection.fieldPath.
// Existing records are not indexed until RebuildIndexes runs; new writes
// maintain the index from this point on. Re-registering with the same
// kind is a no-op, with a different kind it fails with ErrIndexConflict.
func (db *DB) RegisterIndex(collectionName, fieldPath string, kind ikey.Kind) error {
	if err := db.alive(); err != nil {
		return err
	}
	col, err := db.collection(collectionName)
	if err != nil {
		return err
	}
	if err := checkPath(fieldPath); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("voidring: unsupported index kind %q", byte(kind))
	}
	if cur, ok := col.indexes.Load(fieldPath); ok {
		if cur.Kind != kind {
			return errors.Join(ErrIndexConflict,
				fmt.Errorf("%s.%s is indexed as %s", collectionName, fieldPath, cur.Kind))
		}
		return nil
	}
	def := IndexDef{
		Collection: collectionName,
		FieldPath:  fieldPath,
		Kind:       kind,
		prefix:     ikey.IndexPrefix(collectionName, fieldPath),
	}
	if err := db.st.Set(ikey.MetaKey(collectionName, fieldPath), metaValue(kind)); err != nil {
		return errors.Join(ErrStorageUnavailable, err)
	}
	col.indexes.Store(fieldPath, def)
	db.log.Info("index registered", "collection", collectionName, "field", fieldPath, "kind", kind.String())
	return nil
}

// StoredIndexes lists the index definitions persisted for a collection,
// registered or not, ordered by field path.
func (db *DB) StoredIndexes(collection string) ([]IndexDef, error) {
	if err := db.alive(); err != nil {
		return nil, err
	}
	if err := checkName(collection); err != nil {
		return nil, err
	}
	return db.storedIndexes(collection)
}

// Collection reports the registered descriptor for name.
func (db *DB) Collection(name string) (CollectionDef, bool) {
	col, ok := db.cols.Load(name)
	if !ok {
		return CollectionDef{}, false
	}
	return col.def, true
}

// Index reports the active index on collection.fieldPath.
func (db *DB) Index(collection, fieldPath string) (IndexDef, bool) {
	col, ok := db.cols.Load(collection)
	if !ok {
		return IndexDef{}, false
	}
	return col.indexes.Load(fieldPath)
}

// Indexes lists the active indexes on a collection ordered by field path.
func (db *DB) Indexes(collection string) []IndexDef {
	col, ok := db.cols.Load(collection)
	if !ok {
		return nil
	}
	return col.sortedIndexes()
}

func (db *DB) collection(name string) (*collection, error) {
	col, ok := db.cols.Load(name)
	if !ok {
		return nil, errors.Join(ErrUnknownCollection, fmt.Errorf("%q", name))
	}
	return col, nil
}

func (db *DB) storedIndexes(collection string) ([]IndexDef, error) {
	lower := ikey.MetaPrefix(collection)
	it := db.st.NewIter(kv.IterOptions{Lower: lower, Upper: ikey.PrefixSuccessor(lower)})
	defer it.Close()
	var defs []IndexDef
	for ok := it.First(); ok; ok = it.Next() {
		_, fieldPath, err := ikey.SplitMetaKey(it.Key())
		if err != nil {
			return nil, err
		}
		kind, err := parseMetaValue(it.Value())
		if err != nil {
			return nil, fmt.Errorf("index definition for %s.%s: %w", collection, fieldPath, err)
		}
		defs = append(defs, IndexDef{
			Collection: collection,
			FieldPath:  fieldPath,
			Kind:       kind,
			prefix:     ikey.IndexPrefix(collection, fieldPath),
		})
	}
	if err := it.Err(); err != nil {
		return nil, errors.Join(ErrStorageUnavailable, err)
	}
	return defs, nil
}

// metaValue encodes the persisted form of an index definition, a single
// 'K' record holding the kind byte. TLV leaves room to grow the
// definition without a format break.
func metaValue(k ikey.Kind) []byte {
	return toytlv.Record('K', []byte{byte(k)})
}

func parseMetaValue(data []byte) (ikey.Kind, error) {
	body, rest, err := toytlv.TakeWary('K', data)
	if err != nil {
		return 0, errors.Join(ErrMalformedKey, err)
	}
	if len(body) != 1 || len(rest) != 0 {
		return 0, errors.Join(ErrMalformedKey, errors.New("bad definition layout"))
	}
	k := ikey.Kind(body[0])
	if !k.Valid() {
		return 0, errors.Join(ErrMalformedKey, fmt.Errorf("unknown kind %q", body[0]))
	}
	return k, nil
}
