package ejdb

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collection is a handle to one named collection of a DB. Handles hold no
// resources; concurrent use is safe as far as the engine is.
type Collection struct {
	db   *DB
	name string

	// sizeHint caches the stored RecordSizeHint once hintLoaded is set.
	sizeHint   atomic.Int64
	hintLoaded atomic.Bool
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) DB() *DB {
	return c.db
}

// EnsureExists creates the collection unless it already exists. A nil opts
// means default options. Options of an existing collection are not changed.
func (c *Collection) EnsureExists(opts *CollectionOptions) (bool, error) {
	start := time.Now()
	var o CollectionOptions
	if opts != nil {
		o = *opts
	}
	ok, err := c.db.engine.EnsureCollection(c.name, o)
	c.hintLoaded.Store(false)
	if err != nil {
		err = collErrf(c.name, opEnsure, NilObjectID, storageErr(err))
	}
	c.db.observe(opEnsure, c.name, NilObjectID, start, err)
	return ok && err == nil, err
}

// Drop removes the collection. With prune, storage is reclaimed before
// returning; otherwise the engine may reclaim it lazily (see DB.Vacuum).
// Dropping an absent collection succeeds.
func (c *Collection) Drop(prune bool) (bool, error) {
	start := time.Now()
	ok, err := c.db.engine.DropCollection(c.name, prune)
	c.hintLoaded.Store(false)
	if err != nil {
		err = collErrf(c.name, opDrop, NilObjectID, storageErr(err))
	}
	c.db.observe(opDrop, c.name, NilObjectID, start, err)
	return ok && err == nil, err
}

// Load returns the document with the given id, or nil if there is none.
func (c *Collection) Load(id ObjectID) (Doc, error) {
	start := time.Now()
	doc, err := c.load(id)
	if err != nil {
		err = collErrf(c.name, opLoad, id, err)
	}
	c.db.observe(opLoad, c.name, id, start, err)
	return doc, err
}

func (c *Collection) load(id ObjectID) (Doc, error) {
	raw, err := c.db.engine.LoadRecord(c.name, id)
	if err != nil {
		return nil, storageErr(err)
	}
	if raw == nil {
		return nil, nil
	}
	return Decode(raw)
}

// Save stores doc and returns its identifier. A document without _id gets a
// new one; a document with _id replaces any stored document with that id.
// doc itself is never modified.
func (c *Collection) Save(doc Doc) (ObjectID, error) {
	start := time.Now()
	id, err := c.save(doc)
	if err != nil {
		err = collErrf(c.name, opSave, id, err)
	}
	c.db.observe(opSave, c.name, id, start, err)
	return id, err
}

func (c *Collection) save(doc Doc) (ObjectID, error) {
	id, found, err := doc.ID()
	if err != nil {
		return NilObjectID, err
	}
	if !found {
		id = NewObjectID()
		doc = doc.WithID(id)
	}

	buf := getDocBytes(c.recordSizeHint())
	encoded, err := AppendDoc(buf, doc)
	defer releaseDocBytes(encoded)
	if err != nil {
		return id, err
	}

	saved, err := c.db.engine.SaveRecord(c.name, encoded)
	if err != nil {
		return id, storageErr(err)
	}
	if saved != id {
		return id, fmt.Errorf("%w: engine saved %s as %s", ErrStorageUnavailable, id.Hex(), saved.Hex())
	}
	return id, nil
}

// recordSizeHint returns the RecordSizeHint the collection was created with,
// or 0 if the engine cannot tell.
func (c *Collection) recordSizeHint() int {
	if !c.hintLoaded.Load() {
		insp, ok := c.db.engine.(CollectionInspector)
		if !ok {
			return 0
		}
		opts, found, err := insp.CollectionOptions(c.name)
		if err != nil || !found {
			return 0
		}
		c.sizeHint.Store(int64(opts.RecordSizeHint))
		c.hintLoaded.Store(true)
	}
	return int(c.sizeHint.Load())
}

// SaveMany saves docs in order and returns their identifiers in the same
// order.
//
// It is not atomic. On failure, the documents before the failing one stay
// saved, their identifiers are returned, and the error is a *BatchError
// carrying the index of the failing document.
func (c *Collection) SaveMany(docs []Doc) ([]ObjectID, error) {
	ids := make([]ObjectID, 0, len(docs))
	for i, doc := range docs {
		id, err := c.Save(doc)
		if err != nil {
			return ids, &BatchError{Index: i, Err: err}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Remove deletes the document with the given id and reports whether it existed.
func (c *Collection) Remove(id ObjectID) (bool, error) {
	start := time.Now()
	var removed bool
	var err error
	if r, ok := c.db.engine.(RecordRemover); ok {
		removed, err = r.RemoveRecord(c.name, id)
		err = storageErr(err)
	} else {
		err = ErrNotSupported
	}
	if err != nil {
		err = collErrf(c.name, opRemove, id, err)
	}
	c.db.observe(opRemove, c.name, id, start, err)
	return removed, err
}

// Options returns the options the collection was created with. ok is false
// if the collection does not exist.
func (c *Collection) Options() (opts CollectionOptions, ok bool, err error) {
	insp, isInsp := c.db.engine.(CollectionInspector)
	if !isInsp {
		return opts, false, ErrNotSupported
	}
	opts, ok, err = insp.CollectionOptions(c.name)
	return opts, ok, storageErr(err)
}

// Sync flushes the collection to stable storage. Engines sync whole
// databases, so this is equivalent to DB.Sync.
func (c *Collection) Sync() error {
	return c.db.Sync()
}
