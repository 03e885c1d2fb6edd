// Package badgerengine implements ejdb.Engine on top of Badger.
//
// Key layout:
//
//	'c' name           -> ejdb.CollectionMeta (msgpack)
//	'g'                -> last allocated generation, big-endian uint64
//	't' gen            -> ejdb.Tombstone (msgpack)
//	'd' gen id         -> packed record
//
// A collection's records live under the 'd' prefix of its generation, so
// dropping it is a single DropPrefix.
package badgerengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andreyvit/ejdb"
	"github.com/dgraph-io/badger/v4"
)

const (
	prefixColl      = 'c'
	prefixGen       = 'g'
	prefixTombstone = 't'
	prefixData      = 'd'
)

// gcDiscardRatio is passed to RunValueLogGC after pruning.
const gcDiscardRatio = 0.5

type Options struct {
	// InMemory keeps everything in RAM; Dir is ignored.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// ReadOnly opens an existing database without write access. Writes
	// fail with ejdb.ErrReadOnly.
	ReadOnly bool
}

// Engine is a Badger-backed ejdb.Engine. Writers are serialized by mu so
// that generation allocation never conflicts.
type Engine struct {
	db       *badger.DB
	mu       sync.RWMutex
	readOnly bool
}

// dropPrefix is replaced in tests to simulate reclaim failures.
var dropPrefix = (*badger.DB).DropPrefix

var _ interface {
	ejdb.Engine
	ejdb.RecordRemover
	ejdb.Syncer
	ejdb.Vacuumer
	ejdb.CollectionLister
	ejdb.CollectionInspector
} = (*Engine)(nil)

func Open(dir string, opt Options) (*Engine, error) {
	opts := badger.DefaultOptions(dir)
	if opt.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = opt.SyncWrites
	if opt.ReadOnly {
		if opt.InMemory {
			return nil, errors.New("open badger: read-only mode needs a directory")
		}
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Engine{db: db, readOnly: opt.ReadOnly}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db.IsClosed() {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) checkOpen() error {
	if e.db.IsClosed() {
		return ejdb.ErrClosed
	}
	return nil
}

func (e *Engine) checkWritable() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if e.readOnly {
		return ejdb.ErrReadOnly
	}
	return nil
}

func collKey(name string) []byte {
	k := make([]byte, 1+len(name))
	k[0] = prefixColl
	copy(k[1:], name)
	return k
}

func genKey(prefix byte, gen uint64) []byte {
	k := make([]byte, 9, 9+12)
	k[0] = prefix
	binary.BigEndian.PutUint64(k[1:], gen)
	return k
}

func dataKey(gen uint64, id ejdb.ObjectID) []byte {
	return append(genKey(prefixData, gen), id[:]...)
}

func getMeta(txn *badger.Txn, name string) (ejdb.CollectionMeta, bool, error) {
	var meta ejdb.CollectionMeta
	item, err := txn.Get(collKey(name))
	if err == badger.ErrKeyNotFound {
		return meta, false, nil
	} else if err != nil {
		return meta, false, err
	}
	err = item.Value(func(val []byte) error {
		return ejdb.DecodeMeta(val, &meta)
	})
	if err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

func nextGen(txn *badger.Txn) (uint64, error) {
	var gen uint64
	item, err := txn.Get([]byte{prefixGen})
	if err != nil && err != badger.ErrKeyNotFound {
		return 0, err
	}
	if err == nil {
		err = item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("%w: generation counter is %d bytes", ejdb.ErrMalformedEncoding, len(val))
			}
			gen = binary.BigEndian.Uint64(val)
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	gen++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], gen)
	return gen, txn.Set([]byte{prefixGen}, buf[:])
}

func create(txn *badger.Txn, name string, opts ejdb.CollectionOptions) (ejdb.CollectionMeta, error) {
	gen, err := nextGen(txn)
	if err != nil {
		return ejdb.CollectionMeta{}, err
	}
	meta := ejdb.CollectionMeta{Gen: gen, Options: opts, Created: time.Now().UTC()}
	return meta, txn.Set(collKey(name), ejdb.EncodeMeta(&meta))
}

func (e *Engine) EnsureCollection(name string, opts ejdb.CollectionOptions) (bool, error) {
	if err := ejdb.ValidateName(name); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return false, err
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		_, found, err := getMeta(txn, name)
		if err != nil || found {
			return err
		}
		_, err = create(txn, name, opts)
		return err
	})
	return err == nil, err
}

func (e *Engine) DropCollection(name string, prune bool) (bool, error) {
	if err := ejdb.ValidateName(name); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return false, err
	}
	var meta ejdb.CollectionMeta
	var found bool
	// A pruning drop writes a tombstone too; reclaim removes it once the
	// records are gone.
	err := e.db.Update(func(txn *badger.Txn) error {
		var err error
		meta, found, err = getMeta(txn, name)
		if err != nil || !found {
			return err
		}
		if err := txn.Delete(collKey(name)); err != nil {
			return err
		}
		ts := ejdb.Tombstone{Name: name, Gen: meta.Gen, Dropped: time.Now().UTC()}
		return txn.Set(genKey(prefixTombstone, meta.Gen), ejdb.EncodeMeta(&ts))
	})
	if err != nil {
		return false, err
	}
	if prune && found {
		if err := e.reclaim(meta.Gen); err != nil {
			return false, err
		}
	}
	return true, nil
}

// reclaim deletes the records and tombstones of the given generations and
// gives the value log a chance to shrink.
func (e *Engine) reclaim(gens ...uint64) error {
	prefixes := make([][]byte, 0, len(gens))
	for _, gen := range gens {
		prefixes = append(prefixes, genKey(prefixData, gen))
	}
	if err := dropPrefix(e.db, prefixes...); err != nil {
		return err
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		for _, gen := range gens {
			if err := txn.Delete(genKey(prefixTombstone, gen)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = e.db.RunValueLogGC(gcDiscardRatio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
		return err
	}
	return nil
}

func (e *Engine) LoadRecord(coll string, id ejdb.ObjectID) ([]byte, error) {
	if err := ejdb.ValidateName(coll); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	var doc []byte
	err := e.db.View(func(txn *badger.Txn) error {
		meta, found, err := getMeta(txn, coll)
		if err != nil || !found {
			return err
		}
		item, err := txn.Get(dataKey(meta.Gen, id))
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			doc, err = ejdb.UnpackRecord(val)
			return err
		})
	})
	return doc, err
}

func (e *Engine) SaveRecord(coll string, encoded []byte) (ejdb.ObjectID, error) {
	if err := ejdb.ValidateName(coll); err != nil {
		return ejdb.NilObjectID, err
	}
	id, encoded, err := ejdb.RecordID(encoded)
	if err != nil {
		return ejdb.NilObjectID, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return ejdb.NilObjectID, err
	}
	err = e.db.Update(func(txn *badger.Txn) error {
		meta, found, err := getMeta(txn, coll)
		if err != nil {
			return err
		}
		if !found {
			meta, err = create(txn, coll, ejdb.CollectionOptions{})
			if err != nil {
				return err
			}
		}
		return txn.Set(dataKey(meta.Gen, id), ejdb.PackRecord(encoded, meta.Options.Compressed))
	})
	if err != nil {
		return ejdb.NilObjectID, err
	}
	return id, nil
}

func (e *Engine) RemoveRecord(coll string, id ejdb.ObjectID) (bool, error) {
	if err := ejdb.ValidateName(coll); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return false, err
	}
	var removed bool
	err := e.db.Update(func(txn *badger.Txn) error {
		meta, found, err := getMeta(txn, coll)
		if err != nil || !found {
			return err
		}
		key := dataKey(meta.Gen, id)
		_, err = txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	return removed, err
}

func (e *Engine) Sync() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil || e.readOnly {
		return err
	}
	return e.db.Sync()
}

func (e *Engine) Vacuum() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkWritable(); err != nil {
		return 0, err
	}
	var gens []uint64
	err := e.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixTombstone}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			gens = append(gens, binary.BigEndian.Uint64(it.Item().Key()[1:]))
		}
		return nil
	})
	if err != nil || len(gens) == 0 {
		return 0, err
	}
	if err := e.reclaim(gens...); err != nil {
		return 0, err
	}
	return len(gens), nil
}

func (e *Engine) CollectionNames() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	var names []string
	err := e.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixColl}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, string(it.Item().Key()[1:]))
		}
		return nil
	})
	return names, err
}

func (e *Engine) CollectionOptions(name string) (ejdb.CollectionOptions, bool, error) {
	if err := ejdb.ValidateName(name); err != nil {
		return ejdb.CollectionOptions{}, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return ejdb.CollectionOptions{}, false, err
	}
	var meta ejdb.CollectionMeta
	var found bool
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		meta, found, err = getMeta(txn, name)
		return err
	})
	return meta.Options, found, err
}
