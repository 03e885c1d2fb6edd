package ejdb

import (
	"encoding/binary"
	"fmt"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

var (
	collectionsBucket = []byte("collections")
	tombstonesBucket  = []byte("tombstones")
)

const dataBucketPrefix = 'd'

// BoltOptions configure OpenBolt.
type BoltOptions struct {
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration

	// ReadOnly opens an existing file with a shared lock. Writes fail with
	// ErrReadOnly.
	ReadOnly bool
}

// BoltEngine stores every collection incarnation in its own top-level Bolt
// bucket, with collection metadata in the "collections" bucket and
// collections dropped without prune listed in the "tombstones" bucket.
type BoltEngine struct {
	bdb      *bbolt.DB
	readOnly bool
}

var _ interface {
	Engine
	RecordRemover
	Syncer
	Vacuumer
	CollectionLister
	CollectionInspector
} = (*BoltEngine)(nil)

func OpenBolt(path string, opt BoltOptions) (*BoltEngine, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	bopt.ReadOnly = opt.ReadOnly

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("ejdb: %w", err)
	}
	if opt.ReadOnly {
		err = bdb.View(func(btx *bbolt.Tx) error {
			if btx.Bucket(collectionsBucket) == nil || btx.Bucket(tombstonesBucket) == nil {
				return fmt.Errorf("%s is not an ejdb database", path)
			}
			return nil
		})
		if err != nil {
			bdb.Close()
			return nil, fmt.Errorf("ejdb: %w", err)
		}
		return &BoltEngine{bdb: bdb, readOnly: true}, nil
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		if _, err := btx.CreateBucketIfNotExists(collectionsBucket); err != nil {
			return err
		}
		_, err := btx.CreateBucketIfNotExists(tombstonesBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("ejdb: %w", err)
	}
	return &BoltEngine{bdb: bdb}, nil
}

func (e *BoltEngine) Bolt() *bbolt.DB {
	return e.bdb
}

func (e *BoltEngine) Close() error {
	return e.bdb.Close()
}

// update runs fn in a write transaction.
func (e *BoltEngine) update(fn func(btx *bbolt.Tx) error) error {
	if e.readOnly {
		return ErrReadOnly
	}
	return e.bdb.Update(fn)
}

func dataBucketName(gen uint64) []byte {
	var name [9]byte
	name[0] = dataBucketPrefix
	binary.BigEndian.PutUint64(name[1:], gen)
	return name[:]
}

func boltMeta(btx *bbolt.Tx, name string) (CollectionMeta, bool, error) {
	var meta CollectionMeta
	raw := btx.Bucket(collectionsBucket).Get(unsafeBytesFromString(name))
	if raw == nil {
		return meta, false, nil
	}
	if err := DecodeMeta(raw, &meta); err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

func boltCreate(btx *bbolt.Tx, name string, opts CollectionOptions) (CollectionMeta, error) {
	colls := btx.Bucket(collectionsBucket)
	gen, err := colls.NextSequence()
	if err != nil {
		return CollectionMeta{}, err
	}
	meta := CollectionMeta{Gen: gen, Options: opts, Created: time.Now().UTC()}
	if _, err := btx.CreateBucket(dataBucketName(gen)); err != nil {
		return CollectionMeta{}, err
	}
	return meta, colls.Put([]byte(name), EncodeMeta(&meta))
}

func boltData(btx *bbolt.Tx, name string, meta CollectionMeta) (*bbolt.Bucket, error) {
	b := btx.Bucket(dataBucketName(meta.Gen))
	if b == nil {
		return nil, fmt.Errorf("%w: %s: missing data bucket for generation %d", ErrStorageUnavailable, name, meta.Gen)
	}
	return b, nil
}

func (e *BoltEngine) EnsureCollection(name string, opts CollectionOptions) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	err := e.update(func(btx *bbolt.Tx) error {
		_, found, err := boltMeta(btx, name)
		if err != nil || found {
			return err
		}
		_, err = boltCreate(btx, name, opts)
		return err
	})
	return err == nil, err
}

func (e *BoltEngine) DropCollection(name string, prune bool) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	var dropped bool
	err := e.update(func(btx *bbolt.Tx) error {
		meta, found, err := boltMeta(btx, name)
		if err != nil || !found {
			return err
		}
		if err := btx.Bucket(collectionsBucket).Delete([]byte(name)); err != nil {
			return err
		}
		dropped = true
		if prune {
			err := btx.DeleteBucket(dataBucketName(meta.Gen))
			if err == bbolt.ErrBucketNotFound {
				return nil
			}
			return err
		}
		ts := Tombstone{Name: name, Gen: meta.Gen, Dropped: time.Now().UTC()}
		return btx.Bucket(tombstonesBucket).Put(dataBucketName(meta.Gen), EncodeMeta(&ts))
	})
	if err != nil {
		return false, err
	}
	if prune && dropped {
		if err := e.bdb.Sync(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *BoltEngine) LoadRecord(coll string, id ObjectID) ([]byte, error) {
	if err := ValidateName(coll); err != nil {
		return nil, err
	}
	var doc []byte
	err := e.bdb.View(func(btx *bbolt.Tx) error {
		meta, found, err := boltMeta(btx, coll)
		if err != nil || !found {
			return err
		}
		b, err := boltData(btx, coll, meta)
		if err != nil {
			return err
		}
		raw := b.Get(id[:])
		if raw == nil {
			return nil
		}
		doc, err = UnpackRecord(raw)
		return err
	})
	return doc, err
}

func (e *BoltEngine) SaveRecord(coll string, encoded []byte) (ObjectID, error) {
	if err := ValidateName(coll); err != nil {
		return NilObjectID, err
	}
	id, encoded, err := RecordID(encoded)
	if err != nil {
		return NilObjectID, err
	}
	err = e.update(func(btx *bbolt.Tx) error {
		meta, found, err := boltMeta(btx, coll)
		if err != nil {
			return err
		}
		if !found {
			meta, err = boltCreate(btx, coll, CollectionOptions{})
			if err != nil {
				return err
			}
		}
		b, err := boltData(btx, coll, meta)
		if err != nil {
			return err
		}
		// ObjectIDs grow monotonically, so pages mostly fill at the tail.
		b.FillPercent = 0.9
		return b.Put(id[:], PackRecord(encoded, meta.Options.Compressed))
	})
	if err != nil {
		return NilObjectID, err
	}
	return id, nil
}

func (e *BoltEngine) RemoveRecord(coll string, id ObjectID) (bool, error) {
	if err := ValidateName(coll); err != nil {
		return false, err
	}
	var removed bool
	err := e.update(func(btx *bbolt.Tx) error {
		meta, found, err := boltMeta(btx, coll)
		if err != nil || !found {
			return err
		}
		b, err := boltData(btx, coll, meta)
		if err != nil {
			return err
		}
		if b.Get(id[:]) == nil {
			return nil
		}
		removed = true
		return b.Delete(id[:])
	})
	return removed, err
}

func (e *BoltEngine) Sync() error {
	if e.readOnly {
		return nil
	}
	return e.bdb.Sync()
}

func (e *BoltEngine) Vacuum() (int, error) {
	var n int
	err := e.update(func(btx *bbolt.Tx) error {
		tombs := btx.Bucket(tombstonesBucket)
		var keys [][]byte
		err := tombs.ForEach(func(k, _ []byte) error {
			keys = append(keys, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			err := btx.DeleteBucket(k)
			if err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if err := tombs.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (e *BoltEngine) CollectionNames() ([]string, error) {
	var names []string
	err := e.bdb.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(collectionsBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (e *BoltEngine) CollectionOptions(name string) (CollectionOptions, bool, error) {
	var meta CollectionMeta
	var found bool
	err := e.bdb.View(func(btx *bbolt.Tx) error {
		var err error
		meta, found, err = boltMeta(btx, name)
		return err
	})
	return meta.Options, found, err
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
