package ejdb

import (
	"errors"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
)

func openBoltTest(t testing.TB, path string, opt BoltOptions) *BoltEngine {
	t.Helper()
	e, err := OpenBolt(path, opt)
	noerr(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func boltGen(t testing.TB, e *BoltEngine, name string) uint64 {
	t.Helper()
	var meta CollectionMeta
	err := e.Bolt().View(func(btx *bbolt.Tx) error {
		var err error
		meta, _, err = boltMeta(btx, name)
		return err
	})
	noerr(t, err)
	return meta.Gen
}

func hasBucket(t testing.TB, e *BoltEngine, name []byte) bool {
	t.Helper()
	var found bool
	err := e.Bolt().View(func(btx *bbolt.Tx) error {
		found = btx.Bucket(name) != nil
		return nil
	})
	noerr(t, err)
	return found
}

func saveN(t testing.TB, e Engine, coll string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		raw, err := Encode(Doc{{"i", int32(i)}})
		noerr(t, err)
		_, err = e.SaveRecord(coll, raw)
		noerr(t, err)
	}
}

func TestBoltPruneDeletesDataBucket(t *testing.T) {
	e := openBoltTest(t, filepath.Join(t.TempDir(), "bolt.db"), BoltOptions{IsTesting: true})
	saveN(t, e, "c", 100)
	gen := boltGen(t, e, "c")
	deepEqual(t, hasBucket(t, e, dataBucketName(gen)), true)

	_, err := e.DropCollection("c", true)
	noerr(t, err)
	deepEqual(t, hasBucket(t, e, dataBucketName(gen)), false)
	deepEqual(t, hasBucket(t, e, tombstonesBucket), true)

	n, err := e.Vacuum()
	noerr(t, err)
	deepEqual(t, n, 0)
}

func TestBoltVacuumDeletesDataBucket(t *testing.T) {
	e := openBoltTest(t, filepath.Join(t.TempDir(), "bolt.db"), BoltOptions{IsTesting: true})
	saveN(t, e, "c", 100)
	gen := boltGen(t, e, "c")

	_, err := e.DropCollection("c", false)
	noerr(t, err)
	deepEqual(t, hasBucket(t, e, dataBucketName(gen)), true)

	n, err := e.Vacuum()
	noerr(t, err)
	deepEqual(t, n, 1)
	deepEqual(t, hasBucket(t, e, dataBucketName(gen)), false)
}

func TestBoltReadOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bolt.db")
	e, err := OpenBolt(path, BoltOptions{IsTesting: true})
	noerr(t, err)
	saveN(t, e, "c", 3)
	noerr(t, e.Close())

	ro := openBoltTest(t, path, BoltOptions{ReadOnly: true})
	names, err := ro.CollectionNames()
	noerr(t, err)
	deepEqual(t, names, []string{"c"})
	noerr(t, ro.Sync())

	raw, err := Encode(Doc{{"i", int32(9)}})
	noerr(t, err)
	if _, err := ro.SaveRecord("c", raw); !errors.Is(err, ErrReadOnly) {
		t.Errorf("SaveRecord err = %v, wanted ErrReadOnly", err)
	}
	if _, err := ro.EnsureCollection("d", CollectionOptions{}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("EnsureCollection err = %v, wanted ErrReadOnly", err)
	}
	if _, err := ro.DropCollection("c", true); !errors.Is(err, ErrReadOnly) {
		t.Errorf("DropCollection err = %v, wanted ErrReadOnly", err)
	}
	if _, err := ro.Vacuum(); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Vacuum err = %v, wanted ErrReadOnly", err)
	}
}

func TestBoltReadOnlyMissingFile(t *testing.T) {
	_, err := OpenBolt(filepath.Join(t.TempDir(), "missing.db"), BoltOptions{ReadOnly: true})
	if err == nil {
		t.Fatal("read-only OpenBolt of a missing file succeeded")
	}
}
