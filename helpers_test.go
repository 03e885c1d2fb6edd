package ejdb

import (
	"encoding/hex"
	"os"
	"reflect"
	"strings"
	"testing"
)

func setup(t testing.TB) *DB {
	t.Helper()

	dbFile := must(os.CreateTemp("", "ejdb_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db := must(Open(dbFile.Name(), Options{
		IsTesting: true,
	}))
	t.Cleanup(func() { db.Close() })
	return db
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[T any, S ~[]T](t testing.TB, a S) {
	if a != nil {
		t.Helper()
		t.Errorf("** got %v, wanted nil", a)
	}
}

func noerr(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}
