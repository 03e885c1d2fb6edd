package ejdb_test

import (
	"path/filepath"
	"testing"

	"github.com/andreyvit/ejdb"
	"github.com/andreyvit/ejdb/enginetest"
)

func TestBoltEngine(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) ejdb.Engine {
		e, err := ejdb.OpenBolt(filepath.Join(t.TempDir(), "bolt.db"), ejdb.BoltOptions{IsTesting: true})
		if err != nil {
			t.Fatal(err)
		}
		return e
	})
}

func TestMemEngine(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) ejdb.Engine {
		return ejdb.NewMemEngine()
	})
}
