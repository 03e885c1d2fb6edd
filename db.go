package ejdb

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// DB is a database instance shared by all collection handles created from
// it. It must outlive those handles.
type DB struct {
	engine  Engine
	logger  *slog.Logger
	verbose bool
	metrics *dbMetrics

	colls  *xsync.MapOf[string, *Collection]
	closed atomic.Bool
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// ReadOnly opens an existing file without write access. Collection
	// writes fail with ErrStorageUnavailable wrapping ErrReadOnly.
	ReadOnly bool
}

// Open opens or creates a Bolt-backed database file at path.
func Open(path string, opt Options) (*DB, error) {
	eng, err := OpenBolt(path, BoltOptions{
		IsTesting: opt.IsTesting,
		MmapSize:  opt.MmapSize,
		ReadOnly:  opt.ReadOnly,
	})
	if err != nil {
		return nil, err
	}
	db := New(eng, opt)
	db.logger.Info("db: opened", "path", path, "engine", "bolt", "read_only", opt.ReadOnly)
	return db, nil
}

// New creates a DB on top of an already opened engine. The DB takes
// ownership of the engine and closes it in Close.
func New(engine Engine, opt Options) *DB {
	logger := opt.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DB{
		engine:  engine,
		logger:  logger,
		verbose: opt.Verbose,
		metrics: newDBMetrics(),
		colls:   xsync.NewMapOf[string, *Collection](),
	}
}

func (db *DB) Engine() Engine {
	return db.engine
}

func (db *DB) IsOpen() bool {
	return !db.closed.Load()
}

// Close closes the engine. Collections obtained from db fail with
// ErrStorageUnavailable afterwards.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	if err := db.engine.Close(); err != nil {
		return fmt.Errorf("ejdb: closing: %w", err)
	}
	return nil
}

// Collection returns the handle for the named collection. The collection
// itself is not created; call EnsureExists or Save for that.
func (db *DB) Collection(name string) *Collection {
	c, _ := db.colls.LoadOrCompute(name, func() *Collection {
		return &Collection{db: db, name: name}
	})
	return c
}

// CollectionNames lists the collections that currently exist.
func (db *DB) CollectionNames() ([]string, error) {
	lister, ok := db.engine.(CollectionLister)
	if !ok {
		return nil, ErrNotSupported
	}
	names, err := lister.CollectionNames()
	return names, storageErr(err)
}

// Sync flushes the engine to stable storage.
func (db *DB) Sync() error {
	start := time.Now()
	err := db.sync()
	db.observe(opSync, "", NilObjectID, start, err)
	return err
}

func (db *DB) sync() error {
	s, ok := db.engine.(Syncer)
	if !ok {
		return ErrNotSupported
	}
	return storageErr(s.Sync())
}

// Vacuum reclaims the storage of collections dropped without prune and
// returns how many were reclaimed.
func (db *DB) Vacuum() (int, error) {
	start := time.Now()
	v, ok := db.engine.(Vacuumer)
	if !ok {
		return 0, ErrNotSupported
	}
	n, err := v.Vacuum()
	err = storageErr(err)
	db.observe(opVacuum, "", NilObjectID, start, err)
	if err == nil && n > 0 {
		db.logger.Info("db: vacuumed dropped collections", "count", n)
	}
	return n, err
}
