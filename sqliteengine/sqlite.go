// Package sqliteengine implements ejdb.Engine on a single SQLite database.
//
// Tables:
//
//	generations(gen, name)       gen is AUTOINCREMENT, never reused
//	collections(name, gen, meta) PRIMARY KEY (name)
//	tombstones(gen, name, meta)  PRIMARY KEY (gen)
//	records(gen, id, data)       PRIMARY KEY (gen, id)
package sqliteengine

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/andreyvit/ejdb"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	gen INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	gen INTEGER NOT NULL,
	meta BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS tombstones (
	gen INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	meta BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	gen INTEGER NOT NULL,
	id BLOB NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (gen, id)
) WITHOUT ROWID;
`

type Options struct {
	// ReadOnly opens an existing database file without write access.
	// Writes fail with ejdb.ErrReadOnly.
	ReadOnly bool
}

// Engine is a SQLite-backed ejdb.Engine.
type Engine struct {
	mu       sync.RWMutex
	db       *sql.DB
	closed   bool
	readOnly bool
}

var _ interface {
	ejdb.Engine
	ejdb.RecordRemover
	ejdb.Syncer
	ejdb.Vacuumer
	ejdb.CollectionLister
	ejdb.CollectionInspector
} = (*Engine)(nil)

// Open opens or creates the database file at dbPath. ":memory:" gives a
// transient database.
func Open(dbPath string, opt Options) (*Engine, error) {
	if opt.ReadOnly {
		return openReadOnly(dbPath)
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	// auto_vacuum only takes effect before the first table is created.
	for _, pragma := range []string{"PRAGMA auto_vacuum=INCREMENTAL", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Engine{db: db}, nil
}

func openReadOnly(dbPath string) (*Engine, error) {
	if dbPath == ":memory:" {
		return nil, errors.New("sqliteengine: read-only mode needs a database file")
	}
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, err
	}
	var n int
	err = db.QueryRow("SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name IN ('collections', 'records', 'tombstones')").Scan(&n)
	if err == nil && n != 3 {
		err = fmt.Errorf("sqliteengine: %s is not an ejdb database", dbPath)
	}
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Engine{db: db, readOnly: true}, nil
}

func (s *Engine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getMeta(q querier, name string) (ejdb.CollectionMeta, bool, error) {
	var meta ejdb.CollectionMeta
	var raw []byte
	err := q.QueryRow("SELECT meta FROM collections WHERE name = ?", name).Scan(&raw)
	if err == sql.ErrNoRows {
		return meta, false, nil
	}
	if err != nil {
		return meta, false, err
	}
	if err := ejdb.DecodeMeta(raw, &meta); err != nil {
		return meta, false, err
	}
	return meta, true, nil
}

func create(tx *sql.Tx, name string, opts ejdb.CollectionOptions) (ejdb.CollectionMeta, error) {
	res, err := tx.Exec("INSERT INTO generations (name) VALUES (?)", name)
	if err != nil {
		return ejdb.CollectionMeta{}, err
	}
	gen, err := res.LastInsertId()
	if err != nil {
		return ejdb.CollectionMeta{}, err
	}
	meta := ejdb.CollectionMeta{Gen: uint64(gen), Options: opts, Created: time.Now().UTC()}
	_, err = tx.Exec("INSERT INTO collections (name, gen, meta) VALUES (?, ?, ?)", name, gen, ejdb.EncodeMeta(&meta))
	return meta, err
}

// checkWritable reports why writes are impossible. The caller holds s.mu.
func (s *Engine) checkWritable() error {
	if s.closed {
		return ejdb.ErrClosed
	}
	if s.readOnly {
		return ejdb.ErrReadOnly
	}
	return nil
}

// update runs fn in a write transaction. The caller holds s.mu.
func (s *Engine) update(fn func(tx *sql.Tx) error) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

func (s *Engine) EnsureCollection(name string, opts ejdb.CollectionOptions) (bool, error) {
	if err := ejdb.ValidateName(name); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.update(func(tx *sql.Tx) error {
		_, found, err := getMeta(tx, name)
		if err != nil || found {
			return err
		}
		_, err = create(tx, name, opts)
		return err
	})
	return err == nil, err
}

func (s *Engine) DropCollection(name string, prune bool) (bool, error) {
	if err := ejdb.ValidateName(name); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var found bool
	err := s.update(func(tx *sql.Tx) error {
		var meta ejdb.CollectionMeta
		var err error
		meta, found, err = getMeta(tx, name)
		if err != nil || !found {
			return err
		}
		if _, err := tx.Exec("DELETE FROM collections WHERE name = ?", name); err != nil {
			return err
		}
		if prune {
			_, err := tx.Exec("DELETE FROM records WHERE gen = ?", meta.Gen)
			return err
		}
		ts := ejdb.Tombstone{Name: name, Gen: meta.Gen, Dropped: time.Now().UTC()}
		_, err = tx.Exec("INSERT INTO tombstones (gen, name, meta) VALUES (?, ?, ?)", meta.Gen, name, ejdb.EncodeMeta(&ts))
		return err
	})
	if err != nil {
		return false, err
	}
	if prune && found {
		if err := s.freePages(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Engine) LoadRecord(coll string, id ejdb.ObjectID) ([]byte, error) {
	if err := ejdb.ValidateName(coll); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ejdb.ErrClosed
	}
	var raw []byte
	err := s.db.QueryRow(
		`SELECT r.data FROM records r JOIN collections c ON c.gen = r.gen
		 WHERE c.name = ? AND r.id = ?`,
		coll, id[:],
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ejdb.UnpackRecord(raw)
}

func (s *Engine) SaveRecord(coll string, encoded []byte) (ejdb.ObjectID, error) {
	if err := ejdb.ValidateName(coll); err != nil {
		return ejdb.NilObjectID, err
	}
	id, encoded, err := ejdb.RecordID(encoded)
	if err != nil {
		return ejdb.NilObjectID, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.update(func(tx *sql.Tx) error {
		meta, found, err := getMeta(tx, coll)
		if err != nil {
			return err
		}
		if !found {
			meta, err = create(tx, coll, ejdb.CollectionOptions{})
			if err != nil {
				return err
			}
		}
		_, err = tx.Exec(
			`INSERT INTO records (gen, id, data) VALUES (?, ?, ?)
			 ON CONFLICT(gen, id) DO UPDATE SET data = excluded.data`,
			meta.Gen, id[:], ejdb.PackRecord(encoded, meta.Options.Compressed),
		)
		return err
	})
	if err != nil {
		return ejdb.NilObjectID, err
	}
	return id, nil
}

func (s *Engine) RemoveRecord(coll string, id ejdb.ObjectID) (bool, error) {
	if err := ejdb.ValidateName(coll); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWritable(); err != nil {
		return false, err
	}
	res, err := s.db.Exec(
		"DELETE FROM records WHERE id = ? AND gen = (SELECT gen FROM collections WHERE name = ?)",
		id[:], coll,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Sync checkpoints the WAL into the main database file.
func (s *Engine) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ejdb.ErrClosed
	}
	if s.readOnly {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(FULL)")
	return err
}

func (s *Engine) Vacuum() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.update(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM records WHERE gen IN (SELECT gen FROM tombstones)"); err != nil {
			return err
		}
		res, err := tx.Exec("DELETE FROM tombstones")
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		n = int(affected)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := s.freePages(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// freePages truncates the file by the pages on the freelist.
// incremental_vacuum frees one page per result row it steps through.
func (s *Engine) freePages() error {
	rows, err := s.db.Query("PRAGMA incremental_vacuum")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *Engine) CollectionNames() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ejdb.ErrClosed
	}
	rows, err := s.db.Query("SELECT name FROM collections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Engine) CollectionOptions(name string) (ejdb.CollectionOptions, bool, error) {
	if err := ejdb.ValidateName(name); err != nil {
		return ejdb.CollectionOptions{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ejdb.CollectionOptions{}, false, ejdb.ErrClosed
	}
	meta, found, err := getMeta(s.db, name)
	return meta.Options, found, err
}
