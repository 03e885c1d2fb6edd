package ejdb

import (
	"slices"
	"sync"
)

// MemEngine is a transient in-memory Engine intended for tests. It keeps
// records in their at-rest packed form so that envelope handling matches
// the persistent engines.
type MemEngine struct {
	mu         sync.Mutex
	colls      map[string]*memColl
	tombstones []*memColl
	closed     bool
}

type memColl struct {
	opts    CollectionOptions
	records map[ObjectID][]byte
}

var _ interface {
	Engine
	RecordRemover
	Syncer
	Vacuumer
	CollectionLister
	CollectionInspector
} = (*MemEngine)(nil)

func NewMemEngine() *MemEngine {
	return &MemEngine{colls: make(map[string]*memColl)}
}

func (e *MemEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.colls = nil
	e.tombstones = nil
	return nil
}

func (e *MemEngine) lock(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (e *MemEngine) createLocked(name string, opts CollectionOptions) *memColl {
	c := &memColl{
		opts:    opts,
		records: make(map[ObjectID][]byte),
	}
	e.colls[name] = c
	return c
}

func (e *MemEngine) EnsureCollection(name string, opts CollectionOptions) (bool, error) {
	if err := e.lock(name); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	if e.colls[name] == nil {
		e.createLocked(name, opts)
	}
	return true, nil
}

func (e *MemEngine) DropCollection(name string, prune bool) (bool, error) {
	if err := e.lock(name); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	c := e.colls[name]
	if c == nil {
		return true, nil
	}
	delete(e.colls, name)
	if !prune {
		e.tombstones = append(e.tombstones, c)
	}
	return true, nil
}

func (e *MemEngine) LoadRecord(coll string, id ObjectID) ([]byte, error) {
	if err := e.lock(coll); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	c := e.colls[coll]
	if c == nil {
		return nil, nil
	}
	raw := c.records[id]
	if raw == nil {
		return nil, nil
	}
	return UnpackRecord(raw)
}

func (e *MemEngine) SaveRecord(coll string, encoded []byte) (ObjectID, error) {
	id, encoded, err := RecordID(encoded)
	if err != nil {
		return NilObjectID, err
	}
	if err := e.lock(coll); err != nil {
		return NilObjectID, err
	}
	defer e.mu.Unlock()
	c := e.colls[coll]
	if c == nil {
		c = e.createLocked(coll, CollectionOptions{})
	}
	c.records[id] = PackRecord(encoded, c.opts.Compressed)
	return id, nil
}

func (e *MemEngine) RemoveRecord(coll string, id ObjectID) (bool, error) {
	if err := e.lock(coll); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	c := e.colls[coll]
	if c == nil || c.records[id] == nil {
		return false, nil
	}
	delete(c.records, id)
	return true, nil
}

func (e *MemEngine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

func (e *MemEngine) Vacuum() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	n := len(e.tombstones)
	e.tombstones = nil
	return n, nil
}

func (e *MemEngine) CollectionNames() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(e.colls))
	for name := range e.colls {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (e *MemEngine) CollectionOptions(name string) (CollectionOptions, bool, error) {
	if err := e.lock(name); err != nil {
		return CollectionOptions{}, false, err
	}
	defer e.mu.Unlock()
	c := e.colls[name]
	if c == nil {
		return CollectionOptions{}, false, nil
	}
	return c.opts, true, nil
}
