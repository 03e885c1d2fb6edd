package ejdb

const maxNameLen = 200

// CollectionOptions configure a collection when it is first created.
type CollectionOptions struct {
	// RecordSizeHint is the expected size of an encoded document. Engines use
	// it for initial allocation; zero means no hint.
	RecordSizeHint int `msgpack:"sz,omitempty"`

	// Compressed stores document bodies zstd-compressed at rest.
	Compressed bool `msgpack:"z,omitempty"`
}

// Engine is the storage engine behind a DB. Engines do their own locking;
// every call is synchronous.
//
// Record bytes crossing this interface are BSON documents as produced by
// Encode. Identifiers are raw 12-byte ObjectIDs. Engines must not retain
// the encoded slice passed to SaveRecord after returning.
type Engine interface {
	// EnsureCollection creates the collection with opts unless it already
	// exists, in which case the existing options are kept. Returns true once
	// the collection exists.
	EnsureCollection(name string, opts CollectionOptions) (bool, error)

	// DropCollection removes the collection. With prune, its storage is
	// reclaimed before returning; otherwise it is left as a tombstone.
	// Dropping an absent collection succeeds.
	DropCollection(name string, prune bool) (bool, error)

	// LoadRecord returns the encoded document, or nil if either the
	// collection or the document does not exist.
	LoadRecord(coll string, id ObjectID) ([]byte, error)

	// SaveRecord upserts the encoded document keyed by its _id, assigning one
	// if missing, and creates the collection with default options if needed.
	SaveRecord(coll string, encoded []byte) (ObjectID, error)

	Close() error
}

// RecordRemover is implemented by engines that can delete single documents.
type RecordRemover interface {
	RemoveRecord(coll string, id ObjectID) (bool, error)
}

// Syncer is implemented by engines that can flush to stable storage on demand.
type Syncer interface {
	Sync() error
}

// Vacuumer is implemented by engines that reclaim storage of collections
// dropped without prune. Vacuum returns the number of tombstones reclaimed.
type Vacuumer interface {
	Vacuum() (int, error)
}

// CollectionLister is implemented by engines that can enumerate the
// collections that currently exist.
type CollectionLister interface {
	CollectionNames() ([]string, error)
}

// CollectionInspector is implemented by engines that can report the
// options a collection was created with.
type CollectionInspector interface {
	CollectionOptions(name string) (CollectionOptions, bool, error)
}

// RecordID returns the _id of an encoded document, appending a freshly
// generated one if it has none. Engines call it from SaveRecord.
func RecordID(encoded []byte) (ObjectID, []byte, error) {
	id, found, err := PeekID(encoded)
	if err != nil {
		return NilObjectID, nil, err
	}
	if found {
		return id, encoded, nil
	}
	id = NewObjectID()
	encoded, err = AppendID(encoded, id)
	if err != nil {
		return NilObjectID, nil, err
	}
	return id, encoded, nil
}
