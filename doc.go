/*
Package ejdb stores BSON documents in named collections on top of a
pluggable storage engine.

A DB wraps an Engine. Collection handles obtained from it ensure and drop
collections, and load and save documents keyed by ObjectID. Bolt and
in-memory engines live in this package; Badger and SQLite engines live in
the badgerengine and sqliteengine subpackages. Package enginetest checks
any Engine against the contract.

# Documents

A Doc is an ordered list of key/value pairs. Supported values are nil,
float64, string, Doc, map[string]any (encoded with sorted keys), A,
[]any, []Doc, []byte, Binary, ObjectID, bool, time.Time, int32, int64
and int. Decoding yields nil, float64, string, Doc, A, []byte (subtype 0),
Binary (other subtypes), ObjectID, bool, time.Time (UTC, millisecond
precision), int32 and int64. Empty documents and arrays decode to non-nil
empty values.

The top-level "_id" key holds the document identifier. Save assigns one
when it is missing, appending it to a copy of the document.

# Technical Details

**BSON.**
Documents are encoded as BSON: an int32 little-endian total length,
elements, and a zero terminator. Each element is a type tag, a
zero-terminated key, and the value. Arrays are documents keyed "0", "1", ...

**ObjectID.**
Twelve bytes: big-endian Unix seconds, 3 bytes derived from the host name,
2 bytes of the process id, and a 24-bit counter seeded randomly at start-up.

**Records.**
Engines store documents wrapped in a record:

	flags:uvarint checksum:64 body

Flags bits 0-3 hold the format version (currently 1), bit 4 means the body
is zstd-compressed. The checksum is a big-endian xxhash64 of the
uncompressed document and is verified on every load.

**Generations.**
The Bolt, Badger and SQLite engines give each incarnation of a collection
a generation number that is never reused. Collection metadata maps a name
to its current generation; records are keyed by generation and id. Dropping
without prune only unlinks the name and writes a tombstone, so the old
records are unreachable and DB.Vacuum reclaims them later.
*/
package ejdb
