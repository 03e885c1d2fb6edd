package ejdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// CollectionMeta is the per-collection state persisted by the Bolt and
// Badger engines.
//
// Gen is unique across the lifetime of a database and names the storage
// area of one incarnation of a collection. Re-creating a dropped collection
// allocates a new Gen, so tombstoned data is never visible again.
type CollectionMeta struct {
	Gen     uint64            `msgpack:"g"`
	Options CollectionOptions `msgpack:"o"`
	Created time.Time         `msgpack:"c"`
}

// Tombstone records a collection incarnation dropped without prune.
type Tombstone struct {
	Name    string    `msgpack:"n"`
	Gen     uint64    `msgpack:"g"`
	Dropped time.Time `msgpack:"d"`
}

// EncodeMeta marshals v with msgpack, sorting map keys for stable output.
func EncodeMeta(v any) []byte {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
	}
	return buf.Bytes()
}

// DecodeMeta unmarshals msgpack data produced by EncodeMeta.
func DecodeMeta(data []byte, v any) error {
	var r bytes.Reader
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}
