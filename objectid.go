package ejdb

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ObjectID is the 12-byte identifier of a stored document:
//
//	timestamp:32 (big-endian Unix seconds) machine:24 process:16 counter:24
//
// Byte-wise order approximates creation order.
type ObjectID [12]byte

var NilObjectID ObjectID

var (
	objectIDMachine [3]byte
	objectIDProcess [2]byte
	objectIDCounter atomic.Uint32
)

func init() {
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err != nil {
		panic(fmt.Errorf("ejdb: no entropy for ObjectID generation: %w", err))
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		copy(objectIDMachine[:], seed[:3])
	} else {
		h := xxhash.Sum64String(host)
		objectIDMachine[0], objectIDMachine[1], objectIDMachine[2] = byte(h>>16), byte(h>>8), byte(h)
	}
	binary.BigEndian.PutUint16(objectIDProcess[:], uint16(os.Getpid()))
	objectIDCounter.Store(binary.BigEndian.Uint32(seed[4:]) & 0xFFFFFF)
}

// NewObjectID generates an identifier for the current instant.
func NewObjectID() ObjectID {
	return newObjectIDAt(time.Now())
}

func newObjectIDAt(now time.Time) ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(now.Unix()))
	copy(id[4:7], objectIDMachine[:])
	copy(id[7:9], objectIDProcess[:])
	c := objectIDCounter.Add(1)
	id[9], id[10], id[11] = byte(c>>16), byte(c>>8), byte(c)
	return id
}

// ObjectIDFromBytes validates and copies a raw identifier.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	var id ObjectID
	if len(b) != len(id) {
		return NilObjectID, fmt.Errorf("%w: got %d bytes, wanted %d", ErrInvalidIdentifier, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// ObjectIDFromHex parses the 24-character hex form.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 2*len(id) {
		return NilObjectID, fmt.Errorf("%w: %q is not 24 hex characters", ErrInvalidIdentifier, s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return NilObjectID, fmt.Errorf("%w: %q: %v", ErrInvalidIdentifier, s, err)
	}
	return id, nil
}

func (id ObjectID) Bytes() []byte {
	return bytes.Clone(id[:])
}

func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return fmt.Sprintf("ObjectID(%q)", id.Hex())
}

func (id ObjectID) IsZero() bool {
	return id == NilObjectID
}

// Timestamp returns the second-precision creation time embedded in the id.
func (id ObjectID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

func (id ObjectID) Compare(other ObjectID) int {
	return bytes.Compare(id[:], other[:])
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ObjectID) UnmarshalText(text []byte) error {
	v, err := ObjectIDFromHex(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
