package ejdb

import (
	"slices"
)

// IDKey is the field holding a document's identifier.
const IDKey = "_id"

// E is a single document element.
type E struct {
	Key   string
	Value any
}

// Doc is an ordered document. The zero value is an empty document.
type Doc []E

// A is a BSON array.
type A []any

// Binary is BSON binary data with an explicit subtype. Subtype 0 decodes
// as plain []byte instead.
type Binary struct {
	Subtype byte
	Data    []byte
}

func (d Doc) index(key string) int {
	for i, e := range d {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func (d Doc) Get(key string) (any, bool) {
	if i := d.index(key); i >= 0 {
		return d[i].Value, true
	}
	return nil, false
}

// Set returns a copy of d with key set to value, replacing an existing
// element in place or appending a new one.
func (d Doc) Set(key string, value any) Doc {
	out := slices.Clone(d)
	if i := out.index(key); i >= 0 {
		out[i].Value = value
		return out
	}
	return append(out, E{key, value})
}

// Delete returns a copy of d without key.
func (d Doc) Delete(key string) Doc {
	i := d.index(key)
	if i < 0 {
		return d
	}
	return slices.Delete(slices.Clone(d), i, i+1)
}

func (d Doc) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// ID returns the document's identifier. ok is false if _id is missing;
// err is non-nil if _id is present but not an ObjectID.
func (d Doc) ID() (id ObjectID, ok bool, err error) {
	v, found := d.Get(IDKey)
	if !found {
		return NilObjectID, false, nil
	}
	id, isID := v.(ObjectID)
	if !isID {
		return NilObjectID, true, collIDErr(v)
	}
	return id, true, nil
}

// WithID returns a copy of d with _id set to id.
func (d Doc) WithID(id ObjectID) Doc {
	return d.Set(IDKey, id)
}

// Map converts the top level of d into a map. Nested values are kept as is.
func (d Doc) Map() map[string]any {
	m := make(map[string]any, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}

func collIDErr(v any) error {
	return &unsupportedIDError{v}
}

type unsupportedIDError struct {
	Value any
}

func (e *unsupportedIDError) Error() string {
	return ErrInvalidIdentifier.Error() + ": _id must be an ObjectID, got " + typeName(e.Value)
}

func (e *unsupportedIDError) Unwrap() error {
	return ErrInvalidIdentifier
}
