package ejdb

import (
	"bytes"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// BSON element type tags.
const (
	tagDouble   byte = 0x01
	tagString   byte = 0x02
	tagDocument byte = 0x03
	tagArray    byte = 0x04
	tagBinary   byte = 0x05
	tagObjectID byte = 0x07
	tagBool     byte = 0x08
	tagDateTime byte = 0x09
	tagNull     byte = 0x0A
	tagInt32    byte = 0x10
	tagInt64    byte = 0x12
)

const (
	minDocSize = 5 // int32 length + terminator
	maxDepth   = 100
)

// Encode returns the BSON encoding of d.
func Encode(d Doc) ([]byte, error) {
	return AppendDoc(nil, d)
}

// AppendDoc appends the BSON encoding of d to buf. On error, buf is returned
// unchanged.
func AppendDoc(buf []byte, d Doc) ([]byte, error) {
	enc := encoder{bytesBuilder{buf}}
	if err := enc.doc(d, "", 0); err != nil {
		return buf, err
	}
	return enc.bb.Buf, nil
}

type encoder struct {
	bb bytesBuilder
}

func (enc *encoder) doc(d Doc, path string, depth int) error {
	if depth > maxDepth {
		return &unsupportedValueError{path, d}
	}
	start := enc.bb.ReserveInt32()
	for _, e := range d {
		if strings.IndexByte(e.Key, 0) >= 0 {
			return &unsupportedValueError{joinPath(path, e.Key), e.Key}
		}
		if err := enc.elem(e.Key, e.Value, joinPath(path, e.Key), depth); err != nil {
			return err
		}
	}
	return enc.finish(start, path, d)
}

func (enc *encoder) array(a A, path string, depth int) error {
	if depth > maxDepth {
		return &unsupportedValueError{path, a}
	}
	start := enc.bb.ReserveInt32()
	for i, v := range a {
		key := strconv.Itoa(i)
		if err := enc.elem(key, v, joinPath(path, key), depth); err != nil {
			return err
		}
	}
	return enc.finish(start, path, a)
}

func (enc *encoder) finish(start int, path string, v any) error {
	enc.bb.AppendByte(0)
	size := len(enc.bb.Buf) - start
	if size > math.MaxInt32 {
		return &unsupportedValueError{path, v}
	}
	enc.bb.PatchInt32(start, int32(size))
	return nil
}

func (enc *encoder) header(tag byte, key string) {
	enc.bb.AppendByte(tag)
	enc.bb.AppendCString(key)
}

func (enc *encoder) elem(key string, v any, path string, depth int) error {
	switch v := v.(type) {
	case nil:
		enc.header(tagNull, key)
	case float64:
		enc.header(tagDouble, key)
		enc.bb.AppendFloat64(v)
	case string:
		if len(v) >= math.MaxInt32 {
			return &unsupportedValueError{path, v}
		}
		enc.header(tagString, key)
		enc.bb.AppendInt32(int32(len(v) + 1))
		enc.bb.AppendCString(v)
	case Doc:
		enc.header(tagDocument, key)
		return enc.doc(v, path, depth+1)
	case map[string]any:
		enc.header(tagDocument, key)
		return enc.doc(docFromMap(v), path, depth+1)
	case A:
		enc.header(tagArray, key)
		return enc.array(v, path, depth+1)
	case []any:
		enc.header(tagArray, key)
		return enc.array(A(v), path, depth+1)
	case []Doc:
		a := make(A, len(v))
		for i, d := range v {
			a[i] = d
		}
		enc.header(tagArray, key)
		return enc.array(a, path, depth+1)
	case []byte:
		return enc.binary(key, 0, v, path)
	case Binary:
		return enc.binary(key, v.Subtype, v.Data, path)
	case ObjectID:
		enc.header(tagObjectID, key)
		enc.bb.Write(v[:])
	case bool:
		enc.header(tagBool, key)
		if v {
			enc.bb.AppendByte(1)
		} else {
			enc.bb.AppendByte(0)
		}
	case time.Time:
		enc.header(tagDateTime, key)
		enc.bb.AppendInt64(v.UnixMilli())
	case int32:
		enc.header(tagInt32, key)
		enc.bb.AppendInt32(v)
	case int64:
		enc.header(tagInt64, key)
		enc.bb.AppendInt64(v)
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			enc.header(tagInt32, key)
			enc.bb.AppendInt32(int32(v))
		} else {
			enc.header(tagInt64, key)
			enc.bb.AppendInt64(int64(v))
		}
	default:
		return &unsupportedValueError{path, v}
	}
	return nil
}

func (enc *encoder) binary(key string, subtype byte, data []byte, path string) error {
	if len(data) > math.MaxInt32 {
		return &unsupportedValueError{path, data}
	}
	enc.header(tagBinary, key)
	enc.bb.AppendInt32(int32(len(data)))
	enc.bb.AppendByte(subtype)
	enc.bb.Write(data)
	return nil
}

func docFromMap(m map[string]any) Doc {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	d := make(Doc, len(keys))
	for i, k := range keys {
		d[i] = E{k, m[k]}
	}
	return d
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// Decode parses a BSON document. The whole input must be consumed.
func Decode(data []byte) (Doc, error) {
	d := makeByteDecoder(data)
	doc, err := decodeDoc(&d, 0)
	if err != nil {
		return nil, err
	}
	if len(d.Buf) != 0 {
		return nil, dataErrf(d.Orig, d.Off(), nil, "%d trailing bytes after document", len(d.Buf))
	}
	return doc, nil
}

// docBody consumes a length-prefixed document and returns a decoder over
// its elements, excluding the terminator which is verified here.
func docBody(d *byteDecoder) (byteDecoder, error) {
	start := d.Off()
	n, err := d.Int32()
	if err != nil {
		return byteDecoder{}, err
	}
	if n < minDocSize {
		return byteDecoder{}, dataErrf(d.Orig, start, nil, "invalid document length %d", n)
	}
	if int64(n)-4 > int64(len(d.Buf)) {
		return byteDecoder{}, dataErrf(d.Orig, start, nil, "document length %d exceeds remaining %d bytes", n, len(d.Buf)+4)
	}
	end := start + int(n)
	if d.Orig[end-1] != 0 {
		return byteDecoder{}, dataErrf(d.Orig, end-1, nil, "document not terminated")
	}
	body := byteDecoder{Orig: d.Orig[:end-1], Buf: d.Buf[:int(n)-5]}
	d.Buf = d.Buf[int(n)-4:]
	return body, nil
}

func decodeDoc(d *byteDecoder, depth int) (Doc, error) {
	if depth > maxDepth {
		return nil, dataErrf(d.Orig, d.Off(), nil, "documents nested deeper than %d", maxDepth)
	}
	body, err := docBody(d)
	if err != nil {
		return nil, err
	}
	doc := Doc{}
	for len(body.Buf) > 0 {
		tag, _ := body.Byte()
		if tag == 0 {
			return nil, dataErrf(body.Orig, body.Off()-1, nil, "unexpected terminator inside document")
		}
		key, err := body.CString()
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(&body, tag, depth)
		if err != nil {
			return nil, err
		}
		doc = append(doc, E{key, v})
	}
	return doc, nil
}

func decodeValue(d *byteDecoder, tag byte, depth int) (any, error) {
	off := d.Off()
	switch tag {
	case tagDouble:
		return d.Float64()
	case tagString:
		n, err := d.Int32()
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, dataErrf(d.Orig, off, nil, "invalid string length %d", n)
		}
		raw, err := d.Raw(int(n))
		if err != nil {
			return nil, err
		}
		if raw[n-1] != 0 {
			return nil, dataErrf(d.Orig, off, nil, "string not terminated")
		}
		return string(raw[:n-1]), nil
	case tagDocument:
		return decodeDoc(d, depth+1)
	case tagArray:
		doc, err := decodeDoc(d, depth+1)
		if err != nil {
			return nil, err
		}
		a := make(A, len(doc))
		for i, e := range doc {
			a[i] = e.Value
		}
		return a, nil
	case tagBinary:
		n, err := d.Int32()
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, dataErrf(d.Orig, off, nil, "invalid binary length %d", n)
		}
		subtype, err := d.Byte()
		if err != nil {
			return nil, err
		}
		raw, err := d.Raw(int(n))
		if err != nil {
			return nil, err
		}
		data := append([]byte{}, raw...)
		if subtype == 0 {
			return data, nil
		}
		return Binary{subtype, data}, nil
	case tagObjectID:
		raw, err := d.Raw(len(ObjectID{}))
		if err != nil {
			return nil, err
		}
		return ObjectID(raw), nil
	case tagBool:
		b, err := d.Byte()
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, dataErrf(d.Orig, off, nil, "invalid boolean %d", b)
		}
		return b == 1, nil
	case tagDateTime:
		ms, err := d.Int64()
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(ms).UTC(), nil
	case tagNull:
		return nil, nil
	case tagInt32:
		return d.Int32()
	case tagInt64:
		return d.Int64()
	default:
		return nil, dataErrf(d.Orig, off-1, nil, "unrecognized type tag 0x%02x", tag)
	}
}

// PeekID locates the top-level _id of an encoded document without decoding
// the other values. found is false if there is no _id; a non-ObjectID _id
// is ErrInvalidIdentifier.
func PeekID(data []byte) (id ObjectID, found bool, err error) {
	d := makeByteDecoder(data)
	body, err := docBody(&d)
	if err != nil {
		return NilObjectID, false, err
	}
	for len(body.Buf) > 0 {
		tag, _ := body.Byte()
		key, err := body.CString()
		if err != nil {
			return NilObjectID, false, err
		}
		if key == IDKey {
			if tag != tagObjectID {
				return NilObjectID, true, &unsupportedIDError{tagName(tag)}
			}
			raw, err := body.Raw(len(id))
			if err != nil {
				return NilObjectID, false, err
			}
			return ObjectID(raw), true, nil
		}
		if err := skipValue(&body, tag); err != nil {
			return NilObjectID, false, err
		}
	}
	return NilObjectID, false, nil
}

func skipValue(d *byteDecoder, tag byte) error {
	off := d.Off()
	var n int
	switch tag {
	case tagDouble, tagDateTime, tagInt64:
		n = 8
	case tagInt32:
		n = 4
	case tagBool:
		n = 1
	case tagNull:
		n = 0
	case tagObjectID:
		n = len(ObjectID{})
	case tagString:
		l, err := d.Int32()
		if err != nil {
			return err
		}
		n = int(l)
	case tagBinary:
		l, err := d.Int32()
		if err != nil {
			return err
		}
		if l < 0 {
			return dataErrf(d.Orig, off, nil, "invalid binary length %d", l)
		}
		n = int(l) + 1
	case tagDocument, tagArray:
		_, err := docBody(d)
		return err
	default:
		return dataErrf(d.Orig, off-1, nil, "unrecognized type tag 0x%02x", tag)
	}
	_, err := d.Raw(n)
	return err
}

// AppendID returns a copy of the encoded document with an _id element
// appended. The input must not already contain _id.
func AppendID(data []byte, id ObjectID) ([]byte, error) {
	d := makeByteDecoder(data)
	if _, err := docBody(&d); err != nil {
		return nil, err
	}
	if len(d.Buf) != 0 {
		return nil, dataErrf(data, d.Off(), nil, "%d trailing bytes after document", len(d.Buf))
	}
	bb := bytesBuilder{make([]byte, 0, len(data)+len(IDKey)+2+len(id))}
	bb.Write(data[:len(data)-1])
	bb.AppendByte(tagObjectID)
	bb.AppendCString(IDKey)
	bb.Write(id[:])
	bb.AppendByte(0)
	bb.PatchInt32(0, int32(len(bb.Buf)))
	return bb.Buf, nil
}

var tagNames = map[byte]string{
	tagDouble:   "double",
	tagString:   "string",
	tagDocument: "document",
	tagArray:    "array",
	tagBinary:   "binary",
	tagObjectID: "objectId",
	tagBool:     "bool",
	tagDateTime: "datetime",
	tagNull:     "null",
	tagInt32:    "int32",
	tagInt64:    "int64",
}

type tagName byte

func (t tagName) String() string {
	if s, ok := tagNames[byte(t)]; ok {
		return s
	}
	return "0x" + strconv.FormatUint(uint64(t), 16)
}

// Equal reports whether two documents encode to the same bytes.
func Equal(a, b Doc) bool {
	ea, err := Encode(a)
	if err != nil {
		return false
	}
	eb, err := Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
