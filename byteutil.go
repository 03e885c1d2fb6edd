package ejdb

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
)

func ensureCapacity(buf []byte, minCap int) []byte {
	c := cap(buf)
	if minCap > c {
		if c < 16 {
			c = 16
		}
		for minCap > c {
			c <<= 1
		}
		old := buf
		buf = make([]byte, len(old), c)
		copy(buf, old)
	}
	return buf
}

func grow(buf []byte, n int) (int, []byte) {
	off := len(buf)
	newLen := off + n
	buf = ensureCapacity(buf, newLen)
	return off, buf[:newLen]
}

func appendRaw(buf []byte, chunk []byte) []byte {
	n := len(chunk)
	off, buf := grow(buf, n)
	copy(buf[off:], chunk)
	return buf
}

func appendUvarint(buf []byte, v uint64) []byte {
	off, buf := grow(buf, binary.MaxVarintLen64)
	off += binary.PutUvarint(buf[off:], v)
	return buf[:off]
}

type bytesBuilder struct {
	Buf []byte
}

var _ io.Writer = (*bytesBuilder)(nil)

func (bb *bytesBuilder) Grow(n int) (off int) {
	off, bb.Buf = grow(bb.Buf, n)
	return
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = appendRaw(bb.Buf, b)
	return len(b), nil
}

func (bb *bytesBuilder) AppendByte(v byte) {
	off := bb.Grow(1)
	bb.Buf[off] = v
}

func (bb *bytesBuilder) AppendInt32(v int32) {
	off := bb.Grow(4)
	binary.LittleEndian.PutUint32(bb.Buf[off:], uint32(v))
}

func (bb *bytesBuilder) AppendInt64(v int64) {
	off := bb.Grow(8)
	binary.LittleEndian.PutUint64(bb.Buf[off:], uint64(v))
}

func (bb *bytesBuilder) AppendFloat64(v float64) {
	off := bb.Grow(8)
	binary.LittleEndian.PutUint64(bb.Buf[off:], math.Float64bits(v))
}

// AppendCString appends s followed by a NUL terminator. s must not contain NUL.
func (bb *bytesBuilder) AppendCString(s string) {
	off := bb.Grow(len(s) + 1)
	copy(bb.Buf[off:], s)
	bb.Buf[off+len(s)] = 0
}

// ReserveInt32 reserves room for a length prefix to be filled by PatchInt32.
func (bb *bytesBuilder) ReserveInt32() int {
	return bb.Grow(4)
}

func (bb *bytesBuilder) PatchInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(bb.Buf[off:], uint32(v))
}

type byteDecoder struct {
	Orig []byte
	Buf  []byte
}

func makeByteDecoder(buf []byte) byteDecoder {
	return byteDecoder{buf, buf}
}

func (d *byteDecoder) Off() int {
	return len(d.Orig) - len(d.Buf)
}

func (d *byteDecoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.Buf)
	if n <= 0 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "invalid uvarint")
	}
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Raw(n int) ([]byte, error) {
	if n < 0 || len(d.Buf) < n {
		return nil, dataErrf(d.Orig, d.Off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.Buf), n)
	}
	v := d.Buf[:n]
	d.Buf = d.Buf[n:]
	return v, nil
}

func (d *byteDecoder) Byte() (byte, error) {
	if len(d.Buf) < 1 {
		return 0, dataErrf(d.Orig, d.Off(), nil, "not enough data: wanted 1 byte")
	}
	v := d.Buf[0]
	d.Buf = d.Buf[1:]
	return v, nil
}

func (d *byteDecoder) Int32() (int32, error) {
	b, err := d.Raw(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *byteDecoder) Int64() (int64, error) {
	b, err := d.Raw(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (d *byteDecoder) Float64() (float64, error) {
	b, err := d.Raw(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (d *byteDecoder) CString() (string, error) {
	i := bytes.IndexByte(d.Buf, 0)
	if i < 0 {
		return "", dataErrf(d.Orig, d.Off(), nil, "unterminated cstring")
	}
	s := string(d.Buf[:i])
	d.Buf = d.Buf[i+1:]
	return s, nil
}
