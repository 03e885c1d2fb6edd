package ejdb

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	bb.AppendByte(4)
	bb.AppendInt32(-2)
	bb.AppendCString("hi")

	want := []byte{1, 2, 3, 4, 0xFE, 0xFF, 0xFF, 0xFF, 'h', 'i', 0}
	if !reflect.DeepEqual(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}

	_, _ = bb.Write([]byte{9, 8})
	want = append(want, 9, 8)
	if !reflect.DeepEqual(bb.Buf, want) {
		t.Fatalf("after Write: bb.Buf = %x, wanted %x", bb.Buf, want)
	}
}

func TestBytesBuilder_Patch(t *testing.T) {
	var bb bytesBuilder
	start := bb.ReserveInt32()
	bb.AppendInt64(math.MinInt64)
	bb.AppendFloat64(1)
	bb.PatchInt32(start, int32(len(bb.Buf)))

	d := makeByteDecoder(bb.Buf)
	n := must(d.Int32())
	i := must(d.Int64())
	f := must(d.Float64())
	if n != 20 || i != math.MinInt64 || f != 1 || len(d.Buf) != 0 {
		t.Fatalf("decoded (%d, %d, %v), %d left, wanted (20, MinInt64, 1), 0 left", n, i, f, len(d.Buf))
	}
}

func TestByteUtil_AppendHelpers(t *testing.T) {
	src := []byte{0xAA, 0xBB, 0xCC}
	buf := appendRaw(nil, src)
	if !reflect.DeepEqual(buf, src) {
		t.Fatalf("appendRaw = %x, wanted %x", buf, src)
	}

	buf = appendUvarint(nil, 300)
	if !reflect.DeepEqual(buf, []byte{0xAC, 0x02}) {
		t.Fatalf("appendUvarint(300) = %x, wanted ac02", buf)
	}

	buf = ensureCapacity(make([]byte, 2, 2), 100)
	if len(buf) != 2 || cap(buf) < 100 {
		t.Fatalf("ensureCapacity = len %d cap %d, wanted len 2 cap >= 100", len(buf), cap(buf))
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	t.Run("invalid uvarint", func(t *testing.T) {
		d := makeByteDecoder([]byte{0x80})
		if _, err := d.Uvarint(); !errors.Is(err, ErrMalformedEncoding) {
			t.Fatalf("Uvarint err = %v, wanted ErrMalformedEncoding", err)
		}
	})

	t.Run("short raw", func(t *testing.T) {
		d := makeByteDecoder([]byte{1, 2})
		if _, err := d.Raw(3); err == nil {
			t.Fatalf("Raw(3) on 2 bytes succeeded")
		}
		if _, err := d.Raw(-1); err == nil {
			t.Fatalf("Raw(-1) succeeded")
		}
		if len(d.Buf) != 2 {
			t.Fatalf("failed reads consumed data: %d left", len(d.Buf))
		}
	})

	t.Run("empty byte", func(t *testing.T) {
		d := makeByteDecoder(nil)
		if _, err := d.Byte(); err == nil {
			t.Fatalf("Byte() on empty input succeeded")
		}
	})

	t.Run("unterminated cstring", func(t *testing.T) {
		d := makeByteDecoder([]byte("abc"))
		_, err := d.CString()
		var de *DataError
		if !errors.As(err, &de) || de.Off != 0 {
			t.Fatalf("CString err = %v, wanted *DataError at 0", err)
		}
	})
}
