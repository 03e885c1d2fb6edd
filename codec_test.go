package ejdb

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncodeKnownBytes(t *testing.T) {
	tests := []struct {
		doc Doc
		exp string
	}{
		{Doc{}, "05000000 00"},
		{nil, "05000000 00"},
		{Doc{{"hello", "world"}}, "16000000 02 68656c6c6f00 06000000 776f726c6400 00"},
		{Doc{{"a", int32(1)}}, "0c000000 10 6100 01000000 00"},
		{Doc{{"a", 1}}, "0c000000 10 6100 01000000 00"},
		{Doc{{"a", int64(1)}}, "10000000 12 6100 0100000000000000 00"},
		{Doc{{"a", math.MaxInt32 + 1}}, "10000000 12 6100 0000008000000000 00"},
		{Doc{{"a", 1.5}}, "10000000 01 6100 000000000000f83f 00"},
		{Doc{{"a", true}, {"b", false}}, "0d000000 08 6100 01 08 6200 00 00"},
		{Doc{{"a", nil}}, "08000000 0a 6100 00"},
		{Doc{{"a", []byte{0xAB}}}, "0e000000 05 6100 01000000 00 ab 00"},
		{Doc{{"a", Binary{4, []byte{0xAB}}}}, "0e000000 05 6100 01000000 04 ab 00"},
		{Doc{{"a", time.UnixMilli(1000)}}, "10000000 09 6100 e803000000000000 00"},
		{Doc{{"a", A{int32(7)}}}, "14000000 04 6100 0c000000 10 3000 07000000 00 00"},
		{Doc{{"a", Doc{}}}, "0d000000 03 6100 05000000 00 00"},
	}
	for _, tt := range tests {
		a, err := Encode(tt.doc)
		noerr(t, err)
		if e := x(tt.exp); !bytes.Equal(a, e) {
			t.Errorf("Encode(%v) = %x, wanted %x", tt.doc, a, e)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	id := NewObjectID()
	doc := Doc{
		{"_id", id},
		{"double", 3.25},
		{"negzero", math.Copysign(0, -1)},
		{"string", "héllo"},
		{"empty", ""},
		{"doc", Doc{{"nested", Doc{{"deep", int64(-5)}}}}},
		{"emptydoc", Doc{}},
		{"array", A{int32(1), "two", nil, A{}, Doc{{"k", true}}}},
		{"emptyarray", A{}},
		{"bytes", []byte{0, 1, 2}},
		{"emptybytes", []byte{}},
		{"binary", Binary{Subtype: 5, Data: []byte{9}}},
		{"oid", NewObjectID()},
		{"true", true},
		{"false", false},
		{"when", time.UnixMilli(1700000000123).UTC()},
		{"null", nil},
		{"i32", int32(math.MinInt32)},
		{"i64", int64(math.MaxInt64)},
	}
	raw, err := Encode(doc)
	noerr(t, err)
	back, err := Decode(raw)
	noerr(t, err)
	deepEqual(t, back, doc)
	if !Equal(back, doc) {
		t.Errorf("Equal(decoded, original) = false")
	}
}

func TestCodecNormalizes(t *testing.T) {
	when := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.FixedZone("X", 3600))
	doc := Doc{
		{"int", 42},
		{"map", map[string]any{"b": 2, "a": "x"}},
		{"any", []any{1}},
		{"docs", []Doc{{{"k", "v"}}}},
		{"when", when},
		{"bin0", Binary{0, []byte{1}}},
	}
	raw, err := Encode(doc)
	noerr(t, err)
	back, err := Decode(raw)
	noerr(t, err)
	deepEqual(t, back, Doc{
		{"int", int32(42)},
		{"map", Doc{{"a", "x"}, {"b", int32(2)}}},
		{"any", A{int32(1)}},
		{"docs", A{Doc{{"k", "v"}}}},
		{"when", time.UnixMilli(when.UnixMilli()).UTC()},
		{"bin0", []byte{1}},
	})
}

func TestEncodeDeterministic(t *testing.T) {
	m := map[string]any{"z": 1, "y": 2, "x": 3, "w": 4}
	first, err := Encode(Doc{{"m", m}})
	noerr(t, err)
	for j := 0; j < 20; j++ {
		again, err := Encode(Doc{{"m", m}})
		noerr(t, err)
		if !bytes.Equal(first, again) {
			t.Fatalf("Encode is not deterministic: %x vs %x", first, again)
		}
	}
}

func TestEncodeUnsupported(t *testing.T) {
	tests := []struct {
		doc  Doc
		path string
	}{
		{Doc{{"a", uint32(1)}}, `"a"`},
		{Doc{{"a", float32(1)}}, `"a"`},
		{Doc{{"a", struct{}{}}}, `"a"`},
		{Doc{{"x", Doc{{"y", A{1, complex(1, 2)}}}}}, `"x.y.1"`},
		{Doc{{"bad\x00key", 1}}, `"bad\x00key"`},
		{Doc{{"m", map[string]any{"k": make(chan int)}}}, `"m.k"`},
	}
	for _, tt := range tests {
		buf := []byte("prefix")
		out, err := AppendDoc(buf, tt.doc)
		if !errors.Is(err, ErrUnsupportedValueKind) {
			t.Errorf("Encode(%v) err = %v, wanted ErrUnsupportedValueKind", tt.doc, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.path) {
			t.Errorf("Encode(%v) err = %q, wanted path %s", tt.doc, err, tt.path)
		}
		deepEqual(t, string(out), "prefix")
	}
}

func TestEncodeTooDeep(t *testing.T) {
	d := Doc{{"leaf", 1}}
	for j := 0; j < maxDepth+1; j++ {
		d = Doc{{"n", d}}
	}
	_, err := Encode(d)
	if !errors.Is(err, ErrUnsupportedValueKind) {
		t.Fatalf("Encode(deep) err = %v, wanted ErrUnsupportedValueKind", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"short length", "0400"},
		{"length below minimum", "04000000 00"},
		{"length exceeds buffer", "0a000000 00"},
		{"not terminated", "05000000 01"},
		{"trailing bytes", "05000000 00 00"},
		{"unknown tag", "08000000 7f 6100 00"},
		{"unterminated key", "07000000 10 61 00"},
		{"terminator inside", "07000000 00 00 00"},
		{"truncated int32", "0a000000 10 6100 0100 00"},
		{"bad bool", "09000000 08 6200 02 00"},
		{"zero string length", "0c000000 02 6100 00000000 00"},
		{"unterminated string", "0d000000 02 6100 01000000 78 00"},
		{"string exceeds", "0c000000 02 6100 ff000000 00"},
		{"negative binary length", "0d000000 05 6100 ffffffff 00 00"},
		{"nested length exceeds parent", "0d000000 03 6100 09000000 00 00"},
		{"truncated objectid", "0c000000 07 6100 01020304 00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(x(tt.data))
			if !errors.Is(err, ErrMalformedEncoding) {
				t.Fatalf("Decode(%s) err = %v, wanted ErrMalformedEncoding", tt.data, err)
			}
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("Decode(%s) err = %T, wanted *DataError", tt.data, err)
			}
		})
	}
}

func TestDecodeTooDeep(t *testing.T) {
	inner := x("05000000 00")
	for j := 0; j < maxDepth+2; j++ {
		var bb bytesBuilder
		start := bb.ReserveInt32()
		bb.AppendByte(tagDocument)
		bb.AppendCString("n")
		bb.Write(inner)
		bb.AppendByte(0)
		bb.PatchInt32(start, int32(len(bb.Buf)))
		inner = bb.Buf
	}
	_, err := Decode(inner)
	if !errors.Is(err, ErrMalformedEncoding) {
		t.Fatalf("Decode(deep) err = %v, wanted ErrMalformedEncoding", err)
	}
}

func TestPeekID(t *testing.T) {
	id := NewObjectID()
	raw := must(Encode(Doc{
		{"s", "str"},
		{"d", Doc{{"_id", "inner"}, {"n", nil}}},
		{"a", A{1.5, int64(2)}},
		{"b", []byte{1, 2}},
		{"t", time.UnixMilli(0)},
		{"f", false},
		{"_id", id},
		{"after", int32(1)},
	}))
	got, found, err := PeekID(raw)
	noerr(t, err)
	deepEqual(t, found, true)
	deepEqual(t, got, id)

	_, found, err = PeekID(must(Encode(Doc{{"d", Doc{{"_id", id}}}})))
	noerr(t, err)
	deepEqual(t, found, false)

	_, found, err = PeekID(must(Encode(Doc{{"_id", "text"}})))
	if !errors.Is(err, ErrInvalidIdentifier) || !found {
		t.Errorf("PeekID(string _id) = (found=%v, %v), wanted found and ErrInvalidIdentifier", found, err)
	}

	_, _, err = PeekID(x("05000000"))
	if !errors.Is(err, ErrMalformedEncoding) {
		t.Errorf("PeekID(truncated) err = %v, wanted ErrMalformedEncoding", err)
	}
}

func TestAppendID(t *testing.T) {
	id := NewObjectID()
	raw := must(Encode(Doc{{"a", int32(1)}}))
	out, err := AppendID(raw, id)
	noerr(t, err)
	deepEqual(t, must(Decode(out)), Doc{{"a", int32(1)}, {"_id", id}})
	deepEqual(t, must(Decode(raw)), Doc{{"a", int32(1)}})

	_, err = AppendID(append(raw, 0), id)
	if !errors.Is(err, ErrMalformedEncoding) {
		t.Errorf("AppendID(trailing) err = %v, wanted ErrMalformedEncoding", err)
	}
}

func TestRecordID(t *testing.T) {
	id := NewObjectID()
	raw := must(Encode(Doc{{"_id", id}}))
	got, out, err := RecordID(raw)
	noerr(t, err)
	deepEqual(t, got, id)
	if &out[0] != &raw[0] {
		t.Errorf("RecordID copied a document that already has an _id")
	}

	got, out, err = RecordID(must(Encode(Doc{{"x", 1}})))
	noerr(t, err)
	if got.IsZero() {
		t.Fatalf("RecordID did not assign an id")
	}
	deepEqual(t, must(Decode(out)), Doc{{"x", int32(1)}, {"_id", got}})
}

func TestTagName(t *testing.T) {
	deepEqual(t, tagName(tagObjectID).String(), "objectId")
	deepEqual(t, tagName(0x7f).String(), "0x7f")
}
