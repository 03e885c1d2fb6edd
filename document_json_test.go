package ejdb

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestDocJSON(t *testing.T) {
	id := ObjectID(x("650000000102030405060708"))
	doc := Doc{
		{"_id", id},
		{"n", int32(1)},
		{"big", int64(5)},
		{"f", 2.0},
		{"g", 0.5},
		{"s", "q\"uote"},
		{"t", time.UnixMilli(1700000000123).UTC()},
		{"b", []byte{1, 2}},
		{"bin", Binary{5, []byte{3}}},
		{"arr", A{nil, true}},
		{"inf", math.Inf(1)},
		{"sub", Doc{{"z", "y"}}},
	}
	raw, err := json.Marshal(doc)
	noerr(t, err)
	deepEqual(t, string(raw), `{"_id":{"$oid":"650000000102030405060708"},"n":1,"big":{"$numberLong":"5"},`+
		`"f":2.0,"g":0.5,"s":"q\"uote","t":{"$date":"2023-11-14T22:13:20.123Z"},`+
		`"b":{"$binary":{"base64":"AQI=","subType":"00"}},"bin":{"$binary":{"base64":"Aw==","subType":"05"}},`+
		`"arr":[null,true],"inf":{"$numberDouble":"+Inf"},"sub":{"z":"y"}}`)

	var back Doc
	noerr(t, json.Unmarshal(raw, &back))
	deepEqual(t, back, doc)
}

func TestDocJSONDocSlice(t *testing.T) {
	doc := Doc{{"items", []Doc{{{"a", "x"}}, {{"b", true}}}}}
	_, err := Encode(doc)
	noerr(t, err)

	raw, err := json.Marshal(doc)
	noerr(t, err)
	deepEqual(t, string(raw), `{"items":[{"a":"x"},{"b":true}]}`)

	back, err := ParseJSON(raw)
	noerr(t, err)
	deepEqual(t, back, Doc{{"items", A{Doc{{"a", "x"}}, Doc{{"b", true}}}}})
}

func TestParseJSONNumbers(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"a":1,"b":3000000000,"c":1.0,"d":1e3,"e":{"$numberInt":"7"},"f":{"$date":1000}}`))
	noerr(t, err)
	deepEqual(t, doc, Doc{
		{"a", int32(1)},
		{"b", int64(3000000000)},
		{"c", 1.0},
		{"d", 1000.0},
		{"e", int32(7)},
		{"f", time.UnixMilli(1000).UTC()},
	})
}

func TestParseJSONKeepsOrdinaryDollarKeys(t *testing.T) {
	doc, err := ParseJSON([]byte(`{"q":{"$gt":1}}`))
	noerr(t, err)
	deepEqual(t, doc, Doc{{"q", Doc{{"$gt", int32(1)}}}})
}

func TestParseJSONErrors(t *testing.T) {
	for _, s := range []string{
		``,
		`[1]`,
		`"str"`,
		`{"a":1} x`,
		`{"a":`,
		`{"d":{"$date":"yesterday"}}`,
		`{"n":{"$numberLong":5}}`,
		`{"b":{"$binary":"AQI="}}`,
		`{"b":{"$binary":{"base64":"!!","subType":"00"}}}`,
	} {
		if _, err := ParseJSON([]byte(s)); err == nil {
			t.Errorf("ParseJSON(%s) succeeded, wanted error", s)
		}
	}

	_, err := ParseJSON([]byte(`{"_id":{"$oid":"zz"}}`))
	if !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("ParseJSON(bad $oid) err = %v, wanted ErrInvalidIdentifier", err)
	}
}

func TestDocJSONUnsupported(t *testing.T) {
	_, err := Doc{{"a", uint8(1)}}.MarshalJSON()
	if !errors.Is(err, ErrUnsupportedValueKind) {
		t.Errorf("MarshalJSON err = %v, wanted ErrUnsupportedValueKind", err)
	}
}
