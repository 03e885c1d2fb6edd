package ejdb

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// MarshalJSON renders d as JSON, keeping key order. Values without a JSON
// counterpart use extended JSON wrappers: {"$oid": ...}, {"$date": ...},
// {"$binary": {"base64": ..., "subType": ...}}, {"$numberLong": ...} and
// {"$numberDouble": ...} for non-finite doubles.
func (d Doc) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSONDoc(&buf, d, ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object produced by MarshalJSON or written by hand.
// Integral numbers become int32 (or int64 if they do not fit), other
// numbers become float64.
func (d *Doc) UnmarshalJSON(data []byte) error {
	doc, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

// ParseJSON parses a single JSON object into a Doc.
func ParseJSON(data []byte) (Doc, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSONValue(dec)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(Doc)
	if !ok {
		return nil, fmt.Errorf("ejdb: JSON document must be an object, got %s", typeName(v))
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("ejdb: unexpected data after JSON document")
	}
	return doc, nil
}

func writeJSONDoc(buf *bytes.Buffer, d Doc, path string) error {
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, e.Key)
		buf.WriteByte(':')
		if err := writeJSONValue(buf, e.Value, joinPath(path, e.Key)); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}

func writeJSONValue(buf *bytes.Buffer, v any, path string) error {
	switch v := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case string:
		writeJSONString(buf, v)
	case int32:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case int:
		if v >= math.MinInt32 && v <= math.MaxInt32 {
			buf.WriteString(strconv.Itoa(v))
		} else {
			fmt.Fprintf(buf, `{"$numberLong":"%d"}`, v)
		}
	case int64:
		fmt.Fprintf(buf, `{"$numberLong":"%d"}`, v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			fmt.Fprintf(buf, `{"$numberDouble":"%s"}`, strconv.FormatFloat(v, 'g', -1, 64))
			break
		}
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case ObjectID:
		fmt.Fprintf(buf, `{"$oid":"%s"}`, v.Hex())
	case time.Time:
		fmt.Fprintf(buf, `{"$date":"%s"}`, v.UTC().Format(jsonDateLayout))
	case []byte:
		writeJSONBinary(buf, 0, v)
	case Binary:
		writeJSONBinary(buf, v.Subtype, v.Data)
	case Doc:
		return writeJSONDoc(buf, v, path)
	case map[string]any:
		return writeJSONDoc(buf, docFromMap(v), path)
	case A:
		return writeJSONArray(buf, v, path)
	case []any:
		return writeJSONArray(buf, A(v), path)
	case []Doc:
		a := make(A, len(v))
		for i, d := range v {
			a[i] = d
		}
		return writeJSONArray(buf, a, path)
	default:
		return &unsupportedValueError{path, v}
	}
	return nil
}

func writeJSONArray(buf *bytes.Buffer, a A, path string) error {
	buf.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(buf, v, joinPath(path, strconv.Itoa(i))); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeJSONBinary(buf *bytes.Buffer, subtype byte, data []byte) {
	fmt.Fprintf(buf, `{"$binary":{"base64":"%s","subType":"%02x"}}`, base64.StdEncoding.EncodeToString(data), subtype)
}

const jsonDateLayout = "2006-01-02T15:04:05.000Z07:00"

func readJSONValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("ejdb: invalid JSON: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := Doc{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("ejdb: invalid JSON: %w", err)
				}
				key, _ := keyTok.(string)
				v, err := readJSONValue(dec)
				if err != nil {
					return nil, err
				}
				doc = append(doc, E{key, v})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("ejdb: invalid JSON: %w", err)
			}
			return unwrapExtendedJSON(doc)
		case '[':
			a := A{}
			for dec.More() {
				v, err := readJSONValue(dec)
				if err != nil {
					return nil, err
				}
				a = append(a, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("ejdb: invalid JSON: %w", err)
			}
			return a, nil
		}
		return nil, fmt.Errorf("ejdb: invalid JSON: unexpected %v", t)
	case json.Number:
		return parseJSONNumber(t)
	case string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("ejdb: invalid JSON token %T", tok)
	}
}

func parseJSONNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			if v >= math.MinInt32 && v <= math.MaxInt32 {
				return int32(v), nil
			}
			return v, nil
		}
	}
	return n.Float64()
}

// unwrapExtendedJSON converts single-key wrapper objects like {"$oid": ...}
// into their typed values. Other objects are returned unchanged.
func unwrapExtendedJSON(doc Doc) (any, error) {
	if len(doc) != 1 || !strings.HasPrefix(doc[0].Key, "$") {
		return doc, nil
	}
	key, v := doc[0].Key, doc[0].Value
	switch key {
	case "$oid":
		s, _ := v.(string)
		return ObjectIDFromHex(s)
	case "$date":
		switch v := v.(type) {
		case string:
			t, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("ejdb: invalid $date %q: %w", v, err)
			}
			return time.UnixMilli(t.UnixMilli()).UTC(), nil
		case int32:
			return time.UnixMilli(int64(v)).UTC(), nil
		case int64:
			return time.UnixMilli(v).UTC(), nil
		}
		return nil, fmt.Errorf("ejdb: invalid $date %v", v)
	case "$numberLong", "$numberInt", "$numberDouble":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ejdb: %s must be a string", key)
		}
		switch key {
		case "$numberLong":
			return strconv.ParseInt(s, 10, 64)
		case "$numberInt":
			n, err := strconv.ParseInt(s, 10, 32)
			return int32(n), err
		default:
			return strconv.ParseFloat(s, 64)
		}
	case "$binary":
		inner, ok := v.(Doc)
		if !ok {
			return nil, fmt.Errorf("ejdb: $binary must be an object")
		}
		b64, _ := inner.Get("base64")
		st, _ := inner.Get("subType")
		b64s, _ := b64.(string)
		sts, _ := st.(string)
		data, err := base64.StdEncoding.DecodeString(b64s)
		if err != nil {
			return nil, fmt.Errorf("ejdb: invalid $binary: %w", err)
		}
		var subtype uint64
		if sts != "" {
			subtype, err = strconv.ParseUint(sts, 16, 8)
			if err != nil {
				return nil, fmt.Errorf("ejdb: invalid $binary subType %q: %w", sts, err)
			}
		}
		if subtype == 0 {
			return data, nil
		}
		return Binary{byte(subtype), data}, nil
	}
	return doc, nil
}
