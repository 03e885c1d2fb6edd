package ejdb

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func typeName(v any) string {
	if t, ok := v.(tagName); ok {
		return t.String()
	}
	return fmt.Sprintf("%T", v)
}

// ValidateName rejects collection names engines cannot store as bucket,
// key prefix or column values.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLen || strings.ContainsAny(name, "\x00/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

func hexAttr(key string, b []byte) slog.Attr {
	return slog.String(key, hexstr(b))
}
