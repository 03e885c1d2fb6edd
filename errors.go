package ejdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidIdentifier is returned for identifier bytes that are not a valid ObjectID.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnsupportedValueKind is returned when a document holds a value BSON cannot represent.
	ErrUnsupportedValueKind = errors.New("unsupported value kind")

	// ErrMalformedEncoding is returned for corrupt or truncated document bytes.
	ErrMalformedEncoding = errors.New("malformed encoding")

	// ErrStorageUnavailable is returned when the engine fails to allocate, read or write.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotSupported is returned when the engine lacks an optional capability.
	ErrNotSupported = errors.New("not supported by engine")

	ErrClosed      = errors.New("database is closed")
	ErrReadOnly    = errors.New("database is read-only")
	ErrInvalidName = errors.New("invalid collection name")
)

// DataError describes a malformed byte sequence. It always matches
// ErrMalformedEncoding via errors.Is.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ErrMalformedEncoding
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x", e.Msg, e.Off, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x", e.Msg, e.Off, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s at %d: %v: (%d) %x...%x", e.Msg, e.Off, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s at %d: (%d) %x...%x", e.Msg, e.Off, n, p, s)
		}
	}
}

type unsupportedValueError struct {
	Path  string
	Value any
}

func (e *unsupportedValueError) Error() string {
	return fmt.Sprintf("%s: cannot encode %T at %q", ErrUnsupportedValueKind.Error(), e.Value, e.Path)
}

func (e *unsupportedValueError) Unwrap() error {
	return ErrUnsupportedValueKind
}

// CollectionError reports a failed collection operation.
type CollectionError struct {
	Coll string
	Op   string
	ID   ObjectID
	Err  error
}

func collErrf(coll, op string, id ObjectID, err error) error {
	return &CollectionError{coll, op, id, err}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

func (e *CollectionError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Coll)
	if !e.ID.IsZero() {
		buf.WriteByte('/')
		buf.WriteString(e.ID.Hex())
	}
	buf.WriteString(": ")
	buf.WriteString(e.Op)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// BatchError is returned by SaveMany when a document fails to save.
// Documents before Index have been committed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch item %d: %v", e.Index, e.Err)
}

// storageErr classifies an engine error. Errors that already carry one of
// the codec or identifier kinds pass through, everything else becomes
// ErrStorageUnavailable.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrMalformedEncoding) ||
		errors.Is(err, ErrUnsupportedValueKind) ||
		errors.Is(err, ErrInvalidIdentifier) ||
		errors.Is(err, ErrNotSupported) ||
		errors.Is(err, ErrInvalidName) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
