package ejdb

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

type recordFlags uint64

const (
	rfVerBit0 = recordFlags(1 << iota)
	rfVerBit1
	rfVerBit2
	rfVerBit3
	rfCompressionBit0

	rfVerMask       = (rfVerBit0 | rfVerBit1 | rfVerBit2 | rfVerBit3)
	rfVer1          = rfVerBit0
	rfZstd          = rfCompressionBit0
	rfSupportedMask = (rfVer1 | rfZstd)
	rfDefault       = rfVer1

	checksumSize  = 8
	minRecordSize = 1 + checksumSize + minDocSize
)

func (rf recordFlags) ver() recordFlags {
	return rf & rfVerMask
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEnc = must(zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)))
		zstdDec = must(zstd.NewReader(nil))
	})
	return zstdEnc, zstdDec
}

// PackRecord wraps an encoded document into the at-rest record format:
//
//	flags:uvarint checksum:64 body
//
// The checksum is xxhash64 of the uncompressed document. With compressed
// set, the body is zstd-compressed.
func PackRecord(doc []byte, compressed bool) []byte {
	flags := rfDefault
	if compressed {
		flags |= rfZstd
	}
	buf := make([]byte, 0, binary.MaxVarintLen64+checksumSize+len(doc))
	buf = appendUvarint(buf, uint64(flags))
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(doc))
	if compressed {
		enc, _ := zstdCodecs()
		return enc.EncodeAll(doc, buf)
	}
	return append(buf, doc...)
}

// UnpackRecord validates a record produced by PackRecord and returns the
// encoded document. Damage is reported as a *DataError.
func UnpackRecord(raw []byte) ([]byte, error) {
	if len(raw) < minRecordSize {
		return nil, dataErrf(raw, 0, nil, "invalid record: at least %d bytes required", minRecordSize)
	}
	d := makeByteDecoder(raw)
	v, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	flags := recordFlags(v)
	if (flags &^ rfSupportedMask) != 0 {
		return nil, dataErrf(raw, 0, nil, "invalid record: unsupported flags %x", v)
	}
	if flags.ver() != rfVer1 {
		return nil, dataErrf(raw, 0, nil, "invalid record: unsupported version %d", flags.ver())
	}
	sum, err := d.Raw(checksumSize)
	if err != nil {
		return nil, err
	}
	body := d.Buf
	if flags&rfZstd != 0 {
		_, dec := zstdCodecs()
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return nil, dataErrf(raw, d.Off(), err, "invalid record: decompression failed")
		}
	} else {
		body = append([]byte(nil), body...)
	}
	if xxhash.Sum64(body) != binary.BigEndian.Uint64(sum) {
		return nil, dataErrf(raw, d.Off()-checksumSize, nil, "invalid record: checksum mismatch")
	}
	return body, nil
}
