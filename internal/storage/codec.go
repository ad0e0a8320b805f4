package storage

import (
	"compress/gzip"
	"errors"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// ErrUnimplementedCodec is returned by NewWriter for a codec named in
// spec.md §4.10's enum that has no library in this module's dependency set.
// lz4 and brotli are both listed there but no example repo in the retrieved
// pack wires either one, so rather than fabricate a dependency they are
// accepted as valid CodecName values (so config validation doesn't reject
// them) but fail at write time with this error.
var ErrUnimplementedCodec = errors.New("storage: codec not implemented")

// CodecName selects a compression codec for partition files (spec.md §4.10).
type CodecName string

const (
	CodecNone   CodecName = "none"
	CodecSnappy CodecName = "snappy"
	CodecGzip   CodecName = "gzip"
	CodecZstd   CodecName = "zstd"
	CodecLZ4    CodecName = "lz4"
	CodecBrotli CodecName = "brotli"
)

// Codec wraps an underlying writer with compression framing and reports the
// file extension its output should carry.
type Codec interface {
	Name() CodecName
	Extension() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
}

// CodecFor resolves name to its Codec implementation. An unrecognized name
// falls back to CodecNone.
func CodecFor(name CodecName) Codec {
	switch name {
	case CodecSnappy:
		return snappyCodec{}
	case CodecGzip:
		return gzipCodec{}
	case CodecZstd:
		return zstdCodec{}
	case CodecLZ4:
		return unimplementedCodec{name: CodecLZ4, ext: ".lz4"}
	case CodecBrotli:
		return unimplementedCodec{name: CodecBrotli, ext: ".br"}
	default:
		return noneCodec{}
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type noneCodec struct{}

func (noneCodec) Name() CodecName { return CodecNone }
func (noneCodec) Extension() string { return "" }
func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

// gzipCodec uses stdlib compress/gzip — no pack example imports a
// third-party gzip replacement, and stdlib gzip is the idiomatic choice the
// corpus itself would reach for here.
type gzipCodec struct{}

func (gzipCodec) Name() CodecName { return CodecGzip }
func (gzipCodec) Extension() string { return ".gz" }
func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

// zstdCodec is promoted from the teacher's transitive nats.go dependency on
// klauspost/compress to a direct import (spec.md §4.10 names zstd in the
// codec enum; nothing in the teacher used it directly).
type zstdCodec struct{}

func (zstdCodec) Name() CodecName { return CodecZstd }
func (zstdCodec) Extension() string { return ".zst" }
func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// snappyCodec uses klauspost/compress/s2 in Snappy-compatible mode: s2 is
// the same library family as zstd above and its snappy-compat writer
// produces a stream any Snappy reader can decode, without pulling in a
// second, unrelated snappy implementation.
type snappyCodec struct{}

func (snappyCodec) Name() CodecName { return CodecSnappy }
func (snappyCodec) Extension() string { return ".sz" }
func (snappyCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return s2.NewWriter(w, s2.WriterSnappyCompat()), nil
}

type unimplementedCodec struct {
	name CodecName
	ext  string
}

func (u unimplementedCodec) Name() CodecName   { return u.name }
func (u unimplementedCodec) Extension() string { return u.ext }
func (u unimplementedCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nil, ErrUnimplementedCodec
}
