package raw

import (
	"fmt"
	"io"
)

// ObjectRef uniquely identifies an indirect PDF object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Kind tags the variants of Object. The set is closed; every Object reports
// exactly one of these.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindReal
	KindString
	KindName
	KindArray
	KindDict
	KindStream
	KindIndirect
	KindRef
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "boolean",
	KindInt:      "integer",
	KindReal:     "real",
	KindString:   "string",
	KindName:     "name",
	KindArray:    "array",
	KindDict:     "dict",
	KindStream:   "stream",
	KindIndirect: "indirect",
	KindRef:      "ref",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Object is the base interface for all raw PDF objects. Implementations live
// in this package only.
type Object interface {
	Kind() Kind
	Type() string
	IsIndirect() bool
	object()
}

// StreamSource hands out the undecoded bytes of a stream on demand.
type StreamSource interface {
	Open(offset, length int64) (io.Reader, error)
}

// ReaderAtSource serves stream bytes straight from the underlying file.
type ReaderAtSource struct {
	R io.ReaderAt
}

func (s ReaderAtSource) Open(offset, length int64) (io.Reader, error) {
	if s.R == nil {
		return nil, fmt.Errorf("stream source: no reader")
	}
	return io.NewSectionReader(s.R, offset, length), nil
}

// BytesSource serves stream bytes from memory; offsets index into the slice.
type BytesSource []byte

func (b BytesSource) Open(offset, length int64) (io.Reader, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(b)) {
		return nil, fmt.Errorf("stream source: range %d+%d outside %d bytes", offset, length, len(b))
	}
	return &sliceReader{data: b[offset : offset+length]}, nil
}

type sliceReader struct {
	data []byte
	pos  int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
