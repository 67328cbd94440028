package raw

import (
	"io"
)

// Name object
type NameObj struct{ Val string }

func (n NameObj) Kind() Kind       { return KindName }
func (n NameObj) Type() string     { return "name" }
func (n NameObj) IsIndirect() bool { return false }
func (n NameObj) Value() string    { return n.Val }
func (NameObj) object()            {}

// Number object. Integers and reals share the representation; Kind tells
// them apart.
type NumberObj struct {
	I     int64
	F     float64
	IsInt bool
}

func (n NumberObj) Kind() Kind {
	if n.IsInt {
		return KindInt
	}
	return KindReal
}
func (n NumberObj) Type() string     { return n.Kind().String() }
func (n NumberObj) IsIndirect() bool { return false }
func (n NumberObj) Int() int64 {
	if n.IsInt {
		return n.I
	}
	return int64(n.F)
}
func (n NumberObj) Float() float64 {
	if n.IsInt {
		return float64(n.I)
	}
	return n.F
}
func (n NumberObj) IsInteger() bool { return n.IsInt }
func (NumberObj) object()           {}

// Boolean object
type BoolObj struct{ V bool }

func (b BoolObj) Kind() Kind       { return KindBool }
func (b BoolObj) Type() string     { return "boolean" }
func (b BoolObj) IsIndirect() bool { return false }
func (b BoolObj) Value() bool      { return b.V }
func (BoolObj) object()            {}

// Null object
type NullObj struct{}

func (n NullObj) Kind() Kind       { return KindNull }
func (n NullObj) Type() string     { return "null" }
func (n NullObj) IsIndirect() bool { return false }
func (NullObj) object()            {}

// String object. Hex records whether the source used <...> notation; the
// bytes are always the decoded payload.
type StringObj struct {
	Bytes []byte
	Hex   bool
}

func (s StringObj) Kind() Kind       { return KindString }
func (s StringObj) Type() string     { return "string" }
func (s StringObj) IsIndirect() bool { return false }
func (s StringObj) Value() []byte    { return s.Bytes }
func (s StringObj) IsHex() bool      { return s.Hex }
func (StringObj) object()            {}

// Array object
type ArrayObj struct{ Items []Object }

func (a *ArrayObj) Kind() Kind       { return KindArray }
func (a *ArrayObj) Type() string     { return "array" }
func (a *ArrayObj) IsIndirect() bool { return false }
func (a *ArrayObj) Get(i int) (Object, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}
func (a *ArrayObj) Len() int        { return len(a.Items) }
func (a *ArrayObj) Append(o Object) { a.Items = append(a.Items, o) }
func (*ArrayObj) object()           {}

// DictObj is an ordered dictionary. Setting an existing key overwrites the
// value in place; setting null removes the key.
type DictObj struct {
	keys []string
	kv   map[string]Object
}

func (d *DictObj) Kind() Kind       { return KindDict }
func (d *DictObj) Type() string     { return "dict" }
func (d *DictObj) IsIndirect() bool { return false }
func (*DictObj) object()            {}

func (d *DictObj) Get(key string) (Object, bool) {
	if d == nil {
		return nil, false
	}
	o, ok := d.kv[key]
	return o, ok
}

func (d *DictObj) Set(key string, value Object) {
	if value == nil || value.Kind() == KindNull {
		d.Delete(key)
		return
	}
	if d.kv == nil {
		d.kv = make(map[string]Object)
	}
	if _, ok := d.kv[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.kv[key] = value
}

func (d *DictObj) Delete(key string) {
	if _, ok := d.kv[key]; !ok {
		return
	}
	delete(d.kv, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *DictObj) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

func (d *DictObj) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Name returns the value under key when it is a name.
func (d *DictObj) Name(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	n, ok := v.(NameObj)
	return n.Val, ok
}

// Int returns the value under key when it is an integer.
func (d *DictObj) Int(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	n, ok := v.(NumberObj)
	if !ok || !n.IsInt {
		return 0, false
	}
	return n.I, true
}

// Stream object. The payload is a byte range in Source, pulled only when a
// consumer asks for it.
type StreamObj struct {
	Dict   *DictObj
	Offset int64
	Size   int64
	Source StreamSource
}

func (s *StreamObj) Kind() Kind       { return KindStream }
func (s *StreamObj) Type() string     { return "stream" }
func (s *StreamObj) IsIndirect() bool { return false }
func (*StreamObj) object()            {}
func (s *StreamObj) Length() int64    { return s.Size }

// Reader opens the raw (still encoded) payload.
func (s *StreamObj) Reader() (io.Reader, error) {
	if s.Source == nil {
		return &sliceReader{}, nil
	}
	return s.Source.Open(s.Offset, s.Size)
}

// RawData reads the whole raw payload.
func (s *StreamObj) RawData() ([]byte, error) {
	r, err := s.Reader()
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// IndirectObj is an object definition "N G obj ... endobj".
type IndirectObj struct {
	Ref   ObjectRef
	Value Object
}

func (o IndirectObj) Kind() Kind       { return KindIndirect }
func (o IndirectObj) Type() string     { return "indirect" }
func (o IndirectObj) IsIndirect() bool { return true }
func (IndirectObj) object()            {}

// Reference object
type RefObj struct{ R ObjectRef }

func (r RefObj) Kind() Kind       { return KindRef }
func (r RefObj) Type() string     { return "ref" }
func (r RefObj) IsIndirect() bool { return true }
func (r RefObj) Ref() ObjectRef   { return r.R }
func (RefObj) object()            {}

// Helpers
func NameLiteral(v string) NameObj    { return NameObj{Val: v} }
func NumberInt(i int64) NumberObj     { return NumberObj{I: i, IsInt: true} }
func NumberFloat(f float64) NumberObj { return NumberObj{F: f, IsInt: false} }
func Bool(v bool) BoolObj             { return BoolObj{V: v} }
func Str(bytes []byte) StringObj      { return StringObj{Bytes: bytes} }
func HexStr(bytes []byte) StringObj   { return StringObj{Bytes: bytes, Hex: true} }
func NewArray(items ...Object) *ArrayObj {
	return &ArrayObj{Items: items}
}
func Dict() *DictObj { return &DictObj{kv: make(map[string]Object)} }
func NewStream(dict *DictObj, data []byte) *StreamObj {
	return &StreamObj{Dict: dict, Size: int64(len(data)), Source: BytesSource(data)}
}
func Ref(num, gen int) RefObj { return RefObj{R: ObjectRef{Num: num, Gen: gen}} }
