package decoded

import (
	"bytes"
	"compress/zlib"
	"context"
	"testing"

	"github.com/wudi/pdfgraph/filters"
	"github.com/wudi/pdfgraph/ir/raw"
)

type uppercaseDecoder struct{}

func (uppercaseDecoder) Name() string { return "Upper" }
func (uppercaseDecoder) Decode(ctx context.Context, in []byte, params *raw.DictObj) ([]byte, error) {
	return bytes.ToUpper(in), nil
}

type mapFetcher map[raw.ObjectRef]raw.Object

func (m mapFetcher) Fetch(ref raw.ObjectRef) (raw.Object, error) {
	if obj, ok := m[ref]; ok {
		return obj, nil
	}
	return raw.NullObj{}, nil
}

func streamWith(filter string, data []byte) *raw.StreamObj {
	dict := raw.Dict()
	if filter != "" {
		dict.Set("Filter", raw.NameLiteral(filter))
	}
	return raw.NewStream(dict, data)
}

func TestDecoderAppliesFilters(t *testing.T) {
	src := mapFetcher{
		{Num: 1}: streamWith("Upper", []byte("hello")),
		{Num: 2}: streamWith("", []byte("plain")),
		{Num: 3}: raw.NumberInt(3),
	}
	pipeline := filters.NewPipeline([]filters.Decoder{uppercaseDecoder{}}, filters.Limits{})
	refs := []raw.ObjectRef{{Num: 1}, {Num: 2}, {Num: 3}, {Num: 4}}

	streams, err := NewDecoder(pipeline).Decode(context.Background(), src, refs)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("expected two streams, got %d", len(streams))
	}
	if got := string(streams[raw.ObjectRef{Num: 1}].Data); got != "HELLO" {
		t.Fatalf("expected HELLO, got %s", got)
	}
	if got := string(streams[raw.ObjectRef{Num: 2}].Data); got != "plain" {
		t.Fatalf("expected plain, got %s", got)
	}
}

func TestDecoderReportsFilterFailure(t *testing.T) {
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	w.Write([]byte("compressed body"))
	w.Close()
	src := mapFetcher{
		{Num: 1}: streamWith("FlateDecode", z.Bytes()),
		{Num: 2}: streamWith("NoSuchFilter", []byte("x")),
	}

	streams, err := NewDecoder(nil).Decode(context.Background(), src, []raw.ObjectRef{{Num: 1}, {Num: 2}})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s := streams[raw.ObjectRef{Num: 1}]; s.Err != nil || string(s.Data) != "compressed body" {
		t.Fatalf("unexpected flate result %q %v", s.Data, s.Err)
	}
	if s := streams[raw.ObjectRef{Num: 2}]; s.Err == nil || string(s.Data) != "x" {
		t.Fatalf("unknown filter should be reported and leave the payload, got %q %v", s.Data, s.Err)
	}
}

func TestDecoderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDecoder(nil).Decode(ctx, mapFetcher{}, []raw.ObjectRef{{Num: 1}})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
