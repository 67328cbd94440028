package xref_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/xref"
)

func rebuild(t *testing.T, data []byte, cfg xref.Config) *xref.Table {
	t.Helper()
	tbl := xref.NewTable(&readerAt{data: data}, cfg)
	tr, err := tbl.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	tbl.Finalize(tr)
	return tbl
}

func TestRebuildRecoversMissingXRef(t *testing.T) {
	// Build a PDF with NO xref table or startxref
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// No xref, no startxref, just EOF
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R /Info 5 0 R >>\n")
	buf.WriteString("%%EOF\n")

	tbl := xref.NewTable(&readerAt{data: buf.Bytes()}, xref.Config{})
	if _, err := tbl.Build(context.Background()); err == nil {
		t.Fatal("expected error on missing startxref, got nil")
	}
	tr, err := tbl.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	tbl.Finalize(tr)
	if !tbl.Rebuilt() {
		t.Fatalf("table should report the rebuild")
	}

	if e, ok := tbl.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 lookup failed or wrong offset: got %d, want %d, ok=%v", e.Offset, off1, ok)
	}
	if e, ok := tbl.Lookup(2); !ok || e.Offset != int64(off2) {
		t.Errorf("object 2 lookup failed or wrong offset: got %d, want %d, ok=%v", e.Offset, off2, ok)
	}
	if !tr.HasRoot || tr.Root.R.Num != 1 || tr.Size != 3 {
		t.Fatalf("unexpected trailer %+v", tr)
	}
	if _, ok := tr.Dict.Get("Info"); !ok {
		t.Fatalf("Info should be carried from the scanned trailer")
	}
}

func TestRebuildSkipsGarbagePrefix(t *testing.T) {
	// Test case for "1 2 0 obj" where "1" is garbage
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	// Garbage number followed by valid object
	buf.WriteString("999 ")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< >>\nendobj\n")

	buf.WriteString("trailer\n<< /Size 2 /Root 1 0 R >>\n%%EOF\n")

	tbl := rebuild(t, buf.Bytes(), xref.Config{})
	if e, ok := tbl.Lookup(1); !ok || e.Offset != int64(off1) {
		t.Errorf("object 1 lookup failed: got %d, want %d", e.Offset, off1)
	}
	if _, ok := tbl.Lookup(999); ok {
		t.Errorf("garbage number must not become an object")
	}
}

func TestRebuildAfterXRefReplacedByGarbage(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	at := bytes.Index(pdf, []byte("xref\n0 3"))
	end := bytes.Index(pdf, []byte("trailer"))
	for i := at; i < end; i++ {
		pdf[i] = '#'
	}

	tbl := xref.NewTable(&readerAt{data: pdf}, xref.Config{})
	if _, err := tbl.Build(context.Background()); err == nil {
		t.Fatalf("expected build to fail on the damaged table")
	}
	tr, err := tbl.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	tbl.Finalize(tr)
	for num, off := range offsets {
		if e, ok := tbl.Lookup(num); !ok || e.Offset != off {
			t.Fatalf("object %d: got %+v, want offset %d", num, e, off)
		}
	}
	if typ, _ := fetchDict(t, tbl, 1).Name("Type"); typ != "Catalog" {
		t.Fatalf("expected catalog, got %q", typ)
	}
}

func TestRebuildFallsBackToHighestCatalog(t *testing.T) {
	data := []byte("%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog /Pages 3 0 R >> endobj\n" +
		"3 0 obj << /Type /Pages /Count 0 >> endobj\n" +
		"5 0 obj << /Pages 3 0 R /Type /Catalog >> endobj\n" +
		"7 0 obj << /Kids [1 0 R] /Type /Pages >> endobj\n")
	tbl := rebuild(t, data, xref.Config{})
	tr := tbl.Trailer()
	if !tr.HasRoot || tr.Root.R.Num != 5 {
		t.Fatalf("expected object 5 as Root, got %+v", tr.Root)
	}
	if tr.Size != 8 {
		t.Fatalf("expected Size past the highest object, got %d", tr.Size)
	}
}

func TestRebuildReplacesRootThatDoesNotExist(t *testing.T) {
	data := []byte("%PDF-1.4\n" +
		"2 0 obj << /Type /Catalog >> endobj\n" +
		"trailer << /Root 40 0 R >>\n")
	tbl := rebuild(t, data, xref.Config{})
	if root := tbl.Trailer().Root.R.Num; root != 2 {
		t.Fatalf("expected catalog 2, got %d", root)
	}
}

func TestRebuildDuplicatePolicy(t *testing.T) {
	data := []byte("%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog >> endobj\n" +
		"2 0 obj << /V 1 >> endobj\n" +
		"2 0 obj << /V 2 >> endobj\n")
	for _, tc := range []struct {
		policy recovery.DuplicatePolicy
		want   int64
	}{
		{recovery.LastWins, 2},
		{recovery.FirstWins, 1},
	} {
		t.Run(tc.policy.String(), func(t *testing.T) {
			tbl := rebuild(t, data, xref.Config{Duplicates: tc.policy})
			if v, _ := fetchDict(t, tbl, 2).Int("V"); v != tc.want {
				t.Fatalf("expected V %d, got %d", tc.want, v)
			}
		})
	}
}

func TestRebuildToleratesMissingEndobjAndTruncation(t *testing.T) {
	data := []byte("%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog >>\n" +
		"2 0 obj (two) endobj\n" +
		"3 0 obj << /Length 40 >> stream\nabc")
	tbl := rebuild(t, data, xref.Config{})
	if typ, _ := fetchDict(t, tbl, 1).Name("Type"); typ != "Catalog" {
		t.Fatalf("object without endobj should still read, got %q", typ)
	}
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 2})
	if err != nil || string(obj.(raw.StringObj).Bytes) != "two" {
		t.Fatalf("unexpected object 2 %#v %v", obj, err)
	}
	if _, ok := tbl.Lookup(3); !ok {
		t.Fatalf("truncated object 3 should still be indexed")
	}
}

func TestRebuildSkipsStreamBodies(t *testing.T) {
	data := []byte("%PDF-1.4\n" +
		"1 0 obj << /Type /Catalog >> endobj\n" +
		"2 0 obj << /Length 999 >> stream\n9 0 obj (inside) endobj\nendstream endobj\n")
	tbl := rebuild(t, data, xref.Config{})
	if _, ok := tbl.Lookup(9); ok {
		t.Fatalf("text inside a stream must not be indexed")
	}
	if _, ok := tbl.Lookup(2); !ok {
		t.Fatalf("stream object should be indexed")
	}
}

func TestRebuildExpandsObjectStreams(t *testing.T) {
	content := "<< /Val 7 >> (compressed)"
	header := fmt.Sprintf("4 0 5 %d ", len("<< /Val 7 >>")+1)
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n1 0 obj << /Type /Catalog >> endobj\n")
	fmt.Fprintf(buf, "3 0 obj << /Type /ObjStm /N 2 /First %d /Length %d >> stream\n%s%s\nendstream endobj\n",
		len(header), len(header)+len(content), header, content)
	buf.WriteString("5 0 obj (direct) endobj\n")
	tbl := rebuild(t, buf.Bytes(), xref.Config{})

	if e, ok := tbl.Lookup(4); !ok || e.Kind != xref.EntryCompressed || e.Container != 3 {
		t.Fatalf("object 4 should come from the object stream, got %+v", e)
	}
	if v, _ := fetchDict(t, tbl, 4).Int("Val"); v != 7 {
		t.Fatalf("expected Val 7, got %d", v)
	}
	e, _ := tbl.Lookup(5)
	if e.Kind != xref.EntryInUse {
		t.Fatalf("a direct definition must beat the compressed copy, got %+v", e)
	}
	obj, _ := tbl.Fetch(raw.ObjectRef{Num: 5})
	if string(obj.(raw.StringObj).Bytes) != "direct" {
		t.Fatalf("unexpected object 5 %#v", obj)
	}
}

func TestRebuildRecoversTrailerFromXRefStream(t *testing.T) {
	data := buildXRefStreamPDF()
	cut := bytes.LastIndex(data, []byte("startxref"))
	data = data[:cut]

	tbl := xref.NewTable(&readerAt{data: data}, xref.Config{})
	if _, err := tbl.Build(context.Background()); err == nil {
		t.Fatalf("expected build to fail without startxref")
	}
	tr, err := tbl.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	tbl.Finalize(tr)
	if !tr.HasRoot || tr.Root.R.Num != 1 {
		t.Fatalf("Root should come from the cross-reference stream dictionary, got %+v", tr)
	}
	if _, ok := tr.Dict.Get("W"); ok {
		t.Fatalf("stream keys must not leak into the trailer")
	}
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 5})
	if err != nil || obj.(raw.NumberObj).Int() != 5 {
		t.Fatalf("compressed object 5 should be recovered, got %#v %v", obj, err)
	}
}

func TestRebuildWithoutObjectsFails(t *testing.T) {
	tbl := xref.NewTable(&readerAt{data: []byte("%PDF-1.4\nnothing to see here\n%%EOF")}, xref.Config{})
	_, err := tbl.Rebuild(context.Background())
	if !errors.Is(err, pdferr.ErrIsCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}

func TestRebuildHonoursCancellation(t *testing.T) {
	pdf, _ := buildSimplePDF()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tbl := xref.NewTable(&readerAt{data: pdf}, xref.Config{})
	if _, err := tbl.Rebuild(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

var errDevice = errors.New("device error")

// failingReaderAt serves the first limit bytes of data and fails past them.
type failingReaderAt struct {
	data  []byte
	limit int64
}

func (r *failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.limit {
		return 0, errDevice
	}
	end := off + int64(len(p))
	if end > r.limit {
		end = r.limit
	}
	n := copy(p, r.data[off:end])
	if n < len(p) {
		return n, errDevice
	}
	return n, nil
}

func TestRebuildStopsAtReadFailure(t *testing.T) {
	prefix := "%PDF-1.4\n1 0 obj << /Type /Catalog >> endobj\n2 0 obj (tw"
	data := []byte(prefix + "o) endobj\n3 0 obj 3 endobj\n")
	tbl := xref.NewTable(&failingReaderAt{data: data, limit: int64(len(prefix))}, xref.Config{Size: int64(len(data))})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := tbl.Rebuild(ctx)
	if err != nil {
		t.Fatalf("rebuild should keep what it read before the failure, got %v", err)
	}
	tbl.Finalize(tr)
	if typ, _ := fetchDict(t, tbl, 1).Name("Type"); typ != "Catalog" {
		t.Fatalf("object 1 should be recovered, got %q", typ)
	}
	if _, ok := tbl.Lookup(3); ok {
		t.Fatalf("object 3 lies past the failure and must not be indexed")
	}
}

func TestRebuildReadFailureBeforeAnyObject(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj (one) endobj\n")
	tbl := xref.NewTable(&failingReaderAt{data: data, limit: 12}, xref.Config{Size: int64(len(data))})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := tbl.Rebuild(ctx)
	if !errors.Is(err, pdferr.ErrIsCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}
