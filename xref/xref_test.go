package xref_test

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/xref"
)

func buildSimplePDF() ([]byte, map[int]int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		buf.WriteString(fmt.Sprintf("%010d 00000 n \n", offsets[i]))
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefOffset))
	buf.WriteString("%%EOF\n")

	return buf.Bytes(), offsets
}

// readerAt has no Size method, so the table has to probe the length.
type readerAt struct {
	data []byte
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if off+int64(n) >= int64(len(r.data)) {
		return n, io.EOF
	}
	return n, nil
}

func build(t *testing.T, data []byte, cfg xref.Config) *xref.Table {
	t.Helper()
	tbl := xref.NewTable(&readerAt{data: data}, cfg)
	tr, err := tbl.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tbl.Finalize(tr)
	return tbl
}

func fetchDict(t *testing.T, tbl *xref.Table, num int) *raw.DictObj {
	t.Helper()
	obj, err := tbl.Fetch(raw.ObjectRef{Num: num})
	if err != nil {
		t.Fatalf("fetch %d: %v", num, err)
	}
	d, ok := obj.(*raw.DictObj)
	if !ok {
		t.Fatalf("object %d: expected dict, got %#v", num, obj)
	}
	return d
}

func TestBuildParsesXRefTable(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	tbl := xref.NewTable(&readerAt{data: pdf}, xref.Config{})
	if tbl.Size() != int64(len(pdf)) {
		t.Fatalf("probed size %d, want %d", tbl.Size(), len(pdf))
	}
	tr, err := tbl.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !tr.HasRoot || tr.Root.R.Num != 1 || tr.Size != 3 {
		t.Fatalf("unexpected trailer %+v", tr)
	}
	tbl.Finalize(tr)

	for obj, off := range offsets {
		e, ok := tbl.Lookup(obj)
		if !ok {
			t.Fatalf("missing object %d", obj)
		}
		if e.Kind != xref.EntryInUse || e.Offset != off || e.Gen != 0 {
			t.Fatalf("object %d: expected (%d,0), got %+v", obj, off, e)
		}
	}
	if e, ok := tbl.Lookup(0); !ok || e.Kind != xref.EntryFree || e.Gen != 65535 {
		t.Fatalf("expected free head entry, got %+v", e)
	}
	if typ, _ := fetchDict(t, tbl, 1).Name("Type"); typ != "Catalog" {
		t.Fatalf("expected catalog, got %q", typ)
	}
	if got := tbl.Objects(); len(got) != 2 || got[0].Num != 1 || got[1].Num != 2 {
		t.Fatalf("unexpected objects %v", got)
	}
}

func buildXRefStreamPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	// Object stream with two objects (4 and 5)
	objStreamContent := "<< /Val 7 >> 5"
	header := "4 0 5 " + fmt.Sprintf("%d ", len("<< /Val 7 >>")+1)
	first := len(header)
	decoded := []byte(header + objStreamContent)
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Type /ObjStm /N 2 /First ")
	buf.WriteString(fmt.Sprintf("%d", first))
	buf.WriteString(" /Length ")
	buf.WriteString(fmt.Sprintf("%d", len(decoded)))
	buf.WriteString(" >>\nstream\n")
	buf.Write(decoded)
	buf.WriteString("\nendstream\nendobj\n")

	xrefOffset := buf.Len()
	entries := buildXRefStreamEntries(7, map[int]int{
		1: off1,
		2: off2,
		3: off3,
		6: xrefOffset,
	}, map[int]struct {
		objstm int
		idx    int
	}{
		4: {objstm: 3, idx: 0},
		5: {objstm: 3, idx: 1},
	})
	buf.WriteString("6 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 1] /Index [0 7] /Length ")
	buf.WriteString(fmt.Sprintf("%d", len(entries)))
	buf.WriteString(" >>\nstream\n")
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	buf.WriteString("startxref\n")
	buf.WriteString(fmt.Sprintf("%d\n", xrefOffset))
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}

func buildXRefStreamEntries(size int, offsets map[int]int, objStreams map[int]struct {
	objstm int
	idx    int
}) []byte {
	entrySize := 6 // w: [1 4 1]
	total := make([]byte, entrySize*size)
	for obj, off := range offsets {
		idx := obj * entrySize
		total[idx] = 1 // type 1
		total[idx+1] = byte(off >> 24)
		total[idx+2] = byte(off >> 16)
		total[idx+3] = byte(off >> 8)
		total[idx+4] = byte(off)
		total[idx+5] = 0
	}
	for obj, meta := range objStreams {
		idx := obj * entrySize
		total[idx] = 2 // type 2
		total[idx+1] = byte(meta.objstm >> 24)
		total[idx+2] = byte(meta.objstm >> 16)
		total[idx+3] = byte(meta.objstm >> 8)
		total[idx+4] = byte(meta.objstm)
		total[idx+5] = byte(meta.idx)
	}
	return total
}

func buildHybridXRefPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Count 0 >>\nendobj\n")

	xrefStreamOff := buf.Len()
	entries := buildXRefStreamEntries(6, map[int]int{
		1: off1,
		2: off2,
		4: xrefStreamOff,
	}, nil)
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 1] /Index [0 6] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	baseStart := xrefStreamOff
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", baseStart)

	// incremental update with hybrid xref table referencing the stream
	obj5Off := buf.Len()
	buf.WriteString("5 0 obj\n<< /Producer (inc) >>\nendobj\n")
	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n5 1\n%010d 00000 n \n", obj5Off)
	fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R /Prev %d /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", baseStart, xrefStreamOff, tableOff)
	return buf.Bytes()
}

func TestBuildParsesXRefStreamAndObjStm(t *testing.T) {
	tbl := build(t, buildXRefStreamPDF(), xref.Config{})
	if e, ok := tbl.Lookup(4); !ok || e.Kind != xref.EntryCompressed || e.Container != 3 || e.Index != 0 {
		t.Fatalf("expected obj 4 in objstm 3 idx0, got %+v %v", e, ok)
	}
	if e, ok := tbl.Lookup(1); !ok || e.Offset == 0 {
		t.Fatalf("object 1 missing offset")
	}
	if v, _ := fetchDict(t, tbl, 4).Int("Val"); v != 7 {
		t.Fatalf("expected Val 7 from objstm, got %d", v)
	}
	obj5, err := tbl.Fetch(raw.ObjectRef{Num: 5})
	if err != nil {
		t.Fatalf("fetch obj 5: %v", err)
	}
	if num, ok := obj5.(raw.NumberObj); !ok || num.Int() != 5 {
		t.Fatalf("expected number 5, got %#v", obj5)
	}
	if tbl.Trailer().Root.R.Num != 1 {
		t.Fatalf("trailer should come from the stream dictionary")
	}
}

func TestBuildParsesHybridXRefTableWithXRefStream(t *testing.T) {
	rec := observability.NewRecorder()
	tbl := build(t, buildHybridXRefPDF(), xref.Config{Diagnostics: rec})
	// Newest revision has an xref table; older objects come from the stream.
	for _, num := range []int{1, 2, 5} {
		if e, ok := tbl.Lookup(num); !ok || e.Kind != xref.EntryInUse || e.Offset == 0 {
			t.Fatalf("missing object %d: %+v", num, e)
		}
	}
	if p, _ := fetchDict(t, tbl, 5).Get("Producer"); string(p.(raw.StringObj).Bytes) != "inc" {
		t.Fatalf("unexpected producer %#v", p)
	}
	if rec.Count(observability.LevelWarn) != 0 {
		t.Fatalf("unexpected warnings: %v", rec.Diagnostics())
	}
}

func buildIncrementalPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Rev 1 >>\nendobj\n")
	off3 := buf.Len()
	buf.WriteString("3 0 obj\n<< /Producer (base) >>\nendobj\n")
	base := buf.Len()
	fmt.Fprintf(buf, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", off1, off2, off3)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Info 3 0 R >>\nstartxref\n%d\n%%%%EOF\n", base)

	newOff2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Rev 2 >>\nendobj\n")
	update := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n2 1\n%010d 00000 n \n", newOff2)
	fmt.Fprintf(buf, "trailer\n<< /Size 4 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", base, update)
	return buf.Bytes()
}

func TestBuildPrevChainNewestWins(t *testing.T) {
	tbl := build(t, buildIncrementalPDF(), xref.Config{})
	if rev, _ := fetchDict(t, tbl, 2).Int("Rev"); rev != 2 {
		t.Fatalf("expected the updated revision, got %d", rev)
	}
	tr := tbl.Trailer()
	if !tr.HasInfo || tr.Info.R.Num != 3 {
		t.Fatalf("Info from the older trailer should be merged: %+v", tr)
	}
	if tr.Prev == 0 || !tr.HasPrev {
		t.Fatalf("newest trailer keeps its own Prev")
	}
}

func TestBuildStopsOnPrevCycle(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", xrefOff, xrefOff)

	rec := observability.NewRecorder()
	build(t, buf.Bytes(), xref.Config{Diagnostics: rec})
	if rec.Count(observability.LevelWarn) != 1 {
		t.Fatalf("expected one cycle warning, got %v", rec.Diagnostics())
	}
}

func TestBuildBrokenPrevSection(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.4\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 2\n0000000000 65535 f \n%010d 00000 n \n", off1)
	fmt.Fprintf(buf, "trailer\n<< /Size 2 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", off1+3, xrefOff)
	data := buf.Bytes()

	tbl := xref.NewTable(&readerAt{data: data}, xref.Config{})
	if _, err := tbl.Build(context.Background()); err == nil {
		t.Fatalf("expected strict build to fail on the broken Prev section")
	}

	rec := &testRecovery{action: recovery.ActionWarn}
	tbl = xref.NewTable(&readerAt{data: data}, xref.Config{Recovery: rec})
	tr, err := tbl.Build(context.Background())
	if err != nil {
		t.Fatalf("lenient build: %v", err)
	}
	if !tr.HasRoot || rec.calls != 1 {
		t.Fatalf("expected the newest section to survive, calls=%d", rec.calls)
	}
}

func TestBuildMissingStartXRef(t *testing.T) {
	tbl := xref.NewTable(&readerAt{data: []byte("%PDF-1.4\n1 0 obj null endobj\n")}, xref.Config{})
	_, err := tbl.Build(context.Background())
	if !errors.Is(err, pdferr.ErrIsCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}

func TestBuildFindsStartXRefBeyondFirstWindow(t *testing.T) {
	pdf, _ := buildSimplePDF()
	pdf = append(pdf, bytes.Repeat([]byte("% padding after the end marker\n"), 200)...)
	tbl := build(t, pdf, xref.Config{})
	fetchDict(t, tbl, 2)
}

func TestBuildXRefStreamWithPredictor(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n(second)\nendobj\n")
	xrefOff := buf.Len()

	rows := buildXRefStreamEntries(4, map[int]int{1: off1, 2: off2, 3: xrefOff}, nil)
	// PNG Up predictor over rows of six bytes
	var predicted []byte
	prev := make([]byte, 6)
	for i := 0; i+6 <= len(rows); i += 6 {
		row := rows[i : i+6]
		predicted = append(predicted, 2)
		for k := range row {
			predicted = append(predicted, row[k]-prev[k])
		}
		prev = row
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	zw.Write(predicted)
	zw.Close()

	fmt.Fprintf(buf, "3 0 obj\n<< /Type /XRef /Size 4 /Root 1 0 R /W [1 4 1] /Filter /FlateDecode /DecodeParms << /Predictor 12 /Columns 6 >> /Length %d >>\nstream\n", z.Len())
	buf.Write(z.Bytes())
	fmt.Fprintf(buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	tbl := build(t, buf.Bytes(), xref.Config{})
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if s, ok := obj.(raw.StringObj); !ok || string(s.Bytes) != "second" {
		t.Fatalf("unexpected object 2: %#v", obj)
	}
}

func TestTrimHidesEntriesPastSize(t *testing.T) {
	b := &bytes.Buffer{}
	b.WriteString("%PDF-1.4\n")
	var offs []int
	for i := 1; i <= 3; i++ {
		offs = append(offs, b.Len())
		fmt.Fprintf(b, "%d 0 obj\n<< /N %d >>\nendobj\n", i, i)
	}
	xrefOff := b.Len()
	fmt.Fprintf(b, "xref\n0 4\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n%010d 00000 n \n", offs[0], offs[1], offs[2])
	fmt.Fprintf(b, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	tbl := build(t, b.Bytes(), xref.Config{})
	if _, ok := tbl.Lookup(3); ok {
		t.Fatalf("object 3 is past Size and must be trimmed")
	}
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 3})
	if err != nil || obj.Kind() != raw.KindNull {
		t.Fatalf("trimmed object should read as null, got %#v %v", obj, err)
	}
	fetchDict(t, tbl, 2)

	tbl.Trim(2)
	if _, ok := tbl.Lookup(2); ok {
		t.Fatalf("explicit trim should drop object 2")
	}
}

func buildObjectsPDF(bodies ...string) []byte {
	b := &bytes.Buffer{}
	b.WriteString("%PDF-1.4\n")
	offs := make([]int, len(bodies))
	for i, body := range bodies {
		offs[i] = b.Len()
		fmt.Fprintf(b, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xrefOff := b.Len()
	fmt.Fprintf(b, "xref\n0 %d\n0000000000 65535 f \n", len(bodies)+1)
	for _, off := range offs {
		fmt.Fprintf(b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(bodies)+1, xrefOff)
	return b.Bytes()
}

func TestDanglingReferenceReadsAsNull(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog /Missing 9 0 R /Pages 2 0 R >>", "<< /Count 0 >>"), xref.Config{})
	cat := fetchDict(t, tbl, 1)
	if _, ok := cat.Get("Missing"); ok {
		t.Fatalf("dangling reference must read as an absent key")
	}
	if v, ok := cat.Get("Pages"); !ok || v.Kind() != raw.KindRef {
		t.Fatalf("live reference should stay a handle, got %#v", v)
	}
}

func TestReferenceCounts(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog /Pages 2 0 R >>", "<< /Count 0 >>", "<< /Orphan true >>"), xref.Config{})
	pages := raw.ObjectRef{Num: 2}
	if tbl.RefCount(pages) != 0 {
		t.Fatalf("nothing parsed yet")
	}
	fetchDict(t, tbl, 1)
	if tbl.RefCount(pages) != 1 {
		t.Fatalf("expected one reference to pages, got %d", tbl.RefCount(pages))
	}
	fetchDict(t, tbl, 1)
	if tbl.RefCount(pages) != 1 {
		t.Fatalf("cached fetch must not count again")
	}
	unref := tbl.Unreferenced()
	if len(unref) != 1 || unref[0].Num != 3 {
		t.Fatalf("expected only object 3 unreferenced, got %v", unref)
	}
	tbl.Release(pages)
	if tbl.RefCount(pages) != 0 {
		t.Fatalf("release should drop the count")
	}
}

func TestRegisterValueAndDelete(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog >>", "(two)"), xref.Config{})
	tbl.RegisterValue(raw.ObjectRef{Num: 2}, raw.NumberInt(22))
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 2})
	if err != nil || obj.(raw.NumberObj).Int() != 22 {
		t.Fatalf("registered value should win, got %#v %v", obj, err)
	}

	tbl.Delete(raw.ObjectRef{Num: 2})
	e, ok := tbl.Lookup(2)
	if !ok || e.Kind != xref.EntryFree || e.Gen != 1 {
		t.Fatalf("expected a free entry with bumped generation, got %+v", e)
	}
	if _, ok := tbl.GetReference(raw.ObjectRef{Num: 2}); ok {
		t.Fatalf("deleted object must not hand out references")
	}
	if obj, _ := tbl.Fetch(raw.ObjectRef{Num: 2}); obj.Kind() != raw.KindNull {
		t.Fatalf("deleted object should read as null")
	}

	pdf := buildObjectsPDF("<< /Type /Catalog >>")
	tbl.RegisterObject(raw.ObjectRef{Num: 2}, int64(bytes.Index(pdf, []byte("1 0 obj"))))
	if _, err := tbl.Fetch(raw.ObjectRef{Num: 2}); !errors.Is(err, pdferr.ErrIsCorrupt) {
		t.Fatalf("offset holding another object should fail, got %v", err)
	}
}

func TestGenerationMismatchReadsAsNull(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog >>"), xref.Config{})
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 1, Gen: 4})
	if err != nil || obj.Kind() != raw.KindNull {
		t.Fatalf("expected null for a stale generation, got %#v %v", obj, err)
	}
}

func TestResolveFollowsChains(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog >>", "3 0 R", "42", "5 0 R", "4 0 R"), xref.Config{})
	obj, err := tbl.Resolve(raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if obj.(raw.NumberObj).Int() != 42 {
		t.Fatalf("expected 42, got %#v", obj)
	}
	if _, err := tbl.Resolve(raw.ObjectRef{Num: 4}); !errors.Is(err, pdferr.ErrIsCorrupt) {
		t.Fatalf("expected a reference loop to fail, got %v", err)
	}
	direct, err := tbl.ResolveObject(raw.NumberInt(3))
	if err != nil || direct.(raw.NumberObj).Int() != 3 {
		t.Fatalf("direct objects resolve to themselves")
	}
}

func TestIndirectStreamLength(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog >>", "<< /Length 3 0 R >>\nstream\nhello\nendstream", "5"), xref.Config{})
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	data, err := obj.(*raw.StreamObj).RawData()
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected stream data %q %v", data, err)
	}
}

func TestSelfReferentialLengthFails(t *testing.T) {
	tbl := build(t, buildObjectsPDF("<< /Type /Catalog >>", "<< /Length 2 0 R >>\nstream\nhello\nendstream"), xref.Config{})
	if _, err := tbl.Fetch(raw.ObjectRef{Num: 2}); !errors.Is(err, pdferr.ErrIsCorrupt) {
		t.Fatalf("expected corrupt error, got %v", err)
	}
}

type testRecovery struct {
	action recovery.Action
	calls  int
}

func (r *testRecovery) OnError(ctx context.Context, err error, loc recovery.Location) recovery.Action {
	r.calls++
	return r.action
}

// buildHybridFreedPDF writes a single revision whose classic table marks
// object 3 free while its XRefStm places it in object stream 2.
func buildHybridFreedPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	header := "3 0 "
	content := "<< /Val 9 >>"
	off2 := buf.Len()
	fmt.Fprintf(buf, "2 0 obj\n<< /Type /ObjStm /N 1 /First %d /Length %d >>\nstream\n%s%s\nendstream\nendobj\n",
		len(header), len(header)+len(content), header, content)

	off4 := buf.Len()
	entries := buildXRefStreamEntries(5, nil, map[int]struct {
		objstm int
		idx    int
	}{3: {objstm: 2, idx: 0}})
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 5 /W [1 4 1] /Index [0 5] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 5\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n0000000000 00001 f \n%010d 00000 n \n", off1, off2, off4)
	fmt.Fprintf(buf, "trailer\n<< /Size 5 /Root 1 0 R /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", off4, tableOff)
	return buf.Bytes()
}

func TestHybridStreamClaimsEntriesTheTableFreed(t *testing.T) {
	tbl := build(t, buildHybridFreedPDF(), xref.Config{})
	if e, ok := tbl.Lookup(3); !ok || e.Kind != xref.EntryCompressed || e.Container != 2 {
		t.Fatalf("object 3 should come from the cross-reference stream, got %+v %v", e, ok)
	}
	if v, _ := fetchDict(t, tbl, 3).Int("Val"); v != 9 {
		t.Fatalf("expected Val 9, got %d", v)
	}
	for _, num := range []int{1, 2, 4} {
		if e, ok := tbl.Lookup(num); !ok || e.Kind != xref.EntryInUse {
			t.Fatalf("free stream entries must not replace table entry %d: %+v", num, e)
		}
	}
	if e, _ := tbl.Lookup(0); e.Kind != xref.EntryFree {
		t.Fatalf("free list head should stay free, got %+v", e)
	}
}

func TestInUseEntryAtOffsetZeroIsUnlocated(t *testing.T) {
	b := &bytes.Buffer{}
	b.WriteString("%PDF-1.4\n")
	off1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Ghost 2 0 R >>\nendobj\n")
	xrefOff := b.Len()
	fmt.Fprintf(b, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n0000000000 00000 n \n", off1)
	fmt.Fprintf(b, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)

	rec := observability.NewRecorder()
	tbl := build(t, b.Bytes(), xref.Config{Diagnostics: rec})
	if e, ok := tbl.Lookup(2); ok {
		t.Fatalf("object 2 was never located and must not be listed as %+v", e)
	}
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 2})
	if err != nil || obj.Kind() != raw.KindNull {
		t.Fatalf("unlocated object should read as null, got %#v %v", obj, err)
	}
	if rec.Count(observability.LevelWarn) != 1 {
		t.Fatalf("expected one warning, got %v", rec.Diagnostics())
	}
}

func TestUnlocatedEntryFoundInOlderSection(t *testing.T) {
	b := &bytes.Buffer{}
	b.WriteString("%PDF-1.4\n")
	off1 := b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	off2 := b.Len()
	b.WriteString("2 0 obj\n(old)\nendobj\n")
	oldXRef := b.Len()
	fmt.Fprintf(b, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n%010d 00000 n \n", off1, off2)
	fmt.Fprintf(b, "trailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", oldXRef)
	newXRef := b.Len()
	fmt.Fprintf(b, "xref\n2 1\n0000000000 00000 n \n")
	fmt.Fprintf(b, "trailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", oldXRef, newXRef)

	tbl := build(t, b.Bytes(), xref.Config{})
	obj, err := tbl.Fetch(raw.ObjectRef{Num: 2})
	if err != nil || string(obj.(raw.StringObj).Bytes) != "old" {
		t.Fatalf("older section should locate object 2, got %#v %v", obj, err)
	}
}

func TestNegativeSubsectionStartRejected(t *testing.T) {
	data := []byte("%PDF-1.4\nxref\n-5 3\n0000000000 65535 f \n0000000009 00000 n \n0000000009 00000 n \ntrailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n9\n%%EOF\n")
	tbl := xref.NewTable(&readerAt{data: data}, xref.Config{})
	_, err := tbl.Build(context.Background())
	if !errors.Is(err, pdferr.ErrUnexpectedToken) {
		t.Fatalf("expected unexpected token error, got %v", err)
	}
}
