package xref

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/parser"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/recovery"
	"github.com/wudi/pdfgraph/scanner"
)

// startXRefWindow is the first tail window searched for startxref. It
// doubles until the whole file has been covered.
const startXRefWindow = 1024

// Build reads the cross-reference chain the file declares: the section at
// startxref, then every XRefStm and Prev link, newest entries winning. It
// returns the merged trailer without finalizing the table.
func (t *Table) Build(ctx context.Context) (*parser.Trailer, error) {
	start, err := t.findStartXRef()
	if err != nil {
		return nil, err
	}
	p := t.plainReader()
	visited := make(map[int64]bool)
	streams := make(map[int64]bool)
	var merged *parser.Trailer
	offset := start
	for depth := 0; ; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if depth >= t.limits.MaxXRefDepth {
			return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", offset, "cross-reference chain longer than %d sections", t.limits.MaxXRefDepth)
		}
		if visited[offset] {
			observability.Warnf(t.diag, "xref", offset, "Prev chain loops back to %d", offset)
			break
		}
		visited[offset] = true
		t.sectionFree = make(map[int]bool)

		tr, err := t.readSection(ctx, p, offset)
		if err != nil {
			if merged == nil || !t.skipBrokenSection(ctx, err, offset) {
				return nil, fmt.Errorf("xref section at %d: %w", offset, err)
			}
			break
		}
		if tr.HasXRefStm && !streams[tr.XRefStm] {
			streams[tr.XRefStm] = true
			t.hybrid = true
			_, err := t.readXRefStream(ctx, p, tr.XRefStm)
			t.hybrid = false
			if err != nil {
				observability.Warnf(t.diag, "xref", tr.XRefStm, "ignoring hybrid cross-reference stream: %v", err)
			}
		}
		if merged == nil {
			merged = tr
		} else {
			merged.Merge(tr)
		}
		if !tr.HasPrev {
			break
		}
		offset = tr.Prev
	}
	if !merged.HasRoot {
		return nil, pdferr.New(pdferr.KindMissingRequiredKey, "xref", start, "trailer has no Root")
	}
	return merged, nil
}

func (t *Table) skipBrokenSection(ctx context.Context, err error, offset int64) bool {
	if t.cfg.Recovery == nil {
		return false
	}
	action := t.cfg.Recovery.OnError(ctx, err, recovery.Location{ByteOffset: offset, Component: "xref"})
	if !action.Recovers() {
		return false
	}
	observability.Warnf(t.diag, "xref", offset, "older cross-reference section unreadable, chain ends here: %v", err)
	return true
}

// findStartXRef searches the tail of the file for the last startxref
// keyword and returns the offset after it.
func (t *Table) findStartXRef() (int64, error) {
	if t.size == 0 {
		return 0, pdferr.New(pdferr.KindIsCorrupt, "xref", 0, "file is empty")
	}
	for window := int64(startXRefWindow); ; window *= 2 {
		if window > t.size {
			window = t.size
		}
		from := t.size - window
		buf := make([]byte, window)
		n, _ := t.r.ReadAt(buf, from)
		buf = buf[:n]
		if idx := bytes.LastIndex(buf, []byte("startxref")); idx >= 0 {
			off, ok := parseStartXRefValue(buf[idx+len("startxref"):])
			if !ok {
				return 0, pdferr.New(pdferr.KindIsCorrupt, "xref", from+int64(idx), "startxref is not followed by an offset")
			}
			if off < 0 || off >= t.size {
				return 0, pdferr.New(pdferr.KindIsCorrupt, "xref", from+int64(idx), "startxref offset %d outside file of %d bytes", off, t.size)
			}
			return off, nil
		}
		if window == t.size {
			return 0, pdferr.New(pdferr.KindIsCorrupt, "xref", t.size, "startxref not found")
		}
	}
}

func parseStartXRefValue(b []byte) (int64, bool) {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	j := i
	for j < len(b) && b[j] >= '0' && b[j] <= '9' {
		j++
	}
	if j == i {
		return 0, false
	}
	v, err := strconv.ParseInt(string(b[i:j]), 10, 64)
	return v, err == nil
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

// readSection parses the classic table or cross-reference stream that
// starts at offset.
func (t *Table) readSection(ctx context.Context, p *parser.Parser, offset int64) (*parser.Trailer, error) {
	if offset < 0 || offset >= t.size {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", offset, "section offset outside file of %d bytes", t.size)
	}
	s := scanner.New(t.r, t.scannerConfig())
	if err := s.Seek(offset); err != nil {
		return nil, err
	}
	if s.PeekKeyword() == scanner.KeywordXRef {
		return t.readClassic(s, p)
	}
	return t.readXRefStream(ctx, p, offset)
}

// readClassic reads "xref" subsections and the trailer that follows them.
func (t *Table) readClassic(s scanner.Scanner, p *parser.Parser) (*parser.Trailer, error) {
	kw, err := s.Next()
	if err != nil {
		return nil, err
	}
	for {
		tok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if tok.Is(scanner.KeywordTrailer) {
			if err := p.Seek(tok.Pos); err != nil {
				return nil, err
			}
			return p.ReadTrailer()
		}
		if tok.Type != scanner.TokenInteger {
			return nil, pdferr.New(pdferr.KindUnexpectedToken, "xref", tok.Pos, "expected subsection header or trailer after xref at %d", kw.Pos)
		}
		if tok.Int < 0 {
			return nil, pdferr.New(pdferr.KindUnexpectedToken, "xref", tok.Pos, "negative subsection start %d", tok.Int)
		}
		countTok, err := s.Next()
		if err != nil {
			return nil, err
		}
		if countTok.Type != scanner.TokenInteger || countTok.Int < 0 {
			return nil, pdferr.New(pdferr.KindUnexpectedToken, "xref", countTok.Pos, "bad subsection count")
		}
		if err := t.readSubsection(s, int(tok.Int), int(countTok.Int)); err != nil {
			return nil, err
		}
	}
}

func (t *Table) readSubsection(s scanner.Scanner, first, count int) error {
	for i := 0; i < count; i++ {
		offTok, err := s.Next()
		if err != nil {
			return err
		}
		genTok, err := s.Next()
		if err != nil {
			return err
		}
		kind, err := s.Next()
		if err != nil {
			return err
		}
		if !offTok.IsInteger() || !genTok.IsInteger() || kind.Type != scanner.TokenKeyword {
			return pdferr.New(pdferr.KindUnexpectedToken, "xref", offTok.Pos, "malformed entry %d of subsection starting at %d", i, first)
		}
		// Some writers number the first subsection from 1 while still
		// emitting the free head of the list.
		if i == 0 && first == 1 && kind.Str == "f" && genTok.Int == 65535 {
			observability.Warnf(t.diag, "xref", offTok.Pos, "subsection numbered from 1 starts with the free list head, renumbering from 0")
			first = 0
		}
		num := first + i
		switch kind.Str {
		case "n":
			if offTok.Int == 0 {
				observability.Warnf(t.diag, "xref", offTok.Pos, "object %d is in use at offset 0, treating it as not located", num)
				t.setUnlocated(num, int(genTok.Int))
				continue
			}
			t.setEntry(Entry{Num: num, Kind: EntryInUse, Offset: offTok.Int, Gen: int(genTok.Int)})
		case "f":
			if t.setEntry(Entry{Num: num, Kind: EntryFree, Gen: int(genTok.Int)}) {
				t.sectionFree[num] = true
			}
		default:
			return pdferr.New(pdferr.KindUnexpectedToken, "xref", kind.Pos, "entry type %q is neither n nor f", kind.Str)
		}
	}
	return nil
}

// readXRefStream parses the cross-reference stream object at offset and
// merges its entries. The stream dictionary doubles as the trailer.
func (t *Table) readXRefStream(ctx context.Context, p *parser.Parser, offset int64) (*parser.Trailer, error) {
	if err := p.Seek(offset); err != nil {
		return nil, err
	}
	obj, err := p.ReadItem()
	if err != nil {
		return nil, err
	}
	ind, ok := obj.(raw.IndirectObj)
	if !ok {
		return nil, pdferr.New(pdferr.KindUnexpectedToken, "xref", offset, "neither xref keyword nor object at section offset")
	}
	st, ok := ind.Value.(*raw.StreamObj)
	if !ok {
		return nil, pdferr.New(pdferr.KindWrongType, "xref", offset, "object %s at section offset is a %s", ind.Ref, ind.Value.Type())
	}
	if typ, _ := st.Dict.Name("Type"); typ != "XRef" {
		return nil, pdferr.New(pdferr.KindWrongType, "xref", offset, "stream %s is not a cross-reference stream", ind.Ref).WithObject(ind.Ref, "stream")
	}
	data, err := t.filters.DecodeStream(ctx, st)
	if err != nil {
		return nil, pdferr.Wrap(pdferr.KindIsCorrupt, "xref", offset, err).WithObject(ind.Ref, "stream")
	}
	if err := t.mergeStreamEntries(st.Dict, data, offset); err != nil {
		return nil, err
	}
	return parser.NewTrailer(st.Dict), nil
}

func (t *Table) mergeStreamEntries(dict *raw.DictObj, data []byte, offset int64) error {
	w, err := intArray(dict, "W")
	if err != nil || len(w) < 3 {
		return pdferr.New(pdferr.KindMissingRequiredKey, "xref", offset, "cross-reference stream needs a three element W array")
	}
	width := 0
	for _, n := range w[:3] {
		if n < 0 || n > 8 {
			return pdferr.New(pdferr.KindIsCorrupt, "xref", offset, "field width %d out of range", n)
		}
		width += n
	}
	if width == 0 {
		return pdferr.New(pdferr.KindIsCorrupt, "xref", offset, "cross-reference stream entries are empty")
	}
	index, err := intArray(dict, "Index")
	if err != nil {
		size, ok := dict.Int("Size")
		if !ok {
			return pdferr.New(pdferr.KindMissingRequiredKey, "xref", offset, "cross-reference stream has neither Index nor Size")
		}
		index = []int{0, int(size)}
	}
	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		first, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			if pos+width > len(data) {
				observability.Warnf(t.diag, "xref", offset, "cross-reference stream data ends at object %d", first+j)
				return nil
			}
			row := data[pos : pos+width]
			pos += width
			typ := int64(1)
			if w[0] > 0 {
				typ = beUint(row[:w[0]])
			}
			f2 := beUint(row[w[0] : w[0]+w[1]])
			f3 := beUint(row[w[0]+w[1] : width])
			num := first + j
			switch typ {
			case 0:
				t.setEntry(Entry{Num: num, Kind: EntryFree, Gen: int(f3)})
			case 1:
				t.setEntry(Entry{Num: num, Kind: EntryInUse, Offset: f2, Gen: int(f3)})
			case 2:
				t.setEntry(Entry{Num: num, Kind: EntryCompressed, Container: int(f2), Index: int(f3)})
			default:
				// unknown types are references to the null object
			}
		}
	}
	return nil
}

func intArray(dict *raw.DictObj, key string) ([]int, error) {
	v, ok := dict.Get(key)
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	arr, ok := v.(*raw.ArrayObj)
	if !ok {
		return nil, fmt.Errorf("%s is a %s", key, v.Type())
	}
	out := make([]int, 0, arr.Len())
	for _, item := range arr.Items {
		n, ok := item.(raw.NumberObj)
		if !ok || !n.IsInteger() {
			return nil, fmt.Errorf("%s holds a %s", key, item.Type())
		}
		out = append(out, int(n.Int()))
	}
	return out, nil
}

func beUint(b []byte) int64 {
	var v int64
	for _, c := range b {
		v = v<<8 | int64(c)
	}
	return v
}
