package xref

import (
	"context"
	"errors"
	"sort"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/parser"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/scanner"
)

// scanned is one "N G obj" header found by the linear scan.
type scanned struct {
	ref    raw.ObjectRef
	offset int64
	// typ is the /Type name seen at the top level of the object's
	// dictionary, if any.
	typ string
}

// located is a trailer or cross-reference stream dictionary and where it
// was found.
type located struct {
	offset int64
	dict   *raw.DictObj
}

// Rebuild ignores the declared cross-reference data and reconstructs the
// table from a single pass over the file. Streams are skipped by searching
// for endstream, missing endobj keywords and truncation are tolerated. It
// fails only when no object definition is found at all.
func (t *Table) Rebuild(ctx context.Context) (*parser.Trailer, error) {
	defs, trailers, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", 0, "rebuild found no objects")
	}

	t.records = make(map[int]*record)
	t.containers = make(map[int]*container)
	t.objStms = nil
	t.rebuilt = true
	t.idle = nil

	chosen := make(map[int]scanned)
	for _, d := range defs {
		prev, seen := chosen[d.ref.Num]
		if seen {
			observability.Warnf(t.diag, "xref", d.offset, "object %d defined again (first at %d), policy %s", d.ref.Num, prev.offset, t.cfg.Duplicates)
			if !t.cfg.Duplicates.Replace() {
				continue
			}
		}
		chosen[d.ref.Num] = d
	}
	nums := make([]int, 0, len(chosen))
	for num, d := range chosen {
		t.RegisterObject(d.ref, d.offset)
		nums = append(nums, num)
	}
	sort.Ints(nums)

	for _, num := range nums {
		d := chosen[num]
		switch d.typ {
		case "ObjStm":
			t.objStms = append(t.objStms, num)
		case "XRef":
			if st, ok := t.fetchStream(d.ref); ok {
				trailers = append(trailers, located{offset: d.offset, dict: st.Dict})
			}
		}
	}

	tr := t.recoverTrailer(trailers)
	if !tr.Encrypted() {
		t.expandObjectStreams()
	}
	t.fixRoot(tr, chosen, nums)

	maxNum := 0
	for num := range t.records {
		if num > maxNum {
			maxNum = num
		}
	}
	tr.Dict.Set("Size", raw.NumberInt(int64(maxNum)+1))
	tr.Size, tr.HasSize = int64(maxNum)+1, true
	t.diag.Info("rebuilt cross-reference table", observability.Int("objects", len(t.records)), observability.Int("trailers", len(trailers)))
	return tr, nil
}

// scan walks every token once, recording object headers and the trailer
// dictionaries that parse.
func (t *Table) scan(ctx context.Context) ([]scanned, []located, error) {
	s := scanner.New(t.r, t.scannerConfig())
	p := t.plainReader()
	var (
		defs     []scanned
		trailers []located
		back     [2]scanner.Token
		cur      = -1
		depth    int
		lastName string
	)
	for steps := 0; ; steps++ {
		if steps%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		before := s.Position()
		tok, err := s.Next()
		if err != nil {
			back = [2]scanner.Token{}
			var perr *pdferr.Error
			if errors.As(err, &perr) && perr.Err != nil {
				observability.Warnf(t.diag, "xref", s.Position(), "scan stopped by read failure: %v", err)
				return defs, trailers, nil
			}
			if s.Position() <= before {
				if serr := s.Seek(before + 1); serr != nil {
					return defs, trailers, nil
				}
			}
			continue
		}
		switch {
		case tok.Type == scanner.TokenEOF:
			return defs, trailers, nil
		case tok.Is(scanner.KeywordObj):
			if back[0].Type == scanner.TokenInteger && back[1].Type == scanner.TokenInteger && back[0].Int >= 0 && back[1].Int >= 0 {
				defs = append(defs, scanned{ref: raw.ObjectRef{Num: int(back[0].Int), Gen: int(back[1].Int)}, offset: back[0].Pos})
				cur, depth, lastName = len(defs)-1, 0, ""
			}
		case tok.Is(scanner.KeywordEndObj):
			cur = -1
		case tok.Is(scanner.KeywordStream):
			start := s.Position()
			end, ok := s.FindForward([]byte("endstream"), start)
			if !ok {
				observability.Warnf(t.diag, "xref", tok.Pos, "stream without endstream, file is truncated")
				return defs, trailers, nil
			}
			if err := s.Seek(end + int64(len("endstream"))); err != nil {
				return defs, trailers, nil
			}
		case tok.Is(scanner.KeywordTrailer):
			if err := p.Seek(tok.Pos); err == nil {
				if tr, err := p.ReadTrailer(); err == nil {
					trailers = append(trailers, located{offset: tok.Pos, dict: tr.Dict})
				} else {
					observability.Warnf(t.diag, "xref", tok.Pos, "unreadable trailer: %v", err)
				}
			}
		case tok.Type == scanner.TokenBeginDict:
			depth++
		case tok.Type == scanner.TokenEndDict:
			depth--
		case tok.Type == scanner.TokenName && cur >= 0 && depth == 1:
			if lastName == "Type" && defs[cur].typ == "" {
				defs[cur].typ = tok.Str
			}
			lastName = tok.Str
		}
		back[0], back[1] = back[1], tok
	}
}

func (t *Table) fetchStream(ref raw.ObjectRef) (*raw.StreamObj, bool) {
	obj, err := t.Fetch(ref)
	if err != nil {
		observability.Warnf(t.diag, "xref", -1, "object %s unreadable: %v", ref, err)
		return nil, false
	}
	st, ok := obj.(*raw.StreamObj)
	return st, ok
}

// recoverTrailer merges the trailers found, the one furthest into the file
// first. Chain links are dropped since they point into the data being
// replaced.
func (t *Table) recoverTrailer(found []located) *parser.Trailer {
	sort.SliceStable(found, func(i, j int) bool { return found[i].offset < found[j].offset })
	tr := parser.NewTrailer(raw.Dict())
	for i := len(found) - 1; i >= 0; i-- {
		tr.Merge(parser.NewTrailer(copyTrailerDict(found[i].dict)))
	}
	tr.Dict.Delete("Prev")
	tr.Dict.Delete("XRefStm")
	tr.Prev, tr.HasPrev, tr.XRefStm, tr.HasXRefStm = 0, false, 0, false
	return tr
}

// copyTrailerDict keeps the document level keys of a trailer or
// cross-reference stream dictionary.
func copyTrailerDict(d *raw.DictObj) *raw.DictObj {
	out := raw.Dict()
	for _, key := range d.Keys() {
		switch key {
		case "Root", "Encrypt", "Info", "ID", "Size":
			v, _ := d.Get(key)
			out.Set(key, v)
		}
	}
	return out
}

// fixRoot falls back to the highest numbered catalog when the recovered
// trailer has no usable Root.
func (t *Table) fixRoot(tr *parser.Trailer, chosen map[int]scanned, nums []int) {
	if tr.HasRoot {
		if _, ok := t.Lookup(tr.Root.R.Num); ok {
			return
		}
		observability.Warnf(t.diag, "xref", -1, "recovered Root %s does not exist", tr.Root.R)
	}
	for i := len(nums) - 1; i >= 0; i-- {
		d := chosen[nums[i]]
		if d.typ != "Catalog" {
			continue
		}
		obj, err := t.Fetch(d.ref)
		if err != nil {
			continue
		}
		if dict, ok := obj.(*raw.DictObj); ok {
			if typ, _ := dict.Name("Type"); typ == "Catalog" {
				root := raw.RefObj{R: d.ref}
				tr.Dict.Set("Root", root)
				tr.Root, tr.HasRoot = root, true
				observability.Warnf(t.diag, "xref", d.offset, "using catalog %s as Root", d.ref)
				return
			}
		}
	}
	observability.Warnf(t.diag, "xref", -1, "no document catalog found")
}
