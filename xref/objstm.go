package xref

import (
	"bytes"
	"context"

	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/parser"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/scanner"
)

// container is a decoded object stream: the member numbers in header order
// and a parser over the decoded bytes.
type container struct {
	num     int
	first   int64
	members []member
	p       *parser.Parser
}

type member struct {
	num    int
	offset int64
}

func (t *Table) loadContainer(num int) (*container, error) {
	if c, ok := t.containers[num]; ok {
		return c, nil
	}
	rec, ok := t.records[num]
	if !ok || rec.entry.Kind != EntryInUse || rec.placeholder {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", -1, "object stream %d is not a directly stored object", num)
	}
	obj, err := t.Fetch(raw.ObjectRef{Num: num, Gen: rec.entry.Gen})
	if err != nil {
		return nil, err
	}
	st, ok := obj.(*raw.StreamObj)
	if !ok {
		return nil, pdferr.New(pdferr.KindWrongType, "xref", rec.entry.Offset, "object stream %d is a %s", num, obj.Type())
	}
	if typ, _ := st.Dict.Name("Type"); typ != "ObjStm" {
		observability.Warnf(t.diag, "xref", rec.entry.Offset, "object stream %d has Type %q", num, typ)
	}
	n, okN := st.Dict.Int("N")
	first, okF := st.Dict.Int("First")
	if !okN || !okF {
		return nil, pdferr.New(pdferr.KindMissingRequiredKey, "xref", rec.entry.Offset, "object stream %d needs N and First", num)
	}
	if n < 0 || n > int64(t.limits.MaxObjectStreamSize) || first < 0 {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", rec.entry.Offset, "object stream %d declares N %d First %d", num, n, first)
	}
	data, err := t.filters.DecodeStream(context.Background(), st)
	if err != nil {
		return nil, pdferr.Wrap(pdferr.KindIsCorrupt, "xref", rec.entry.Offset, err).WithObject(raw.ObjectRef{Num: num, Gen: rec.entry.Gen}, "stream")
	}
	if first > int64(len(data)) {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "xref", rec.entry.Offset, "object stream %d First %d past %d decoded bytes", num, first, len(data))
	}

	c := &container{num: num, first: first}
	hs := scanner.New(bytes.NewReader(data[:first]), scanner.Config{})
	for i := int64(0); i < n; i++ {
		numTok, err1 := hs.Next()
		offTok, err2 := hs.Next()
		if err1 != nil || err2 != nil || numTok.Type != scanner.TokenInteger || offTok.Type != scanner.TokenInteger {
			observability.Warnf(t.diag, "xref", rec.entry.Offset, "object stream %d header ends after %d of %d objects", num, i, n)
			break
		}
		c.members = append(c.members, member{num: int(numTok.Int), offset: offTok.Int})
	}
	// Members are stored unencrypted inside the (already decrypted) stream.
	c.p = parser.New(scanner.New(bytes.NewReader(data), t.scannerConfig()), t.parserConfig())
	t.containers[num] = c
	return c, nil
}

func (t *Table) fetchCompressed(ref raw.ObjectRef, e Entry) (raw.Object, error) {
	c, err := t.loadContainer(e.Container)
	if err != nil {
		return nil, err
	}
	var m *member
	if e.Index >= 0 && e.Index < len(c.members) && c.members[e.Index].num == ref.Num {
		m = &c.members[e.Index]
	} else {
		for i := range c.members {
			if c.members[i].num == ref.Num {
				m = &c.members[i]
				break
			}
		}
		if m == nil {
			observability.Warnf(t.diag, "xref", -1, "object %s missing from object stream %d", ref, c.num)
			return raw.NullObj{}, nil
		}
	}
	if err := c.p.Seek(c.first + m.offset); err != nil {
		return nil, err
	}
	obj, err := c.p.ReadItem()
	if err != nil {
		return nil, pdferr.Wrap(pdferr.KindIsCorrupt, "xref", c.first+m.offset, err).WithObject(ref, "compressed")
	}
	if ind, ok := obj.(raw.IndirectObj); ok {
		obj = ind.Value
	}
	return obj, nil
}

// expandObjectStreams registers the members of every object stream found
// by Rebuild. A direct definition always beats a compressed one; between
// two containers the duplicate policy decides.
func (t *Table) expandObjectStreams() {
	for _, num := range t.objStms {
		c, err := t.loadContainer(num)
		if err != nil {
			observability.Warnf(t.diag, "xref", -1, "object stream %d unreadable: %v", num, err)
			continue
		}
		for i, m := range c.members {
			if m.num == num {
				continue
			}
			if rec, ok := t.records[m.num]; ok && !rec.placeholder {
				if rec.entry.Kind != EntryCompressed || !t.cfg.Duplicates.Replace() {
					continue
				}
			}
			rec := t.record(m.num)
			rec.entry = Entry{Num: m.num, Kind: EntryCompressed, Container: num, Index: i}
			rec.cached, rec.placeholder = nil, false
		}
	}
}
