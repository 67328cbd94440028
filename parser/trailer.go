package parser

import (
	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/scanner"
)

// Trailer is the decoded trailer dictionary of one cross-reference section
// (or the merged view over a whole Prev chain).
type Trailer struct {
	Dict *raw.DictObj

	Root    raw.RefObj
	HasRoot bool
	Size    int64
	HasSize bool

	Prev       int64
	HasPrev    bool
	XRefStm    int64
	HasXRefStm bool

	// Encrypt is a reference or a direct dictionary.
	Encrypt raw.Object
	Info    raw.RefObj
	HasInfo bool
	ID      [2][]byte
	HasID   bool
}

// NewTrailer pulls the well-known entries out of d. Missing entries are
// reported through the Has* flags.
func NewTrailer(d *raw.DictObj) *Trailer {
	if d == nil {
		d = raw.Dict()
	}
	t := &Trailer{Dict: d}
	if v, ok := d.Get("Root"); ok {
		t.Root, t.HasRoot = v.(raw.RefObj)
	}
	if n, ok := d.Int("Size"); ok && n >= 0 {
		t.Size, t.HasSize = n, true
	}
	if n, ok := d.Int("Prev"); ok && n >= 0 {
		t.Prev, t.HasPrev = n, true
	}
	if n, ok := d.Int("XRefStm"); ok && n >= 0 {
		t.XRefStm, t.HasXRefStm = n, true
	}
	if v, ok := d.Get("Encrypt"); ok {
		switch v.(type) {
		case raw.RefObj, *raw.DictObj:
			t.Encrypt = v
		}
	}
	if v, ok := d.Get("Info"); ok {
		t.Info, t.HasInfo = v.(raw.RefObj)
	}
	if v, ok := d.Get("ID"); ok {
		if arr, ok := v.(*raw.ArrayObj); ok && arr.Len() == 2 {
			a, okA := arr.Items[0].(raw.StringObj)
			b, okB := arr.Items[1].(raw.StringObj)
			if okA && okB {
				t.ID = [2][]byte{a.Bytes, b.Bytes}
				t.HasID = true
			}
		}
	}
	return t
}

// Encrypted reports whether the trailer names an encryption dictionary.
func (t *Trailer) Encrypted() bool { return t != nil && t.Encrypt != nil }

// Merge fills entries missing from t with those of an older trailer. Chain
// links (Prev, XRefStm) are not inherited.
func (t *Trailer) Merge(older *Trailer) {
	if older == nil {
		return
	}
	for _, key := range older.Dict.Keys() {
		switch key {
		case "Prev", "XRefStm":
			continue
		}
		if _, ok := t.Dict.Get(key); ok {
			continue
		}
		v, _ := older.Dict.Get(key)
		t.Dict.Set(key, v)
	}
	prev, hasPrev := t.Prev, t.HasPrev
	stm, hasStm := t.XRefStm, t.HasXRefStm
	*t = *NewTrailer(t.Dict)
	t.Prev, t.HasPrev = prev, hasPrev
	t.XRefStm, t.HasXRefStm = stm, hasStm
}

// ReadTrailer expects the trailer keyword followed by a dictionary.
func (p *Parser) ReadTrailer() (*Trailer, error) {
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	if !tok.Is(scanner.KeywordTrailer) {
		return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", tok.Pos, "expected trailer, found %s", describe(tok))
	}
	obj, err := p.ReadItem()
	if err != nil {
		return nil, err
	}
	d, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, pdferr.New(pdferr.KindWrongType, "parser", tok.End, "trailer is a %s, not a dictionary", obj.Type())
	}
	return NewTrailer(d), nil
}
