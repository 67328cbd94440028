package parser

import (
	"github.com/wudi/pdfgraph/ir/raw"
	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/pdferr"
	"github.com/wudi/pdfgraph/scanner"
	"github.com/wudi/pdfgraph/security"
)

// Owner is the object registry a parser reports references to. It decides
// whether a reference names a known object, a placeholder for an object not
// located yet, or nothing.
type Owner interface {
	// GetReference returns the handle for ref when the registry knows it.
	GetReference(ref raw.ObjectRef) (raw.RefObj, bool)
	// HasTrailer reports whether the registry is final.
	HasTrailer() bool
	// RegisterPlaceholder records ref as "not yet located" and returns its handle.
	RegisterPlaceholder(ref raw.ObjectRef) raw.RefObj
	// Resolve loads the direct value of ref.
	Resolve(ref raw.ObjectRef) (raw.Object, error)
}

// ObjectReader is the surface shared by Parser and DecryptingParser.
type ObjectReader interface {
	ReadItem() (raw.Object, error)
	ReadTrailer() (*Trailer, error)
	ReadObjectAt(ref raw.ObjectRef, offset int64) (raw.IndirectObj, error)
	PeekNextItemKind() scanner.TokenType
	Position() int64
	Seek(offset int64) error
	Read(buf []byte, offset int64) (int, error)
}

type Config struct {
	Owner       Owner
	Diagnostics observability.Sink
	Limits      security.Limits
	// Lenient accepts an object definition that lacks endobj, with a
	// warning. Used when reading a table recovered by a linear scan.
	Lenient bool
}

// Parser reads COS objects from a scanner. It is not safe for concurrent use.
type Parser struct {
	s       scanner.Scanner
	owner   Owner
	diag    observability.Sink
	limits  security.Limits
	source  raw.StreamSource
	lenient bool

	// pending holds at most one token that was read ahead and given back.
	pending *scanner.Token

	// sec and current are set only on the decrypting variant; current is the
	// object whose body is being read.
	sec     security.Handler
	current *raw.ObjectRef
}

func New(s scanner.Scanner, cfg Config) *Parser {
	return &Parser{
		s:       s,
		owner:   cfg.Owner,
		diag:    observability.OrNop(cfg.Diagnostics),
		limits:  cfg.Limits.WithDefaults(),
		source:  raw.ReaderAtSource{R: s},
		lenient: cfg.Lenient,
	}
}

// Position is the offset of the next unread token.
func (p *Parser) Position() int64 {
	if p.pending != nil {
		return p.pending.Pos
	}
	return p.s.Position()
}

// Seek moves to an absolute offset and drops any pending token.
func (p *Parser) Seek(offset int64) error {
	p.pending = nil
	return p.s.Seek(offset)
}

// Read copies raw bytes at offset without moving the parser.
func (p *Parser) Read(buf []byte, offset int64) (int, error) {
	return p.s.ReadAt(buf, offset)
}

// PeekNextItemKind reports the type of the next token without consuming it.
func (p *Parser) PeekNextItemKind() scanner.TokenType {
	if p.pending != nil {
		return p.pending.Type
	}
	return p.s.PeekKind()
}

func (p *Parser) next() (scanner.Token, error) {
	if p.pending != nil {
		tok := *p.pending
		p.pending = nil
		return tok, nil
	}
	return p.s.Next()
}

func (p *Parser) pushBack(tok scanner.Token) error {
	if p.pending != nil {
		return pdferr.New(pdferr.KindLogic, "parser", tok.Pos, "pushback slot already holds the token at %d", p.pending.Pos)
	}
	p.pending = &tok
	return nil
}

// ReadItem reads one object. An "N G obj ... endobj" definition comes back
// as raw.IndirectObj and "N G R" as a reference decided by the Owner.
func (p *Parser) ReadItem() (raw.Object, error) {
	return p.readItem(0)
}

func (p *Parser) readItem(depth int) (raw.Object, error) {
	if depth > p.limits.MaxNestingDepth {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "parser", p.Position(), "nesting deeper than %d", p.limits.MaxNestingDepth)
	}
	tok, err := p.next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenEOF:
		return nil, pdferr.New(pdferr.KindUnexpectedEOF, "parser", tok.Pos, "end of data where an object was expected")
	case scanner.TokenInteger:
		if tok.Int >= 0 {
			return p.readNumberOrReference(tok, depth)
		}
		return raw.NumberInt(tok.Int), nil
	case scanner.TokenLong:
		return raw.NumberInt(tok.Int), nil
	case scanner.TokenReal:
		return raw.NumberFloat(tok.Float), nil
	case scanner.TokenString:
		return p.stringObject(raw.Str(tok.Bytes), tok.Pos)
	case scanner.TokenHexString:
		return p.stringObject(raw.HexStr(tok.Bytes), tok.Pos)
	case scanner.TokenName:
		return raw.NameLiteral(tok.Str), nil
	case scanner.TokenBeginArray:
		return p.readArray(depth)
	case scanner.TokenBeginDict:
		return p.readDict(depth)
	case scanner.TokenKeyword:
		switch tok.Keyword {
		case scanner.KeywordTrue:
			return raw.Bool(true), nil
		case scanner.KeywordFalse:
			return raw.Bool(false), nil
		case scanner.KeywordNull:
			return raw.NullObj{}, nil
		}
		return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", tok.Pos, "unexpected keyword %q", tok.Str)
	default:
		return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", tok.Pos, "unexpected %s", tok.Type)
	}
}

// readNumberOrReference decides between "N", "N G R" and "N G obj" with at
// most two tokens of lookahead. When the second integer turns out to be a
// plain number it goes into the pushback slot.
func (p *Parser) readNumberOrReference(first scanner.Token, depth int) (raw.Object, error) {
	n := raw.NumberInt(first.Int)
	if p.s.PeekKind() != scanner.TokenInteger {
		return n, nil
	}
	second, err := p.s.Next()
	if err != nil {
		return nil, err
	}
	if second.Int >= 0 {
		ref := raw.ObjectRef{Num: int(first.Int), Gen: int(second.Int)}
		if p.s.PeekIsR() {
			if _, err := p.s.Next(); err != nil {
				return nil, err
			}
			return p.reference(ref), nil
		}
		if p.s.PeekKeyword() == scanner.KeywordObj {
			if _, err := p.s.Next(); err != nil {
				return nil, err
			}
			return p.readIndirect(ref, first.Pos, depth)
		}
	}
	if err := p.pushBack(second); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *Parser) reference(ref raw.ObjectRef) raw.Object {
	if p.owner == nil {
		return raw.RefObj{R: ref}
	}
	if r, ok := p.owner.GetReference(ref); ok {
		return r
	}
	if !p.owner.HasTrailer() {
		return p.owner.RegisterPlaceholder(ref)
	}
	// dangling reference in a complete file: the null object
	return raw.NullObj{}
}

func (p *Parser) readIndirect(ref raw.ObjectRef, start int64, depth int) (raw.Object, error) {
	if p.sec != nil {
		outer := p.current
		p.current = &ref
		p.sec.SelectKey(ref)
		defer func() {
			p.current = outer
			if outer != nil {
				p.sec.SelectKey(*outer)
			}
		}()
	}

	var value raw.Object = raw.NullObj{}
	if p.pending == nil && p.s.PeekKeyword() == scanner.KeywordEndObj {
		observability.Warnf(p.diag, "parser", start, "object %s has an empty body", ref)
	} else {
		v, err := p.readItem(depth + 1)
		if err != nil {
			return nil, wrapObject(err, ref)
		}
		if v.Kind() == raw.KindIndirect {
			return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", start, "object definition nested inside %s", ref).WithObject(ref, "indirect")
		}
		value = v
	}

	tok, err := p.next()
	if err != nil {
		return nil, wrapObject(err, ref)
	}
	if !tok.Is(scanner.KeywordEndObj) {
		if p.lenient {
			observability.Warnf(p.diag, "parser", tok.Pos, "object %s has no endobj", ref)
			if tok.Type != scanner.TokenEOF {
				if err := p.pushBack(tok); err != nil {
					return nil, err
				}
			}
			return raw.IndirectObj{Ref: ref, Value: value}, nil
		}
		return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", tok.Pos, "expected endobj, found %s", describe(tok)).WithObject(ref, value.Type())
	}
	return raw.IndirectObj{Ref: ref, Value: value}, nil
}

func (p *Parser) readArray(depth int) (raw.Object, error) {
	arr := &raw.ArrayObj{}
	for {
		if p.pending == nil && p.s.PeekKind() == scanner.TokenEndArray {
			if _, err := p.s.Next(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		item, err := p.readItem(depth + 1)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
		if arr.Len() > p.limits.MaxArraySize {
			return nil, pdferr.New(pdferr.KindIsCorrupt, "parser", p.Position(), "array exceeds %d elements", p.limits.MaxArraySize)
		}
	}
}

func (p *Parser) readDict(depth int) (raw.Object, error) {
	d := raw.Dict()
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenEndDict {
			break
		}
		if tok.Type == scanner.TokenEOF {
			return nil, pdferr.New(pdferr.KindUnexpectedEOF, "parser", tok.Pos, "unterminated dictionary")
		}
		if tok.Type != scanner.TokenName {
			return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", tok.Pos, "dictionary key must be a name, found %s", describe(tok))
		}
		val, err := p.readItem(depth + 1)
		if err != nil {
			return nil, err
		}
		// Set drops null values, so a null entry reads as an absent key.
		d.Set(tok.Str, val)
		if d.Len() > p.limits.MaxDictSize {
			return nil, pdferr.New(pdferr.KindIsCorrupt, "parser", tok.Pos, "dictionary exceeds %d entries", p.limits.MaxDictSize)
		}
	}
	if p.pending == nil && p.s.PeekStream() {
		return p.readStream(d)
	}
	return d, nil
}

func (p *Parser) readStream(dict *raw.DictObj) (raw.Object, error) {
	kw, err := p.s.Next()
	if err != nil {
		return nil, err
	}
	start, err := p.s.BeginStreamData()
	if err != nil {
		return nil, err
	}
	length, err := p.streamLength(dict, kw.Pos)
	if err != nil {
		return nil, err
	}
	if length > p.limits.MaxStreamLength {
		return nil, pdferr.New(pdferr.KindIsCorrupt, "parser", start, "stream length %d exceeds limit %d", length, p.limits.MaxStreamLength)
	}
	if err := p.s.Seek(start + length); err != nil {
		return nil, pdferr.Wrap(pdferr.KindIsCorrupt, "parser", start, err)
	}
	end, err := p.s.Next()
	if err != nil {
		return nil, err
	}
	if !end.Is(scanner.KeywordEndStream) {
		return nil, pdferr.New(pdferr.KindUnexpectedToken, "parser", end.Pos, "expected endstream after %d bytes of stream data, found %s", length, describe(end))
	}
	st := &raw.StreamObj{Dict: dict, Offset: start, Size: length, Source: p.source}
	if p.sec != nil && p.current != nil {
		st.Source = p.decryptingSource(dict, *p.current)
	}
	return st, nil
}

// streamLength reads /Length, resolving it through the Owner when it is an
// indirect reference. On the decrypting variant the active key is saved and
// restored around the lookup, which parses a different object.
func (p *Parser) streamLength(dict *raw.DictObj, at int64) (int64, error) {
	v, ok := dict.Get("Length")
	if !ok {
		return 0, pdferr.New(pdferr.KindMissingRequiredKey, "parser", at, "stream dictionary has no Length")
	}
	if ref, isRef := v.(raw.RefObj); isRef {
		if p.owner == nil {
			return 0, pdferr.New(pdferr.KindMissingRequiredKey, "parser", at, "indirect Length %s cannot be resolved without a registry", ref.R)
		}
		var saved raw.ObjectRef
		if p.sec != nil {
			saved = p.sec.ActiveKey()
		}
		resolved, err := p.owner.Resolve(ref.R)
		if p.sec != nil {
			p.sec.SelectKey(saved)
		}
		if err != nil {
			return 0, err
		}
		v = resolved
	}
	n, ok := v.(raw.NumberObj)
	if !ok || !n.IsInteger() {
		return 0, pdferr.New(pdferr.KindWrongType, "parser", at, "stream Length is %s, not an integer", v.Type())
	}
	if n.Int() < 0 {
		return 0, pdferr.New(pdferr.KindIsCorrupt, "parser", at, "negative stream Length %d", n.Int())
	}
	return n.Int(), nil
}

func (p *Parser) stringObject(s raw.StringObj, at int64) (raw.Object, error) {
	if p.sec == nil || p.current == nil {
		return s, nil
	}
	plain, err := p.sec.Decrypt(s.Bytes, security.DataClassString)
	if err != nil {
		return nil, pdferr.Wrap(pdferr.KindIsCorrupt, "parser", at, err).WithObject(*p.current, "string")
	}
	s.Bytes = plain
	return s, nil
}

// ReadObjectAt parses the definition of ref stored at offset and checks that
// the header names the expected object.
func (p *Parser) ReadObjectAt(ref raw.ObjectRef, offset int64) (raw.IndirectObj, error) {
	if err := p.Seek(offset); err != nil {
		return raw.IndirectObj{}, err
	}
	obj, err := p.ReadItem()
	if err != nil {
		return raw.IndirectObj{}, wrapObject(err, ref)
	}
	ind, ok := obj.(raw.IndirectObj)
	if !ok {
		return raw.IndirectObj{}, pdferr.New(pdferr.KindIsCorrupt, "parser", offset, "no object definition at offset, found %s", obj.Type()).WithObject(ref, obj.Type())
	}
	if ind.Ref.Num != ref.Num || ind.Ref.Gen != ref.Gen {
		return raw.IndirectObj{}, pdferr.New(pdferr.KindIsCorrupt, "parser", offset, "offset holds object %s", ind.Ref).WithObject(ref, ind.Value.Type())
	}
	return ind, nil
}

func wrapObject(err error, ref raw.ObjectRef) error {
	if pe, ok := err.(*pdferr.Error); ok && pe.Object == nil {
		cp := *pe
		cp.Object = &ref
		return &cp
	}
	return err
}

func describe(tok scanner.Token) string {
	switch tok.Type {
	case scanner.TokenKeyword:
		return "keyword " + tok.Str
	case scanner.TokenName:
		return "name /" + tok.Str
	case scanner.TokenEOF:
		return "end of data"
	default:
		return tok.Type.String()
	}
}
