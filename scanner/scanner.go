package scanner

import (
	"bytes"
	"io"
	"strconv"

	"github.com/wudi/pdfgraph/observability"
	"github.com/wudi/pdfgraph/pdferr"
)

type TokenType int

const (
	TokenEOF        TokenType = iota
	TokenInteger              // fits in 32 bits
	TokenReal                 // has a decimal point
	TokenLong                 // integer wider than 32 bits
	TokenString               // (literal)
	TokenHexString            // <hex>
	TokenName                 // /Name
	TokenBeginArray           // [
	TokenEndArray             // ]
	TokenBeginDict            // <<
	TokenEndDict              // >>
	TokenKeyword              // obj, endobj, R, ...
	TokenInvalid              // only reported by PeekKind for bytes that cannot start a token
)

var tokenTypeNames = [...]string{
	TokenEOF:        "EOF",
	TokenInteger:    "integer",
	TokenReal:       "real",
	TokenLong:       "long",
	TokenString:     "string",
	TokenHexString:  "hex string",
	TokenName:       "name",
	TokenBeginArray: "[",
	TokenEndArray:   "]",
	TokenBeginDict:  "<<",
	TokenEndDict:    ">>",
	TokenKeyword:    "keyword",
	TokenInvalid:    "invalid",
}

func (t TokenType) String() string {
	if t < 0 || int(t) >= len(tokenTypeNames) {
		return "unknown"
	}
	return tokenTypeNames[t]
}

// IsNumber reports whether the type is one of the numeric kinds.
func (t TokenType) IsNumber() bool {
	return t == TokenInteger || t == TokenReal || t == TokenLong
}

// Keyword identifies the fixed keyword table.
type Keyword int

const (
	KeywordNone    Keyword = iota // token is not a keyword
	KeywordUnknown                // a letter run outside the table
	KeywordObj
	KeywordEndObj
	KeywordStream
	KeywordEndStream
	KeywordTrue
	KeywordFalse
	KeywordNull
	KeywordR
	KeywordXRef
	KeywordTrailer
	KeywordStartXRef
	KeywordQuote       // '
	KeywordDoubleQuote // "
)

var keywords = map[string]Keyword{
	"obj":       KeywordObj,
	"endobj":    KeywordEndObj,
	"stream":    KeywordStream,
	"endstream": KeywordEndStream,
	"true":      KeywordTrue,
	"false":     KeywordFalse,
	"null":      KeywordNull,
	"R":         KeywordR,
	"xref":      KeywordXRef,
	"trailer":   KeywordTrailer,
	"startxref": KeywordStartXRef,
}

// LookupKeyword maps a letter run to its keyword.
func LookupKeyword(s string) Keyword {
	if k, ok := keywords[s]; ok {
		return k
	}
	return KeywordUnknown
}

// Token is one lexical item. Raw holds the source bytes [Pos, End); Str the
// decoded name or keyword text; Bytes the decoded string payload.
type Token struct {
	Type    TokenType
	Pos     int64
	End     int64
	Raw     []byte
	Str     string
	Bytes   []byte
	Int     int64
	Float   float64
	Keyword Keyword
}

// IsInteger reports whether the token is an Integer or a Long.
func (t Token) IsInteger() bool { return t.Type == TokenInteger || t.Type == TokenLong }

// Is reports whether the token is the given keyword.
func (t Token) Is(k Keyword) bool { return t.Type == TokenKeyword && t.Keyword == k }

// Scanner is a forward-only tokenizer with an absolutely settable position.
type Scanner interface {
	Next() (Token, error)
	Position() int64
	Seek(offset int64) error

	PeekKind() TokenType
	PeekKeyword() Keyword
	PeekIsR() bool
	PeekStream() bool

	BeginStreamData() (int64, error)
	FindForward(needle []byte, from int64) (int64, bool)
	ReadAt(p []byte, off int64) (int, error)
}

type Config struct {
	MaxStringLength int64
	WindowSize      int64
	Diagnostics     observability.Sink
}

// lookBehind is how many bytes before the requested offset a refill keeps,
// so short backward glances stay inside the window.
const lookBehind = 256

// pdfScanner buffers PDF data from a ReaderAt in a sliding window.
type pdfScanner struct {
	reader io.ReaderAt
	cfg    Config
	diag   observability.Sink

	buf   []byte
	base  int64
	size  int64 // -1 until EOF has been observed
	chunk int64
	ioErr error

	pos int64
}

// New returns a scanner reading from r.
func New(r io.ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	if chunk < 2*lookBehind {
		chunk = 2 * lookBehind
	}
	return &pdfScanner{reader: r, cfg: cfg, diag: observability.OrNop(cfg.Diagnostics), size: -1, chunk: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

func (s *pdfScanner) Seek(offset int64) error {
	if offset < 0 {
		return pdferr.New(pdferr.KindIsCorrupt, "scanner", offset, "seek out of range")
	}
	if s.size >= 0 && offset > s.size {
		return pdferr.New(pdferr.KindIsCorrupt, "scanner", offset, "seek beyond end of data (%d bytes)", s.size)
	}
	s.pos = offset
	return nil
}

func (s *pdfScanner) ReadAt(p []byte, off int64) (int, error) { return s.reader.ReadAt(p, off) }

// at returns the byte at off, or -1 past the end of the data.
func (s *pdfScanner) at(off int64) int {
	if off < 0 {
		return -1
	}
	if off >= s.base && off < s.base+int64(len(s.buf)) {
		return int(s.buf[off-s.base])
	}
	if s.size >= 0 && off >= s.size {
		return -1
	}
	s.fill(off)
	if off >= s.base && off < s.base+int64(len(s.buf)) {
		return int(s.buf[off-s.base])
	}
	return -1
}

func (s *pdfScanner) fill(off int64) {
	start := off - lookBehind
	if start < 0 {
		start = 0
	}
	if int64(cap(s.buf)) < s.chunk {
		s.buf = make([]byte, s.chunk)
	}
	s.buf = s.buf[:s.chunk]
	n, err := s.reader.ReadAt(s.buf, start)
	if n < 0 {
		n = 0
	}
	s.buf = s.buf[:n]
	s.base = start
	switch {
	case err == io.EOF:
		s.size = start + int64(n)
	case err != nil:
		s.ioErr = err
		s.size = start + int64(n)
	case int64(n) < s.chunk:
		s.size = start + int64(n)
	}
}

// slice copies the source bytes in [start, end).
func (s *pdfScanner) slice(start, end int64) []byte {
	if end <= start {
		return nil
	}
	if start >= s.base && end <= s.base+int64(len(s.buf)) {
		return append([]byte(nil), s.buf[start-s.base:end-s.base]...)
	}
	out := make([]byte, end-start)
	n, _ := s.reader.ReadAt(out, start)
	return out[:n]
}

func (s *pdfScanner) fail(kind pdferr.Kind, offset int64, format string, args ...any) error {
	if s.ioErr != nil {
		return pdferr.Wrap(pdferr.KindUnexpectedEOF, "scanner", offset, s.ioErr)
	}
	return pdferr.New(kind, "scanner", offset, format, args...)
}

// skipFrom returns the first offset at or after p that is not whitespace or
// inside a comment.
func (s *pdfScanner) skipFrom(p int64) int64 {
	for {
		c := s.at(p)
		switch {
		case c < 0:
			return p
		case isWhitespace(byte(c)):
			p++
		case c == '%':
			for {
				p++
				c = s.at(p)
				if c < 0 || c == '\n' || c == '\r' {
					break
				}
			}
		default:
			return p
		}
	}
}

func (s *pdfScanner) Next() (Token, error) {
	s.pos = s.skipFrom(s.pos)
	start := s.pos
	c := s.at(start)
	if c < 0 {
		if s.ioErr != nil {
			return Token{}, s.fail(pdferr.KindUnexpectedEOF, start, "read failed")
		}
		return Token{Type: TokenEOF, Pos: start, End: start}, nil
	}
	switch c {
	case '<':
		if s.at(start+1) == '<' {
			return s.punct(TokenBeginDict, 2), nil
		}
		return s.scanHexString()
	case '>':
		if s.at(start+1) == '>' {
			return s.punct(TokenEndDict, 2), nil
		}
		s.pos++
		return Token{}, s.fail(pdferr.KindUnexpectedChar, start, "lone '>'")
	case '[':
		return s.punct(TokenBeginArray, 1), nil
	case ']':
		return s.punct(TokenEndArray, 1), nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '\'':
		tok := s.punct(TokenKeyword, 1)
		tok.Keyword, tok.Str = KeywordQuote, "'"
		return tok, nil
	case '"':
		tok := s.punct(TokenKeyword, 1)
		tok.Keyword, tok.Str = KeywordDoubleQuote, `"`
		return tok, nil
	}
	if isNumberStart(byte(c)) {
		return s.scanNumber()
	}
	if isLetter(byte(c)) {
		return s.scanKeyword(), nil
	}
	s.pos++
	return Token{}, s.fail(pdferr.KindUnexpectedChar, start, "unexpected byte 0x%02x", c)
}

func (s *pdfScanner) punct(t TokenType, n int64) Token {
	start := s.pos
	s.pos += n
	return Token{Type: t, Pos: start, End: s.pos, Raw: s.slice(start, s.pos), Str: t.String()}
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for {
		c := s.at(s.pos)
		if c < 0 || isDelimiter(byte(c)) {
			break
		}
		if c == '#' {
			hi, lo := s.at(s.pos+1), s.at(s.pos+2)
			if !isHex(hi) || !isHex(lo) {
				s.pos++
				return Token{}, s.fail(pdferr.KindCorruptToken, s.pos-1, "malformed #xx escape in name")
			}
			out.WriteByte(fromHex(byte(hi))<<4 | fromHex(byte(lo)))
			s.pos += 3
			continue
		}
		out.WriteByte(byte(c))
		s.pos++
	}
	return Token{Type: TokenName, Pos: start, End: s.pos, Raw: s.slice(start, s.pos), Str: out.String()}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		c := s.at(s.pos)
		if c < 0 {
			return Token{}, s.fail(pdferr.KindCorruptToken, start, "unterminated literal string")
		}
		s.pos++
		switch c {
		case '\\':
			esc := s.at(s.pos)
			if esc < 0 {
				return Token{}, s.fail(pdferr.KindUnexpectedEOF, s.pos-1, "backslash at end of data")
			}
			s.pos++
			switch {
			case esc == '\r':
				if s.at(s.pos) == '\n' {
					s.pos++
				}
			case esc == '\n':
			case esc >= '0' && esc <= '7':
				val := esc - '0'
				for k := 0; k < 2; k++ {
					d := s.at(s.pos)
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + (d - '0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(byte(esc)))
			}
		case '\r':
			// CR and CRLF inside a literal both read as a single LF
			if s.at(s.pos) == '\n' {
				s.pos++
			}
			buf.WriteByte('\n')
		case '(':
			depth++
			buf.WriteByte('(')
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(')')
			}
		default:
			buf.WriteByte(byte(c))
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.fail(pdferr.KindCorruptToken, start, "literal string exceeds %d bytes", s.cfg.MaxStringLength)
		}
	}
	return Token{Type: TokenString, Pos: start, End: s.pos, Raw: s.slice(start, s.pos), Bytes: buf.Bytes()}, nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	out := make([]byte, 0, 32)
	var pending byte
	half := false
	for {
		c := s.at(s.pos)
		if c < 0 {
			return Token{}, s.fail(pdferr.KindCorruptToken, start, "unterminated hex string")
		}
		s.pos++
		if c == '>' {
			break
		}
		if isWhitespace(byte(c)) {
			continue
		}
		if !isHex(c) {
			return Token{}, s.fail(pdferr.KindCorruptToken, s.pos-1, "invalid hex digit %q", rune(c))
		}
		if half {
			out = append(out, pending<<4|fromHex(byte(c)))
			half = false
		} else {
			pending = fromHex(byte(c))
			half = true
		}
		if s.cfg.MaxStringLength > 0 && int64(len(out)) > s.cfg.MaxStringLength {
			return Token{}, s.fail(pdferr.KindCorruptToken, start, "hex string exceeds %d bytes", s.cfg.MaxStringLength)
		}
	}
	// odd number of nibbles: the last one is followed by an implicit 0
	if half {
		out = append(out, pending<<4)
	}
	return Token{Type: TokenHexString, Pos: start, End: s.pos, Raw: s.slice(start, s.pos), Bytes: out}, nil
}

// longDigits is the number of significant digits from which an integer is
// classified as Long regardless of its value.
const longDigits = 10

func (s *pdfScanner) scanNumber() (Token, error) {
	start := s.pos
	for {
		c := s.at(s.pos)
		if c < 0 || !isNumberStart(byte(c)) {
			break
		}
		s.pos++
	}
	raw := s.slice(start, s.pos)
	tok := Token{Pos: start, End: s.pos, Raw: raw, Str: string(raw)}

	digits, sigDigits, dots := 0, 0, 0
	leading := true
	for i, c := range raw {
		switch {
		case c == '+' || c == '-':
			if i != 0 {
				return Token{}, s.fail(pdferr.KindCorruptToken, start, "misplaced sign in number %q", raw)
			}
		case c == '.':
			dots++
		default:
			digits++
			if c != '0' || !leading {
				leading = false
				sigDigits++
			}
		}
	}
	if digits == 0 || dots > 1 {
		return Token{}, s.fail(pdferr.KindCorruptToken, start, "malformed number %q", raw)
	}
	if dots == 1 {
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return Token{}, s.fail(pdferr.KindCorruptToken, start, "malformed real %q", raw)
		}
		tok.Type, tok.Float = TokenReal, f
		return tok, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return Token{}, s.fail(pdferr.KindCorruptToken, start, "integer %q overflows 64 bits", raw)
	}
	tok.Int, tok.Float = n, float64(n)
	tok.Type = TokenInteger
	if sigDigits >= longDigits || n > 1<<31-1 || n < -1<<31 {
		tok.Type = TokenLong
	}
	return tok, nil
}

func (s *pdfScanner) scanKeyword() Token {
	start := s.pos
	for {
		c := s.at(s.pos)
		if c < 0 || !isLetter(byte(c)) {
			break
		}
		s.pos++
	}
	raw := s.slice(start, s.pos)
	return Token{Type: TokenKeyword, Pos: start, End: s.pos, Raw: raw, Str: string(raw), Keyword: LookupKeyword(string(raw))}
}

func (s *pdfScanner) PeekKind() TokenType {
	q := s.skipFrom(s.pos)
	c := s.at(q)
	switch {
	case c < 0:
		return TokenEOF
	case c == '<':
		if s.at(q+1) == '<' {
			return TokenBeginDict
		}
		return TokenHexString
	case c == '>':
		if s.at(q+1) == '>' {
			return TokenEndDict
		}
		return TokenInvalid
	case c == '[':
		return TokenBeginArray
	case c == ']':
		return TokenEndArray
	case c == '(':
		return TokenString
	case c == '/':
		return TokenName
	case c == '\'' || c == '"':
		return TokenKeyword
	case isNumberStart(byte(c)):
		saved := s.pos
		s.pos = q
		tok, err := s.scanNumber()
		s.pos = saved
		if err != nil {
			return TokenInvalid
		}
		return tok.Type
	case isLetter(byte(c)):
		return TokenKeyword
	default:
		return TokenInvalid
	}
}

// maxKeywordPeek bounds the letter run PeekKeyword will look at; every entry
// of the keyword table is shorter.
const maxKeywordPeek = 16

func (s *pdfScanner) PeekKeyword() Keyword {
	q := s.skipFrom(s.pos)
	c := s.at(q)
	if c == '\'' {
		return KeywordQuote
	}
	if c == '"' {
		return KeywordDoubleQuote
	}
	var word []byte
	for len(word) < maxKeywordPeek {
		c = s.at(q)
		if c < 0 || !isLetter(byte(c)) {
			break
		}
		word = append(word, byte(c))
		q++
	}
	if len(word) == 0 {
		return KeywordNone
	}
	if len(word) == maxKeywordPeek {
		return KeywordUnknown
	}
	return LookupKeyword(string(word))
}

func (s *pdfScanner) PeekIsR() bool {
	q := s.skipFrom(s.pos)
	if s.at(q) != 'R' {
		return false
	}
	next := s.at(q + 1)
	return next < 0 || isDelimiter(byte(next))
}

func (s *pdfScanner) PeekStream() bool {
	q := s.skipFrom(s.pos)
	if s.at(q) != 's' || s.at(q+1) != 't' {
		return false
	}
	for i, want := range []byte("stream") {
		if s.at(q+int64(i)) != int(want) {
			return false
		}
	}
	next := s.at(q + 6)
	return next < 0 || isDelimiter(byte(next))
}

// BeginStreamData consumes the end-of-line that follows the stream keyword
// and returns the offset of the first payload byte.
func (s *pdfScanner) BeginStreamData() (int64, error) {
	p := s.pos
	for c := s.at(p); c == ' ' || c == '\t'; c = s.at(p) {
		p++
	}
	if p != s.pos {
		observability.Warnf(s.diag, "scanner", s.pos, "whitespace between stream keyword and end of line")
	}
	switch s.at(p) {
	case '\r':
		if s.at(p+1) == '\n' {
			p += 2
		} else {
			observability.Warnf(s.diag, "scanner", p, "solitary CR before stream data")
			p++
		}
	case '\n':
		p++
	case -1:
		return 0, s.fail(pdferr.KindUnexpectedEOF, p, "stream keyword at end of data")
	default:
		observability.Warnf(s.diag, "scanner", p, "stream keyword not followed by end of line")
	}
	s.pos = p
	return p, nil
}

// FindForward returns the offset of the next occurrence of needle at or
// after from. The scanner position is not changed.
func (s *pdfScanner) FindForward(needle []byte, from int64) (int64, bool) {
	if len(needle) == 0 {
		return from, true
	}
	for p := from; ; p++ {
		c := s.at(p)
		if c < 0 {
			return 0, false
		}
		if byte(c) != needle[0] {
			continue
		}
		match := true
		for i := 1; i < len(needle); i++ {
			if s.at(p+int64(i)) != int(needle[i]) {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }
func isLetter(c byte) bool      { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isHex(c int) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
