package raw

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding is the encoding hint carried by a text string.
type Encoding int

const (
	EncodingPDFDoc Encoding = iota
	EncodingUTF16BE
	EncodingUTF16LE
	EncodingUTF8
)

var (
	bomUTF16BE = []byte{0xFE, 0xFF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
)

// Encoding inspects the byte-order mark to tell how Text should decode.
func (s StringObj) Encoding() Encoding {
	switch {
	case bytes.HasPrefix(s.Bytes, bomUTF16BE):
		return EncodingUTF16BE
	case bytes.HasPrefix(s.Bytes, bomUTF16LE):
		return EncodingUTF16LE
	case bytes.HasPrefix(s.Bytes, bomUTF8):
		return EncodingUTF8
	default:
		return EncodingPDFDoc
	}
}

// Text decodes the string as a PDF text string.
func (s StringObj) Text() string {
	switch s.Encoding() {
	case EncodingUTF16BE, EncodingUTF16LE:
		dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, s.Bytes)
		if err != nil {
			return decodePDFDoc(s.Bytes)
		}
		return string(out)
	case EncodingUTF8:
		out, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), s.Bytes)
		if err != nil {
			return string(s.Bytes[len(bomUTF8):])
		}
		return string(out)
	default:
		return decodePDFDoc(s.Bytes)
	}
}

// TextString encodes text as PDFDocEncoding when every rune fits, UTF-16BE
// with a byte-order mark otherwise.
func TextString(text string) StringObj {
	if b, ok := encodePDFDoc(text); ok {
		return StringObj{Bytes: b}
	}
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, _, err := transform.Bytes(enc, []byte(text))
	if err != nil {
		return StringObj{Bytes: []byte(text)}
	}
	return StringObj{Bytes: out}
}

// pdfDocHigh maps the code points where PDFDocEncoding departs from Latin-1.
var pdfDocHigh = map[byte]rune{
	0x18: 0x02D8, 0x19: 0x02C7, 0x1A: 0x02C6, 0x1B: 0x02D9,
	0x1C: 0x02DD, 0x1D: 0x02DB, 0x1E: 0x02DA, 0x1F: 0x02DC,
	0x80: 0x2022, 0x81: 0x2020, 0x82: 0x2021, 0x83: 0x2026,
	0x84: 0x2014, 0x85: 0x2013, 0x86: 0x0192, 0x87: 0x2044,
	0x88: 0x2039, 0x89: 0x203A, 0x8A: 0x2212, 0x8B: 0x2030,
	0x8C: 0x201E, 0x8D: 0x201C, 0x8E: 0x201D, 0x8F: 0x2018,
	0x90: 0x2019, 0x91: 0x201A, 0x92: 0x2122, 0x93: 0xFB01,
	0x94: 0xFB02, 0x95: 0x0141, 0x96: 0x0152, 0x97: 0x0160,
	0x98: 0x0178, 0x99: 0x017D, 0x9A: 0x0131, 0x9B: 0x0142,
	0x9C: 0x0153, 0x9D: 0x0161, 0x9E: 0x017E, 0xA0: 0x20AC,
}

var pdfDocReverse = func() map[rune]byte {
	m := make(map[rune]byte, len(pdfDocHigh))
	for b, r := range pdfDocHigh {
		m[r] = b
	}
	return m
}()

func decodePDFDoc(b []byte) string {
	var sb bytes.Buffer
	for _, c := range b {
		if r, ok := pdfDocHigh[c]; ok {
			sb.WriteRune(r)
			continue
		}
		if c == 0x9F || c == 0xAD {
			sb.WriteRune(utf8.RuneError)
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

func encodePDFDoc(text string) ([]byte, bool) {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if b, ok := pdfDocReverse[r]; ok {
			out = append(out, b)
			continue
		}
		if r > 0xFF || (r >= 0x18 && r <= 0x1F) || (r >= 0x80 && r <= 0xA0) || r == 0xAD {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}
