package raw

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Serialize writes o in PDF syntax. Dictionaries keep their key order.
// Stream payloads are not read; a stream is written as its dictionary
// followed by a "stream" marker with the payload length.
func Serialize(o Object) []byte {
	var b bytes.Buffer
	writeObject(&b, o)
	return b.Bytes()
}

func writeObject(b *bytes.Buffer, o Object) {
	switch v := o.(type) {
	case NameObj:
		b.WriteString(NameToken(v.Val))
	case NumberObj:
		if v.IsInt {
			b.WriteString(strconv.FormatInt(v.I, 10))
		} else {
			b.WriteString(strconv.FormatFloat(v.F, 'f', -1, 64))
		}
	case BoolObj:
		b.WriteString(strconv.FormatBool(v.V))
	case NullObj:
		b.WriteString("null")
	case StringObj:
		if v.Hex {
			b.WriteByte('<')
			b.WriteString(hex.EncodeToString(v.Bytes))
			b.WriteByte('>')
			return
		}
		writeLiteral(b, v.Bytes)
	case *ArrayObj:
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeObject(b, it)
		}
		b.WriteByte(']')
	case *DictObj:
		b.WriteString("<<")
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			b.WriteByte(' ')
			b.WriteString(NameToken(k))
			b.WriteByte(' ')
			writeObject(b, val)
		}
		b.WriteString(" >>")
	case *StreamObj:
		writeObject(b, v.Dict)
		fmt.Fprintf(b, " stream[%d bytes]", v.Size)
	case RefObj:
		fmt.Fprintf(b, "%d %d R", v.R.Num, v.R.Gen)
	case IndirectObj:
		fmt.Fprintf(b, "%d %d obj ", v.Ref.Num, v.Ref.Gen)
		writeObject(b, v.Value)
		b.WriteString(" endobj")
	default:
		b.WriteString("null")
	}
}

// NameToken returns the '/'-prefixed name with delimiters, whitespace and
// non-ASCII bytes written as #xx escapes.
func NameToken(name string) string {
	var b bytes.Buffer
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch > ' ' && ch < 0x7f && !isNameDelimiter(ch) {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "#%02X", ch)
	}
	return b.String()
}

func isNameDelimiter(ch byte) bool {
	switch ch {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%', '#':
		return true
	}
	return false
}

func writeLiteral(b *bytes.Buffer, data []byte) {
	b.WriteByte('(')
	for _, ch := range data {
		switch ch {
		case '\\', '(', ')':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if ch < 0x20 || ch >= 0x7f {
				fmt.Fprintf(b, "\\%03o", ch)
			} else {
				b.WriteByte(ch)
			}
		}
	}
	b.WriteByte(')')
}
