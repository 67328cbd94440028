// Package pdferr defines the error taxonomy shared by the scanner, the parser,
// the cross-reference layer and the open routine.
package pdferr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wudi/pdfgraph/ir/raw"
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota

	// Lexer
	KindUnexpectedChar
	KindUnexpectedEOF
	KindCorruptToken

	// Parser
	KindUnexpectedToken

	// Structural
	KindMissingRequiredKey
	KindIsCorrupt
	KindWrongType

	// Header
	KindHeaderMissing
	KindHeaderInvalid

	// KindLogic marks a violated internal invariant.
	KindLogic
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindUnexpectedChar:     "unexpected char",
	KindUnexpectedEOF:      "unexpected EOF",
	KindCorruptToken:       "corrupt token",
	KindUnexpectedToken:    "unexpected token",
	KindMissingRequiredKey: "missing required key",
	KindIsCorrupt:          "corrupt",
	KindWrongType:          "wrong type",
	KindHeaderMissing:      "header missing",
	KindHeaderInvalid:      "header invalid",
	KindLogic:              "logic error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Sentinel errors, one per kind. errors.Is(err, ErrUnexpectedEOF) matches any
// *Error of that kind.
var (
	ErrUnexpectedChar     = &Error{Kind: KindUnexpectedChar}
	ErrUnexpectedEOF      = &Error{Kind: KindUnexpectedEOF}
	ErrCorruptToken       = &Error{Kind: KindCorruptToken}
	ErrUnexpectedToken    = &Error{Kind: KindUnexpectedToken}
	ErrMissingRequiredKey = &Error{Kind: KindMissingRequiredKey}
	ErrIsCorrupt          = &Error{Kind: KindIsCorrupt}
	ErrWrongType          = &Error{Kind: KindWrongType}
	ErrHeaderMissing      = &Error{Kind: KindHeaderMissing}
	ErrHeaderInvalid      = &Error{Kind: KindHeaderInvalid}
	ErrLogic              = &Error{Kind: KindLogic}
)

// Error is the typed error raised by every layer. Source names the component
// ("scanner", "parser", "xref", ...), ObjectType the kind of object being
// read when the failure happened.
type Error struct {
	Kind       Kind
	Source     string
	Offset     int64
	Object     *raw.ObjectRef
	ObjectType string
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Source != "" {
		sb.WriteString(e.Source)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.ObjectType != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.ObjectType)
	}
	if e.Object != nil {
		fmt.Fprintf(&sb, " (object %d %d)", e.Object.Num, e.Object.Gen)
	}
	if e.Offset >= 0 && (e.Source != "" || e.Msg != "") {
		fmt.Fprintf(&sb, " at offset %d", e.Offset)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Source == "" && t.Msg == ""
}

// New builds an error of the given kind.
func New(kind Kind, source string, offset int64, format string, args ...any) *Error {
	return &Error{Kind: kind, Source: source, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and source to a lower-level cause.
func Wrap(kind Kind, source string, offset int64, err error) *Error {
	return &Error{Kind: kind, Source: source, Offset: offset, Err: err}
}

// WithObject records the object being read.
func (e *Error) WithObject(ref raw.ObjectRef, objectType string) *Error {
	e.Object = &ref
	if objectType != "" {
		e.ObjectType = objectType
	}
	return e
}

// KindOf reports the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsStructural reports whether err is a failure the open routine may recover
// from by rebuilding the cross-reference table.
func IsStructural(err error) bool {
	switch KindOf(err) {
	case KindHeaderMissing, KindLogic:
		return false
	default:
		return err != nil
	}
}
