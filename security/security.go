// Package security opens documents protected by the Standard security
// handler. It authenticates a password, derives the file key and decrypts
// strings and streams object by object.
package security

import (
	"errors"
	"fmt"

	"github.com/wudi/pdfgraph/ir/raw"
)

// Permissions are the user access flags from the P entry.
type Permissions struct {
	Print             bool
	Modify            bool
	Copy              bool
	ModifyAnnotations bool
	FillForms         bool
	ExtractAccessible bool
	Assemble          bool
	PrintHighQuality  bool
}

func permissionsFromFlags(p int32) Permissions {
	return Permissions{
		Print:             p&(1<<2) != 0,
		Modify:            p&(1<<3) != 0,
		Copy:              p&(1<<4) != 0,
		ModifyAnnotations: p&(1<<5) != 0,
		FillForms:         p&(1<<8) != 0,
		ExtractAccessible: p&(1<<9) != 0,
		Assemble:          p&(1<<10) != 0,
		PrintHighQuality:  p&(1<<11) != 0,
	}
}

// DataClass says which crypt filter default applies to a payload.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// ErrInvalidPassword is returned by Authenticate when the password is
// neither the user nor the owner password.
var ErrInvalidPassword = errors.New("invalid password")

// Handler decrypts object payloads. Keys are per object: SelectKey binds the
// object whose payloads the following Decrypt calls belong to, and
// ActiveKey reports the current binding so callers can save and restore it.
type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	SelectKey(ref raw.ObjectRef)
	ActiveKey() raw.ObjectRef
	// DecryptWithFilter decrypts under a named crypt filter. An empty name
	// means the default filter for class.
	DecryptWithFilter(data []byte, class DataClass, cryptFilter string) ([]byte, error)
	Decrypt(data []byte, class DataClass) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
}

// HandlerBuilder assembles a Handler from an encryption dictionary and the
// trailer it came with. Without an encryption dictionary it yields the
// pass-through handler.
type HandlerBuilder struct {
	encrypt *raw.DictObj
	trailer *raw.DictObj
	fileID  []byte
}

func (b *HandlerBuilder) WithEncryptDict(d *raw.DictObj) *HandlerBuilder { b.encrypt = d; return b }
func (b *HandlerBuilder) WithTrailer(d *raw.DictObj) *HandlerBuilder     { b.trailer = d; return b }

// WithFileID overrides the first element of the trailer's ID array.
func (b *HandlerBuilder) WithFileID(id []byte) *HandlerBuilder { b.fileID = id; return b }

func (b *HandlerBuilder) Build() (Handler, error) {
	if b.encrypt == nil {
		return NoopHandler(), nil
	}
	ps, err := readParams(b.encrypt)
	if err != nil {
		return nil, err
	}
	ps.id = b.fileID
	if len(ps.id) == 0 {
		ps.id = firstID(b.trailer)
	}
	return &standardHandler{params: ps}, nil
}

// method is how a crypt filter transforms data.
type method int

const (
	methodIdentity method = iota
	methodRC4
	methodAES
)

// params is the decoded Standard encryption dictionary.
type params struct {
	v, r     int
	keyBytes int
	o, u     []byte
	oe, ue   []byte
	perms    []byte
	p        int32
	hasP     bool
	id       []byte

	encryptMetadata bool
	filters         map[string]method
	stream, str     method
}

func readParams(d *raw.DictObj) (params, error) {
	if name, ok := d.Name("Filter"); ok && name != "Standard" {
		return params{}, fmt.Errorf("unsupported security handler %q", name)
	}
	ps := params{v: 1, r: 2, encryptMetadata: true}
	if n, ok := d.Int("V"); ok && n > 0 {
		ps.v = int(n)
	}
	if n, ok := d.Int("R"); ok {
		ps.r = int(n)
	}
	if ps.v > 5 || ps.v == 3 {
		return params{}, fmt.Errorf("unsupported encryption version V=%d", ps.v)
	}
	if ps.r < 2 || ps.r > 6 {
		return params{}, fmt.Errorf("unsupported Standard handler revision R=%d", ps.r)
	}

	bits := int64(40)
	switch {
	case ps.v >= 5:
		bits = 256
	case ps.v == 4:
		bits = 128
	}
	if n, ok := d.Int("Length"); ok && n > 0 && ps.v < 5 {
		bits = n
	}
	if ps.v == 4 && bits < 128 {
		bits = 128
	}
	if bits%8 != 0 || bits < 40 {
		return params{}, fmt.Errorf("invalid key length %d", bits)
	}
	ps.keyBytes = int(bits / 8)

	ps.o = stringEntry(d, "O")
	ps.u = stringEntry(d, "U")
	ps.oe = stringEntry(d, "OE")
	ps.ue = stringEntry(d, "UE")
	ps.perms = stringEntry(d, "Perms")
	if n, ok := d.Int("P"); ok {
		ps.p, ps.hasP = int32(n), true
	}
	if v, ok := d.Get("EncryptMetadata"); ok {
		if b, ok := v.(raw.BoolObj); ok {
			ps.encryptMetadata = b.V
		}
	}

	base := methodRC4
	if ps.v >= 4 {
		base = methodAES
	}
	filters, err := readCryptFilters(d, base)
	if err != nil {
		return params{}, err
	}
	ps.filters = filters
	if ps.stream, err = ps.lookup(d, "StmF", base); err != nil {
		return params{}, err
	}
	if ps.str, err = ps.lookup(d, "StrF", base); err != nil {
		return params{}, err
	}
	return ps, nil
}

func readCryptFilters(d *raw.DictObj, base method) (map[string]method, error) {
	out := map[string]method{}
	v, ok := d.Get("CF")
	if !ok {
		return out, nil
	}
	cf, ok := v.(*raw.DictObj)
	if !ok {
		return nil, errors.New("CF is not a dictionary")
	}
	for _, name := range cf.Keys() {
		v, _ := cf.Get(name)
		entry, ok := v.(*raw.DictObj)
		if !ok {
			return nil, fmt.Errorf("crypt filter %s is not a dictionary", name)
		}
		m := base
		if cfm, ok := entry.Name("CFM"); ok {
			switch cfm {
			case "V2":
				m = methodRC4
			case "AESV2", "AESV3":
				m = methodAES
			case "None":
				m = methodIdentity
			default:
				return nil, fmt.Errorf("crypt filter %s uses unsupported method %s", name, cfm)
			}
		}
		out[name] = m
	}
	return out, nil
}

// lookup resolves the filter named by key. Absent and "Standard" names fall
// back to a Standard entry in CF, then to base.
func (ps params) lookup(d *raw.DictObj, key string, base method) (method, error) {
	name, _ := d.Name(key)
	return ps.filterMethod(name, base)
}

func (ps params) filterMethod(name string, base method) (method, error) {
	switch name {
	case "Identity":
		return methodIdentity, nil
	case "", "Standard":
		if m, ok := ps.filters["Standard"]; ok {
			return m, nil
		}
		return base, nil
	}
	if m, ok := ps.filters[name]; ok {
		return m, nil
	}
	return methodIdentity, fmt.Errorf("crypt filter %s not defined", name)
}

func stringEntry(d *raw.DictObj, key string) []byte {
	if v, ok := d.Get(key); ok {
		if s, ok := v.(raw.StringObj); ok {
			return s.Bytes
		}
	}
	return nil
}

func firstID(trailer *raw.DictObj) []byte {
	if trailer == nil {
		return nil
	}
	v, ok := trailer.Get("ID")
	if !ok {
		return nil
	}
	arr, ok := v.(*raw.ArrayObj)
	if !ok || arr.Len() == 0 {
		return nil
	}
	if s, ok := arr.Items[0].(raw.StringObj); ok {
		return s.Bytes
	}
	return nil
}

type plainHandler struct{}

func (plainHandler) IsEncrypted() bool         { return false }
func (plainHandler) Authenticate(string) error { return nil }
func (plainHandler) SelectKey(raw.ObjectRef)   {}
func (plainHandler) ActiveKey() raw.ObjectRef  { return raw.ObjectRef{} }
func (plainHandler) EncryptMetadata() bool     { return false }
func (plainHandler) Permissions() Permissions  { return permissionsFromFlags(-1) }

func (plainHandler) Decrypt(data []byte, _ DataClass) ([]byte, error) { return data, nil }

func (plainHandler) DecryptWithFilter(data []byte, _ DataClass, _ string) ([]byte, error) {
	return data, nil
}

// NoopHandler returns the pass-through handler of unencrypted documents.
// It grants every permission.
func NoopHandler() Handler { return plainHandler{} }
