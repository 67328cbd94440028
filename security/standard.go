package security

import (
	"fmt"

	"github.com/wudi/pdfgraph/ir/raw"
)

type standardHandler struct {
	params
	key    []byte
	authed bool
	active raw.ObjectRef
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.encryptMetadata }

func (h *standardHandler) SelectKey(ref raw.ObjectRef) { h.active = ref }
func (h *standardHandler) ActiveKey() raw.ObjectRef   { return h.active }

// Authenticate tries password as the user password, then as the owner
// password. On success the file key is installed.
func (h *standardHandler) Authenticate(password string) error {
	var (
		key []byte
		ok  bool
	)
	if h.r >= 5 {
		key, ok = h.authenticateSHA([]byte(password))
	} else {
		key, ok = h.authenticateMD5([]byte(password))
	}
	if !ok {
		return ErrInvalidPassword
	}
	h.key, h.authed = key, true
	if !h.hasP && h.r >= 5 {
		if p, ok := unsealPerms(key, h.perms); ok {
			h.p = p
		}
	}
	return nil
}

func (h *standardHandler) authenticateMD5(pwd []byte) ([]byte, bool) {
	key := fileKeyMD5(pwd, h.params)
	if userEntryMatches(key, h.params) {
		return key, true
	}
	user := ownerToUser(pwd, h.params)
	key = fileKeyMD5(user, h.params)
	if userEntryMatches(key, h.params) {
		return key, true
	}
	return nil, false
}

func (h *standardHandler) authenticateSHA(pwd []byte) ([]byte, bool) {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	if key, ok := fileKeySHA(pwd, h.u, h.ue, nil, h.r); ok {
		return key, true
	}
	if len(h.u) < 48 {
		return nil, false
	}
	return fileKeySHA(pwd, h.o, h.oe, h.u[:48], h.r)
}

func (h *standardHandler) Permissions() Permissions { return permissionsFromFlags(h.p) }

func (h *standardHandler) Decrypt(data []byte, class DataClass) ([]byte, error) {
	return h.DecryptWithFilter(data, class, "")
}

func (h *standardHandler) DecryptWithFilter(data []byte, class DataClass, cryptFilter string) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	m, err := h.methodFor(class, cryptFilter)
	if err != nil {
		return nil, err
	}
	if m == methodIdentity || len(data) == 0 {
		return data, nil
	}
	key := objectKey(h.key, h.active, h.r, m == methodAES)
	if m == methodAES {
		plain, err := aesDecrypt(key, data)
		if err != nil {
			return nil, fmt.Errorf("object %s: %w", h.active, err)
		}
		return plain, nil
	}
	return rc4XOR(key, data), nil
}

func (h *standardHandler) methodFor(class DataClass, filter string) (method, error) {
	if filter == "" {
		if class == DataClassString {
			return h.str, nil
		}
		return h.stream, nil
	}
	base := methodRC4
	if h.v >= 4 {
		base = methodAES
	}
	return h.filterMethod(filter, base)
}
