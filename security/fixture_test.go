package security

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/wudi/pdfgraph/ir/raw"
)

// md5Fixture writes the entries of a revision 2 to 4 Standard dictionary
// and returns the file key a correct password must produce.
func md5Fixture(t *testing.T, user, owner string, p int32, id []byte, v, r, bits int) (*raw.DictObj, []byte) {
	t.Helper()
	n := bits / 8
	if r == 2 {
		n = 5
	}
	sum := md5.Sum(padPassword([]byte(owner)))
	ownerKey := sum[:]
	if r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(ownerKey)
			ownerKey = sum[:]
		}
	}
	var o []byte
	if r == 2 {
		o = rc4XOR(ownerKey[:n], padPassword([]byte(user)))
	} else {
		o = rc4Rounds(ownerKey[:n], padPassword([]byte(user)), false)
	}

	ps := params{r: r, keyBytes: n, o: o, p: p, id: id, encryptMetadata: true}
	key := fileKeyMD5([]byte(user), ps)
	var u []byte
	if r == 2 {
		u = rc4XOR(key, passwordPadding[:])
	} else {
		d := md5.New()
		d.Write(passwordPadding[:])
		d.Write(id)
		u = append(rc4Rounds(key, d.Sum(nil), false), make([]byte, 16)...)
	}

	enc := raw.Dict()
	enc.Set("Filter", raw.NameLiteral("Standard"))
	enc.Set("V", raw.NumberInt(int64(v)))
	enc.Set("R", raw.NumberInt(int64(r)))
	enc.Set("Length", raw.NumberInt(int64(bits)))
	enc.Set("O", raw.Str(o))
	enc.Set("U", raw.Str(u))
	enc.Set("P", raw.NumberInt(int64(p)))
	return enc, key
}

// shaFixture writes a revision 6 dictionary wrapping fileKey under both
// passwords. The P entry is left out so the flags come from Perms.
func shaFixture(t *testing.T, user, owner string, p int32, fileKey []byte) *raw.DictObj {
	t.Helper()
	iv := make([]byte, 16)
	wrap := func(pwd string, salt, extra []byte) []byte {
		out, err := aesCBCEncryptRaw(hardenedHash([]byte(pwd), salt, extra, 6), iv, fileKey)
		if err != nil {
			t.Fatalf("wrap key: %v", err)
		}
		return out
	}
	uSalt, uKeySalt := []byte("uvalsalt"), []byte("ukeysalt")
	u := append(append(hardenedHash([]byte(user), uSalt, nil, 6), uSalt...), uKeySalt...)
	ue := wrap(user, uKeySalt, nil)
	oSalt, oKeySalt := []byte("ovalsalt"), []byte("okeysalt")
	o := append(append(hardenedHash([]byte(owner), oSalt, u, 6), oSalt...), oKeySalt...)
	oe := wrap(owner, oKeySalt, u)

	block := make([]byte, 16)
	binary.LittleEndian.PutUint32(block[:4], uint32(p))
	copy(block[4:], []byte{0xff, 0xff, 0xff, 0xff, 'T', 'a', 'd', 'b', 0, 0, 0, 0})
	c, err := aes.NewCipher(fileKey)
	if err != nil {
		t.Fatalf("perms cipher: %v", err)
	}
	perms := make([]byte, 16)
	c.Encrypt(perms, block)

	enc := raw.Dict()
	enc.Set("Filter", raw.NameLiteral("Standard"))
	enc.Set("V", raw.NumberInt(5))
	enc.Set("R", raw.NumberInt(6))
	std := raw.Dict()
	std.Set("CFM", raw.NameLiteral("AESV3"))
	cf := raw.Dict()
	cf.Set("StdCF", std)
	enc.Set("CF", cf)
	enc.Set("StmF", raw.NameLiteral("StdCF"))
	enc.Set("StrF", raw.NameLiteral("StdCF"))
	enc.Set("O", raw.Str(o))
	enc.Set("U", raw.Str(u))
	enc.Set("OE", raw.Str(oe))
	enc.Set("UE", raw.Str(ue))
	enc.Set("Perms", raw.Str(perms))
	return enc
}

func sealRC4(key []byte, ref raw.ObjectRef, r int, data []byte) []byte {
	return rc4XOR(objectKey(key, ref, r, false), data)
}

func sealAES(t *testing.T, key []byte, ref raw.ObjectRef, r int, data []byte) []byte {
	t.Helper()
	iv := []byte("0123456789abcdef")
	pad := aes.BlockSize - len(data)%aes.BlockSize
	plain := append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	ct, err := aesCBCEncryptRaw(objectKey(key, ref, r, true), iv, plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return append(append([]byte(nil), iv...), ct...)
}

func handlerFor(t *testing.T, enc *raw.DictObj, id []byte, pwd string) Handler {
	t.Helper()
	h, err := (&HandlerBuilder{}).WithEncryptDict(enc).WithFileID(id).Build()
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	if err := h.Authenticate(pwd); err != nil {
		t.Fatalf("authenticate %q: %v", pwd, err)
	}
	return h
}
