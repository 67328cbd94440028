package security

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"

	"github.com/wudi/pdfgraph/ir/raw"
)

var passwordPadding = [32]byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// padPassword truncates or pads pwd to exactly 32 bytes.
func padPassword(pwd []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pwd)
	copy(out[n:], passwordPadding[:])
	return out
}

// fileKeyMD5 derives the file key of revisions 2 to 4 from a user password.
func fileKeyMD5(pwd []byte, ps params) []byte {
	d := md5.New()
	d.Write(padPassword(pwd))
	d.Write(ps.o)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(ps.p))
	d.Write(p[:])
	d.Write(ps.id)
	if ps.r >= 4 && !ps.encryptMetadata {
		d.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}
	key := d.Sum(nil)
	n := ps.keyBytes
	if n > len(key) {
		n = len(key)
	}
	if ps.r >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:n])
			key = sum[:]
		}
	}
	return key[:n]
}

// userEntryMatches checks key against the U entry. Revision 2 stores the
// encrypted padding, later revisions a digest over the padding and the file
// identifier of which only the first 16 bytes are significant.
func userEntryMatches(key []byte, ps params) bool {
	if ps.r == 2 {
		return len(ps.u) >= 32 && bytes.Equal(rc4XOR(key, passwordPadding[:]), ps.u[:32])
	}
	if len(ps.u) < 16 {
		return false
	}
	d := md5.New()
	d.Write(passwordPadding[:])
	d.Write(ps.id)
	return bytes.Equal(rc4Rounds(key, d.Sum(nil), false), ps.u[:16])
}

// ownerToUser unwraps the padded user password stored in O using the owner
// password.
func ownerToUser(owner []byte, ps params) []byte {
	sum := md5.Sum(padPassword(owner))
	key := sum[:]
	if ps.r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key)
			key = sum[:]
		}
	}
	n := ps.keyBytes
	if ps.r == 2 {
		n = 5
	}
	if n > len(key) {
		n = len(key)
	}
	o := ps.o
	if len(o) > 32 {
		o = o[:32]
	}
	if ps.r == 2 {
		return rc4XOR(key[:n], o)
	}
	return rc4Rounds(key[:n], o, true)
}

// rc4Rounds applies RC4 twenty times with the key xored by the round
// number, counting up from 0 or, when reverse is set, down from 19.
func rc4Rounds(key, data []byte, reverse bool) []byte {
	out := data
	round := make([]byte, len(key))
	for i := 0; i < 20; i++ {
		x := byte(i)
		if reverse {
			x = byte(19 - i)
		}
		for j := range key {
			round[j] = key[j] ^ x
		}
		out = rc4XOR(round, out)
	}
	return out
}

// fileKeySHA validates pwd against a 48-byte U or O entry and unwraps the
// file key from UE or OE. extra is empty for the user password and the
// first 48 bytes of U for the owner password.
func fileKeySHA(pwd, entry, wrapped, extra []byte, r int) ([]byte, bool) {
	if len(entry) < 48 || len(wrapped) < 32 {
		return nil, false
	}
	validation, keySalt := entry[32:40], entry[40:48]
	if !bytes.Equal(hardenedHash(pwd, validation, extra, r), entry[:32]) {
		return nil, false
	}
	kek := hardenedHash(pwd, keySalt, extra, r)
	key, err := aesCBCRaw(kek, make([]byte, 16), wrapped[:32])
	if err != nil {
		return nil, false
	}
	return key, true
}

// hardenedHash is the password hash of revisions 5 and 6. Revision 5 is a
// single SHA-256; revision 6 iterates AES-128 and the SHA-2 family for at
// least 64 rounds.
func hardenedHash(pwd, salt, extra []byte, r int) []byte {
	d := sha256.New()
	d.Write(pwd)
	d.Write(salt)
	d.Write(extra)
	k := d.Sum(nil)
	if r < 6 {
		return k
	}
	for round := 0; ; round++ {
		unit := make([]byte, 0, len(pwd)+len(k)+len(extra))
		unit = append(append(append(unit, pwd...), k...), extra...)
		k1 := bytes.Repeat(unit, 64)
		e, err := aesCBCEncryptRaw(k[:16], k[16:32], k1)
		if err != nil {
			return k[:32]
		}
		var next hash.Hash
		switch sumMod3(e[:16]) {
		case 0:
			next = sha256.New()
		case 1:
			next = sha512.New384()
		default:
			next = sha512.New()
		}
		next.Write(e)
		k = next.Sum(nil)
		if round >= 63 && int(e[len(e)-1]) <= round-31 {
			break
		}
	}
	return k[:32]
}

// sumMod3 is b read as a big-endian integer, modulo 3.
func sumMod3(b []byte) int {
	total := 0
	for _, c := range b {
		total += int(c)
	}
	return total % 3
}

// unsealPerms decrypts the Perms entry of revision 5 and later and returns
// its flags when the marker checks out.
func unsealPerms(key, perms []byte) (int32, bool) {
	if len(perms) < 16 {
		return 0, false
	}
	out, err := aesECBBlock(key, perms[:16])
	if err != nil || !bytes.Equal(out[9:12], []byte("adb")) {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(out[:4])), true
}

// objectKey derives the key for one object's strings and streams.
// Revisions 5 and later use the file key as is.
func objectKey(fileKey []byte, ref raw.ObjectRef, r int, aes bool) []byte {
	if r >= 5 {
		return fileKey
	}
	d := md5.New()
	d.Write(fileKey)
	d.Write([]byte{byte(ref.Num), byte(ref.Num >> 8), byte(ref.Num >> 16), byte(ref.Gen), byte(ref.Gen >> 8)})
	if aes {
		d.Write([]byte("sAlT"))
	}
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return d.Sum(nil)[:n]
}
