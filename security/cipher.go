package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rc4"
	"errors"
)

func rc4XOR(key, data []byte) []byte {
	out := make([]byte, len(data))
	c, err := rc4.NewCipher(key)
	if err != nil {
		// unreachable: derived keys are 5 to 32 bytes
		panic(err)
	}
	c.XORKeyStream(out, data)
	return out
}

// aesDecrypt decrypts a string or stream payload: a 16-byte IV followed by
// CBC blocks with PKCS#5 padding.
func aesDecrypt(key, data []byte) ([]byte, error) {
	if len(data) == aes.BlockSize {
		return []byte{}, nil
	}
	if len(data) < 2*aes.BlockSize {
		return nil, errors.New("aes payload shorter than IV and one block")
	}
	out, err := aesCBCRaw(key, data[:aes.BlockSize], data[aes.BlockSize:])
	if err != nil {
		return nil, err
	}
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, errors.New("invalid aes padding")
	}
	return out[:len(out)-pad], nil
}

// aesCBCRaw decrypts whole blocks without removing padding.
func aesCBCRaw(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("aes data is not a whole number of blocks")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesCBCEncryptRaw(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func aesECBBlock(key, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aes.BlockSize)
	block.Decrypt(out, in)
	return out, nil
}
