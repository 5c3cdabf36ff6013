package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// This file implements the session-cipher half of the SessionStore contract:
// per-(addr, deviceId) message encryption keyed off a root secret and a
// monotonically increasing counter. It is a self-consistent symmetric
// ratchet in the teacher's own AES-CBC+HMAC-SHA256 idiom, not a
// reimplementation of X3DH/Double Ratchet — per-peer session cryptography is
// explicitly an external collaborator's concern; this is this module's
// default, swappable implementation of that collaborator.

// The session ciphertext DecryptWhisper/DecryptPreKeyWhisper expect is a
// 4-byte big-endian counter followed by an IV(16) || AES-CBC ciphertext ||
// HMAC-SHA256(32) frame, as built by encodeCounter and encryptSessionFrame
// below.
func deriveMessageKeys(rootKey []byte, counter uint32) (aesKey, hmacKey []byte, err error) {
	info := make([]byte, 4)
	binary.BigEndian.PutUint32(info, counter)
	reader := hkdf.New(sha256.New, rootKey, nil, info)
	keys := make([]byte, 64)
	if _, err := io.ReadFull(reader, keys); err != nil {
		return nil, nil, fmt.Errorf("store: derive message keys: %w", err)
	}
	return keys[:32], keys[32:], nil
}

func decryptSessionFrame(frame, rootKey []byte, counter uint32) ([]byte, error) {
	aesKey, hmacKey, err := deriveMessageKeys(rootKey, counter)
	if err != nil {
		return nil, err
	}

	const ivLen = aes.BlockSize
	const macLen = sha256.Size
	if len(frame) < ivLen+macLen+aes.BlockSize {
		return nil, fmt.Errorf("store: session frame too short")
	}
	iv := frame[:ivLen]
	ct := frame[ivLen : len(frame)-macLen]
	wantMAC := frame[len(frame)-macLen:]

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(frame[:len(frame)-macLen])
	if !hmac.Equal(mac.Sum(nil), wantMAC) {
		return nil, fmt.Errorf("store: session frame MAC mismatch")
	}
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("store: session ciphertext not block-aligned")
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ct)

	if len(plaintext) == 0 {
		return nil, fmt.Errorf("store: empty session plaintext")
	}
	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, fmt.Errorf("store: invalid session padding")
	}
	for _, b := range plaintext[len(plaintext)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("store: invalid session padding bytes")
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}

// encryptSessionFrame is the inverse of decryptSessionFrame, used by tests
// and fixture builders.
func encryptSessionFrame(plaintext, rootKey []byte, counter uint32, iv []byte) ([]byte, error) {
	aesKey, hmacKey, err := deriveMessageKeys(rootKey, counter)
	if err != nil {
		return nil, err
	}
	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, err
	}
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	out := append(append([]byte{}, iv...), ct...)
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(out)
	return append(out, mac.Sum(nil)...), nil
}

func encodeCounter(counter uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, counter)
	return b
}

func decodeCounter(b []byte) (counter uint32, rest []byte, err error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("store: ciphertext missing counter prefix")
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}
