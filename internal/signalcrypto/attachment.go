// Package signalcrypto implements the symmetric cryptography used outside
// the per-peer Signal Session: transport-frame authentication/decryption
// (the signalling-key cipher) and attachment decryption. Per-peer session
// cryptography itself is the SessionStore's concern, not this package's.
package signalcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

const attachmentKeyLen = 64 // 32-byte AES key || 32-byte HMAC key

// splitAttachmentKey separates a 64-byte attachment key into its AES and
// HMAC halves, as every other call site in this file needs both.
func splitAttachmentKey(key []byte) (aesKey, hmacKey []byte, err error) {
	if len(key) != attachmentKeyLen {
		return nil, nil, fmt.Errorf("attachment: key must be %d bytes, got %d", attachmentKeyLen, len(key))
	}
	return key[:32], key[32:], nil
}

// DecryptAttachment decrypts an attachment blob downloaded from the CDN.
// On the wire it is IV (16 bytes) || AES-CBC ciphertext || HMAC-SHA256 MAC
// (32 bytes), MACed over everything preceding the MAC itself.
func DecryptAttachment(data, key []byte) ([]byte, error) {
	aesKey, hmacKey, err := splitAttachmentKey(key)
	if err != nil {
		return nil, err
	}

	const ivLen, macLen = aes.BlockSize, sha256.Size
	if len(data) < ivLen+macLen+aes.BlockSize {
		return nil, fmt.Errorf("attachment: data too short (%d bytes)", len(data))
	}
	signed, mac := data[:len(data)-macLen], data[len(data)-macLen:]
	if err := verifyAttachmentMAC(signed, mac, hmacKey); err != nil {
		return nil, err
	}

	iv, ct := signed[:ivLen], signed[ivLen:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("attachment: ciphertext not block-aligned")
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("attachment: create cipher: %w", err)
	}
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ct)

	return unpadPKCS7(padded)
}

func verifyAttachmentMAC(signed, want, hmacKey []byte) error {
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(signed)
	if !hmac.Equal(mac.Sum(nil), want) {
		return fmt.Errorf("attachment: HMAC verification failed")
	}
	return nil
}

// unpadPKCS7 validates and strips PKCS7 padding from an AES-CBC-decrypted
// block, rejecting anything that isn't a well-formed padding run.
func unpadPKCS7(padded []byte) ([]byte, error) {
	if len(padded) == 0 {
		return nil, fmt.Errorf("attachment: empty plaintext")
	}
	padLen := int(padded[len(padded)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(padded) {
		return nil, fmt.Errorf("attachment: invalid PKCS7 padding")
	}
	for _, b := range padded[len(padded)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("attachment: invalid PKCS7 padding bytes")
		}
	}
	return padded[:len(padded)-padLen], nil
}

// EncryptAttachment is the inverse of DecryptAttachment, used by tests to
// build fixtures without hand-rolling AES-CBC+HMAC framing inline.
func EncryptAttachment(plaintext, key []byte, iv []byte) ([]byte, error) {
	aesKey, hmacKey, err := splitAttachmentKey(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("attachment: iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("attachment: create cipher: %w", err)
	}
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	signed := append(append([]byte{}, iv...), ct...)
	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(signed)
	return append(signed, mac.Sum(nil)...), nil
}
