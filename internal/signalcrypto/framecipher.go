package signalcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// frameInfo is the HKDF context string used to expand a signalling key into
// the AES/HMAC subkeys used to authenticate and decrypt a transport frame.
const frameInfo = "signalling frame cipher v1"

// DecryptFrame authenticates and decrypts a streaming-transport frame
// carrying a protobuf-encoded Envelope. The frame format is
// IV(16) || ciphertext || HMAC-SHA256(IV || ciphertext)[32 bytes].
// signalingKey is expanded via HKDF into independent AES and HMAC subkeys.
func DecryptFrame(body, signalingKey []byte) ([]byte, error) {
	aesKey, hmacKey, err := deriveFrameKeys(signalingKey)
	if err != nil {
		return nil, err
	}

	const ivLen = aes.BlockSize
	const macLen = sha256.Size
	if len(body) < ivLen+macLen+aes.BlockSize {
		return nil, &FrameAuthError{Reason: "frame too short"}
	}

	iv := body[:ivLen]
	ct := body[ivLen : len(body)-macLen]
	wantMAC := body[len(body)-macLen:]

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(body[:len(body)-macLen])
	if !hmac.Equal(mac.Sum(nil), wantMAC) {
		return nil, &FrameAuthError{Reason: "MAC mismatch"}
	}
	if len(ct)%aes.BlockSize != 0 {
		return nil, &FrameAuthError{Reason: "ciphertext not block-aligned"}
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, &FrameAuthError{Reason: err.Error()}
	}
	plaintext := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ct)

	if len(plaintext) == 0 {
		return nil, &FrameAuthError{Reason: "empty plaintext"}
	}
	padLen := int(plaintext[len(plaintext)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, &FrameAuthError{Reason: "invalid PKCS7 padding"}
	}
	for _, b := range plaintext[len(plaintext)-padLen:] {
		if int(b) != padLen {
			return nil, &FrameAuthError{Reason: "invalid PKCS7 padding bytes"}
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}

// EncryptFrame is the inverse of DecryptFrame. Used by tests and by the
// (external, out of scope) transport simulator to build fixtures.
func EncryptFrame(plaintext, signalingKey, iv []byte) ([]byte, error) {
	aesKey, hmacKey, err := deriveFrameKeys(signalingKey)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("signalcrypto: iv must be %d bytes", aes.BlockSize)
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

func deriveFrameKeys(signalingKey []byte) (aesKey, hmacKey []byte, err error) {
	if len(signalingKey) == 0 {
		return nil, nil, fmt.Errorf("signalcrypto: empty signalling key")
	}
	reader := hkdf.New(sha256.New, signalingKey, nil, []byte(frameInfo))
	keys := make([]byte, 64)
	if _, err := io.ReadFull(reader, keys); err != nil {
		return nil, nil, fmt.Errorf("signalcrypto: derive frame keys: %w", err)
	}
	return keys[:32], keys[32:], nil
}

// FrameAuthError reports a transport-frame authentication or decryption
// failure: MAC mismatch or malformed ciphertext.
type FrameAuthError struct {
	Reason string
}

func (e *FrameAuthError) Error() string {
	return fmt.Sprintf("signalcrypto: frame auth failed: %s", e.Reason)
}
