package signalservice

import (
	"fmt"

	"github.com/relaysig/sigrecv/internal/signalcrypto"
	"github.com/relaysig/sigrecv/internal/wire"
)

// EnvelopeCrypto authenticates and decrypts streaming-transport frames and
// strips Signal transport padding from session-decrypted plaintext.
type EnvelopeCrypto struct {
	codec ProtobufCodec
}

// NewEnvelopeCrypto returns an EnvelopeCrypto that decodes frames with codec.
func NewEnvelopeCrypto(codec ProtobufCodec) *EnvelopeCrypto {
	return &EnvelopeCrypto{codec: codec}
}

// DecryptFrame authenticates and decrypts a transport frame, then decodes
// the resulting plaintext as an Envelope. signingKey is the receiver's
// immutable per-device signalling key.
func (c *EnvelopeCrypto) DecryptFrame(body, signingKey []byte) (*wire.Envelope, error) {
	plaintext, err := signalcrypto.DecryptFrame(body, signingKey)
	if err != nil {
		return nil, fmt.Errorf("envelopecrypto: %w", err)
	}
	env, err := c.codec.DecodeEnvelope(plaintext)
	if err != nil {
		return nil, fmt.Errorf("envelopecrypto: decode envelope: %w", err)
	}
	return env, nil
}

// Unpad strips the 0x80-terminated Signal padding from decrypted plaintext.
func Unpad(data []byte) ([]byte, error) {
	return signalcrypto.Unpad(data)
}
