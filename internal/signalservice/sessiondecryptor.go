package signalservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaysig/sigrecv/internal/wire"
)

// SessionDecryptor wraps the external SessionStore's session cipher, taking
// the (addr, deviceId) pair from each envelope, translating its two message modes
// (whisper / prekey-whisper) and surfacing identity-key changes.
type SessionDecryptor struct {
	store SessionStore
}

// NewSessionDecryptor returns a SessionDecryptor bound to store.
func NewSessionDecryptor(store SessionStore) *SessionDecryptor {
	return &SessionDecryptor{store: store}
}

// Decrypt decrypts envelope's ciphertext according to its type and strips
// Signal padding from the result.
func (d *SessionDecryptor) Decrypt(ctx context.Context, env *wire.Envelope, ciphertext []byte) ([]byte, error) {
	addr := env.Source
	deviceID := int(env.SourceDevice)

	var plaintext []byte
	var err error
	switch env.Type {
	case wire.EnvelopeCiphertext:
		plaintext, err = d.store.DecryptWhisper(ctx, addr, deviceID, ciphertext)
	case wire.EnvelopePreKeyBundle:
		plaintext, err = d.store.DecryptPreKeyWhisper(ctx, addr, deviceID, ciphertext)
	default:
		return nil, &UnknownEnvelopeType{Type: int(env.Type)}
	}
	if err != nil {
		var idCause identityKeyCause
		if errors.As(err, &idCause) {
			return nil, &IncomingIdentityKeyError{
				Addr:        addr,
				DeviceID:    deviceID,
				Ciphertext:  ciphertext,
				IdentityKey: idCause.IdentityKey(),
			}
		}
		var counterCause staleCounterCause
		if errors.As(err, &counterCause) {
			return nil, &MessageCounterError{Addr: addr, DeviceID: deviceID}
		}
		return nil, fmt.Errorf("sessiondecryptor: %w", err)
	}
	return Unpad(plaintext)
}

// identityKeyCause is satisfied by a SessionStore error that reports the
// offending identity key through an IdentityKey method; its message is not
// inspected.
type identityKeyCause interface {
	error
	IdentityKey() []byte
}

// staleCounterCause is satisfied by a SessionStore error reporting a
// duplicate or out-of-order session counter.
type staleCounterCause interface {
	error
	StaleCounter() bool
}

// CloseAllSessions enumerates every device id known for addr and closes
// each open session in turn.
func (d *SessionDecryptor) CloseAllSessions(ctx context.Context, addr string) error {
	deviceIDs, err := d.store.GetDeviceIDs(ctx, addr)
	if err != nil {
		return fmt.Errorf("sessiondecryptor: get device ids for %s: %w", addr, err)
	}
	for _, id := range deviceIDs {
		if err := d.store.CloseOpenSessionForDevice(ctx, addr, id); err != nil {
			return fmt.Errorf("sessiondecryptor: close session %s.%d: %w", addr, id, err)
		}
	}
	return nil
}

// TrustIdentity records addr's identity key as trusted in the underlying
// store, so a subsequent Decrypt attempt no longer raises
// IncomingIdentityKeyError for it.
func (d *SessionDecryptor) TrustIdentity(ctx context.Context, addr string, key []byte) error {
	if err := d.store.TrustIdentity(ctx, addr, key); err != nil {
		return fmt.Errorf("sessiondecryptor: trust identity: %w", err)
	}
	return nil
}
