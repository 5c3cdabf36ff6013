package signalservice

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/relaysig/sigrecv/internal/signalcrypto"
	"github.com/relaysig/sigrecv/internal/wire"
)

// fakeIdentityError satisfies identityKeyCause, standing in for the
// store.UnknownIdentityKeyError a real SessionStore returns.
type fakeIdentityError struct{ key []byte }

func (e *fakeIdentityError) Error() string        { return "fake: unknown identity key" }
func (e *fakeIdentityError) IdentityKey() []byte   { return e.key }

// fakeStaleCounterError satisfies staleCounterCause, standing in for
// store.StaleCounterError.
type fakeStaleCounterError struct{}

func (e *fakeStaleCounterError) Error() string     { return "fake: stale counter" }
func (e *fakeStaleCounterError) StaleCounter() bool { return true }

// scriptedSessionStore returns a scripted plaintext/error pair for each call
// to DecryptWhisper/DecryptPreKeyWhisper, in order, so a test can simulate a
// store whose second call (after a keychange accept) behaves differently
// from its first.
type scriptedSessionStore struct {
	fakeSessionStore
	script []scriptedResult
	calls  int
}

type scriptedResult struct {
	plaintext []byte
	err       error
}

func newScriptedSessionStore(script ...scriptedResult) *scriptedSessionStore {
	return &scriptedSessionStore{
		fakeSessionStore: *newFakeSessionStore(),
		script:           script,
	}
}

func (s *scriptedSessionStore) DecryptWhisper(ctx context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error) {
	return s.next()
}

func (s *scriptedSessionStore) DecryptPreKeyWhisper(ctx context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error) {
	return s.next()
}

func (s *scriptedSessionStore) next() ([]byte, error) {
	if s.calls >= len(s.script) {
		return nil, fmt.Errorf("scriptedSessionStore: no more scripted results (call %d)", s.calls+1)
	}
	r := s.script[s.calls]
	s.calls++
	return r.plaintext, r.err
}

func TestSessionDecryptorTranslatesIdentityKeyError(t *testing.T) {
	d := NewSessionDecryptor(newScriptedSessionStore(scriptedResult{err: &fakeIdentityError{key: []byte("newkey")}}))

	env := &wire.Envelope{Type: wire.EnvelopePreKeyBundle, Source: "alice", SourceDevice: 1}
	_, err := d.Decrypt(context.Background(), env, []byte("ciphertext"))

	var idErr *IncomingIdentityKeyError
	if !errors.As(err, &idErr) {
		t.Fatalf("got %v, want *IncomingIdentityKeyError", err)
	}
	if idErr.Addr != "alice" || idErr.DeviceID != 1 || string(idErr.IdentityKey) != "newkey" {
		t.Errorf("unexpected IncomingIdentityKeyError: %+v", idErr)
	}
}

func TestSessionDecryptorTranslatesStaleCounterError(t *testing.T) {
	d := NewSessionDecryptor(newScriptedSessionStore(scriptedResult{err: &fakeStaleCounterError{}}))

	env := &wire.Envelope{Type: wire.EnvelopeCiphertext, Source: "alice", SourceDevice: 1}
	_, err := d.Decrypt(context.Background(), env, []byte("ciphertext"))

	var counterErr *MessageCounterError
	if !errors.As(err, &counterErr) {
		t.Fatalf("got %v, want *MessageCounterError", err)
	}
}

func TestSessionDecryptorUnknownEnvelopeType(t *testing.T) {
	d := NewSessionDecryptor(newFakeSessionStore())

	env := &wire.Envelope{Type: wire.EnvelopeReceipt, Source: "alice", SourceDevice: 1}
	_, err := d.Decrypt(context.Background(), env, []byte("ciphertext"))

	var unknownErr *UnknownEnvelopeType
	if !errors.As(err, &unknownErr) {
		t.Fatalf("got %v, want *UnknownEnvelopeType", err)
	}
}

func TestSessionDecryptorStripsPaddingOnSuccess(t *testing.T) {
	padded := signalcrypto.PadMessage([]byte("hello"))
	d := NewSessionDecryptor(newScriptedSessionStore(scriptedResult{plaintext: padded}))

	env := &wire.Envelope{Type: wire.EnvelopeCiphertext, Source: "alice", SourceDevice: 1}
	got, err := d.Decrypt(context.Background(), env, []byte("ciphertext"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestSessionDecryptorSecondCallSucceedsAfterIdentityError(t *testing.T) {
	padded := signalcrypto.PadMessage([]byte("hi again"))
	store := newScriptedSessionStore(
		scriptedResult{err: &fakeIdentityError{key: []byte("newkey")}},
		scriptedResult{plaintext: padded},
	)
	d := NewSessionDecryptor(store)
	env := &wire.Envelope{Type: wire.EnvelopePreKeyBundle, Source: "alice", SourceDevice: 1}

	if _, err := d.Decrypt(context.Background(), env, []byte("ciphertext")); err == nil {
		t.Fatal("expected the first call to fail with an identity error")
	}

	got, err := d.Decrypt(context.Background(), env, []byte("ciphertext"))
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(got) != "hi again" {
		t.Errorf("got %q, want %q", got, "hi again")
	}
}

func TestSessionDecryptorCloseAllSessionsClosesEveryDevice(t *testing.T) {
	store := newFakeSessionStore()
	store.deviceIDs["alice"] = []int{1, 2, 3}
	d := NewSessionDecryptor(store)

	if err := d.CloseAllSessions(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if got := store.closed["alice"]; len(got) != 3 {
		t.Fatalf("got %v, want 3 closed devices", got)
	}
}

func TestSessionDecryptorTrustIdentityDelegates(t *testing.T) {
	store := newFakeSessionStore()
	d := NewSessionDecryptor(store)

	if err := d.TrustIdentity(context.Background(), "alice", []byte("newkey")); err != nil {
		t.Fatal(err)
	}
	if string(store.trusted["alice"]) != "newkey" {
		t.Errorf("got %q, want %q", store.trusted["alice"], "newkey")
	}
}
