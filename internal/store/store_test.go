package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func buildPreKeyCiphertext(t *testing.T, identityKey, rootKey, plaintext []byte, counter uint32) []byte {
	t.Helper()
	iv := make([]byte, 16)
	frame, err := encryptSessionFrame(plaintext, rootKey, counter, iv)
	if err != nil {
		t.Fatal(err)
	}
	return append(append(append([]byte{}, identityKey...), encodeCounter(counter)...), frame...)
}

func buildWhisperCiphertext(t *testing.T, rootKey, plaintext []byte, counter uint32) []byte {
	t.Helper()
	iv := make([]byte, 16)
	for i := range iv {
		iv[i] = byte(i + 1)
	}
	frame, err := encryptSessionFrame(plaintext, rootKey, counter, iv)
	if err != nil {
		t.Fatal(err)
	}
	return append(encodeCounter(counter), frame...)
}

func TestSessionEstablishAndContinue(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	identityKey := make([]byte, 32)
	for i := range identityKey {
		identityKey[i] = byte(i)
	}

	ct1 := buildPreKeyCiphertext(t, identityKey, identityKey, []byte("hello"), 1)
	got, err := s.DecryptPreKeyWhisper(ctx, "+15550001111", 1, ct1)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	ct2 := buildWhisperCiphertext(t, identityKey, []byte("world"), 2)
	got, err = s.DecryptWhisper(ctx, "+15550001111", 1, ct2)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestSessionStaleCounterRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	identityKey := make([]byte, 32)
	ct1 := buildPreKeyCiphertext(t, identityKey, identityKey, []byte("first"), 5)
	if _, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct1); err != nil {
		t.Fatal(err)
	}

	replay := buildWhisperCiphertext(t, identityKey, []byte("replay"), 5)
	_, err := s.DecryptWhisper(ctx, "+1555", 1, replay)
	if err == nil {
		t.Fatal("expected stale counter error")
	}
	if _, ok := err.(*StaleCounterError); !ok {
		t.Fatalf("expected *StaleCounterError, got %T: %v", err, err)
	}
}

func TestIdentityKeyMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	firstKey := make([]byte, 32)
	for i := range firstKey {
		firstKey[i] = 1
	}
	ct1 := buildPreKeyCiphertext(t, firstKey, firstKey, []byte("hi"), 1)
	if _, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct1); err != nil {
		t.Fatal(err)
	}

	secondKey := make([]byte, 32)
	for i := range secondKey {
		secondKey[i] = 2
	}
	ct2 := buildPreKeyCiphertext(t, secondKey, secondKey, []byte("hi again"), 2)
	_, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct2)
	if err == nil {
		t.Fatal("expected identity key mismatch error")
	}
	idErr, ok := err.(*UnknownIdentityKeyError)
	if !ok {
		t.Fatalf("expected *UnknownIdentityKeyError, got %T: %v", err, err)
	}
	if string(idErr.IdentityKey()) != string(secondKey) {
		t.Fatalf("identity key mismatch in error payload")
	}
}

func TestCloseOpenSessionForDevice(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	identityKey := make([]byte, 32)
	ct1 := buildPreKeyCiphertext(t, identityKey, identityKey, []byte("hi"), 1)
	if _, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct1); err != nil {
		t.Fatal(err)
	}

	if err := s.CloseOpenSessionForDevice(ctx, "+1555", 1); err != nil {
		t.Fatal(err)
	}

	ct2 := buildWhisperCiphertext(t, identityKey, []byte("after close"), 2)
	if _, err := s.DecryptWhisper(ctx, "+1555", 1, ct2); err == nil {
		t.Fatal("expected decrypt to fail against a closed session")
	}
}

func TestTrustIdentityAllowsRetryAfterKeyChange(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	firstKey := make([]byte, 32)
	for i := range firstKey {
		firstKey[i] = 1
	}
	ct1 := buildPreKeyCiphertext(t, firstKey, firstKey, []byte("hi"), 1)
	if _, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct1); err != nil {
		t.Fatal(err)
	}

	secondKey := make([]byte, 32)
	for i := range secondKey {
		secondKey[i] = 2
	}
	ct2 := buildPreKeyCiphertext(t, secondKey, secondKey, []byte("hi again"), 1)
	_, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct2)
	idErr, ok := err.(*UnknownIdentityKeyError)
	if !ok {
		t.Fatalf("expected *UnknownIdentityKeyError before trust, got %T: %v", err, err)
	}

	if err := s.TrustIdentity(ctx, "+1555", idErr.IdentityKey()); err != nil {
		t.Fatal(err)
	}

	got, err := s.DecryptPreKeyWhisper(ctx, "+1555", 1, ct2)
	if err != nil {
		t.Fatalf("retry after trust: %v", err)
	}
	if string(got) != "hi again" {
		t.Fatalf("got %q, want %q", got, "hi again")
	}
}

func TestGetDeviceIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	identityKey := make([]byte, 32)
	for _, dev := range []int{1, 2} {
		ct := buildPreKeyCiphertext(t, identityKey, identityKey, []byte("hi"), 1)
		if _, err := s.DecryptPreKeyWhisper(ctx, "+1555", dev, ct); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := s.GetDeviceIDs(ctx, "+1555")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 device ids, got %v", ids)
	}
}
