package store

import (
	"context"
	"testing"
)

func TestMemoryStoreEstablishAndContinue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	identityKey := make([]byte, 32)
	for i := range identityKey {
		identityKey[i] = byte(i)
	}

	ct1 := buildPreKeyCiphertext(t, identityKey, identityKey, []byte("hello"), 1)
	got, err := m.DecryptPreKeyWhisper(ctx, "+15550001111", 1, ct1)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	ct2 := buildWhisperCiphertext(t, identityKey, []byte("world"), 2)
	got, err = m.DecryptWhisper(ctx, "+15550001111", 1, ct2)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestMemoryStoreCloseSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	identityKey := make([]byte, 32)

	ct1 := buildPreKeyCiphertext(t, identityKey, identityKey, []byte("hi"), 1)
	if _, err := m.DecryptPreKeyWhisper(ctx, "+1555", 1, ct1); err != nil {
		t.Fatal(err)
	}
	if err := m.CloseOpenSessionForDevice(ctx, "+1555", 1); err != nil {
		t.Fatal(err)
	}

	ct2 := buildWhisperCiphertext(t, identityKey, []byte("after"), 2)
	if _, err := m.DecryptWhisper(ctx, "+1555", 1, ct2); err == nil {
		t.Fatal("expected failure against a closed session")
	}
}

func TestMemoryStoreTrustIdentityAllowsRetryAfterKeyChange(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	firstKey := make([]byte, 32)
	for i := range firstKey {
		firstKey[i] = 1
	}
	ct1 := buildPreKeyCiphertext(t, firstKey, firstKey, []byte("hi"), 1)
	if _, err := m.DecryptPreKeyWhisper(ctx, "+1555", 1, ct1); err != nil {
		t.Fatal(err)
	}

	secondKey := make([]byte, 32)
	for i := range secondKey {
		secondKey[i] = 2
	}
	ct2 := buildPreKeyCiphertext(t, secondKey, secondKey, []byte("hi again"), 1)
	_, err := m.DecryptPreKeyWhisper(ctx, "+1555", 1, ct2)
	idErr, ok := err.(*UnknownIdentityKeyError)
	if !ok {
		t.Fatalf("expected *UnknownIdentityKeyError before trust, got %T: %v", err, err)
	}

	if err := m.TrustIdentity(ctx, "+1555", idErr.IdentityKey()); err != nil {
		t.Fatal(err)
	}

	got, err := m.DecryptPreKeyWhisper(ctx, "+1555", 1, ct2)
	if err != nil {
		t.Fatalf("retry after trust: %v", err)
	}
	if string(got) != "hi again" {
		t.Fatalf("got %q, want %q", got, "hi again")
	}
}
