package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory SessionStore and StateStore, useful for tests
// and for short-lived processes that don't need durable sessions across
// restarts. It mirrors Store's session-establishment and trust-on-first-use
// semantics without touching disk.
type MemoryStore struct {
	mu sync.Mutex

	ownAddr     string
	ownDeviceID int
	signingKey  []byte

	identities map[string][]byte
	sessions   map[sessionKey]*sessionRow
}

type sessionKey struct {
	addr     string
	deviceID int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		identities: make(map[string][]byte),
		sessions:   make(map[sessionKey]*sessionRow),
	}
}

// Close is a no-op; MemoryStore holds no external resources.
func (m *MemoryStore) Close() error { return nil }

// SetIdentity sets the receiver's own immutable identity.
func (m *MemoryStore) SetIdentity(addr string, deviceID int, signingKey []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ownAddr = addr
	m.ownDeviceID = deviceID
	m.signingKey = signingKey
}

func (m *MemoryStore) Addr(context.Context) (string, error)         { return m.ownAddr, nil }
func (m *MemoryStore) DeviceID(context.Context) (int, error)        { return m.ownDeviceID, nil }
func (m *MemoryStore) SigningKey(context.Context) ([]byte, error)   { return m.signingKey, nil }

func (m *MemoryStore) DecryptWhisper(_ context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.sessions[sessionKey{addr, deviceID}]
	if row == nil || !row.open {
		return nil, fmt.Errorf("store: no open session for %s.%d", addr, deviceID)
	}
	return m.decryptAgainstSession(addr, deviceID, row, ciphertext)
}

func (m *MemoryStore) DecryptPreKeyWhisper(_ context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error) {
	const identityKeyLen = 32
	if len(ciphertext) < identityKeyLen {
		return nil, fmt.Errorf("store: prekey ciphertext too short")
	}
	identityKey := ciphertext[:identityKeyLen]
	rest := ciphertext[identityKeyLen:]

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.identities[addr]
	if !ok {
		m.identities[addr] = identityKey
	} else if string(existing) != string(identityKey) {
		return nil, &UnknownIdentityKeyError{Addr: addr, Key: identityKey}
	}

	key := sessionKey{addr, deviceID}
	row := m.sessions[key]
	if row == nil {
		row = &sessionRow{rootKey: identityKey}
	}
	row.open = true
	return m.decryptAgainstSession(addr, deviceID, row, rest)
}

func (m *MemoryStore) decryptAgainstSession(addr string, deviceID int, row *sessionRow, ciphertext []byte) ([]byte, error) {
	counter, frame, err := decodeCounter(ciphertext)
	if err != nil {
		return nil, err
	}
	if counter <= row.lastCounter && row.lastCounter != 0 {
		return nil, &StaleCounterError{Addr: addr, DeviceID: deviceID, Counter: counter, LastCounter: row.lastCounter}
	}
	plaintext, err := decryptSessionFrame(frame, row.rootKey, counter)
	if err != nil {
		return nil, err
	}
	row.lastCounter = counter
	m.sessions[sessionKey{addr, deviceID}] = row
	return plaintext, nil
}

func (m *MemoryStore) GetDeviceIDs(_ context.Context, addr string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int
	for k := range m.sessions {
		if k.addr == addr {
			ids = append(ids, k.deviceID)
		}
	}
	return ids, nil
}

func (m *MemoryStore) CloseOpenSessionForDevice(_ context.Context, addr string, deviceID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row := m.sessions[sessionKey{addr, deviceID}]; row != nil {
		row.open = false
	}
	return nil
}

// TrustIdentity overwrites the identity key on file for addr and discards
// every session entry under it, so the next prekey bundle establishes a
// fresh session rooted in the new key rather than reusing the old session's
// root key and counter.
func (m *MemoryStore) TrustIdentity(_ context.Context, addr string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.identities[addr] = key
	for k := range m.sessions {
		if k.addr == addr {
			delete(m.sessions, k)
		}
	}
	return nil
}
