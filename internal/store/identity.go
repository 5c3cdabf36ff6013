package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UnknownIdentityKeyError is returned by DecryptPreKeyWhisper when the
// embedded identity key doesn't match the one already on file for addr. Its
// message carries the phrase "Unknown identity key" and it exposes the
// offending key via IdentityKey(), per the SessionStore contract.
type UnknownIdentityKeyError struct {
	Addr string
	Key  []byte
}

func (e *UnknownIdentityKeyError) Error() string {
	return fmt.Sprintf("store: Unknown identity key for %s", e.Addr)
}

func (e *UnknownIdentityKeyError) IdentityKey() []byte { return e.Key }

// checkOrTrustIdentity implements trust-on-first-use: the first identity key
// seen for addr is saved and trusted; any later key that disagrees fails
// with UnknownIdentityKeyError.
func (s *Store) checkOrTrustIdentity(addr string, key []byte) error {
	var existing []byte
	err := s.db.QueryRow("SELECT public_key FROM identity WHERE addr = ?", addr).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := s.db.Exec("INSERT INTO identity (addr, public_key) VALUES (?, ?)", addr, key)
		if err != nil {
			return fmt.Errorf("store: save identity: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: load identity: %w", err)
	}
	if !bytes.Equal(existing, key) {
		return &UnknownIdentityKeyError{Addr: addr, Key: key}
	}
	return nil
}

// TrustIdentity overwrites the identity key on file for addr and discards
// every session row under it, so the next prekey bundle from addr
// establishes a fresh session rooted in the new key instead of reusing the
// old session's root key and counter. Callers use this to make a
// keychange-accepted retry actually succeed instead of hitting the same
// UnknownIdentityKeyError a second time.
func (s *Store) TrustIdentity(_ context.Context, addr string, key []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO identity (addr, public_key) VALUES (?, ?)
		 ON CONFLICT(addr) DO UPDATE SET public_key = excluded.public_key`,
		addr, key,
	)
	if err != nil {
		return fmt.Errorf("store: trust identity: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM session WHERE addr = ?", addr); err != nil {
		return fmt.Errorf("store: clear sessions after trust: %w", err)
	}
	return nil
}
