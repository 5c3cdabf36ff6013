package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Identity is the receiver's own persisted (addr, deviceId, signingKey)
// triple — the StateStore's one record.
type Identity struct {
	Addr       string `json:"addr"`
	DeviceID   int    `json:"deviceId"`
	SigningKey []byte `json:"signingKey"`
}

const identityKey = "identity"

// SaveOwnIdentity persists the receiver's identity and loads it into the
// in-memory fields SetIdentity also populates.
func (s *Store) SaveOwnIdentity(id *Identity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("store: marshal identity: %w", err)
	}
	_, err = s.db.Exec("INSERT OR REPLACE INTO account (key, value) VALUES (?, ?)", identityKey, data)
	if err != nil {
		return fmt.Errorf("store: save identity: %w", err)
	}
	s.SetIdentity(id.Addr, id.DeviceID, id.SigningKey)
	return nil
}

// LoadOwnIdentity reads the persisted identity and, if present, applies it
// via SetIdentity. Returns nil, nil if none has been saved yet.
func (s *Store) LoadOwnIdentity() (*Identity, error) {
	var data []byte
	err := s.db.QueryRow("SELECT value FROM account WHERE key = ?", identityKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load identity: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("store: unmarshal identity: %w", err)
	}
	s.SetIdentity(id.Addr, id.DeviceID, id.SigningKey)
	return &id, nil
}
