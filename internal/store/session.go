package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// sessionRow is the persisted state of one (addr, deviceId) session.
type sessionRow struct {
	rootKey     []byte
	lastCounter uint32
	open        bool
}

func (s *Store) loadSession(addr string, deviceID int) (*sessionRow, error) {
	var row sessionRow
	var open int
	err := s.db.QueryRow(
		"SELECT root_key, last_counter, open FROM session WHERE addr = ? AND device_id = ?",
		addr, deviceID,
	).Scan(&row.rootKey, &row.lastCounter, &open)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load session: %w", err)
	}
	row.open = open != 0
	return &row, nil
}

func (s *Store) saveSession(addr string, deviceID int, row *sessionRow) error {
	open := 0
	if row.open {
		open = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO session (addr, device_id, root_key, last_counter, open)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(addr, device_id) DO UPDATE SET
		   root_key = excluded.root_key,
		   last_counter = excluded.last_counter,
		   open = excluded.open`,
		addr, deviceID, row.rootKey, row.lastCounter, open,
	)
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

// DecryptWhisper decrypts a whisper-mode message against the existing open
// session for (addr, deviceId). The session must already exist — whisper
// messages never establish a session, only continue one a prior prekey
// bundle started.
func (s *Store) DecryptWhisper(_ context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error) {
	row, err := s.loadSession(addr, deviceID)
	if err != nil {
		return nil, err
	}
	if row == nil || !row.open {
		return nil, fmt.Errorf("store: no open session for %s.%d", addr, deviceID)
	}
	return s.decryptAgainstSession(addr, deviceID, row, ciphertext)
}

// DecryptPreKeyWhisper decrypts a prekey-bundle message, establishing or
// continuing a session. The ciphertext carries a 32-byte identity key
// followed by the ordinary whisper payload (counter-prefixed frame). A
// mismatched identity key for an already-known addr fails with
// UnknownIdentityKeyError.
func (s *Store) DecryptPreKeyWhisper(_ context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error) {
	const identityKeyLen = 32
	if len(ciphertext) < identityKeyLen {
		return nil, fmt.Errorf("store: prekey ciphertext too short")
	}
	identityKey := ciphertext[:identityKeyLen]
	rest := ciphertext[identityKeyLen:]

	if err := s.checkOrTrustIdentity(addr, identityKey); err != nil {
		return nil, err
	}

	row, err := s.loadSession(addr, deviceID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = &sessionRow{rootKey: identityKey, open: true}
	}
	row.open = true
	return s.decryptAgainstSession(addr, deviceID, row, rest)
}

func (s *Store) decryptAgainstSession(addr string, deviceID int, row *sessionRow, ciphertext []byte) ([]byte, error) {
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
	if err := s.saveSession(addr, deviceID, row); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// StaleCounterError reports a duplicate or out-of-order session counter.
// SessionDecryptor recognizes it via the StaleCounter marker method and
// translates it to signalservice.MessageCounterError.
type StaleCounterError struct {
	Addr        string
	DeviceID    int
	Counter     uint32
	LastCounter uint32
}

func (e *StaleCounterError) Error() string {
	return fmt.Sprintf("store: stale message counter %d <= %d for %s.%d", e.Counter, e.LastCounter, e.Addr, e.DeviceID)
}

func (e *StaleCounterError) StaleCounter() bool { return true }

// GetDeviceIDs returns every device id this store has an open or closed
// session record for under addr.
func (s *Store) GetDeviceIDs(_ context.Context, addr string) ([]int, error) {
	rows, err := s.db.Query("SELECT device_id FROM session WHERE addr = ? ORDER BY device_id", addr)
	if err != nil {
		return nil, fmt.Errorf("store: get device ids: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan device id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CloseOpenSessionForDevice marks the session for (addr, deviceId) closed,
// forcing the next prekey bundle to re-establish it.
func (s *Store) CloseOpenSessionForDevice(_ context.Context, addr string, deviceID int) error {
	_, err := s.db.Exec("UPDATE session SET open = 0 WHERE addr = ? AND device_id = ?", addr, deviceID)
	if err != nil {
		return fmt.Errorf("store: close session %s.%d: %w", addr, deviceID, err)
	}
	return nil
}
