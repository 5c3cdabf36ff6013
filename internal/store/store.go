// Package store implements the persistent SessionStore and StateStore
// collaborators: a SQLite-backed default (Store) for production use, and an
// in-memory default (MemoryStore) for tests and short-lived processes. Both
// satisfy the same method surface the receiver expects from its session and
// state collaborators (see internal/signalservice.SessionStore/StateStore),
// checked structurally rather than via an explicit import to keep this
// package independent of its consumer.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed SessionStore and StateStore.
type Store struct {
	db *sql.DB

	ownAddr     string
	ownDeviceID int
	signingKey  []byte
}

const schema = `
CREATE TABLE IF NOT EXISTS identity (
	addr TEXT PRIMARY KEY,
	public_key BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS session (
	addr TEXT NOT NULL,
	device_id INTEGER NOT NULL,
	root_key BLOB NOT NULL,
	last_counter INTEGER NOT NULL DEFAULT 0,
	open INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (addr, device_id)
);
CREATE TABLE IF NOT EXISTS account (
	key TEXT PRIMARY KEY,
	value BLOB
);
`

// DefaultDataDir returns $XDG_DATA_HOME/sigrecv, falling back to
// ~/.local/share/sigrecv.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "sigrecv")
}

// Open opens or creates a SQLite store at dbPath. An empty dbPath defaults
// to $XDG_DATA_HOME/sigrecv/default.db.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(DefaultDataDir(), "default.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetIdentity sets the receiver's own immutable identity, used to answer
// StateStore reads.
func (s *Store) SetIdentity(addr string, deviceID int, signingKey []byte) {
	s.ownAddr = addr
	s.ownDeviceID = deviceID
	s.signingKey = signingKey
}

// Addr implements StateStore.
func (s *Store) Addr(context.Context) (string, error) { return s.ownAddr, nil }

// DeviceID implements StateStore.
func (s *Store) DeviceID(context.Context) (int, error) { return s.ownDeviceID, nil }

// SigningKey implements StateStore.
func (s *Store) SigningKey(context.Context) ([]byte, error) { return s.signingKey, nil }
