// Package storage provides SQLite-backed persistence for addresses,
// inventory objects, messages, and the pubkey re-send throttle.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Storage wraps a single-writer SQLite connection for the node.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the node's SQLite database and
// ensures its schema is current.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "shadowmail.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite only supports one writer; a single pooled connection avoids
	// SQLITE_BUSY under WAL mode's already-forgiving concurrent readers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection, for use by repositories
// in this package.
func (s *Storage) DB() *sql.DB {
	return s.db
}

const schema = `
CREATE TABLE IF NOT EXISTS addresses (
	address TEXT PRIMARY KEY,
	tag TEXT NOT NULL,
	label TEXT,
	public_signing_key BLOB,
	public_encryption_key BLOB,
	private_signing_key BLOB,
	private_encryption_key BLOB
);

CREATE INDEX IF NOT EXISTS idx_addresses_tag ON addresses(tag);

CREATE TABLE IF NOT EXISTS inventory (
	hash TEXT PRIMARY KEY,
	object_type INTEGER NOT NULL,
	nonce BLOB,
	data BLOB NOT NULL,
	signature BLOB NOT NULL,
	expires INTEGER NOT NULL,
	nonce_trials_per_byte INTEGER NOT NULL DEFAULT 1000,
	extra_bytes INTEGER NOT NULL DEFAULT 1000
);

CREATE INDEX IF NOT EXISTS idx_inventory_expires ON inventory(expires);
CREATE INDEX IF NOT EXISTS idx_inventory_nonce ON inventory(nonce);

-- A (hash, recipient) pair is unique rather than hash alone: the same
-- Msg object can legitimately be decrypted once per locally-held
-- identity it happens to be addressed to, and re-processing an object
-- already delivered to a given identity must be a harmless no-op.
CREATE TABLE IF NOT EXISTS messages (
	hash TEXT NOT NULL,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	subject TEXT,
	data BLOB,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (hash, recipient)
);

CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(recipient);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);

-- Tracks the last time a Pubkey object was sent in answer to a
-- Getpubkey for a given tag, enforcing the 28-day re-send throttle.
CREATE TABLE IF NOT EXISTS pubkey_sends (
	tag TEXT PRIMARY KEY,
	last_sent INTEGER NOT NULL
);
`

func (s *Storage) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
