package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
)

// Current schema version
const SchemaVersion = "1"

// ErrNoDriver is returned when the build has no SQLite driver.
var ErrNoDriver = errors.New("sqlite driver not available in this build")

// SQLite is a SQLite-backed store. Each version of a document is one row
// holding the CBOR-encoded Document record.
type SQLite struct {
	mu  sync.Mutex
	db  *sql.DB
	log commonlog.Logger
}

// NewSQLite creates a new SQLite store at the given path.
func NewSQLite(path string) (*SQLite, error) {
	if driverName == "" {
		return nil, ErrNoDriver
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, err
	}

	// Create tables if not exists
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			record BLOB NOT NULL,
			PRIMARY KEY (name, version)
		);
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLite{db: db, log: commonlog.GetLogger("herd.store")}

	// Check/set schema version (use unlocked versions since we're in init)
	version, err := s.getMetadataUnlocked("schema_version")
	if err != nil {
		db.Close()
		return nil, err
	}
	switch version {
	case "":
		if err := s.setMetadataUnlocked("schema_version", SchemaVersion); err != nil {
			db.Close()
			return nil, err
		}
	case SchemaVersion:
	default:
		db.Close()
		return nil, fmt.Errorf("unsupported schema version: %s (expected %s)", version, SchemaVersion)
	}
	return s, nil
}

// latestUnlocked returns the newest record of a document, or nil.
func (s *SQLite) latestUnlocked(name string) (*Document, error) {
	var record []byte
	err := s.db.QueryRow(
		"SELECT record FROM documents WHERE name = ? ORDER BY version DESC LIMIT 1", name,
	).Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Decode(record)
}

// Get retrieves the latest version of a document.
func (s *SQLite) Get(name string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestUnlocked(name)
}

// Put stores a new version of a document if its source changed.
func (s *SQLite) Put(name, source string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("put: empty document name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.latestUnlocked(name)
	if err != nil {
		return 0, err
	}
	d := &Document{Name: name, Source: source, Version: 1, Ts: timestamp()}
	if prev != nil {
		if prev.Source == source {
			return prev.Version, nil
		}
		d.Version = prev.Version + 1
	}
	record, err := Encode(d)
	if err != nil {
		return 0, err
	}
	if _, err := s.db.Exec(
		"INSERT INTO documents (name, version, record) VALUES (?, ?, ?)",
		name, d.Version, record,
	); err != nil {
		return 0, err
	}
	s.log.Debugf("stored %s version %d", name, d.Version)
	return d.Version, nil
}

// Delete removes a document and its history.
func (s *SQLite) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM documents WHERE name = ?", name)
	return err
}

// List returns the stored document names in order.
func (s *SQLite) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query("SELECT DISTINCT name FROM documents ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetHistory returns up to limit versions of a document, newest first.
func (s *SQLite) GetHistory(name string, limit int) ([]VersionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		"SELECT record FROM documents WHERE name = ? ORDER BY version DESC LIMIT ?", name, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []VersionEntry
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		d, err := Decode(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, VersionEntry{Version: d.Version, Source: d.Source, Ts: d.Ts})
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetMetadata retrieves a metadata value by key.
func (s *SQLite) GetMetadata(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getMetadataUnlocked(key)
}

// getMetadataUnlocked retrieves metadata without locking (caller must hold lock).
func (s *SQLite) getMetadataUnlocked(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetMetadata stores a metadata value by key.
func (s *SQLite) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setMetadataUnlocked(key, value)
}

// setMetadataUnlocked stores metadata without locking (caller must hold lock).
func (s *SQLite) setMetadataUnlocked(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
