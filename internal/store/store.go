// Package store implements the client-side durable key/value store backed by
// a local SQLite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Well-known keys persisted by the sync core.
const (
	KeyProgress     = "progress"
	KeyVocabulary   = "vocabulary"
	KeyLastSyncTime = "last_sync_time"
)

// ErrNotLoaded is returned by Save when the key has never been loaded in this
// process. The gate prevents a startup race from overwriting durable data
// with in-memory defaults.
var ErrNotLoaded = errors.New("store: key not loaded yet")

// Store is a per-key atomic key/value store with validated loads.
type Store struct {
	db  *sqlx.DB
	log *zap.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// Open connects to (and creates if missing) the SQLite database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	// SQLite does not support multiple writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, log: log, loaded: make(map[string]bool)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Load reads the JSON value for key into the returned T. If the key is
// missing, undecodable, or rejected by validate, def is returned instead and
// the failure is logged, never propagated. Either way the key counts as
// loaded and becomes writable.
func Load[T any](s *Store, key string, def T, validate func(T) bool) T {
	out := def
	var raw string
	err := s.db.Get(&raw, `SELECT value FROM kv WHERE key = ?`, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first run for this key
	case err != nil:
		s.log.Warn("store load failed, using default", zap.String("key", key), zap.Error(err))
	default:
		var v T
		if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
			s.log.Warn("store value undecodable, using default", zap.String("key", key), zap.Error(uerr))
		} else if validate != nil && !validate(v) {
			s.log.Warn("store value failed validation, using default", zap.String("key", key))
		} else {
			out = v
		}
	}

	s.mu.Lock()
	s.loaded[key] = true
	s.mu.Unlock()
	return out
}

// Save writes the JSON encoding of value under key. The write is rejected
// with ErrNotLoaded until the key's first Load has completed.
func (s *Store) Save(key string, value any) error {
	s.mu.Lock()
	ok := s.loaded[key]
	s.mu.Unlock()
	if !ok {
		s.log.Warn("store save before first load rejected", zap.String("key", key))
		return ErrNotLoaded
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
