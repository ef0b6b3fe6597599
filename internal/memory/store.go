// Package memory is the agent's persistent key-value store, backed by
// SQLite. Keys are scoped per agent so two agents never see each
// other's notes.
package memory

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("memory key not found")

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the memory database and applies any
// pending schema migrations.
func Open(path string) (*Store, error) {
	if err := runMigrations(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer

	return &Store{db: db, path: path}, nil
}

func runMigrations(path string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Set stores a value under (agent, key), replacing any previous value.
func (s *Store) Set(agentID, key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO memories (agent_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (agent_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		agentID, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("memory set: %w", err)
	}
	return nil
}

// Get fetches a value. Missing keys return ErrNotFound.
func (s *Store) Get(agentID, key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		`SELECT value FROM memories WHERE agent_id = ? AND key = ?`,
		agentID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("memory get: %w", err)
	}
	return value, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(agentID, key string) error {
	if _, err := s.db.Exec(
		`DELETE FROM memories WHERE agent_id = ? AND key = ?`, agentID, key); err != nil {
		return fmt.Errorf("memory delete: %w", err)
	}
	return nil
}

// Keys lists an agent's stored keys.
func (s *Store) Keys(agentID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM memories WHERE agent_id = ? ORDER BY key`, agentID)
	if err != nil {
		return nil, fmt.Errorf("memory keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("memory keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// IntegrityCheck runs SQLite's native integrity check and fails unless
// it reports "ok".
func (s *Store) IntegrityCheck() error {
	var result string
	if err := s.db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
