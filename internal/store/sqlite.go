// Package store persists settings flags in SQLite so values changed at
// runtime survive a restart.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Change is one recorded settings change.
type Change struct {
	Name      string    `json:"name"`
	Value     bool      `json:"value"`
	ChangedAt time.Time `json:"changed_at"`
}

// Store represents the SQLite settings store.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection; the persister goroutine is the only writer.
	db.SetMaxOpenConns(1)

	if err := MigrateDB(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveSetting stores a flag and records the change.
func (s *Store) SaveSetting(name string, value bool) error {
	now := s.now().UnixNano()
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO settings (name, value, updated_ns) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_ns = excluded.updated_ns`,
		name, value, now,
	); err != nil {
		return fmt.Errorf("save setting %s: %w", name, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO setting_changes (name, value, changed_ns) VALUES (?, ?, ?)",
		name, value, now,
	); err != nil {
		return fmt.Errorf("record setting %s: %w", name, err)
	}
	return tx.Commit()
}

// LoadSettings returns every stored flag.
func (s *Store) LoadSettings() (map[string]bool, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value bool   `db:"value"`
	}
	if err := s.db.Select(&rows, "SELECT name, value FROM settings"); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out, nil
}

// DeleteSetting forgets a stored flag so the configured default applies
// again on the next start.
func (s *Store) DeleteSetting(name string) error {
	if _, err := s.db.Exec("DELETE FROM settings WHERE name = ?", name); err != nil {
		return fmt.Errorf("delete setting %s: %w", name, err)
	}
	return nil
}

// History returns the most recent changes, newest first.
func (s *Store) History(limit int) ([]Change, error) {
	var rows []struct {
		Name      string `db:"name"`
		Value     bool   `db:"value"`
		ChangedNs int64  `db:"changed_ns"`
	}
	if err := s.db.Select(&rows,
		"SELECT name, value, changed_ns FROM setting_changes ORDER BY id DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	out := make([]Change, 0, len(rows))
	for _, r := range rows {
		out = append(out, Change{Name: r.Name, Value: r.Value, ChangedAt: time.Unix(0, r.ChangedNs)})
	}
	return out, nil
}
