package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite is a Store kept in a SQLite database. Several named stores can share
// one database file; each owns the rows tagged with its name.
type SQLite struct {
	*entries
	db   *sql.DB
	name string
}

// OpenSQLite opens (or creates) the database at path and loads the rows of
// the store called name.
func OpenSQLite(path, name string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	// A single connection serialises writers inside this process
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create tables: %w", err)
	}
	if err := os.Chmod(path, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to set database permissions: %w", err)
	}

	values, err := loadRows(db, name)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{entries: newEntries(values), db: db, name: name}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (store, key)
		)
	`)
	return err
}

func loadRows(db *sql.DB, name string) (map[string]json.RawMessage, error) {
	rows, err := db.Query("SELECT key, value FROM kv WHERE store = ?", name)
	if err != nil {
		return nil, fmt.Errorf("store: failed to load %s: %w", name, err)
	}
	defer rows.Close()

	values := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: failed to scan row: %w", err)
		}
		values[key] = json.RawMessage(value)
	}
	return values, rows.Err()
}

// Save replaces the store's rows in a single transaction.
func (s *SQLite) Save() error {
	if s.db == nil {
		return ErrClosed
	}
	values := s.snapshot()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM kv WHERE store = ?", s.name); err != nil {
		return fmt.Errorf("store: failed to clear %s: %w", s.name, err)
	}

	stmt, err := tx.Prepare("INSERT INTO kv (store, key, value) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("store: failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, value := range values {
		if _, err := stmt.Exec(s.name, key, string(value)); err != nil {
			return fmt.Errorf("store: failed to write %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// Reload implements Reloader.
func (s *SQLite) Reload() error {
	if s.db == nil {
		return ErrClosed
	}
	values, err := loadRows(s.db, s.name)
	if err != nil {
		return err
	}
	s.replace(values)
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
