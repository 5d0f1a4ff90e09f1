package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as a single JSON object, the same layout the
// desktop app writes (e.g. credentials.json, settings.json).
type File struct {
	*entries
	path   string
	saveMu sync.Mutex
}

// OpenFile loads path, treating a missing file as an empty store.
func OpenFile(path string) (*File, error) {
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return &File{entries: newEntries(values), path: path}, nil
}

// Reload implements Reloader.
func (f *File) Reload() error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	values, err := readFile(f.path)
	if err != nil {
		return err
	}
	f.replace(values)
	return nil
}

func readFile(path string) (map[string]json.RawMessage, error) {
	values := make(map[string]json.RawMessage)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("store: failed to read %s: %w", path, err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("store: %s is corrupted: %w", path, err)
		}
	}
	return values, nil
}

// Save writes the store to a temp file and renames it over the target while
// holding an advisory lock, so readers never observe a partial file.
func (f *File) Save() error {
	f.saveMu.Lock()
	defer f.saveMu.Unlock()

	data, err := json.MarshalIndent(f.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("store: failed to marshal %s: %w", f.path, err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("store: failed to create directory: %w", err)
	}

	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to write %s: %w", f.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: failed to sync %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: failed to close %s: %w", f.path, err)
	}
	if err := os.Chmod(tmpName, FileMode); err != nil {
		return fmt.Errorf("store: failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("store: failed to replace %s: %w", f.path, err)
	}
	return nil
}
