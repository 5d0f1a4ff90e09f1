// Package store provides the key-value persistence used by the credential
// vault and the settings service.
//
// A Store is an in-memory map of JSON values loaded when the store is opened.
// Get, Set and Delete only touch memory; Save flushes the whole map to the
// backend in one write. Stores do not merge concurrent writers: the last Save
// wins.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// FileMode and DirMode restrict stored data to the owner.
const (
	FileMode = 0600
	DirMode  = 0700
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: store is closed")

// Store is the persistence collaborator.
type Store interface {
	// Get decodes the value stored under key into v. It reports false when
	// the key is absent.
	Get(key string, v any) (bool, error)
	// Set encodes v and stages it under key.
	Set(key string, v any) error
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)
	// Keys returns the staged keys in sorted order.
	Keys() []string
	// Save durably writes every staged value.
	Save() error
}

// Reloader is implemented by stores whose backend other processes can write.
// Reload discards staged changes and reads the backend again.
type Reloader interface {
	Reload() error
}

// Reload re-reads s when it implements Reloader.
func Reload(s Store) error {
	if r, ok := s.(Reloader); ok {
		return r.Reload()
	}
	return nil
}

// entries is the in-memory map shared by every backend.
type entries struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func newEntries(values map[string]json.RawMessage) *entries {
	if values == nil {
		values = make(map[string]json.RawMessage)
	}
	return &entries{values: values}
}

func (e *entries) Get(key string, v any) (bool, error) {
	e.mu.RLock()
	raw, ok := e.values[key]
	e.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("store: failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (e *entries) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: failed to encode %q: %w", key, err)
	}
	e.mu.Lock()
	e.values[key] = raw
	e.mu.Unlock()
	return nil
}

func (e *entries) Delete(key string) {
	e.mu.Lock()
	delete(e.values, key)
	e.mu.Unlock()
}

func (e *entries) Keys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.values))
	for k := range e.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *entries) replace(values map[string]json.RawMessage) {
	e.mu.Lock()
	e.values = values
	e.mu.Unlock()
}

// snapshot copies the map so a backend can write it without holding the lock.
func (e *entries) snapshot() map[string]json.RawMessage {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}
