package store

import "sync/atomic"

// Memory is a Store with no backing file. Saves are counted, and SaveErr,
// when set, is returned from Save without persisting anything.
type Memory struct {
	*entries
	saves   atomic.Int64
	SaveErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: newEntries(nil)}
}

// Save implements Store.
func (m *Memory) Save() error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.saves.Add(1)
	return nil
}

// Saves returns how many successful Save calls were made.
func (m *Memory) Saves() int64 {
	return m.saves.Load()
}
