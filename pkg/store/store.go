// Package store persists health and diagnostic records served over the link.
package store

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound indicates no record is stored under an id.
var ErrNotFound = errors.New("record not found")

// Store persists records by id.
type Store interface {
	Read(id uint16) ([]byte, error)
	Write(id uint16, data []byte) error
	IDs() ([]uint16, error)
	Close() error
}

// Open opens a store by location: empty or "memory" selects a Memory store,
// anything else is a sqlite database file.
func Open(location string) (Store, error) {
	if location == "" || location == "memory" {
		return NewMemory(), nil
	}
	return OpenSQLite(location)
}

// Memory is an in-process Store.
type Memory struct {
	records map[uint16][]byte
	lock    sync.RWMutex
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[uint16][]byte)}
}

// Read implements Store.
func (m *Memory) Read(id uint16) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	data, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Write implements Store.
func (m *Memory) Write(id uint16, data []byte) error {
	m.lock.Lock()
	m.records[id] = append([]byte(nil), data...)
	m.lock.Unlock()
	return nil
}

// IDs implements Store.
func (m *Memory) IDs() ([]uint16, error) {
	m.lock.RLock()
	ids := make([]uint16, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.lock.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
