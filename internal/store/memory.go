package store

import (
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory store for testing and for hosts without a database.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]VersionEntry
	metadata map[string]string
}

// NewMemory creates a new in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string][]VersionEntry),
		metadata: make(map[string]string),
	}
}

// Get retrieves the latest version of a document.
func (m *Memory) Get(name string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.data[name]
	if len(versions) == 0 {
		return nil, nil
	}
	v := versions[len(versions)-1]
	return &Document{Name: name, Source: v.Source, Version: v.Version, Ts: v.Ts}, nil
}

// Put stores a new version of a document if its source changed.
func (m *Memory) Put(name, source string) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("put: empty document name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.data[name]
	if n := len(versions); n > 0 && versions[n-1].Source == source {
		return versions[n-1].Version, nil
	}
	v := VersionEntry{Version: len(versions) + 1, Source: source, Ts: timestamp()}
	m.data[name] = append(versions, v)
	return v.Version, nil
}

// Delete removes a document and its history.
func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, name)
	return nil
}

// List returns the stored document names in order.
func (m *Memory) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// GetHistory returns up to limit versions of a document, newest first.
func (m *Memory) GetHistory(name string, limit int) ([]VersionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.data[name]
	var out []VersionEntry
	for i := len(versions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, versions[i])
	}
	return out, nil
}

// Close is a no-op for memory store.
func (m *Memory) Close() error {
	return nil
}

// GetMetadata retrieves a metadata value by key.
func (m *Memory) GetMetadata(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[key], nil
}

// SetMetadata stores a metadata value by key.
func (m *Memory) SetMetadata(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[key] = value
	return nil
}
