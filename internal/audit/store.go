package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StorageKey is the key the trail is persisted under.
const StorageKey = "personaAuditLog"

// ErrNotFound is returned by a Store when a key holds no value.
var ErrNotFound = errors.New("audit: key not found")

// Store is durable key/value storage for the serialized trail.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Exporter receives rotated chunks of the trail.
type Exporter interface {
	Export(name string, data []byte) error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	data map[string][]byte
	mu   sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set implements Store.
func (m *MemoryStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// DirExporter writes exported chunks as files in a directory.
type DirExporter struct {
	Dir string
}

// Export implements Exporter. The file is written to a temp name first and
// renamed into place.
func (e DirExporter) Export(name string, data []byte) error {
	if err := os.MkdirAll(e.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	path := filepath.Join(e.Dir, filepath.Base(name))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename export: %w", err)
	}
	return nil
}
