package store

import (
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
)

// MemoryBlobStore is an in-process BlobStore. Payloads are copied on the
// way in and out.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	types map[string]string
}

// NewMemoryBlobStore creates an empty MemoryBlobStore.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (m *MemoryBlobStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = slices.Clone(data)
	m.types[key] = contentType
	return nil
}

func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "memory: get %s", key)
	}
	return slices.Clone(data), nil
}

// ContentType returns the content type recorded for key.
func (m *MemoryBlobStore) ContentType(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[key]
}

// Keys returns all stored keys, sorted.
func (m *MemoryBlobStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// MemoryMetadataStore is an in-process MetadataStore.
type MemoryMetadataStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]Item
}

// NewMemoryMetadataStore creates an empty MemoryMetadataStore.
func NewMemoryMetadataStore() *MemoryMetadataStore {
	return &MemoryMetadataStore{tables: make(map[string]map[string]Item)}
}

func (m *MemoryMetadataStore) PutItem(_ context.Context, table, key string, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]Item)
		m.tables[table] = rows
	}
	rows[key] = item.Clone()
	return nil
}

func (m *MemoryMetadataStore) GetItem(_ context.Context, table, key string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.tables[table][key]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

func (m *MemoryMetadataStore) Scan(_ context.Context, table string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.tables[table]))
	for k, item := range m.tables[table] {
		out = append(out, Record{Key: k, Item: item.Clone()})
	}
	return out, nil
}

func (m *MemoryMetadataStore) Close() error { return nil }
