package plugin

import (
	"context"
	"sync"
)

// MemoryBlobStore is an in-memory BlobStore used by the CLI's local mode
// and by tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Get returns the blob at path, or ErrNotFound.
func (s *MemoryBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put stores data at path, replacing any existing blob.
func (s *MemoryBlobStore) Put(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

// Delete removes the blob at path. Deleting a missing path is a no-op.
func (s *MemoryBlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// MemoryRecordStore is an in-memory RecordStore.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*InstalledPlugin
}

// NewMemoryRecordStore creates an empty in-memory record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*InstalledPlugin)}
}

// Load returns the record for slug, or ErrNotFound.
func (s *MemoryRecordStore) Load(_ context.Context, slug string) (*InstalledPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.records[slug]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Save stores a copy of the record keyed by its slug.
func (s *MemoryRecordStore) Save(_ context.Context, p *InstalledPlugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[p.Manifest.Name] = p.Clone()
	return nil
}

// Delete removes the record for slug. Deleting a missing slug is a no-op.
func (s *MemoryRecordStore) Delete(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, slug)
	return nil
}

// ListAll returns copies of every stored record.
func (s *MemoryRecordStore) ListAll(_ context.Context) ([]*InstalledPlugin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*InstalledPlugin, 0, len(s.records))
	for _, p := range s.records {
		out = append(out, p.Clone())
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryRecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
