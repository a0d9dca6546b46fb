// Package storage holds the in-memory upload store and blob store used by the
// single-process server and by tests.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dharsanguruparan/FileGate/internal/model"
)

// ErrNotFound is model.ErrNotFound, re-exported for callers of this package.
var ErrNotFound = model.ErrNotFound

// MemoryStore keeps upload records in a map guarded by an RWMutex: many
// concurrent readers, one writer.
type MemoryStore struct {
	mu      sync.RWMutex
	uploads map[string]*model.Upload
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{uploads: make(map[string]*model.Upload)}
}

// Create inserts a record, stamping its timestamps.
func (m *MemoryStore) Create(_ context.Context, u *model.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.uploads[u.ID]; exists {
		return fmt.Errorf("upload %s already recorded", u.ID)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	rec := *u
	m.uploads[u.ID] = &rec
	return nil
}

// Get returns a copy of the record so callers cannot mutate store state.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.Upload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// MarkQueued records that an import job was handed to the pool.
func (m *MemoryStore) MarkQueued(ctx context.Context, id string) error {
	return m.update(id, func(u *model.Upload) { u.Status = model.StatusQueued })
}

// MarkImporting records that a worker picked the job up.
func (m *MemoryStore) MarkImporting(_ context.Context, id string) error {
	return m.update(id, func(u *model.Upload) { u.Status = model.StatusImporting; u.Message = "" })
}

// MarkImported stores the imported row count.
func (m *MemoryStore) MarkImported(_ context.Context, id string, rows int) error {
	return m.update(id, func(u *model.Upload) {
		u.Status = model.StatusImported
		u.Rows = rows
		u.Message = ""
	})
}

// MarkFailed records an import failure message.
func (m *MemoryStore) MarkFailed(_ context.Context, id, msg string) error {
	return m.update(id, func(u *model.Upload) {
		u.Status = model.StatusFailed
		u.Message = msg
	})
}

func (m *MemoryStore) update(id string, fn func(*model.Upload)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.uploads[id]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryBlobs is an in-memory blob store keyed like an object store.
type MemoryBlobs struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryBlobs constructs an empty blob store.
func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string][]byte)}
}

// Put stores the object, reading at most size bytes.
func (b *MemoryBlobs) Put(_ context.Context, key string, r io.Reader, size int64, _ string) error {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return fmt.Errorf("read object %s: %w", key, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

// Get returns a copy of the stored object.
func (b *MemoryBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	return bytes.Clone(data), nil
}
