package vectorstore

import (
	"context"
	"sync"
)

// Memory keeps collections in process. It backs dry runs and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[uint64]Record
	upserts     int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[uint64]Record)}
}

func (m *Memory) Retrieve(_ context.Context, collection string, ids []uint64) (map[uint64]Payload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points := m.collections[collection]
	out := make(map[uint64]Payload, len(ids))
	for _, id := range ids {
		if rec, ok := points[id]; ok {
			out[id] = rec.Payload.Clone()
		}
	}
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	points, ok := m.collections[collection]
	if !ok {
		points = make(map[uint64]Record)
		m.collections[collection] = points
	}
	for _, rec := range records {
		vec := append([]float32(nil), rec.Vector...)
		points[rec.ID] = Record{ID: rec.ID, Vector: vec, Payload: rec.Payload.Clone()}
	}
	m.upserts++
	return nil
}

// Get returns the stored record for id.
func (m *Memory) Get(collection string, id uint64) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.collections[collection][id]
	return rec, ok
}

// Len returns the number of records in collection.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Upserts returns how many Upsert calls succeeded.
func (m *Memory) Upserts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.upserts
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Client = (*Memory)(nil)
