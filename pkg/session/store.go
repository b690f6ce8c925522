package session

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a session id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore persists session snapshots by session id.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, snapshot []byte) error
	Load(ctx context.Context, sessionID string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryStore keeps snapshots in process memory. Useful for tests and for
// drivers that persist elsewhere.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, sessionID string, snapshot []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(snapshot))
	copy(stored, snapshot)
	m.snapshots[sessionID] = stored
	return nil
}

func (m *MemoryStore) Load(_ context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.snapshots[sessionID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	out := make([]byte, len(snapshot))
	copy(out, snapshot)
	return out, nil
}

func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, sessionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
