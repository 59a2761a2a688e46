package store

import (
	"context"
	"sync"
)

// Memory keeps selections for the life of the process. It is used when no
// database is configured.
type Memory struct {
	mu       sync.Mutex
	selected map[string]int64
}

func NewMemory() *Memory {
	return &Memory{selected: map[string]int64{}}
}

func (m *Memory) LastSelectedTable(_ context.Context, profile string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.selected[profile]
	return id, ok, nil
}

func (m *Memory) SaveSelectedTable(_ context.Context, profile string, tableID int64) error {
	m.mu.Lock()
	m.selected[profile] = tableID
	m.mu.Unlock()
	return nil
}

func (m *Memory) ClearSelectedTable(_ context.Context, profile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.selected[profile]; !ok {
		return ErrNotFound
	}
	delete(m.selected, profile)
	return nil
}
