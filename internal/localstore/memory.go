package localstore

import (
	"context"
	"sync"
)

// Memory keeps entries in process memory. FailWrites makes every Put fail,
// which tests use to simulate a full or read-only disk.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string][]byte
	failWrites error
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), raw...), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return m.failWrites
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

// Set stores raw bytes without validation, e.g. to plant a corrupt entry.
func (m *Memory) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
}

func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}
