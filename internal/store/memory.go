package store

import (
	"context"
	"sync"
)

// Memory is an in-process KV. An optional byte quota makes quota handling
// testable without filling a disk.
type Memory struct {
	mu       sync.RWMutex
	data     map[string][]byte
	maxBytes int
	sets     int
}

// NewMemory returns an empty, unbounded Memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// NewMemoryWithQuota returns a Memory store whose total value size may not
// exceed maxBytes.
func NewMemoryWithQuota(maxBytes int) *Memory {
	m := NewMemory()
	m.maxBytes = maxBytes
	return m
}

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxBytes > 0 {
		total := len(value)
		for k, v := range m.data {
			if k != key {
				total += len(v)
			}
		}
		if total > m.maxBytes {
			return ErrQuotaExceeded
		}
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	m.sets++
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// SetCount reports how many Set calls succeeded. Tests use it to observe
// debounced persistence.
func (m *Memory) SetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sets
}
