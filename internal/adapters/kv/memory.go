package kv

import (
	"context"
	"sync"

	"github.com/InvestigateHealth/connectsync/internal/ports"
)

// MemoryStorage implements ports.Storage in memory. Values do not survive
// a restart; intended for tests and ephemeral sessions.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailWrites makes Set/Remove return failErr when true. Used in tests
	// to exercise the degrade-to-cache-miss path.
	FailWrites bool
	FailReads  bool
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailReads {
		return nil, errSimulated
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ports.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of the value.
func (s *MemoryStorage) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errSimulated
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

// Remove deletes the key.
func (s *MemoryStorage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errSimulated
	}
	delete(s.data, key)
	return nil
}

// Keys returns every stored key.
func (s *MemoryStorage) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// MultiRemove removes all listed keys.
func (s *MemoryStorage) MultiRemove(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return errSimulated
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
