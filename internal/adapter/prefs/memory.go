package prefs

import (
	"context"
	"sync"

	"github.com/devkiraa/aura-smart-home/internal/core/port"
)

// MemoryStore is a non-durable Preferences for tests and dry runs.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]map[string]string
	Err    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]map[string]string{}}
}

func (s *MemoryStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", false, s.Err
	}
	v, ok := s.values[namespace][key]
	return v, ok, nil
}

func (s *MemoryStore) Put(ctx context.Context, namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if s.values[namespace] == nil {
		s.values[namespace] = map[string]string{}
	}
	s.values[namespace][key] = value
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.values, namespace)
	return nil
}

// ensure interface compliance
var _ port.Preferences = (*MemoryStore)(nil)
