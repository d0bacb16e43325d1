package state

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps records in process memory. Safe for concurrent use; every Load and
// Save works on a copy so turns never share maps through the store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*Record),
	}
}

func (s *MemoryStore) Load(ctx context.Context, key string) (*Record, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[key]
	if !ok {
		return nil, ErrStateNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	if err := prepareForSave(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.Key] = rec.Clone()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
