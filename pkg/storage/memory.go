package storage

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryStore returns a process-local ObjectStore. It satisfies the full
// contract, but coordination only spans goroutines of one process.
func NewMemoryStore() ObjectStore {
	return &memoryStore{
		objects: make(map[string][]byte),
	}
}

func (s *memoryStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = bytes.Clone(data)
	return nil
}

func (s *memoryStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.objects[key]; exists {
		return ErrAlreadyExists
	}
	s.objects[key] = bytes.Clone(data)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.objects[key]
	if !exists {
		return nil, ErrObjectNotFound
	}
	return bytes.Clone(data), nil
}

func (s *memoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.objects[key]
	return exists, nil
}

func (s *memoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

func (s *memoryStore) DeleteIfMatch(ctx context.Context, key string, expected []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[key]
	if !exists || !bytes.Equal(current, expected) {
		return ErrPreconditionFailed
	}
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
