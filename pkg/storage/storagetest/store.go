// Package storagetest provides an instrumented ObjectStore for tests.
package storagetest

import (
	"context"
	"strings"
	"sync"

	"subtitle-orchestrator/pkg/storage"
)

// Store wraps an ObjectStore, counts calls, and can inject failures.
type Store struct {
	storage.ObjectStore

	mu     sync.Mutex
	calls  int
	writes []string

	// FailOn returns a non-nil error to make the named operation fail for key.
	// op is one of put, put_if_absent, get, exists, list, delete, delete_if_match.
	FailOn func(op, key string) error
}

func New() *Store {
	return Wrap(storage.NewMemoryStore())
}

func Wrap(inner storage.ObjectStore) *Store {
	return &Store{ObjectStore: inner}
}

// Calls is the total number of operations attempted.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Writes lists the keys of successful mutating operations, in order.
func (s *Store) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

// WritesWithPrefix counts successful mutations under prefix.
func (s *Store) WritesWithPrefix(prefix string) int {
	n := 0
	for _, key := range s.Writes() {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

func (s *Store) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = 0
	s.writes = nil
}

func (s *Store) begin(op, key string) error {
	s.mu.Lock()
	s.calls++
	fail := s.FailOn
	s.mu.Unlock()

	if fail != nil {
		return fail(op, key)
	}
	return nil
}

func (s *Store) wrote(key string, err error) error {
	if err == nil {
		s.mu.Lock()
		s.writes = append(s.writes, key)
		s.mu.Unlock()
	}
	return err
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.begin("put", key); err != nil {
		return err
	}
	return s.wrote(key, s.ObjectStore.Put(ctx, key, data))
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if err := s.begin("put_if_absent", key); err != nil {
		return err
	}
	return s.wrote(key, s.ObjectStore.PutIfAbsent(ctx, key, data))
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.begin("get", key); err != nil {
		return nil, err
	}
	return s.ObjectStore.Get(ctx, key)
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.begin("exists", key); err != nil {
		return false, err
	}
	return s.ObjectStore.Exists(ctx, key)
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := s.begin("list", prefix); err != nil {
		return nil, err
	}
	return s.ObjectStore.List(ctx, prefix)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.begin("delete", key); err != nil {
		return err
	}
	return s.wrote(key, s.ObjectStore.Delete(ctx, key))
}

func (s *Store) DeleteIfMatch(ctx context.Context, key string, expected []byte) error {
	if err := s.begin("delete_if_match", key); err != nil {
		return err
	}
	return s.wrote(key, s.ObjectStore.DeleteIfMatch(ctx, key, expected))
}
