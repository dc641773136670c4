package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v3"
)

type diskStore struct {
	db *badger.DB
}

// NewDiskStore opens a badger database under path. Conditional writes rely on
// badger's optimistic transactions: when two transactions read and write the
// same key, the second to commit fails with badger.ErrConflict.
func NewDiskStore(path string) (ObjectStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(path, "badger"))
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &diskStore{db: db}, nil
}

func (s *diskStore) Put(ctx context.Context, key string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *diskStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set([]byte(key), data)
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, badger.ErrConflict):
		// A conflict means a concurrent transaction committed this key first.
		return ErrAlreadyExists
	default:
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
}

func (s *diskStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrObjectNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return data, nil
}

func (s *diskStore) Exists(ctx context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

func (s *diskStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	return keys, nil
}

func (s *diskStore) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *diskStore) DeleteIfMatch(ctx context.Context, key string, expected []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrPreconditionFailed
		}
		if err != nil {
			return err
		}

		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, expected) {
			return ErrPreconditionFailed
		}
		return txn.Delete([]byte(key))
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPreconditionFailed), errors.Is(err, badger.ErrConflict):
		return ErrPreconditionFailed
	default:
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
}

func (s *diskStore) Close() error {
	return s.db.Close()
}
