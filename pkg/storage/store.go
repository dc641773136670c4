package storage

import (
	"context"
	"errors"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrAlreadyExists      = errors.New("object already exists")
	ErrPreconditionFailed = errors.New("object does not match expected contents")
)

// ObjectStore is the Chunk Store contract. Keys are flat strings; zones are
// key prefixes (see keys.go).
//
// PutIfAbsent must have a single winner among concurrent callers on the same
// key: exactly one returns nil, the rest return ErrAlreadyExists.
// DeleteIfMatch removes the key only when its current contents equal
// expected, otherwise it returns ErrPreconditionFailed (also when absent).
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	PutIfAbsent(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	DeleteIfMatch(ctx context.Context, key string, expected []byte) error
	Close() error
}
