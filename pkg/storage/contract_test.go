package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFactories() map[string]func(t *testing.T) ObjectStore {
	return map[string]func(t *testing.T) ObjectStore{
		"memory": func(t *testing.T) ObjectStore {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) ObjectStore {
			s, err := NewDiskStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestObjectStore_Contract(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("put get overwrite", func(t *testing.T) {
				s := newStore(t)
				require.NoError(t, s.Put(ctx, "raw_audio/a/0", []byte("one")))
				require.NoError(t, s.Put(ctx, "raw_audio/a/0", []byte("two")))

				data, err := s.Get(ctx, "raw_audio/a/0")
				require.NoError(t, err)
				assert.Equal(t, []byte("two"), data)

				_, err = s.Get(ctx, "raw_audio/a/1")
				assert.ErrorIs(t, err, ErrObjectNotFound)
			})

			t.Run("put if absent", func(t *testing.T) {
				s := newStore(t)
				require.NoError(t, s.PutIfAbsent(ctx, "locks/a", []byte("first")))
				assert.ErrorIs(t, s.PutIfAbsent(ctx, "locks/a", []byte("second")), ErrAlreadyExists)

				data, err := s.Get(ctx, "locks/a")
				require.NoError(t, err)
				assert.Equal(t, []byte("first"), data)
			})

			t.Run("exists and delete", func(t *testing.T) {
				s := newStore(t)
				ok, err := s.Exists(ctx, "final_results/a.srt")
				require.NoError(t, err)
				assert.False(t, ok)

				require.NoError(t, s.Put(ctx, "final_results/a.srt", []byte("1")))
				ok, err = s.Exists(ctx, "final_results/a.srt")
				require.NoError(t, err)
				assert.True(t, ok)

				require.NoError(t, s.Delete(ctx, "final_results/a.srt"))
				require.NoError(t, s.Delete(ctx, "final_results/a.srt"), "deleting an absent key is not an error")
				ok, err = s.Exists(ctx, "final_results/a.srt")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("list by prefix", func(t *testing.T) {
				s := newStore(t)
				for _, key := range []string{"raw_audio/a/1", "raw_audio/a/0", "raw_audio/ab/0", "transcripts/a/0.json"} {
					require.NoError(t, s.Put(ctx, key, []byte("x")))
				}

				keys, err := s.List(ctx, "raw_audio/a/")
				require.NoError(t, err)
				assert.Equal(t, []string{"raw_audio/a/0", "raw_audio/a/1"}, keys)

				keys, err = s.List(ctx, "locks/")
				require.NoError(t, err)
				assert.Empty(t, keys)
			})

			t.Run("delete if match", func(t *testing.T) {
				s := newStore(t)
				require.NoError(t, s.Put(ctx, "locks/a", []byte("mine")))

				assert.ErrorIs(t, s.DeleteIfMatch(ctx, "locks/a", []byte("theirs")), ErrPreconditionFailed)
				require.NoError(t, s.DeleteIfMatch(ctx, "locks/a", []byte("mine")))
				assert.ErrorIs(t, s.DeleteIfMatch(ctx, "locks/a", []byte("mine")), ErrPreconditionFailed)
			})

			t.Run("concurrent create has one winner", func(t *testing.T) {
				s := newStore(t)
				const contenders = 16

				var wg sync.WaitGroup
				results := make([]error, contenders)
				for i := 0; i < contenders; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						results[i] = s.PutIfAbsent(ctx, "locks/race", []byte(fmt.Sprintf("owner-%d", i)))
					}(i)
				}
				wg.Wait()

				winners := 0
				for _, err := range results {
					switch {
					case err == nil:
						winners++
					case errors.Is(err, ErrAlreadyExists):
					default:
						t.Fatalf("unexpected error: %v", err)
					}
				}
				assert.Equal(t, 1, winners)
			})
		})
	}
}
