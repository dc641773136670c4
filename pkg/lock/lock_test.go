package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/storage"
	"subtitle-orchestrator/pkg/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared between lock instances.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func acquire(t *testing.T, l *ObjectLock, fileID string) *Lease {
	t.Helper()
	outcome, lease, err := l.TryAcquire(context.Background(), fileID)
	require.NoError(t, err)
	require.Equal(t, Acquired, outcome)
	require.NotNil(t, lease)
	return lease
}

func TestTryAcquire_Basic(t *testing.T) {
	store := storagetest.New()
	l := NewObjectLock(store, 30*time.Minute)
	ctx := context.Background()

	lease := acquire(t, l, "f1")
	assert.Equal(t, "f1", lease.FileID)
	assert.NotEmpty(t, lease.Owner)

	outcome, held, err := l.TryAcquire(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyHeld, outcome)
	assert.Nil(t, held)

	acquire(t, l, "f2")

	require.NoError(t, l.Release(ctx, lease))
	acquire(t, l, "f1")
}

func TestTryAcquire_ContendedPollWritesNothing(t *testing.T) {
	store := storagetest.New()
	l := NewObjectLock(store, 30*time.Minute)
	acquire(t, l, "f1")
	store.ResetCounters()

	outcome, _, err := l.TryAcquire(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyHeld, outcome)
	assert.Empty(t, store.Writes())
}

func TestTryAcquire_ConcurrentSingleWinner(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.ObjectStore{
		"memory": func(t *testing.T) storage.ObjectStore { return storage.NewMemoryStore() },
		"badger": func(t *testing.T) storage.ObjectStore {
			s, err := storage.NewDiskStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			const instances = 12

			var acquired, held atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < instances; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					// Separate lock objects model separate server instances.
					outcome, _, err := NewObjectLock(store, 30*time.Minute).TryAcquire(context.Background(), "race")
					require.NoError(t, err)
					if outcome == Acquired {
						acquired.Add(1)
					} else {
						held.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), acquired.Load())
			assert.Equal(t, int32(instances-1), held.Load())
		})
	}
}

func TestTryAcquire_ExpiredLockIsTakenOver(t *testing.T) {
	store := storagetest.New()
	clock := newFakeClock()
	crashed := NewObjectLock(store, 30*time.Minute, WithClock(clock.Now))
	survivor := NewObjectLock(store, 30*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	acquire(t, crashed, "f1")

	clock.Advance(29 * time.Minute)
	outcome, _, err := survivor.TryAcquire(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyHeld, outcome, "live lock blocks")

	clock.Advance(2 * time.Minute) // 31 minutes after acquisition, never released
	acquire(t, survivor, "f1")

	holder, err := survivor.Holder(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, clock.Now(), holder.AcquiredAt)
}

func TestTryAcquire_ConcurrentTakeoverSingleWinner(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	ctx := context.Background()

	acquire(t, NewObjectLock(store, time.Minute, WithClock(clock.Now)), "f1")
	clock.Advance(2 * time.Minute)

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, _, err := NewObjectLock(store, time.Minute, WithClock(clock.Now)).TryAcquire(ctx, "f1")
			require.NoError(t, err)
			if outcome == Acquired {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), acquired.Load())
}

func TestRelease_DoesNotRemoveNewHoldersLock(t *testing.T) {
	store := storagetest.New()
	clock := newFakeClock()
	slow := NewObjectLock(store, 30*time.Minute, WithClock(clock.Now))
	other := NewObjectLock(store, 30*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	slowLease := acquire(t, slow, "f1")

	clock.Advance(31 * time.Minute)
	acquire(t, other, "f1")

	// The slow holder finishes late and releases.
	require.NoError(t, slow.Release(ctx, slowLease))

	outcome, _, err := NewObjectLock(store, 30*time.Minute, WithClock(clock.Now)).TryAcquire(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyHeld, outcome, "the new holder's lock survives")
}

func TestRelease_SameProcessTakeover(t *testing.T) {
	store := storagetest.New()
	clock := newFakeClock()
	l := NewObjectLock(store, 30*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	first := acquire(t, l, "f1")
	clock.Advance(31 * time.Minute)
	second := acquire(t, l, "f1")
	assert.NotEqual(t, first.Owner, second.Owner)

	// The overrun first job finishes and releases its own lease.
	require.NoError(t, l.Release(ctx, first))

	holder, err := l.Holder(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, holder, "second job's record survives")
	assert.Equal(t, second.Owner, holder.Owner)

	outcome, _, err := l.TryAcquire(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyHeld, outcome, "no third holder while the second is live")

	require.NoError(t, l.Release(ctx, second))
	ok, err := store.Exists(ctx, storage.LockKey("f1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelease_NilLease(t *testing.T) {
	store := storagetest.New()
	l := NewObjectLock(store, time.Hour)
	acquire(t, l, "f1")
	store.ResetCounters()

	require.NoError(t, l.Release(context.Background(), nil))
	assert.Zero(t, store.Calls())
}

func TestTryAcquire_CorruptRecordIsStale(t *testing.T) {
	store := storagetest.New()
	require.NoError(t, store.Put(context.Background(), storage.LockKey("f1"), []byte("locked")))

	acquire(t, NewObjectLock(store, time.Hour), "f1")
}

func TestTryAcquire_Errors(t *testing.T) {
	store := storagetest.New()
	l := NewObjectLock(store, time.Hour)

	_, _, err := l.TryAcquire(context.Background(), "a/../b")
	assert.Equal(t, apperrors.CodeInvalidIdentifier, apperrors.CodeOf(err))
	assert.Zero(t, store.Calls())

	store.FailOn = func(op, key string) error { return errors.New("unavailable") }
	_, lease, err := l.TryAcquire(context.Background(), "f1")
	assert.Equal(t, apperrors.CodeStorageUnavailable, apperrors.CodeOf(err))
	assert.Nil(t, lease)
}

func TestHolder(t *testing.T) {
	store := storagetest.New()
	clock := newFakeClock()
	l := NewObjectLock(store, 10*time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	holder, err := l.Holder(ctx, "f1")
	require.NoError(t, err)
	assert.Nil(t, holder)

	lease := acquire(t, l, "f1")
	holder, err = l.Holder(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, int64(600), holder.TTLSeconds)
	assert.Equal(t, lease.Owner, holder.Owner)

	clock.Advance(11 * time.Minute)
	holder, err = l.Holder(ctx, "f1")
	require.NoError(t, err)
	assert.Nil(t, holder, "expired lock reads as absent")
}
