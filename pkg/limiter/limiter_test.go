package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	l := New(capacity)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				assert.LessOrEqual(t, l.InFlight(), capacity)
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(capacity))
	assert.Equal(t, 0, l.InFlight())
}

func TestLimiter_ReleaseIsIdempotent(t *testing.T) {
	l := New(1)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, l.InFlight())

	p.Release()
	p.Release()
	assert.Equal(t, 0, l.InFlight())

	// A double release must not have created extra capacity.
	p1, ok := l.TryAcquire()
	require.True(t, ok)
	_, ok = l.TryAcquire()
	assert.False(t, ok)
	p1.Release()
}

func TestLimiter_AcquireHonoursContext(t *testing.T) {
	l := New(1)
	held, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.InFlight())
}

func TestLimiter_DoReleasesOnError(t *testing.T) {
	l := New(2)
	boom := errors.New("boom")

	err := l.Do(context.Background(), func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 2, l.Capacity())
}
