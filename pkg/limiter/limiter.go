package limiter

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter caps the number of concurrent downstream calls made by this process.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	inFlight atomic.Int64
}

func New(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
	}
}

// Permit is one unit of capacity. Release may be called more than once.
type Permit struct {
	l    *Limiter
	once sync.Once
}

func (p *Permit) Release() {
	p.once.Do(func() {
		p.l.inFlight.Add(-1)
		p.l.sem.Release(1)
	})
}

// Acquire waits until capacity is free or ctx is done. Waiters are admitted in
// arrival order.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.inFlight.Add(1)
	return &Permit{l: l}, nil
}

// TryAcquire returns a permit only if capacity is free right now.
func (l *Limiter) TryAcquire() (*Permit, bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	l.inFlight.Add(1)
	return &Permit{l: l}, true
}

// Do runs fn while holding a permit. The permit is returned even if fn panics.
func (l *Limiter) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	permit, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	return fn(ctx)
}

func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

func (l *Limiter) Capacity() int {
	return l.capacity
}
