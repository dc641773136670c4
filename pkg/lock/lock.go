package lock

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/models"
	"subtitle-orchestrator/pkg/storage"

	"github.com/google/uuid"
)

type Outcome int

const (
	Acquired Outcome = iota
	AlreadyHeld
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyHeld:
		return "already_held"
	default:
		return "unknown"
	}
}

// Lease is one successful acquisition. Releasing it frees exactly that
// acquisition and never a later holder's.
type Lease struct {
	FileID string
	Owner  string
	record []byte
}

// Locker is per-file mutual exclusion. Release is best-effort: a holder that
// never releases is recovered from by TTL expiry.
type Locker interface {
	TryAcquire(ctx context.Context, fileID string) (Outcome, *Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// ObjectLock implements Locker with create-if-absent writes to locks/{fileId}.
// A record older than its TTL counts as absent and may be taken over.
type ObjectLock struct {
	store storage.ObjectStore
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*ObjectLock)

// WithClock replaces time.Now, for tests that need to move past the TTL.
func WithClock(now func() time.Time) Option {
	return func(l *ObjectLock) { l.now = now }
}

func NewObjectLock(store storage.ObjectStore, ttl time.Duration, opts ...Option) *ObjectLock {
	l := &ObjectLock{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire returns a Lease when the lock was free or stale. A live record
// held by anyone, this process included, yields AlreadyHeld.
func (l *ObjectLock) TryAcquire(ctx context.Context, fileID string) (Outcome, *Lease, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return AlreadyHeld, nil, err
	}

	key := storage.LockKey(fileID)
	current, err := l.store.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return l.create(ctx, fileID)
	}
	if err != nil {
		return AlreadyHeld, nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to read lock record")
	}

	if !l.stale(current) {
		return AlreadyHeld, nil, nil
	}

	// Take over the stale record. Only the contender whose compare-and-delete
	// removes exactly the bytes it observed may go on to create.
	err = l.store.DeleteIfMatch(ctx, key, current)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		return AlreadyHeld, nil, nil
	}
	if err != nil {
		return AlreadyHeld, nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to remove stale lock")
	}
	log.Printf("Lock: removed stale lock for %s", fileID)

	return l.create(ctx, fileID)
}

func (l *ObjectLock) create(ctx context.Context, fileID string) (Outcome, *Lease, error) {
	lease := &Lease{FileID: fileID, Owner: uuid.NewString()}
	data, err := json.Marshal(models.LockRecord{
		FileID:     fileID,
		Owner:      lease.Owner,
		AcquiredAt: l.now().UTC(),
		TTLSeconds: int64(l.ttl / time.Second),
	})
	if err != nil {
		return AlreadyHeld, nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode lock record")
	}
	lease.record = data

	err = l.store.PutIfAbsent(ctx, storage.LockKey(fileID), data)
	switch {
	case err == nil:
		log.Printf("Lock: acquired lock for %s (ttl=%s)", fileID, l.ttl)
		return Acquired, lease, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		return AlreadyHeld, nil, nil
	default:
		return AlreadyHeld, nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to create lock record")
	}
}

// stale reports whether a stored record may be treated as absent. Records
// that cannot be decoded are stale too, otherwise they would never expire.
func (l *ObjectLock) stale(data []byte) bool {
	var record models.LockRecord
	if err := json.Unmarshal(data, &record); err != nil || record.AcquiredAt.IsZero() {
		return true
	}
	return record.Expired(l.now())
}

// Release deletes the record written for lease. If it expired and was taken
// over, the new holder's record is left alone. A nil lease is a no-op.
func (l *ObjectLock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	err := l.store.DeleteIfMatch(ctx, storage.LockKey(lease.FileID), lease.record)
	if errors.Is(err, storage.ErrPreconditionFailed) {
		log.Printf("Lock: lock for %s expired before release, leaving it", lease.FileID)
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to delete lock")
	}

	log.Printf("Lock: released lock for %s", lease.FileID)
	return nil
}

// Holder returns the live lock record for fileID, or nil when the lock is free
// or expired.
func (l *ObjectLock) Holder(ctx context.Context, fileID string) (*models.LockRecord, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}

	data, err := l.store.Get(ctx, storage.LockKey(fileID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to read lock record")
	}
	if l.stale(data) {
		return nil, nil
	}

	var record models.LockRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, nil
	}
	return &record, nil
}
