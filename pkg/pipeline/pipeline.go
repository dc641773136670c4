package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/config"
	"subtitle-orchestrator/pkg/limiter"
	"subtitle-orchestrator/pkg/lock"
	"subtitle-orchestrator/pkg/models"
	"subtitle-orchestrator/pkg/session"
	"subtitle-orchestrator/pkg/storage"
	"subtitle-orchestrator/pkg/tracker"
	"subtitle-orchestrator/pkg/translation"

	"github.com/google/uuid"
)

// Deps are the collaborators a Dispatcher drives.
type Deps struct {
	Store      storage.ObjectStore
	Sessions   *session.Manager
	Tracker    *tracker.Tracker
	Locker     lock.Locker
	Translator translation.Translator
	Limiter    *limiter.Limiter
	Executor   Executor
}

// Dispatcher derives a file's pipeline state from the store on every call and
// starts translation when all segments are done and the lock is won.
type Dispatcher struct {
	store      storage.ObjectStore
	sessions   *session.Manager
	tracker    *tracker.Tracker
	locker     lock.Locker
	translator translation.Translator
	limiter    *limiter.Limiter
	executor   Executor

	batchSize        int
	fallbackToSource bool
	publicBaseURL    string
	now              func() time.Time
}

func NewDispatcher(cfg *config.Config, deps Deps) *Dispatcher {
	return &Dispatcher{
		store:            deps.Store,
		sessions:         deps.Sessions,
		tracker:          deps.Tracker,
		locker:           deps.Locker,
		translator:       deps.Translator,
		limiter:          deps.Limiter,
		executor:         deps.Executor,
		batchSize:        cfg.Translation.BatchSize,
		fallbackToSource: cfg.Translation.FallbackToSource,
		publicBaseURL:    strings.TrimRight(cfg.Server.PublicBaseURL, "/"),
		now:              time.Now,
	}
}

// Check reports the state of fileID, advancing it to TRANSLATING when
// possible. totalHint is used only when the upload left no manifest. Calls on
// a DONE or FAILED file never write.
func (d *Dispatcher) Check(ctx context.Context, fileID string, totalHint int) (*models.StatusReport, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}

	if report, err := d.terminalState(ctx, fileID); report != nil || err != nil {
		return report, err
	}

	sess, err := d.sessions.Session(ctx, fileID)
	if apperrors.Is(err, apperrors.CodeNotFound) {
		if totalHint <= 0 {
			return models.NewStatusReport(fileID, models.StateUploading, "waiting for the first chunk"), nil
		}
		sess, err = d.sessions.SessionWithTotal(ctx, fileID, totalHint)
	}
	if err != nil {
		return nil, err
	}

	if !sess.Complete() {
		report := models.NewStatusReport(fileID, models.StateUploading, "waiting for chunks")
		report.TotalChunks = sess.TotalChunks
		report.Received = len(sess.ReceivedChunks)
		report.Missing = sess.Missing()
		return report, nil
	}

	expected := models.ExpectedSegments(sess.TotalChunks)
	completion, err := d.tracker.CheckCompletion(ctx, fileID, expected)
	if err != nil {
		return nil, err
	}

	if completion.AnyFailed() {
		reason := completion.FailureReason()
		if err := d.markFailed(ctx, fileID, apperrors.CodeSegmentFailed, reason); err != nil {
			return nil, err
		}
		report := models.NewStatusReport(fileID, models.StateFailed, reason)
		report.Code = apperrors.CodeSegmentFailed
		report.TotalChunks = sess.TotalChunks
		report.Failed = completion.Failed
		return report, nil
	}

	if !completion.AllDone() {
		report := models.NewStatusReport(fileID, models.StateTranscribing,
			fmt.Sprintf("transcribing: %d of %d segments done", len(completion.Completed), len(expected)))
		report.TotalChunks = sess.TotalChunks
		report.Received = len(sess.ReceivedChunks)
		report.Missing = completion.Pending
		return report, nil
	}

	return d.startTranslation(ctx, sess)
}

// terminalState returns a report when the file is DONE or FAILED.
func (d *Dispatcher) terminalState(ctx context.Context, fileID string) (*models.StatusReport, error) {
	done, err := d.store.Exists(ctx, storage.FinalResultKey(fileID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to check final result")
	}
	if done {
		report := models.NewStatusReport(fileID, models.StateDone, "subtitles ready")
		report.ResultURL = d.resultURL(fileID)
		return report, nil
	}

	data, err := d.store.Get(ctx, storage.FailureKey(fileID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to read failure marker")
	}

	var failure models.FailureRecord
	if err := json.Unmarshal(data, &failure); err != nil {
		failure = models.FailureRecord{Code: apperrors.CodeInternal, Reason: "processing failed"}
	}
	report := models.NewStatusReport(fileID, models.StateFailed, failure.Reason)
	report.Code = failure.Code
	return report, nil
}

func (d *Dispatcher) startTranslation(ctx context.Context, sess *models.FileSession) (*models.StatusReport, error) {
	fileID := sess.FileID

	outcome, lease, err := d.locker.TryAcquire(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if outcome == lock.AlreadyHeld {
		report := models.NewStatusReport(fileID, models.StateLockPending, "translation already in progress")
		report.Code = apperrors.CodeLockContended
		report.TotalChunks = sess.TotalChunks
		return report, nil
	}

	// Another instance may have finished between our read and the acquire.
	if report, err := d.terminalState(ctx, fileID); report != nil || err != nil {
		d.release(lease)
		return report, err
	}

	job := &Job{
		ID:     uuid.NewString(),
		FileID: fileID,
		Run: func(jobCtx context.Context) {
			d.runTranslation(jobCtx, sess, lease)
		},
	}
	if err := d.executor.Submit(job); err != nil {
		log.Printf("Dispatcher: could not queue translation for %s: %v", fileID, err)
		d.release(lease)
		report := models.NewStatusReport(fileID, models.StateLockPending, "translation queue is busy, retrying on next check")
		report.TotalChunks = sess.TotalChunks
		return report, nil
	}

	log.Printf("Dispatcher: queued translation job %s for %s", job.ID, fileID)
	report := models.NewStatusReport(fileID, models.StateTranslating, "translation started")
	report.TotalChunks = sess.TotalChunks
	return report, nil
}

func (d *Dispatcher) markFailed(ctx context.Context, fileID, code, reason string) error {
	data, err := json.Marshal(models.FailureRecord{
		FileID:   fileID,
		Code:     code,
		Reason:   reason,
		FailedAt: d.now().UTC(),
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode failure marker")
	}

	err = d.store.PutIfAbsent(ctx, storage.FailureKey(fileID), data)
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to write failure marker")
	}
	if err == nil {
		log.Printf("Dispatcher: %s failed: %s", fileID, reason)
	}
	return nil
}

// release frees the lock outside any request context; shutdown must not leave
// it held until TTL.
func (d *Dispatcher) release(lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.locker.Release(ctx, lease); err != nil {
		log.Printf("Dispatcher: failed to release lock for %s: %v", lease.FileID, err)
	}
}

// Retry clears a failure marker so the next check re-evaluates the file.
func (d *Dispatcher) Retry(ctx context.Context, fileID string) (*models.StatusReport, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}
	if err := d.store.Delete(ctx, storage.FailureKey(fileID)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to clear failure marker")
	}
	log.Printf("Dispatcher: cleared failure marker for %s", fileID)
	return d.Check(ctx, fileID, 0)
}

// Result returns the final subtitle document.
func (d *Dispatcher) Result(ctx context.Context, fileID string) ([]byte, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}
	data, err := d.store.Get(ctx, storage.FinalResultKey(fileID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "no result for %s yet", fileID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to read result")
	}
	return data, nil
}

func (d *Dispatcher) resultURL(fileID string) string {
	return d.publicBaseURL + "/results/" + fileID
}
