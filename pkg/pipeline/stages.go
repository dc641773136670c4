package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/lock"
	"subtitle-orchestrator/pkg/models"
	"subtitle-orchestrator/pkg/storage"
	"subtitle-orchestrator/pkg/subtitle"
	"subtitle-orchestrator/pkg/translation"

	"golang.org/x/sync/errgroup"
)

// runTranslation is the TRANSLATING stage. The caller holds lease; it is
// released on every exit path.
func (d *Dispatcher) runTranslation(ctx context.Context, sess *models.FileSession, lease *lock.Lease) {
	fileID := sess.FileID
	defer d.release(lease)

	if ctx.Err() != nil {
		log.Printf("Translation Stage: %s skipped, shutting down", fileID)
		return
	}

	start := time.Now()
	log.Printf("Translation Stage: starting %s (%d segments, mode %s)", fileID, sess.TotalChunks, sess.Mode)

	document, err := d.translate(ctx, sess)
	if err != nil {
		d.handleTranslationError(fileID, err)
		return
	}

	err = d.store.PutIfAbsent(ctx, storage.FinalResultKey(fileID), []byte(document))
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		log.Printf("Translation Stage: result for %s was already written, keeping it", fileID)
	case err != nil:
		log.Printf("Translation Stage: failed to store result for %s: %v", fileID, err)
	default:
		log.Printf("Translation Stage: %s done in %v", fileID, time.Since(start).Round(time.Millisecond))
	}
}

func (d *Dispatcher) translate(ctx context.Context, sess *models.FileSession) (string, error) {
	segments, err := d.tracker.LoadTranscripts(ctx, sess.FileID, models.ExpectedSegments(sess.TotalChunks))
	if err != nil {
		return "", err
	}

	batches := subtitle.Batches(segments, d.batchSize)
	results := make([]string, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			source := batch.SRT()
			var out string
			err := d.limiter.Do(gctx, func(ctx context.Context) error {
				var err error
				out, err = d.translator.Translate(ctx, translation.Request{
					FileID:  sess.FileID,
					Batch:   i,
					Mode:    sess.Mode,
					Content: source,
				})
				return err
			})
			if err != nil {
				if d.fallbackToSource && gctx.Err() == nil {
					log.Printf("Translation Stage: batch %d of %s failed, keeping source text: %v", i, sess.FileID, err)
					results[i] = source
					return nil
				}
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return subtitle.Join(results), nil
}

// handleTranslationError records terminal failures. Anything else is left for
// a later check to retry once the lock is free.
func (d *Dispatcher) handleTranslationError(fileID string, err error) {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeSegmentFailed, apperrors.CodeDownstreamRejected:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if markErr := d.markFailed(ctx, fileID, apperrors.CodeOf(err), apperrors.MessageOf(err)); markErr != nil {
			log.Printf("Translation Stage: %v", markErr)
		}
	default:
		log.Printf("Translation Stage: %s will be retried: %v", fileID, err)
	}
}
