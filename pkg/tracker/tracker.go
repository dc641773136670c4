package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/models"
	"subtitle-orchestrator/pkg/storage"

	"golang.org/x/sync/errgroup"
)

// Completion partitions the expected segments of one file.
type Completion struct {
	Completed []int          `json:"completed"`
	Pending   []int          `json:"pending"`
	Failed    []int          `json:"failed"`
	Reasons   map[int]string `json:"reasons,omitempty"`
}

// AllDone reports whether every expected segment is present with status done.
func (c *Completion) AllDone() bool {
	return len(c.Pending) == 0 && len(c.Failed) == 0
}

// AnyFailed reports whether the file must be failed as a whole.
func (c *Completion) AnyFailed() bool {
	return len(c.Failed) > 0
}

// FailureReason summarises the failed segments for a status message.
func (c *Completion) FailureReason() string {
	if len(c.Failed) == 0 {
		return ""
	}
	first := c.Failed[0]
	reason := c.Reasons[first]
	if reason == "" {
		reason = "transcription failed"
	}
	if len(c.Failed) == 1 {
		return fmt.Sprintf("segment %d: %s", first, reason)
	}
	return fmt.Sprintf("segment %d: %s (and %d more failed segments)", first, reason, len(c.Failed)-1)
}

// Tracker is a read-only view of the transcript zone.
type Tracker struct {
	store           storage.ObjectStore
	readConcurrency int
}

func NewTracker(store storage.ObjectStore, readConcurrency int) *Tracker {
	if readConcurrency <= 0 {
		readConcurrency = 1
	}
	return &Tracker{
		store:           store,
		readConcurrency: readConcurrency,
	}
}

// CheckCompletion classifies every expected segment as completed, pending or
// failed. A segment whose transcript has not landed is pending.
func (t *Tracker) CheckCompletion(ctx context.Context, fileID string, expected []int) (*Completion, error) {
	segments, err := t.readSegments(ctx, fileID, expected, false)
	if err != nil {
		return nil, err
	}

	completion := &Completion{Reasons: make(map[int]string)}
	for _, seg := range segments {
		switch seg.Status {
		case models.SegmentDone:
			completion.Completed = append(completion.Completed, seg.SegmentIndex)
		case models.SegmentFailed:
			completion.Failed = append(completion.Failed, seg.SegmentIndex)
			if seg.Document != nil && seg.Document.Error != "" {
				completion.Reasons[seg.SegmentIndex] = seg.Document.Error
			}
		default:
			completion.Pending = append(completion.Pending, seg.SegmentIndex)
		}
	}
	return completion, nil
}

// LoadTranscripts returns the parsed documents for expected, in index order.
// Every segment must be done; anything else is an error.
func (t *Tracker) LoadTranscripts(ctx context.Context, fileID string, expected []int) ([]*models.TranscriptSegment, error) {
	segments, err := t.readSegments(ctx, fileID, expected, true)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		switch seg.Status {
		case models.SegmentDone:
		case models.SegmentFailed:
			return nil, apperrors.Newf(apperrors.CodeSegmentFailed, "segment %d of %s failed", seg.SegmentIndex, fileID)
		default:
			return nil, apperrors.Newf(apperrors.CodeNotFound, "segment %d of %s is not transcribed yet", seg.SegmentIndex, fileID)
		}
	}
	return segments, nil
}

func (t *Tracker) readSegments(ctx context.Context, fileID string, expected []int, keepDocs bool) ([]*models.TranscriptSegment, error) {
	if err := storage.ValidateFileID(fileID); err != nil {
		return nil, err
	}

	keys, err := t.store.List(ctx, storage.TranscriptPrefix(fileID))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to list transcripts")
	}
	present := make(map[int]bool, len(keys))
	for _, key := range keys {
		if idx, ok := storage.ParseTranscriptKey(fileID, key); ok {
			present[idx] = true
		}
	}

	indices := models.SortedUnique(expected)
	segments := make([]*models.TranscriptSegment, len(indices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.readConcurrency)

	for i, idx := range indices {
		segments[i] = &models.TranscriptSegment{
			FileID:       fileID,
			SegmentIndex: idx,
			Status:       models.SegmentPending,
		}
		if !present[idx] {
			continue
		}

		seg := segments[i]
		g.Go(func() error {
			return t.readSegment(gctx, seg, keepDocs)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(segments, func(i, j int) bool { return segments[i].SegmentIndex < segments[j].SegmentIndex })
	return segments, nil
}

func (t *Tracker) readSegment(ctx context.Context, seg *models.TranscriptSegment, keepDoc bool) error {
	data, err := t.store.Get(ctx, storage.TranscriptKey(seg.FileID, seg.SegmentIndex))
	if errors.Is(err, storage.ErrObjectNotFound) {
		// Listed but gone again; treat as not landed yet.
		return nil
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorageUnavailable, "failed to read transcript")
	}

	var doc models.TranscriptDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		seg.Status = models.SegmentFailed
		seg.Document = &models.TranscriptDocument{Status: models.SegmentFailed, Error: "unreadable transcript: " + err.Error()}
		return nil
	}

	seg.Status = doc.EffectiveStatus()
	if keepDoc || seg.Status == models.SegmentFailed {
		seg.Document = &doc
	}
	return nil
}
