package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mode selects downstream model configuration. It never changes orchestration.
type Mode string

const (
	ModeConversational Mode = "conversational"
	ModeLyrical        Mode = "lyrical"
)

// ParseMode accepts the canonical names plus the aliases older clients send.
// An empty string means conversational.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "conversational", "speech":
		return ModeConversational, nil
	case "lyrical", "lyrics", "song":
		return ModeLyrical, nil
	default:
		return "", fmt.Errorf("unknown processing mode %q", s)
	}
}

type PipelineState string

const (
	StateUploading    PipelineState = "UPLOADING"
	StateTranscribing PipelineState = "TRANSCRIBING"
	StateLockPending  PipelineState = "LOCK_PENDING"
	StateTranslating  PipelineState = "TRANSLATING"
	StateDone         PipelineState = "DONE"
	StateFailed       PipelineState = "FAILED"
)

// Client-facing status values. Clients only distinguish these three.
const (
	ClientStatusProcessing = "processing"
	ClientStatusFailed     = "failed"
	ClientStatusCompleted  = "completed"
)

func (s PipelineState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// ClientStatus collapses the pipeline state into processing/failed/completed.
func (s PipelineState) ClientStatus() string {
	switch s {
	case StateDone:
		return ClientStatusCompleted
	case StateFailed:
		return ClientStatusFailed
	default:
		return ClientStatusProcessing
	}
}

// SessionManifest is persisted once per file by whichever chunk lands first.
type SessionManifest struct {
	FileID      string    `json:"file_id"`
	TotalChunks int       `json:"total_chunks"`
	Mode        Mode      `json:"mode"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileSession is the view of one logical upload rebuilt from the store.
type FileSession struct {
	FileID         string `json:"file_id"`
	TotalChunks    int    `json:"total_chunks"`
	ReceivedChunks []int  `json:"received_chunks"`
	Mode           Mode   `json:"mode"`
}

// Missing returns the indices in [0, TotalChunks) that have not been persisted.
func (s *FileSession) Missing() []int {
	seen := make(map[int]struct{}, len(s.ReceivedChunks))
	for _, idx := range s.ReceivedChunks {
		seen[idx] = struct{}{}
	}

	var missing []int
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := seen[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

func (s *FileSession) Complete() bool {
	return s.TotalChunks > 0 && len(s.Missing()) == 0
}

type ChunkRecord struct {
	FileID     string    `json:"file_id"`
	Index      int       `json:"index"`
	Payload    []byte    `json:"-"`
	Size       int       `json:"size"`
	ReceivedAt time.Time `json:"received_at"`
}

func NewChunkRecord(fileID string, index int, payload []byte) *ChunkRecord {
	return &ChunkRecord{
		FileID:     fileID,
		Index:      index,
		Payload:    payload,
		Size:       len(payload),
		ReceivedAt: time.Now(),
	}
}

// ExpectedSegments is the segment manifest for a file: one segment per chunk.
func ExpectedSegments(totalChunks int) []int {
	if totalChunks <= 0 {
		return nil
	}
	out := make([]int, totalChunks)
	for i := range out {
		out[i] = i
	}
	return out
}

type SegmentStatus string

const (
	SegmentPending SegmentStatus = "pending"
	SegmentDone    SegmentStatus = "done"
	SegmentFailed  SegmentStatus = "failed"
)

// TranscriptCue is one timed line inside a transcript, relative to its chunk.
type TranscriptCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptDocument is the JSON the transcription stage writes per chunk.
type TranscriptDocument struct {
	Status   SegmentStatus   `json:"status,omitempty"`
	Error    string          `json:"error,omitempty"`
	Text     string          `json:"text"`
	Segments []TranscriptCue `json:"segments"`
	Duration float64         `json:"duration"`
}

// EffectiveStatus treats a document without a status field as done.
func (d *TranscriptDocument) EffectiveStatus() SegmentStatus {
	if d.Status == "" {
		return SegmentDone
	}
	return d.Status
}

// TranscriptSegment is one transcription result as observed by the core.
type TranscriptSegment struct {
	FileID       string              `json:"file_id"`
	SegmentIndex int                 `json:"segment_index"`
	Status       SegmentStatus       `json:"status"`
	Document     *TranscriptDocument `json:"document,omitempty"`
}

// LockRecord is the body of locks/{fileId}.
type LockRecord struct {
	FileID     string    `json:"file_id"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

func (l *LockRecord) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

func (l *LockRecord) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL())
}

// Expired reports whether acquiredAt + ttl is before now.
func (l *LockRecord) Expired(now time.Time) bool {
	return l.ExpiresAt().Before(now)
}

// FailureRecord marks a file as terminally failed until a manual retry clears it.
type FailureRecord struct {
	FileID   string    `json:"file_id"`
	Code     string    `json:"code"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// StatusReport is what a status check returns to clients.
type StatusReport struct {
	FileID      string        `json:"file_id"`
	State       PipelineState `json:"state,omitempty"`
	Status      string        `json:"status"`
	Message     string        `json:"message,omitempty"`
	Code        string        `json:"code,omitempty"`
	TotalChunks int           `json:"total_chunks,omitempty"`
	Received    int           `json:"received,omitempty"`
	Missing     []int         `json:"missing,omitempty"`
	Failed      []int         `json:"failed,omitempty"`
	ResultURL   string        `json:"result_url,omitempty"`
}

func NewStatusReport(fileID string, state PipelineState, message string) *StatusReport {
	return &StatusReport{
		FileID:  fileID,
		State:   state,
		Status:  state.ClientStatus(),
		Message: message,
	}
}

// SortedUnique returns the distinct values of idx in ascending order.
func SortedUnique(idx []int) []int {
	seen := make(map[int]struct{}, len(idx))
	out := make([]int, 0, len(idx))
	for _, i := range idx {
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
