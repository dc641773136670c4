package subtitle

import (
	"fmt"
	"math"
	"strings"

	"subtitle-orchestrator/pkg/models"
)

// Cue is one numbered SRT entry with absolute times in seconds.
type Cue struct {
	Number int
	Start  float64
	End    float64
	Text   string
}

// String renders the cue as "N\nHH:MM:SS,mmm --> HH:MM:SS,mmm\ntext".
func (c Cue) String() string {
	return fmt.Sprintf("%d\n%s --> %s\n%s", c.Number, FormatTimestamp(c.Start), FormatTimestamp(c.End), c.Text)
}

// Batch is the unit sent to the translator. Batches never span segments.
type Batch struct {
	Segment int
	Cues    []Cue
}

// SRT renders the batch as SRT text with cues separated by a blank line.
func (b Batch) SRT() string {
	parts := make([]string, len(b.Cues))
	for i, c := range b.Cues {
		parts[i] = c.String()
	}
	return strings.Join(parts, "\n\n")
}

// FormatTimestamp formats seconds as HH:MM:SS,mmm. Negative input clamps to zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	hours := ms / 3600000
	ms %= 3600000
	minutes := ms / 60000
	ms %= 60000
	secs := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, ms)
}

// BuildCues numbers every cue from 1 across all segments, shifting each
// segment's times by the summed duration of the segments before it. Segments
// must be in index order.
func BuildCues(segments []*models.TranscriptSegment) [][]Cue {
	out := make([][]Cue, len(segments))
	offset := 0.0
	number := 1

	for i, seg := range segments {
		if seg == nil || seg.Document == nil {
			continue
		}
		doc := seg.Document
		cues := make([]Cue, 0, len(doc.Segments))
		for _, tc := range doc.Segments {
			cues = append(cues, Cue{
				Number: number,
				Start:  tc.Start + offset,
				End:    tc.End + offset,
				Text:   strings.TrimSpace(tc.Text),
			})
			number++
		}
		out[i] = cues
		offset += doc.Duration
	}
	return out
}

// Batches splits each segment's cues into groups of at most size.
func Batches(segments []*models.TranscriptSegment, size int) []Batch {
	if size <= 0 {
		size = 1
	}

	var batches []Batch
	for i, cues := range BuildCues(segments) {
		segIndex := i
		if segments[i] != nil {
			segIndex = segments[i].SegmentIndex
		}
		for start := 0; start < len(cues); start += size {
			end := min(start+size, len(cues))
			batches = append(batches, Batch{Segment: segIndex, Cues: cues[start:end]})
		}
	}
	return batches
}

// Join concatenates translated batch texts in order into one SRT document.
func Join(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return b.String()
}
