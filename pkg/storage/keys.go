package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"subtitle-orchestrator/pkg/apperrors"
)

// Zone prefixes. The transcription stage listens on ZoneRaw and writes ZoneTranscripts.
const (
	ZoneRaw         = "raw_audio/"
	ZoneTranscripts = "transcripts/"
	ZoneFinal       = "final_results/"
	ZoneLocks       = "locks/"
	ZoneFailures    = "failures/"

	ManifestName = "metadata.json"
	MaxFileIDLen = 200
)

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateFileID enforces the identifier allow-list. It must run before any
// key is built from caller input.
func ValidateFileID(fileID string) error {
	switch {
	case fileID == "":
		return apperrors.New(apperrors.CodeInvalidIdentifier, "file_id is required")
	case len(fileID) > MaxFileIDLen:
		return apperrors.Newf(apperrors.CodeInvalidIdentifier, "file_id longer than %d characters", MaxFileIDLen)
	case !fileIDPattern.MatchString(fileID):
		return apperrors.Newf(apperrors.CodeInvalidIdentifier, "file_id %q contains characters outside [A-Za-z0-9_.-]", fileID)
	case strings.Contains(fileID, ".."):
		return apperrors.Newf(apperrors.CodeInvalidIdentifier, "file_id %q contains a parent-directory sequence", fileID)
	}
	return nil
}

func RawPrefix(fileID string) string {
	return ZoneRaw + fileID + "/"
}

func RawChunkKey(fileID string, index int) string {
	return RawPrefix(fileID) + strconv.Itoa(index)
}

func ManifestKey(fileID string) string {
	return RawPrefix(fileID) + ManifestName
}

func TranscriptPrefix(fileID string) string {
	return ZoneTranscripts + fileID + "/"
}

func TranscriptKey(fileID string, segmentIndex int) string {
	return fmt.Sprintf("%s%d.json", TranscriptPrefix(fileID), segmentIndex)
}

func FinalResultKey(fileID string) string {
	return ZoneFinal + fileID + ".srt"
}

func LockKey(fileID string) string {
	return ZoneLocks + fileID
}

func FailureKey(fileID string) string {
	return ZoneFailures + fileID + ".json"
}

// ParseChunkKey extracts (fileID, index) from a raw chunk key. The manifest and
// keys from other zones report ok=false, which is how storage-event consumers
// decide whether a new object is transcribable.
func ParseChunkKey(key string) (fileID string, index int, ok bool) {
	rest, found := strings.CutPrefix(key, ZoneRaw)
	if !found {
		return "", 0, false
	}
	fileID, name, found := strings.Cut(rest, "/")
	if !found || fileID == "" || strings.Contains(name, "/") {
		return "", 0, false
	}
	index, err := strconv.Atoi(name)
	if err != nil || index < 0 || strconv.Itoa(index) != name {
		return "", 0, false
	}
	return fileID, index, true
}

// ParseTranscriptKey extracts the segment index from a transcripts/{fileId}/{n}.json key.
func ParseTranscriptKey(fileID, key string) (int, bool) {
	name, found := strings.CutPrefix(key, TranscriptPrefix(fileID))
	if !found {
		return 0, false
	}
	name, found = strings.CutSuffix(name, ".json")
	if !found {
		return 0, false
	}
	index, err := strconv.Atoi(name)
	if err != nil || index < 0 || strconv.Itoa(index) != name {
		return 0, false
	}
	return index, true
}
