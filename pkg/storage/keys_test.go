package storage

import (
	"testing"

	"subtitle-orchestrator/pkg/apperrors"

	"github.com/stretchr/testify/assert"
)

func TestValidateFileID(t *testing.T) {
	valid := []string{
		"1718000000-ab12cd-interview.mp3",
		"file_01",
		"a.b.c",
		"ABC-def_123",
	}
	for _, id := range valid {
		assert.NoError(t, ValidateFileID(id), id)
	}

	invalid := []string{
		"",
		"..",
		"a..b",
		"../etc/passwd",
		"a/b",
		`a\b`,
		"with space",
		"semi;colon",
		"ünïcode",
		string(make([]byte, MaxFileIDLen+1)),
	}
	for _, id := range invalid {
		err := ValidateFileID(id)
		assert.Error(t, err, id)
		assert.True(t, apperrors.Is(err, apperrors.CodeInvalidIdentifier), id)
	}
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "raw_audio/f1/3", RawChunkKey("f1", 3))
	assert.Equal(t, "raw_audio/f1/metadata.json", ManifestKey("f1"))
	assert.Equal(t, "transcripts/f1/3.json", TranscriptKey("f1", 3))
	assert.Equal(t, "final_results/f1.srt", FinalResultKey("f1"))
	assert.Equal(t, "locks/f1", LockKey("f1"))
	assert.Equal(t, "failures/f1.json", FailureKey("f1"))
}

func TestParseChunkKey(t *testing.T) {
	tests := []struct {
		key    string
		fileID string
		index  int
		ok     bool
	}{
		{key: "raw_audio/f1/0", fileID: "f1", index: 0, ok: true},
		{key: "raw_audio/f1/12", fileID: "f1", index: 12, ok: true},
		{key: "raw_audio/f1/metadata.json"},
		{key: "raw_audio/f1/+1"},
		{key: "raw_audio/f1/-1"},
		{key: "raw_audio/f1/0/extra"},
		{key: "transcripts/f1/0.json"},
		{key: "raw_audio//0"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			fileID, index, ok := ParseChunkKey(tt.key)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.fileID, fileID)
				assert.Equal(t, tt.index, index)
			}
		})
	}
}

func TestParseTranscriptKey(t *testing.T) {
	idx, ok := ParseTranscriptKey("f1", "transcripts/f1/7.json")
	assert.True(t, ok)
	assert.Equal(t, 7, idx)

	_, ok = ParseTranscriptKey("f1", "transcripts/f10/7.json")
	assert.False(t, ok)
	_, ok = ParseTranscriptKey("f1", "transcripts/f1/7.txt")
	assert.False(t, ok)
	_, ok = ParseTranscriptKey("f1", "transcripts/f1/07.json")
	assert.False(t, ok)
}
