package translation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/config"
	"subtitle-orchestrator/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().Translation
	cfg.APIKey = "test-key"
	cfg.Endpoint = srv.URL
	cfg.Timeout = 2 * time.Second
	return NewGeminiClient(cfg)
}

func reply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	})
}

func TestGeminiClient_Translate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-3-pro-preview:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		prompt := body.Contents[0].Parts[0].Text
		assert.Contains(t, prompt, "Traditional Chinese (Taiwan)")
		assert.Contains(t, prompt, "1\n00:00:00,000 --> 00:00:01,000\nhello")

		reply(w, "```srt\n1\n00:00:00,000 --> 00:00:01,000\n你好\n```")
	})

	out, err := client.Translate(context.Background(), Request{
		FileID:  "f1",
		Content: "1\n00:00:00,000 --> 00:00:01,000\nhello",
	})
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:01,000\n你好", out)
}

func TestGeminiClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, code: apperrors.CodeDownstreamUnavailable},
		{name: "server error", status: http.StatusBadGateway, code: apperrors.CodeDownstreamUnavailable},
		{name: "bad request", status: http.StatusBadRequest, code: apperrors.CodeDownstreamRejected},
		{name: "forbidden", status: http.StatusForbidden, code: apperrors.CodeDownstreamRejected},
		{name: "empty output", status: http.StatusOK, body: `{"candidates":[]}`, code: apperrors.CodeDownstreamRejected},
		{name: "blocked", status: http.StatusOK, body: `{"promptFeedback":{"blockReason":"SAFETY"}}`, code: apperrors.CodeDownstreamRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.Translate(context.Background(), Request{Content: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
		})
	}
}

func TestGeminiClient_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := config.Default().Translation
	cfg.APIKey = "k"
	cfg.Endpoint = srv.URL

	_, err := NewGeminiClient(cfg).Translate(context.Background(), Request{Content: "x"})
	assert.True(t, apperrors.IsRetryable(err))
}

func TestGeminiClient_MissingKey(t *testing.T) {
	_, err := NewGeminiClient(config.Default().Translation).Translate(context.Background(), Request{Content: "x"})
	assert.Equal(t, apperrors.CodeDownstreamRejected, apperrors.CodeOf(err))
}

func TestBuildPrompt_Modes(t *testing.T) {
	speech := BuildPrompt(models.ModeConversational, "French", "body")
	lyrics := BuildPrompt(models.ModeLyrical, "French", "body")

	assert.Contains(t, speech, "into French")
	assert.NotContains(t, speech, "song lyrics")
	assert.Contains(t, lyrics, "song lyrics")
	assert.True(t, strings.HasSuffix(lyrics, "\nbody"))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, "a\nb", StripFences("```srt\na\nb\n```"))
	assert.Equal(t, "a", StripFences("```\na\n```\n"))
	assert.Equal(t, "plain", StripFences("  plain \n"))
}
