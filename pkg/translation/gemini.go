package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"subtitle-orchestrator/pkg/apperrors"
	"subtitle-orchestrator/pkg/config"
)

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	apiKey         string
	model          string
	endpoint       string
	targetLanguage string
	client         *http.Client
}

func NewGeminiClient(cfg config.TranslationConfig) *GeminiClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &GeminiClient{
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		targetLanguage: cfg.TargetLanguage,
		client:         &http.Client{Timeout: timeout},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GeminiClient) Translate(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", apperrors.New(apperrors.CodeDownstreamRejected, "GEMINI_API_KEY not set")
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: BuildPrompt(req.Mode, c.targetLanguage, req.Content)}},
		}},
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to encode translation request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, url.PathEscape(c.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "failed to create translation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeDownstreamUnavailable, "translation request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		code := apperrors.CodeDownstreamRejected
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			code = apperrors.CodeDownstreamUnavailable
		}
		return "", apperrors.Newf(code, "translation API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeDownstreamUnavailable, "failed to read translation response")
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", apperrors.Newf(apperrors.CodeDownstreamRejected, "translation blocked: %s", out.PromptFeedback.BlockReason)
	}

	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	result := StripFences(text.String())
	if result == "" {
		return "", apperrors.New(apperrors.CodeDownstreamRejected, "translation returned no text")
	}

	log.Printf("Translation: %s batch %d translated in %v", req.FileID, req.Batch, time.Since(start).Round(time.Millisecond))
	return result, nil
}
