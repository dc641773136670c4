package translation

import (
	"context"
	"fmt"
	"strings"

	"subtitle-orchestrator/pkg/models"
)

// Request is one batch of SRT text to translate.
type Request struct {
	FileID  string
	Batch   int
	Mode    models.Mode
	Content string
}

// Translator turns a batch of SRT cues into the target language. Errors are
// apperrors with CodeDownstreamUnavailable (retry later) or
// CodeDownstreamRejected (do not retry).
type Translator interface {
	Translate(ctx context.Context, req Request) (string, error)
}

// TranslateFunc adapts a plain function to Translator.
type TranslateFunc func(ctx context.Context, req Request) (string, error)

func (f TranslateFunc) Translate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// BuildPrompt renders the instruction sent with every batch.
func BuildPrompt(mode models.Mode, targetLanguage, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional subtitle translator and %s localization expert.\n", targetLanguage)
	fmt.Fprintf(&b, "Task: Translate the following SRT subtitle content into %s.\n\n", targetLanguage)
	b.WriteString("CRITICAL RULES:\n")
	b.WriteString("1. KEEP the numeric indices and timestamps EXACTLY as they are. Do NOT modify them.\n")
	b.WriteString("2. ONLY translate the subtitle text lines.\n")
	b.WriteString("3. Output the result in standard SRT format.\n")
	fmt.Fprintf(&b, "4. ENSURE ALL TEXT IS IN %s.\n", targetLanguage)
	b.WriteString("5. DETECT HALLUCINATIONS: if a line looks like an ASR hallucination (repetitive nonsense, \"Subscribe\", \"Thanks for watching\", random characters unrelated to context), replace the text with \"...\".\n")
	b.WriteString("6. Do not include any explanation or markdown formatting. Output the raw SRT content only.\n")
	if mode == models.ModeLyrical {
		b.WriteString("7. These are song lyrics. Keep line breaks and repetition, and favour natural, singable phrasing over literal translation.\n")
	}
	b.WriteString("\n")
	b.WriteString(content)
	return b.String()
}

// StripFences removes a surrounding markdown code fence such as ```srt ... ```.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
