package pipeline

import (
	"context"
	"strings"
	"unicode"
)

// MaxInboundLength bounds a single inbound message before it reaches any
// other stage. Channels enforce their own platform limits on the way in;
// this is the pipeline's own backstop against a misbehaving or malicious
// adapter.
const MaxInboundLength = 64 * 1024

// SanitizationStage is the Input Sanitization stage. It rejects empty or
// oversized input and strips control characters that have no business
// reaching a prompt, without touching markdown or punctuation a user
// legitimately typed.
type SanitizationStage struct{}

func NewSanitizationStage() *SanitizationStage { return &SanitizationStage{} }

func (s *SanitizationStage) Name() string { return StageNameInputSanitization }

func (s *SanitizationStage) Run(ctx context.Context, t *Turn) error {
	if t.Inbound == nil {
		return NewError(s.Name(), CodeUserInputInvalid, "missing inbound message", nil)
	}

	content := strings.TrimSpace(t.Inbound.Content)
	if content == "" && len(t.Inbound.Attachments) == 0 {
		return NewError(s.Name(), CodeUserInputInvalid, "empty message", nil)
	}
	if len(content) > MaxInboundLength {
		return NewError(s.Name(), CodeUserInputInvalid, "message exceeds maximum length", nil)
	}

	t.Inbound.Content = stripControlCharacters(content)
	return nil
}

// stripControlCharacters removes non-printable runes other than the
// whitespace a multi-line message legitimately needs (newline, tab).
func stripControlCharacters(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
