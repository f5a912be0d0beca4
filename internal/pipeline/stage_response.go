package pipeline

import (
	"context"
	"strings"
)

// ResponsePreparationStage is the Response Preparation stage. It applies
// the last formatting pass before a reply leaves the core: trimming
// trailing whitespace the model sometimes emits, and falling back to a
// channel-appropriate placeholder when the tool loop produced tool activity
// but no prose (a tool-only turn still owes the user an acknowledgement
// unless it was explicitly dropped).
type ResponsePreparationStage struct {
	emptyReplyFallback string
}

// NewResponsePreparationStage wires Response Preparation with the fallback
// text used when a turn finishes with no prose at all.
func NewResponsePreparationStage(emptyReplyFallback string) *ResponsePreparationStage {
	if emptyReplyFallback == "" {
		emptyReplyFallback = "Done."
	}
	return &ResponsePreparationStage{emptyReplyFallback: emptyReplyFallback}
}

func (s *ResponsePreparationStage) Name() string { return StageNameResponsePrep }

func (s *ResponsePreparationStage) Run(ctx context.Context, t *Turn) error {
	t.ResponseText = strings.TrimSpace(t.ResponseText)
	if t.ResponseText == "" && !t.Dropped() && len(t.ToolResults) > 0 {
		t.ResponseText = s.emptyReplyFallback
	}
	return nil
}
