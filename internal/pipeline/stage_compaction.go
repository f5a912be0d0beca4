package pipeline

import (
	"context"

	"github.com/kestrelai/conductor/internal/compaction"
	"github.com/kestrelai/conductor/pkg/models"
)

// CompactionStage is the Auto-Compaction stage. When a session's history
// would overrun the model's context window it summarizes the oldest share
// of it, replacing those messages with a single system summary message so
// downstream stages see a bounded history regardless of how long the
// conversation has run.
type CompactionStage struct {
	summarizer      compaction.Summarizer
	contextWindow   int
	maxHistoryShare float64
	summaryConfig   *compaction.SummarizationConfig
}

// NewCompactionStage wires Auto-Compaction to summarizer, the model context
// window to plan against, and the share of that window history is allowed
// to occupy before compaction kicks in.
func NewCompactionStage(summarizer compaction.Summarizer, contextWindow int, maxHistoryShare float64) *CompactionStage {
	if maxHistoryShare <= 0 {
		maxHistoryShare = 0.5
	}
	return &CompactionStage{
		summarizer:      summarizer,
		contextWindow:   compaction.ResolveContextWindowTokens(contextWindow, 128_000),
		maxHistoryShare: maxHistoryShare,
		summaryConfig:   compaction.DefaultSummarizationConfig(),
	}
}

func (s *CompactionStage) Name() string { return StageNameAutoCompaction }

func (s *CompactionStage) Run(ctx context.Context, t *Turn) error {
	if len(t.History) == 0 {
		return nil
	}

	msgs := toCompactionMessages(t.History)
	result := compaction.PruneHistoryForContextShare(msgs, s.contextWindow, s.maxHistoryShare, 4)
	if result == nil || result.DroppedMessages == 0 {
		return nil
	}

	dropped := msgs[:result.DroppedMessages]
	summary, err := compaction.SummarizeWithFallback(ctx, dropped, s.summarizer, s.summaryConfig)
	if err != nil {
		// A failed summary degrades to keeping the unpruned history rather
		// than failing the turn outright; the model just sees more tokens
		// than ideal this once.
		t.Logger.Warn("compaction summarization failed, keeping full history", "error", err)
		return nil
	}

	t.SetAttr("compaction.summary", summary)
	t.History = append([]*models.Message{{
		Role:    models.RoleSystem,
		Content: "Summary of earlier conversation:\n" + summary,
	}}, toModelMessages(result.Messages)...)
	return nil
}

func toCompactionMessages(msgs []*models.Message) []*compaction.Message {
	out := make([]*compaction.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &compaction.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

func toModelMessages(msgs []*compaction.Message) []*models.Message {
	out := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &models.Message{
			Role:    models.Role(m.Role),
			Content: m.Content,
		})
	}
	return out
}
