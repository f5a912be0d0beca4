package pipeline

import (
	"fmt"
	"strings"

	"context"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/internal/compaction"
)

// RouterSummarizer implements compaction.Summarizer by asking an
// agent.LLMProvider (typically the routing.Router, so summarization itself
// participates in Dynamic Tier selection) to summarize the dropped share of
// a conversation's history.
type RouterSummarizer struct {
	provider agent.LLMProvider
	model    string
}

// NewRouterSummarizer builds a RouterSummarizer dispatching through
// provider. model may be empty, letting the provider pick its default.
func NewRouterSummarizer(provider agent.LLMProvider, model string) *RouterSummarizer {
	return &RouterSummarizer{provider: provider, model: model}
}

func (r *RouterSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	if r.provider == nil {
		return "", fmt.Errorf("pipeline: no summarization provider configured")
	}

	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	req := &agent.CompletionRequest{
		Model:  r.model,
		System: "Summarize the following conversation history concisely, preserving decisions, facts, and open questions. Respond with the summary only.",
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: transcript.String()},
		},
		MaxTokens: summaryMaxTokens(cfg),
	}

	chunks, err := r.provider.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("pipeline: summarize: %w", err)
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", fmt.Errorf("pipeline: summarize: %w", chunk.Error)
		}
		out.WriteString(chunk.Text)
	}
	return strings.TrimSpace(out.String()), nil
}

func summaryMaxTokens(cfg *compaction.SummarizationConfig) int {
	if cfg == nil || cfg.ReserveTokens <= 0 {
		return 512
	}
	return cfg.ReserveTokens
}
