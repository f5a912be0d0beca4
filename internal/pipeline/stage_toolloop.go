package pipeline

import (
	"context"
	"strings"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/pkg/models"
)

// ToolLoopStage is the Tool-Call Inner Loop stage. It drives the agentic
// loop's LLM_CALL/TOOL_EXEC state machine to completion for this turn and
// collects the resulting text and tool activity onto Turn for the stages
// that follow (memory persist, response preparation).
type ToolLoopStage struct {
	loop *agent.AgenticLoop
}

// NewToolLoopStage wires the Tool Loop stage to an already-configured
// agentic loop (providers, tool registry, and session store attached).
func NewToolLoopStage(loop *agent.AgenticLoop) *ToolLoopStage {
	return &ToolLoopStage{loop: loop}
}

func (s *ToolLoopStage) Name() string { return StageNameToolLoop }

func (s *ToolLoopStage) Run(ctx context.Context, t *Turn) error {
	if t.SystemPrompt != "" {
		ctx = agent.WithSystemPrompt(ctx, t.SystemPrompt)
	}
	if t.ModelSelection != "" {
		ctx = agent.WithModel(ctx, t.ModelSelection)
	}

	chunks, err := s.loop.Run(ctx, t.Session, t.Inbound)
	if err != nil {
		return NewError(s.Name(), CodeUpstreamUnavailable, "start agentic loop", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return NewError(s.Name(), classifyLoopError(chunk.Error), "", chunk.Error)
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
		}
		if chunk.ToolResult != nil {
			t.ToolResults = append(t.ToolResults, *chunk.ToolResult)
		}
		if chunk.ToolEvent != nil && chunk.ToolEvent.ToolName != "" && chunk.ToolEvent.Stage == models.ToolEventRequested {
			t.ToolCalls = append(t.ToolCalls, models.ToolCall{
				ID:    chunk.ToolEvent.ToolCallID,
				Name:  chunk.ToolEvent.ToolName,
				Input: chunk.ToolEvent.Input,
			})
		}
	}

	t.ResponseText = text.String()
	return nil
}

// classifyLoopError maps an agentic-loop failure onto the pipeline's turn-
// level error taxonomy. Tool-specific errors already carry a retryability
// signal from agent.IsToolRetryable; anything else is treated as an
// upstream outage since the loop only fails hard on provider or
// infrastructure trouble.
func classifyLoopError(err error) Code {
	if agent.IsToolError(err) {
		if agent.IsToolRetryable(err) {
			return CodeUpstreamUnavailable
		}
		return CodeToolExecutionFailed
	}
	return CodeUpstreamUnavailable
}
