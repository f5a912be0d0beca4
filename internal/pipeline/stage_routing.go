package pipeline

import (
	"context"
	"fmt"

	"github.com/kestrelai/conductor/internal/channels"
	"github.com/kestrelai/conductor/internal/infra"
	"github.com/kestrelai/conductor/pkg/models"
)

// RoutingStage is the Routing stage, the pipeline's final step. It splits
// the prepared response into channel-sized chunks, sends each through the
// registered outbound adapter, and retries a send that fails with a
// transient (rate-limit, timeout) error rather than dropping the chunk.
type RoutingStage struct {
	registry    *channels.Registry
	retryConfig *infra.RetryConfig
}

// NewRoutingStage wires Routing to registry. retryConfig governs send
// retries; a nil value uses infra's default exponential backoff.
func NewRoutingStage(registry *channels.Registry, retryConfig *infra.RetryConfig) *RoutingStage {
	if retryConfig == nil {
		retryConfig = infra.DefaultRetryConfig()
	}
	return &RoutingStage{registry: registry, retryConfig: retryConfig}
}

func (s *RoutingStage) Name() string { return StageNameRouting }

func (s *RoutingStage) Run(ctx context.Context, t *Turn) error {
	if t.Dropped() {
		return nil
	}
	if len(t.Outbound) == 0 && t.ResponseText != "" {
		t.Outbound = s.buildOutbound(t)
	}
	if len(t.Outbound) == 0 {
		return nil
	}

	channelType := t.Session.Channel
	adapter, ok := s.registry.GetOutbound(channelType)
	if !ok {
		return NewError(s.Name(), CodeUpstreamUnavailable, fmt.Sprintf("no outbound adapter for channel %s", channelType), nil)
	}

	for _, msg := range t.Outbound {
		result := infra.RetryVoid(ctx, s.retryConfig, func(ctx context.Context) error {
			return adapter.Send(ctx, msg)
		})
		if result.LastError != nil {
			return NewError(s.Name(), CodeUpstreamUnavailable, "send outbound message", result.LastError)
		}
	}
	return nil
}

// buildOutbound splits the turn's response text into channel-sized chunks
// using capabilities discovered from the channel registry, falling back to
// the chunker's own default when no explicit limit is configured.
func (s *RoutingStage) buildOutbound(t *Turn) []*models.Message {
	caps := channels.GetChannelCapabilities(channels.FromModelChannelType(t.Session.Channel))
	var chunker *channels.MessageChunker
	if caps != nil {
		chunker = channels.NewMessageChunker(caps.MaxMessageLength)
	} else {
		chunker = channels.NewMessageChunker(0)
	}

	parts := chunker.ChunkMarkdown(t.ResponseText)
	out := make([]*models.Message, 0, len(parts))
	for _, part := range parts {
		out = append(out, &models.Message{
			SessionID: t.Session.ID,
			Channel:   t.Session.Channel,
			ChannelID: t.Session.ChannelID,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   part,
		})
	}
	return out
}
