package pipeline

import (
	"context"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/internal/agent/routing"
)

// TierStage is the Dynamic Tier stage. It classifies the turn's content
// into routing tags (e.g. "code", "vision", "cheap") and, when a tag maps
// to a stronger model in upgrades, overrides the turn's model selection
// for the tool loop stage to apply. Context building already picked a
// default model; this stage can only upgrade it, never downgrade, since
// upgrades is expected to hold tier->stronger-model mappings only.
type TierStage struct {
	classifier routing.Classifier
	upgrades   map[string]string
}

// NewTierStage wires Dynamic Tier to classifier. A nil classifier falls
// back to the heuristic, keyword-based classifier every configured router
// already ships with. upgrades maps a classifier tag to the model that
// tag should escalate this turn to; a nil/empty map disables escalation.
func NewTierStage(classifier routing.Classifier, upgrades map[string]string) *TierStage {
	if classifier == nil {
		classifier = &routing.HeuristicClassifier{}
	}
	return &TierStage{classifier: classifier, upgrades: upgrades}
}

func (s *TierStage) Name() string { return StageNameDynamicTier }

func (s *TierStage) Run(ctx context.Context, t *Turn) error {
	req := &agent.CompletionRequest{
		Messages: historyToCompletionMessages(t),
	}
	t.Tags = s.classifier.Classify(req)
	t.SetAttr("tier.tags", t.Tags)

	for _, tag := range t.Tags {
		if model, ok := s.upgrades[tag]; ok && model != "" {
			t.ModelSelection = model
			t.SetAttr("tier.upgraded_model", model)
			break
		}
	}
	return nil
}

func historyToCompletionMessages(t *Turn) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(t.History)+1)
	for _, m := range t.History {
		out = append(out, agent.CompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	if t.Inbound != nil {
		out = append(out, agent.CompletionMessage{Role: string(t.Inbound.Role), Content: t.Inbound.Content})
	}
	return out
}
