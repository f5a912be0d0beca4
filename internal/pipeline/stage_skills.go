package pipeline

import (
	"context"
	"regexp"

	"github.com/kestrelai/conductor/internal/policy"
	"github.com/kestrelai/conductor/internal/sessions"
	"github.com/kestrelai/conductor/internal/skills"
)

// SkillPipelineStage is the Skill Pipeline stage. It handles the
// /activation group-chat command and evaluates the active skill's
// transition rules against the turn just completed, switching the
// session's active skill for the NEXT turn when one matches. Loading the
// active skill's content into the system prompt is context building's
// job, not this stage's — by the time this stage runs, the tool loop has
// already executed for this turn.
type SkillPipelineStage struct {
	manager *skills.Manager
	store   sessions.Store
}

// NewSkillPipelineStage wires the Skill Pipeline stage to manager and
// store. A nil manager (no skills configured) makes the stage a
// pass-through that still honors /activation commands.
func NewSkillPipelineStage(manager *skills.Manager, store sessions.Store) *SkillPipelineStage {
	return &SkillPipelineStage{manager: manager, store: store}
}

func (s *SkillPipelineStage) Name() string { return StageNameSkillPipeline }

func (s *SkillPipelineStage) Run(ctx context.Context, t *Turn) error {
	if t.Inbound == nil {
		return nil
	}

	if cmd := policy.ParseActivationCommand(t.Inbound.Content); cmd.HasCommand {
		t.SetAttr("activation.command", cmd)
		t.Drop()
		return nil
	}

	s.evaluateTransitions(ctx, t)
	return nil
}

// evaluateTransitions checks the active skill's transition rules against
// this turn and, on a match, persists the new active skill to session
// metadata so the next turn's context building picks it up.
func (s *SkillPipelineStage) evaluateTransitions(ctx context.Context, t *Turn) {
	if s.manager == nil || t.ActiveSkill == "" {
		return
	}
	entry, ok := s.manager.GetEligible(t.ActiveSkill)
	if !ok || entry.Metadata == nil || len(entry.Metadata.Transitions) == 0 {
		return
	}

	for _, rule := range entry.Metadata.Transitions {
		if rule.Target == "" || rule.Target == t.ActiveSkill {
			continue
		}
		if !s.ruleMatches(t, rule) {
			continue
		}
		if _, ok := s.manager.GetEligible(rule.Target); !ok {
			continue
		}

		if t.Session.Metadata == nil {
			t.Session.Metadata = make(map[string]any)
		}
		t.Session.Metadata[MetaKeyActiveSkill] = rule.Target
		if s.store != nil {
			if err := s.store.Update(ctx, t.Session); err != nil {
				t.Logger.Warn("persist skill transition", "target", rule.Target, "error", err)
				continue
			}
		}
		t.SetAttr("skills.transitioned_to", rule.Target)
		return
	}
}

func (s *SkillPipelineStage) ruleMatches(t *Turn, rule skills.SkillTransitionRule) bool {
	if rule.OnTopicMatch == "" && rule.OnToolUsed == "" {
		return false
	}

	matchedTopic := true
	if rule.OnTopicMatch != "" {
		re, err := regexp.Compile(rule.OnTopicMatch)
		if err != nil {
			t.Logger.Warn("invalid skill transition pattern", "pattern", rule.OnTopicMatch, "error", err)
			return false
		}
		matchedTopic = t.Inbound != nil && re.MatchString(t.Inbound.Content)
	}

	matchedTool := true
	if rule.OnToolUsed != "" {
		matchedTool = false
		for _, call := range t.ToolCalls {
			if call.Name == rule.OnToolUsed {
				matchedTool = true
				break
			}
		}
	}

	return matchedTopic && matchedTool
}
