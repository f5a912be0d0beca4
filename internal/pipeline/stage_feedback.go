package pipeline

import (
	"context"

	"github.com/kestrelai/conductor/pkg/models"
)

// FeedbackGuaranteeStage is the Feedback Guarantee stage: every turn that
// reaches the user must produce either a response or, on failure, an
// explanation, so a silently swallowed error never leaves someone staring
// at an unanswered message. Pipeline.Run invokes this stage directly when
// an earlier stage fails, in addition to its normal place in stage order.
type FeedbackGuaranteeStage struct {
	messages map[Code]string
}

// NewFeedbackGuaranteeStage wires user-facing text per error code. Codes
// absent from messages fall back to a generic apology.
func NewFeedbackGuaranteeStage(messages map[Code]string) *FeedbackGuaranteeStage {
	if messages == nil {
		messages = DefaultFeedbackMessages()
	}
	return &FeedbackGuaranteeStage{messages: messages}
}

// DefaultFeedbackMessages is the stock set of user-facing explanations per
// error code.
func DefaultFeedbackMessages() map[Code]string {
	return map[Code]string{
		CodeUserInputInvalid:    "I couldn't process that message.",
		CodeAdmissionDenied:     "You don't have access to this assistant yet.",
		CodeRateLimited:         "You're sending messages faster than I can keep up. Try again in a moment.",
		CodeUpstreamUnavailable: "I'm having trouble reaching the model right now. Please try again shortly.",
		CodeToolExecutionFailed: "One of the tools I used failed, so I couldn't finish that.",
		CodeToolPolicyDenied:    "That action isn't allowed by the current tool policy.",
		CodeConfirmationDenied:  "Okay, I won't do that.",
		CodeBudgetExceeded:      "This conversation has used up its budget for now.",
		CodeInternal:            "Something went wrong on my end.",
	}
}

func (s *FeedbackGuaranteeStage) Name() string { return StageNameFeedbackGuarantee }

func (s *FeedbackGuaranteeStage) Run(ctx context.Context, t *Turn) error {
	failed := t.Failed()
	if failed == nil {
		return nil
	}
	if !IsUserFacing(failed.Code) {
		t.Drop()
		return nil
	}
	if t.ResponseText != "" {
		return nil
	}

	text, ok := s.messages[failed.Code]
	if !ok {
		text = s.messages[CodeInternal]
	}
	t.ResponseText = text
	t.Outbound = []*models.Message{{
		SessionID: t.Session.ID,
		Channel:   t.Session.Channel,
		ChannelID: t.Session.ChannelID,
		Direction: models.DirectionOutbound,
		Role:      models.RoleAssistant,
		Content:   text,
	}}
	return nil
}
