package pipeline

import (
	"context"
	"errors"
)

// Stage is one step of the turn pipeline. Implementations should be cheap
// to construct and safe for concurrent use across turns; per-turn state
// belongs on Turn, not on the Stage.
type Stage interface {
	// Name identifies the stage in logs and errors.
	Name() string

	// Run executes the stage against t. Returning an error stops the
	// pipeline; Run is responsible for wrapping errors with NewError so
	// the caller can inspect Code.
	Run(ctx context.Context, t *Turn) error
}

// StageFunc adapts a function to Stage for stages with no state.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, t *Turn) error
}

func (f StageFunc) Name() string { return f.StageName }

func (f StageFunc) Run(ctx context.Context, t *Turn) error { return f.Fn(ctx, t) }

// Pipeline runs a fixed, ordered list of stages against each turn. The
// eleven stages named in order here are Input Sanitization, Auto-Compaction,
// Context Building, Dynamic Tier, Tool Loop, Memory Persist, Skill Pipeline,
// RAG Indexing, Response Preparation, Feedback Guarantee, and Routing.
type Pipeline struct {
	stages []Stage
}

// New builds a Pipeline from stages in execution order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Run executes every stage in order against t, stopping at the first stage
// that returns an error or marks the turn as failed. It always returns
// through the feedback-guarantee stage's view of the turn: callers should
// inspect t.Failed() after Run returns, since a stage late in the pipeline
// (feedback guarantee) is the one responsible for turning an error into a
// user-facing reply rather than Run itself.
func (p *Pipeline) Run(ctx context.Context, t *Turn) error {
	for _, stage := range p.stages {
		if ctx.Err() != nil {
			t.Fail(NewError(stage.Name(), CodeCancelled, "context cancelled before stage ran", ctx.Err()))
			return t.Failed()
		}
		if err := stage.Run(ctx, t); err != nil {
			var pe *Error
			if !errors.As(err, &pe) {
				pe = NewError(stage.Name(), CodeInternal, "", err)
			}
			t.Fail(pe)
			// Feedback Guarantee is the one stage that still runs after a
			// failure, so it gets a chance to notify the user. Every other
			// stage short-circuits the rest of the pipeline.
			if fg, ok := findFeedbackGuarantee(p.stages, stage); ok {
				_ = fg.Run(ctx, t)
			}
			return pe
		}
		if t.Dropped() {
			return nil
		}
	}
	return nil
}

func findFeedbackGuarantee(stages []Stage, failed Stage) (Stage, bool) {
	seenFailed := false
	for _, s := range stages {
		if s == failed {
			seenFailed = true
			continue
		}
		if !seenFailed {
			continue
		}
		if s.Name() == StageNameFeedbackGuarantee {
			return s, true
		}
	}
	return nil, false
}
