package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/pkg/models"
)

// Turn carries everything a stage needs to read or write as one inbound
// message moves through the pipeline. Stages communicate through Turn's
// typed fields plus a free-form Attributes map for the handful of
// cross-stage signals (routing tags, compaction summaries) that don't
// deserve a dedicated field.
type Turn struct {
	Context context.Context

	Session *models.Session
	Inbound *models.Message

	// History is the session's prior messages, loaded by the context
	// building stage and mutated in place by compaction.
	History []*models.Message

	// Tags are classifier labels attached by the dynamic tier stage and
	// consumed by routing and skill resolution.
	Tags []string

	// ToolCalls/ToolResults are populated by the tool loop stage for
	// downstream stages (memory persist, skill pipeline) to inspect.
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult

	// ResponseText is the assistant's final text for this turn, set by
	// the tool loop and refined by response preparation.
	ResponseText string

	// Outbound holds the messages routing will hand to the channel
	// adapter, one per chunk after splitting.
	Outbound []*models.Message

	// RAGContext is retrieved context text injected ahead of the model
	// call, set by the RAG indexing stage.
	RAGContext string

	// SystemPrompt is the system prompt context building assembled from
	// the active skill's content, recalled memory, and the tool
	// inventory. The tool loop stage applies it as a model override for
	// this turn only.
	SystemPrompt string

	// ActiveSkill is the name of the skill selected for this turn.
	// Context building resolves it from session metadata; the skill
	// pipeline stage may change it for the NEXT turn via a transition
	// rule, in which case this turn's value is left untouched.
	ActiveSkill string

	// ModelSelection is the model context building and the dynamic tier
	// stage chose for this turn. Empty means let the router decide.
	ModelSelection string

	// ToolRegistry is the tool set available to this turn, set by context
	// building. It is the process-wide registry, possibly extended with
	// the active skill's MCP tools; it is not turn-scoped storage, just a
	// read reference for stages that need to check tool availability.
	ToolRegistry *agent.ToolRegistry

	// Attributes is the canonical extension point: any stage may read or
	// write a key here without the Turn struct growing a field for every
	// experimental signal. Keys are namespaced by stage, e.g.
	// "compaction.summary_id".
	Attributes map[string]any

	StartedAt time.Time
	Logger    *slog.Logger

	mu   sync.Mutex
	err  *Error
	drop bool
}

// NewTurn creates a Turn for an inbound message on session.
func NewTurn(ctx context.Context, session *models.Session, inbound *models.Message, logger *slog.Logger) *Turn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Turn{
		Context:    ctx,
		Session:    session,
		Inbound:    inbound,
		Attributes: make(map[string]any),
		StartedAt:  time.Now(),
		Logger:     logger.With("session_id", session.ID, "channel", string(session.Channel)),
	}
}

// Fail records a terminal pipeline error. Subsequent stages should check
// Failed before doing work; Run stops the pipeline as soon as a stage
// returns a non-nil error, so Fail mainly exists for stages that want to
// record an error and still let a later stage (feedback guarantee) react to
// it instead of returning early themselves.
func (t *Turn) Fail(err *Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

// Failed reports the terminal error recorded for this turn, if any.
func (t *Turn) Failed() *Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Drop marks the turn as intentionally producing no outbound message
// (e.g. a tool-only turn awaiting confirmation). Routing treats a dropped
// turn as success, not failure.
func (t *Turn) Drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drop = true
}

// Dropped reports whether Drop was called.
func (t *Turn) Dropped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drop
}

// Attr fetches an attribute, returning ok=false if absent.
func (t *Turn) Attr(key string) (any, bool) {
	v, ok := t.Attributes[key]
	return v, ok
}

// SetAttr sets an attribute.
func (t *Turn) SetAttr(key string, value any) {
	t.Attributes[key] = value
}
