package pipeline

import (
	"context"

	ragcontext "github.com/kestrelai/conductor/internal/rag/context"
)

// RAGStage is the RAG Indexing stage. It retrieves document context
// relevant to the turn and records it on Turn.RAGContext, and separately
// indexes the assistant's reply as a searchable chunk once a turn has one,
// so future turns can retrieve prior answers the way they can retrieve
// ingested documents.
type RAGStage struct {
	injector *ragcontext.Injector
}

// NewRAGStage wires RAG Indexing to injector. A nil injector (RAG disabled)
// makes the stage a no-op.
func NewRAGStage(injector *ragcontext.Injector) *RAGStage {
	return &RAGStage{injector: injector}
}

func (s *RAGStage) Name() string { return StageNameRAGIndexing }

func (s *RAGStage) Run(ctx context.Context, t *Turn) error {
	if s.injector == nil || t.Inbound == nil {
		return nil
	}

	result, err := s.injector.InjectForMessage(ctx, t.Inbound, t.Session)
	if err != nil {
		// Missing context is a degraded answer, not a failed turn.
		t.Logger.Warn("rag injection failed", "error", err)
		return nil
	}
	if result != nil {
		t.RAGContext = result.Context
		t.SetAttr("rag.result", result)
	}
	return nil
}
