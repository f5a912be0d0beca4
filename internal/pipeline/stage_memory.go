package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelai/conductor/internal/memory"
	"github.com/kestrelai/conductor/pkg/models"
)

// MemoryStage is the Memory Persist stage. It indexes the inbound message
// and the assistant's reply into semantic memory so a later turn's RAG
// indexing stage can recall them, independent of the session transcript the
// session store already keeps verbatim.
type MemoryStage struct {
	manager *memory.Manager
}

// NewMemoryStage wires Memory Persist to manager. A nil manager (memory
// disabled in configuration) makes the stage a no-op.
func NewMemoryStage(manager *memory.Manager) *MemoryStage {
	return &MemoryStage{manager: manager}
}

func (s *MemoryStage) Name() string { return StageNameMemoryPersist }

func (s *MemoryStage) Run(ctx context.Context, t *Turn) error {
	if s.manager == nil {
		return nil
	}

	entries := make([]*models.MemoryEntry, 0, 2)
	if t.Inbound != nil && t.Inbound.Content != "" {
		entries = append(entries, &models.MemoryEntry{
			ID:        fmt.Sprintf("%s-in", t.Inbound.ID),
			SessionID: t.Session.ID,
			ChannelID: t.Session.ChannelID,
			AgentID:   t.Session.AgentID,
			Content:   t.Inbound.Content,
			Metadata:  models.MemoryMetadata{Source: "message", Role: string(models.RoleUser)},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	}
	if t.ResponseText != "" {
		entries = append(entries, &models.MemoryEntry{
			ID:        fmt.Sprintf("%s-out", t.Inbound.ID),
			SessionID: t.Session.ID,
			ChannelID: t.Session.ChannelID,
			AgentID:   t.Session.AgentID,
			Content:   t.ResponseText,
			Metadata:  models.MemoryMetadata{Source: "message", Role: string(models.RoleAssistant)},
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	}
	if len(entries) == 0 {
		return nil
	}

	if err := s.manager.Index(ctx, entries); err != nil {
		// Memory is a recall aid, not the system of record for the
		// conversation; a failed index must never fail the turn.
		t.Logger.Warn("memory index failed", "error", err)
	}
	return nil
}
