package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/internal/mcp"
	"github.com/kestrelai/conductor/internal/memory"
	"github.com/kestrelai/conductor/internal/sessions"
	"github.com/kestrelai/conductor/internal/skills"
	"github.com/kestrelai/conductor/pkg/models"
)

// DefaultHistoryLimit bounds how many prior messages Context Building loads
// per turn before compaction gets a chance to shrink further.
const DefaultHistoryLimit = 200

// ContextStage is the Context Building stage. Besides loading session
// history, it resolves the conversation's active skill, starts that
// skill's MCP server on first use (merging its tools into the shared
// registry), recalls relevant memory, picks a starting model, and
// assembles the system prompt the tool loop stage applies for this turn.
type ContextStage struct {
	store        sessions.Store
	historyLimit int

	skills       *skills.Manager
	memory       *memory.Manager
	mcpManager   *mcp.Manager
	tools        *agent.ToolRegistry
	basePrompt   string
	defaultModel string

	mu           sync.Mutex
	mcpConnected map[string]time.Time // serverID -> last used, for idle shutdown
}

// NewContextStage wires the Context Building stage. skillsManager,
// memManager, and mcpManager may all be nil when those subsystems are
// disabled; the stage degrades to history-plus-base-prompt only.
func NewContextStage(store sessions.Store, historyLimit int, skillsManager *skills.Manager, memManager *memory.Manager, mcpManager *mcp.Manager, tools *agent.ToolRegistry, basePrompt, defaultModel string) *ContextStage {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &ContextStage{
		store:        store,
		historyLimit: historyLimit,
		skills:       skillsManager,
		memory:       memManager,
		mcpManager:   mcpManager,
		tools:        tools,
		basePrompt:   strings.TrimSpace(basePrompt),
		defaultModel: defaultModel,
		mcpConnected: make(map[string]time.Time),
	}
}

func (s *ContextStage) Name() string { return StageNameContextBuilding }

func (s *ContextStage) Run(ctx context.Context, t *Turn) error {
	history, err := s.store.GetHistory(ctx, t.Session.ID, s.historyLimit)
	if err != nil {
		return NewError(s.Name(), CodeInternal, "load session history", err)
	}
	t.History = history
	t.ToolRegistry = s.tools
	t.ModelSelection = s.defaultModel

	var prompt strings.Builder
	if s.basePrompt != "" {
		prompt.WriteString(s.basePrompt)
		prompt.WriteString("\n\n")
	}

	s.resolveActiveSkill(ctx, t, &prompt)
	s.recallMemory(ctx, t, &prompt)
	s.enumerateTools(&prompt)

	t.SystemPrompt = strings.TrimSpace(prompt.String())
	return nil
}

// resolveActiveSkill reads the session-sticky active skill, loads its
// content into the system prompt, and (if it declares one) ensures its
// MCP server is connected and its tools are in the shared registry.
func (s *ContextStage) resolveActiveSkill(ctx context.Context, t *Turn, prompt *strings.Builder) {
	if s.skills == nil || t.Session == nil {
		return
	}
	name, _ := t.Session.Metadata[MetaKeyActiveSkill].(string)
	if name == "" {
		return
	}
	entry, ok := s.skills.GetEligible(name)
	if !ok {
		return
	}
	t.ActiveSkill = name

	content, err := s.skills.LoadContent(name)
	if err != nil {
		t.Logger.Warn("load active skill content", "skill", name, "error", err)
	} else if content != "" {
		fmt.Fprintf(prompt, "# Active skill: %s\n%s\n\n", entry.Name, content)
	}

	if entry.Metadata != nil && entry.Metadata.MCP != nil {
		s.ensureSkillMCP(ctx, t, entry.Metadata.MCP)
	}
	s.disconnectIdleSkillServers(entry.Metadata)
}

// ensureSkillMCP connects the skill's MCP server on first use and merges
// its tools into the shared registry. Reconnecting an already-connected
// server is a cheap no-op handled by Manager.Connect.
func (s *ContextStage) ensureSkillMCP(ctx context.Context, t *Turn, launch *skills.SkillMCPLaunch) {
	if s.mcpManager == nil || launch.ServerID == "" {
		return
	}

	if _, connected := s.mcpManager.Client(launch.ServerID); !connected {
		startCtx := ctx
		if launch.StartupTimeout > 0 {
			var cancel context.CancelFunc
			startCtx, cancel = context.WithTimeout(ctx, launch.StartupTimeout)
			defer cancel()
		}
		if err := s.mcpManager.Connect(startCtx, launch.ServerID); err != nil {
			t.Logger.Warn("connect skill MCP server", "server", launch.ServerID, "error", err)
			return
		}
	}

	names := mcp.RegisterToolsInto(s.tools, s.mcpManager, launch.ServerID)
	s.mu.Lock()
	s.mcpConnected[launch.ServerID] = time.Now()
	s.mu.Unlock()
	t.SetAttr("mcp.skill_tools", names)
}

// disconnectIdleSkillServers drops the active skill's MCP server once its
// IdleTimeout has elapsed since its last use. Only the current skill's
// server is checked here, since that's the one with a recorded last-used
// time; other skills' servers are reaped the next time those skills
// become active, which is sufficient because a disconnected, unused
// server costs nothing while idle.
func (s *ContextStage) disconnectIdleSkillServers(meta *skills.SkillMetadata) {
	if meta == nil || meta.MCP == nil || meta.MCP.IdleTimeout <= 0 {
		return
	}
	serverID := meta.MCP.ServerID

	s.mu.Lock()
	lastUsed, ok := s.mcpConnected[serverID]
	s.mu.Unlock()
	if !ok || time.Since(lastUsed) < meta.MCP.IdleTimeout {
		return
	}

	if s.mcpManager != nil {
		_ = s.mcpManager.Disconnect(serverID)
	}
	s.mu.Lock()
	delete(s.mcpConnected, serverID)
	s.mu.Unlock()
}

func (s *ContextStage) recallMemory(ctx context.Context, t *Turn, prompt *strings.Builder) {
	if s.memory == nil || t.Inbound == nil || strings.TrimSpace(t.Inbound.Content) == "" {
		return
	}
	resp, err := s.memory.Search(ctx, &models.SearchRequest{
		Query:   t.Inbound.Content,
		Scope:   models.ScopeSession,
		ScopeID: t.Session.ID,
		Limit:   5,
	})
	if err != nil {
		t.Logger.Warn("memory recall", "error", err)
		return
	}
	if len(resp.Results) == 0 {
		return
	}
	prompt.WriteString("# Relevant memory\n")
	for _, result := range resp.Results {
		if result.Entry == nil {
			continue
		}
		prompt.WriteString("- ")
		prompt.WriteString(result.Entry.Content)
		prompt.WriteString("\n")
	}
	prompt.WriteString("\n")
}

func (s *ContextStage) enumerateTools(prompt *strings.Builder) {
	if s.tools == nil {
		return
	}
	llmTools := s.tools.AsLLMTools()
	if len(llmTools) == 0 {
		return
	}
	names := make([]string, 0, len(llmTools))
	for _, tool := range llmTools {
		names = append(names, tool.Name())
	}
	prompt.WriteString("# Available tools\n")
	prompt.WriteString(strings.Join(names, ", "))
	prompt.WriteString("\n")
}
