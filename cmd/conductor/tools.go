package main

import (
	"net/http"
	"time"

	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/internal/channels"
	"github.com/kestrelai/conductor/internal/commands"
	"github.com/kestrelai/conductor/internal/config"
	"github.com/kestrelai/conductor/internal/infra"
	internaljobs "github.com/kestrelai/conductor/internal/jobs"
	internalmodels "github.com/kestrelai/conductor/internal/models"
	"github.com/kestrelai/conductor/internal/rag/index"
	"github.com/kestrelai/conductor/internal/sessions"
	"github.com/kestrelai/conductor/internal/tools/exec"
	"github.com/kestrelai/conductor/internal/tools/facts"
	"github.com/kestrelai/conductor/internal/tools/files"
	jobtools "github.com/kestrelai/conductor/internal/tools/jobs"
	"github.com/kestrelai/conductor/internal/tools/memorysearch"
	"github.com/kestrelai/conductor/internal/tools/message"
	modeltools "github.com/kestrelai/conductor/internal/tools/models"
	ragtools "github.com/kestrelai/conductor/internal/tools/rag"
	sessiontools "github.com/kestrelai/conductor/internal/tools/sessions"
	"github.com/kestrelai/conductor/internal/tools/system"
	"github.com/kestrelai/conductor/internal/usage"
)

// buildNativeTools registers every native (non-websearch, non-MCP) tool
// package onto registry. ragManager is nil when RAG is disabled, in which
// case the RAG tools are skipped entirely rather than registered against
// a nil index.
//
// sessions.SendTool is deliberately not wired: it requires an
// *agent.Runtime, a richer execution type the turn pipeline doesn't use
// (ToolLoopStage drives an *agent.AgenticLoop instead), and building one
// solely to satisfy this one tool's constructor would be dead weight with
// no other caller.
func buildNativeTools(cfg *config.Config, registry *agent.ToolRegistry, channelRegistry *channels.Registry, store sessions.Store, ragManager *index.Manager) error {
	workspace := cfg.Workspace.Path

	execManager := exec.NewManager(workspace)
	registry.Register(exec.NewExecTool("exec", execManager))
	registry.Register(exec.NewProcessTool(execManager))

	registry.Register(facts.NewExtractTool(0))

	filesCfg := files.Config{Workspace: workspace}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	jobStore := internaljobs.NewMemoryStore()
	registry.Register(jobtools.NewCancelTool(jobStore))
	registry.Register(jobtools.NewListTool(jobStore))
	registry.Register(jobtools.NewStatusTool(jobStore))

	registry.Register(memorysearch.NewMemorySearchTool(&memorysearch.Config{
		Directory:     workspace,
		WorkspacePath: workspace,
	}))
	registry.Register(memorysearch.NewMemoryGetTool(&memorysearch.Config{
		Directory:     workspace,
		WorkspacePath: workspace,
	}))

	registry.Register(message.NewTool("message", channelRegistry, store, "default"))

	registry.Register(modeltools.NewTool(internalmodels.NewCatalog(), nil))

	if ragManager != nil {
		registry.Register(ragtools.NewSearchTool(ragManager, nil))
		registry.Register(ragtools.NewUploadTool(ragManager, nil))
		registry.Register(ragtools.NewListTool(ragManager))
		registry.Register(ragtools.NewDeleteTool(ragManager))
	}

	registry.Register(sessiontools.NewListTool(store, "default"))
	registry.Register(sessiontools.NewHistoryTool(store))
	registry.Register(sessiontools.NewStatusTool(store))

	migrations := infra.NewMigrationManager(&infra.MigrationManagerConfig{
		StateDir: workspace,
	})
	registry.Register(system.NewDiagnosticTool(&diagnosticsProvider{migrations: migrations}))
	registry.Register(system.NewHealthTool(commands.NewHealthChecker(commands.DefaultHealthCheckerConfig())))
	registry.Register(system.NewUsageTool(usage.NewUsageCache(buildUsageFetchers(cfg), 5*time.Minute)))

	return nil
}

// diagnosticsProvider adapts the channels activity tracker and the
// workspace migration manager to system.DiagnosticProvider.
type diagnosticsProvider struct {
	migrations *infra.MigrationManager
}

func (d *diagnosticsProvider) GetActivityStats() channels.ActivityStats {
	return channels.GetActivityStats()
}

func (d *diagnosticsProvider) GetMigrationStatus() (current, latest infra.MigrationVersion, pending int, err error) {
	current, err = d.migrations.CurrentVersion()
	if err != nil {
		return current, latest, 0, err
	}
	latest = d.migrations.LatestVersion()
	pendingMigrations, err := d.migrations.PendingMigrations()
	if err != nil {
		return current, latest, 0, err
	}
	return current, latest, len(pendingMigrations), nil
}

// buildUsageFetchers registers a provider usage fetcher for every
// configured LLM provider that has a known fetcher implementation.
func buildUsageFetchers(cfg *config.Config) *usage.UsageFetcherRegistry {
	registry := usage.NewUsageFetcherRegistry()
	client := &http.Client{Timeout: 30 * time.Second}

	if pcfg, ok := cfg.LLM.Providers["anthropic"]; ok {
		registry.Register(&usage.AnthropicUsageFetcher{APIKey: pcfg.APIKey, HTTPClient: client})
	}
	if pcfg, ok := cfg.LLM.Providers["openai"]; ok {
		registry.Register(&usage.OpenAIUsageFetcher{APIKey: pcfg.APIKey, HTTPClient: client})
	}
	if pcfg, ok := cfg.LLM.Providers["google"]; ok {
		registry.Register(&usage.GeminiUsageFetcher{APIKey: pcfg.APIKey, HTTPClient: client})
	}

	return registry
}
