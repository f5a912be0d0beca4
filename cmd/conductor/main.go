// Command conductor runs the turn orchestrator: it loads configuration,
// wires the turn pipeline to the configured LLM providers, memory, RAG, and
// channel adapters, and serves turns until told to stop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelai/conductor/internal/admission"
	"github.com/kestrelai/conductor/internal/agent"
	"github.com/kestrelai/conductor/internal/agent/providers"
	"github.com/kestrelai/conductor/internal/agent/routing"
	"github.com/kestrelai/conductor/internal/channels"
	"github.com/kestrelai/conductor/internal/config"
	"github.com/kestrelai/conductor/internal/coordinator"
	"github.com/kestrelai/conductor/internal/identity"
	"github.com/kestrelai/conductor/internal/mcp"
	"github.com/kestrelai/conductor/internal/memory"
	"github.com/kestrelai/conductor/internal/memory/embeddings"
	"github.com/kestrelai/conductor/internal/memory/embeddings/ollama"
	"github.com/kestrelai/conductor/internal/memory/embeddings/openai"
	ragcontext "github.com/kestrelai/conductor/internal/rag/context"
	"github.com/kestrelai/conductor/internal/rag/index"
	"github.com/kestrelai/conductor/internal/rag/store"
	"github.com/kestrelai/conductor/internal/rag/store/pgvector"
	"github.com/kestrelai/conductor/internal/sessions"
	"github.com/kestrelai/conductor/internal/skills"
	"github.com/kestrelai/conductor/internal/storageport"
	"github.com/kestrelai/conductor/internal/tools/websearch"
	"github.com/kestrelai/conductor/internal/usage"
	"github.com/kestrelai/conductor/internal/webhook"
	"github.com/kestrelai/conductor/pkg/models"

	"github.com/kestrelai/conductor/internal/pipeline"
)

// Exit codes: 0 clean shutdown, 1 configuration/startup failure, 2 runtime
// failure detected during shutdown (best-effort flush did not complete).
const (
	exitOK   = 0
	exitBad  = 1
	exitFail = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:   "conductor",
		Short: "Agent turn orchestrator",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file")

	exitCode := exitOK
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and serve turns until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := serveCmd(configPath)
			exitCode = code
			return err
		},
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		if exitCode == exitOK {
			exitCode = exitBad
		}
	}
	return exitCode
}

func serveCmd(configPath string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return exitBad, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	app, err := buildApp(cfg, logger)
	if err != nil {
		return exitBad, fmt.Errorf("build app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.registry.StartAll(ctx); err != nil {
		return exitBad, fmt.Errorf("start channel adapters: %w", err)
	}

	go app.pumpInbound(ctx)

	var httpServer *http.Server
	if cfg.Webhook.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
		httpServer = &http.Server{Addr: addr, Handler: app.webhookHandler}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("webhook server failed", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := false
	if err := app.registry.StopAll(shutdownCtx); err != nil {
		logger.Error("stop channel adapters", "error", err)
		failed = true
	}
	app.coordinator.Shutdown()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("stop webhook server", "error", err)
			failed = true
		}
	}

	if failed {
		return exitFail, nil
	}
	return exitOK, nil
}

// app bundles the wiring serveCmd needs to start and stop cleanly.
type app struct {
	registry       *channels.Registry
	coordinator    *coordinator.Coordinator
	webhookHandler http.Handler
	logger         *slog.Logger
}

func (a *app) pumpInbound(ctx context.Context) {
	for msg := range a.registry.AggregateMessages(ctx) {
		if err := a.coordinator.Enqueue(ctx, msg); err != nil {
			a.logger.Warn("failed to enqueue inbound message", "error", err)
		}
	}
}

// sessionResolver resolves a channel message to a session keyed by
// channel + channel-scoped conversation id, creating one on first contact.
// Every inbound message is checked against the admission gate first; a
// message that isn't allowed never reaches the turn pipeline.
type sessionResolver struct {
	store   sessions.Store
	gate    *admission.Gate
	agentID string
}

// errAdmissionDenied is returned by Resolve when the admission gate did
// not allow the message through. Coordinator.Enqueue treats any Resolve
// error as "drop the message, log a warning" (pumpInbound logs it), which
// is exactly the behavior an admission denial wants: no session, no turn.
var errAdmissionDenied = fmt.Errorf("admission: message not allowed")

func (r *sessionResolver) Resolve(ctx context.Context, msg *models.Message) (*models.Session, error) {
	if r.gate != nil {
		if err := checkAdmission(ctx, r.gate, msg); err != nil {
			return nil, err
		}
	}
	return r.store.GetOrCreate(ctx, msg.ChannelID, r.agentID, msg.Channel, msg.ChannelID)
}

// checkAdmission runs msg through the admission gate, treating its
// content as a candidate invite code when the gate reports
// DecisionNeedsInvite. Any decision other than DecisionAllowed fails
// resolution so the message never reaches the turn pipeline.
func checkAdmission(ctx context.Context, gate *admission.Gate, msg *models.Message) error {
	channel := string(msg.Channel)
	result, err := gate.Check(ctx, channel, msg.ChannelID)
	if err != nil {
		return fmt.Errorf("admission check: %w", err)
	}

	switch result.Decision {
	case admission.DecisionAllowed:
		return nil
	case admission.DecisionNeedsInvite:
		result, err = gate.RedeemInvite(ctx, channel, msg.ChannelID, msg.Content)
		if err != nil {
			return fmt.Errorf("admission redeem invite: %w", err)
		}
		if result.Decision == admission.DecisionAllowed {
			return nil
		}
		return fmt.Errorf("%w: %s", errAdmissionDenied, result.Decision)
	default:
		return fmt.Errorf("%w: %s", errAdmissionDenied, result.Decision)
	}
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	store := sessions.NewMemoryStore()

	providerMap, defaultProvider, err := buildProviders(cfg.LLM)
	if err != nil {
		return nil, err
	}
	router := routing.NewRouter(routing.Config{
		Rules:           routingRules(cfg),
		DefaultProvider: defaultProvider,
	}, providerMap)

	toolRegistry := agent.NewToolRegistry()
	toolRegistry.Register(websearch.NewWebSearchTool(&websearch.Config{}))
	toolRegistry.Register(websearch.NewWebFetchTool(nil))
	toolRegistry.Register(websearch.NewBrowserRenderTool(nil))
	loopCfg := agent.DefaultLoopConfig()
	loop := agent.NewAgenticLoop(router, toolRegistry, store, loopCfg)

	var memManager *memory.Manager
	if cfg.VectorMemory.Enabled {
		memManager, err = memory.NewManager(&cfg.VectorMemory)
		if err != nil {
			return nil, fmt.Errorf("build memory manager: %w", err)
		}
	}

	var ragInjector *ragcontext.Injector
	var ragManager *index.Manager
	if cfg.RAG.Enabled {
		docStore, embedder, ragErr := buildRAGDeps(cfg.RAG)
		if ragErr != nil {
			return nil, ragErr
		}
		ragManager = index.NewManager(docStore, embedder, index.DefaultConfig())
		ragInjector = ragcontext.NewInjector(ragManager, ragcontext.DefaultInjectorConfig())
	}

	var skillsManager *skills.Manager
	if cfg.Skills.Enabled {
		skillsManager, err = skills.NewManager(&cfg.Skills, cfg.Workspace.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("build skills manager: %w", err)
		}
	}

	usageStorage, err := storageport.NewFSStore(cfg.Workspace.Path + "/usage")
	if err != nil {
		return nil, fmt.Errorf("build usage storage: %w", err)
	}
	tracker := usage.NewTracker(usage.DefaultTrackerConfig())
	usageStore := usage.NewStore(tracker, usageStorage, usage.StoreConfig{}, logger)
	if err := usageStore.Load(context.Background()); err != nil {
		logger.Warn("usage history load failed", "error", err)
	}
	usageStore.StartEvictionSweeper(context.Background())

	identityStore := identity.NewMemoryStore()
	inviteStore := admission.NewMemoryInviteStore()
	admissionGate := admission.NewGate(admission.Config{Policy: cfg.Channels.Policy}, identityStore, inviteStore)

	if skillsManager != nil {
		if err := skillsManager.Discover(context.Background()); err != nil {
			return nil, fmt.Errorf("discover skills: %w", err)
		}
	}

	mcpCfg := cfg.MCP
	mcpCfg.Servers = append(append([]*mcp.ServerConfig{}, mcpCfg.Servers...), skillMCPServers(skillsManager)...)
	mcpManager := mcp.NewManager(&mcpCfg, logger)
	if err := mcpManager.Start(context.Background()); err != nil {
		logger.Warn("mcp manager start", "error", err)
	}

	registry := channels.NewRegistry()
	if err := buildChannelAdapters(cfg.Channels, registry, logger); err != nil {
		return nil, fmt.Errorf("build channel adapters: %w", err)
	}

	if err := buildNativeTools(cfg, toolRegistry, registry, store, ragManager); err != nil {
		return nil, fmt.Errorf("build native tools: %w", err)
	}

	p := pipeline.New(
		pipeline.NewSanitizationStage(),
		pipeline.NewCompactionStage(pipeline.NewRouterSummarizer(router, ""), 0, 0.5),
		pipeline.NewContextStage(store, pipeline.DefaultHistoryLimit, skillsManager, memManager, mcpManager, toolRegistry, "", cfg.LLM.DefaultProvider),
		pipeline.NewTierStage(nil, tierUpgrades(cfg)),
		pipeline.NewToolLoopStage(loop),
		pipeline.NewMemoryStage(memManager),
		pipeline.NewSkillPipelineStage(skillsManager, store),
		pipeline.NewRAGStage(ragInjector),
		pipeline.NewResponsePreparationStage(""),
		pipeline.NewFeedbackGuaranteeStage(nil),
		pipeline.NewRoutingStage(registry, nil),
	)

	coord := coordinator.New(p, &sessionResolver{store: store, gate: admissionGate, agentID: "default"}, coordinator.Config{}, logger)

	webhookHandler := webhook.NewHandler(cfg.Webhook, p, webhookSessionResolver{store: store, gate: admissionGate}, logger)

	return &app{registry: registry, coordinator: coord, webhookHandler: webhookHandler, logger: logger}, nil
}

// skillMCPServers turns every discovered skill's MCP launch spec into a
// server entry the manager can Connect to by ID. Skills without one
// contribute nothing.
func skillMCPServers(skillsManager *skills.Manager) []*mcp.ServerConfig {
	if skillsManager == nil {
		return nil
	}
	var servers []*mcp.ServerConfig
	for _, entry := range skillsManager.ListAll() {
		if entry.Metadata == nil || entry.Metadata.MCP == nil {
			continue
		}
		launch := entry.Metadata.MCP
		servers = append(servers, &mcp.ServerConfig{
			ID:        launch.ServerID,
			Name:      entry.Name,
			Transport: mcp.TransportStdio,
			Command:   launch.Command,
			Args:      launch.Args,
			Env:       launch.Env,
			Timeout:   launch.StartupTimeout,
			AutoStart: false,
		})
	}
	return servers
}

type webhookSessionResolver struct {
	store sessions.Store
	gate  *admission.Gate
}

func (r webhookSessionResolver) Resolve(mapping config.WebhookMapping, payload webhook.Payload) (*models.Session, error) {
	ctx := context.Background()
	if r.gate != nil {
		msg := &models.Message{Channel: models.ChannelWebhook, ChannelID: mapping.ChannelID, Content: payload.Field("content")}
		if err := checkAdmission(ctx, r.gate, msg); err != nil {
			return nil, err
		}
	}
	return r.store.GetOrCreate(ctx, mapping.Path, mapping.AgentID, models.ChannelWebhook, mapping.ChannelID)
}

func buildProviders(cfg config.LLMConfig) (map[string]agent.LLMProvider, string, error) {
	providerMap := make(map[string]agent.LLMProvider, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		p, err := buildProvider(name, pcfg)
		if err != nil {
			return nil, "", fmt.Errorf("provider %q: %w", name, err)
		}
		if p != nil {
			providerMap[name] = p
		}
	}
	if len(providerMap) == 0 {
		return nil, "", fmt.Errorf("no LLM providers configured")
	}
	def := cfg.DefaultProvider
	if _, ok := providerMap[def]; !ok {
		for name := range providerMap {
			def = name
			break
		}
	}
	return providerMap, def, nil
}

func buildProvider(name string, pcfg config.LLMProviderConfig) (agent.LLMProvider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: pcfg.APIKey, BaseURL: pcfg.BaseURL})
	case "openai":
		return providers.NewOpenAIProvider(pcfg.APIKey), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: pcfg.APIKey})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{BaseURL: pcfg.BaseURL, DefaultModel: pcfg.DefaultModel}), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{APIKey: pcfg.APIKey, DefaultModel: pcfg.DefaultModel})
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

// routingRules translates the configured routing rules into the router's
// own rule type. Model-upgrade tags chosen by the dynamic tier stage ride
// to the provider through a per-turn context override instead, since a
// rule here would be re-evaluated against the router's own classifier and
// could disagree with the tier stage's decision for the same turn.
func routingRules(cfg *config.Config) []routing.Rule {
	configured := cfg.LLM.Routing.Rules
	if len(configured) == 0 {
		return nil
	}
	rules := make([]routing.Rule, 0, len(configured))
	for _, r := range configured {
		rules = append(rules, routing.Rule{
			Name: r.Name,
			Match: routing.Match{
				Patterns: r.Match.Patterns,
				Tags:     r.Match.Tags,
			},
			Target: routing.Target{
				Provider: r.Target.Provider,
				Model:    r.Target.Model,
			},
		})
	}
	return rules
}

// tierUpgrades maps a classifier tag to the model it should escalate a
// turn to. Kept alongside routingRules since both read the same
// configured rule list, reinterpreted as tag->model shortcuts for the
// dynamic tier stage's direct model override rather than the router's
// rule matching.
func tierUpgrades(cfg *config.Config) map[string]string {
	configured := cfg.LLM.Routing.Rules
	if len(configured) == 0 {
		return nil
	}
	upgrades := make(map[string]string)
	for _, r := range configured {
		if r.Target.Model == "" {
			continue
		}
		for _, tag := range r.Match.Tags {
			upgrades[tag] = r.Target.Model
		}
	}
	return upgrades
}

// buildRAGDeps constructs the document store and embedding provider backing
// the RAG index manager. Only the pgvector backend is wired; any other
// value in cfg.Store.Backend is rejected rather than silently falling back.
func buildRAGDeps(cfg config.RAGConfig) (store.DocumentStore, embeddings.Provider, error) {
	if cfg.Store.Backend != "" && cfg.Store.Backend != "pgvector" {
		return nil, nil, fmt.Errorf("rag: unsupported store backend %q", cfg.Store.Backend)
	}
	dsn := cfg.Store.DSN
	if dsn == "" {
		return nil, nil, fmt.Errorf("rag: store dsn is required")
	}
	docStore, err := pgvector.New(pgvector.Config{
		DSN:           dsn,
		Dimension:     cfg.Store.Dimension,
		RunMigrations: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build rag document store: %w", err)
	}

	var embedder embeddings.Provider
	switch cfg.Embeddings.Provider {
	case "", "openai":
		embedder, err = openai.New(openai.Config{
			APIKey:  cfg.Embeddings.APIKey,
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	case "ollama":
		embedder, err = ollama.New(ollama.Config{
			BaseURL: cfg.Embeddings.BaseURL,
			Model:   cfg.Embeddings.Model,
		})
	default:
		err = fmt.Errorf("rag: unsupported embeddings provider %q", cfg.Embeddings.Provider)
	}
	if err != nil {
		_ = docStore.Close()
		return nil, nil, fmt.Errorf("build rag embedder: %w", err)
	}
	return docStore, embedder, nil
}
