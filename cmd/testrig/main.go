// The testrig server runs the agent pipeline over the in-process bus and
// exposes the HTTP API with WebSocket and SSE streaming.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/agents"
	"github.com/testrig-ai/testrig/pkg/api"
	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/cleanup"
	"github.com/testrig-ai/testrig/pkg/config"
	"github.com/testrig-ai/testrig/pkg/database"
	"github.com/testrig-ai/testrig/pkg/docfetch"
	"github.com/testrig-ai/testrig/pkg/executor"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/masking"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/sandbox"
	"github.com/testrig-ai/testrig/pkg/services"
	"github.com/testrig-ai/testrig/pkg/session"
	"github.com/testrig-ai/testrig/pkg/slack"
	"github.com/testrig-ai/testrig/pkg/uirunner"
	"github.com/testrig-ai/testrig/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("CONFIG_PATH", "./testrig.yaml"),
		"Path to configuration file")
	flag.Parse()

	// Load .env before config so key env vars resolve.
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded environment from .env")
	}

	slog.Info("Starting testrig",
		"version", version.Full(),
		"config", *configPath)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Message bus
	b := bus.New(bus.WithMailboxSize(cfg.Pipeline.MailboxSize))
	defer b.Close()

	// 3. Database and persistence (optional)
	var (
		dbClient *database.Client
		store    *services.Store
	)
	if cfg.Database.Enabled {
		dbClient, err = database.NewClient(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		store = services.NewStore(dbClient, masking.New())
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Warn("Database disabled; sessions and artifacts are not persisted")
	}

	// 4. Model registry
	mockMode := cfg.LLM.MockMode
	if !mockMode && !cfg.LLM.HasAnyKey() {
		slog.Warn("No model provider key resolved; running in mock mode")
		mockMode = true
	}
	registry, err := llm.NewRegistry(llm.RegistryConfig{
		MockMode:        mockMode,
		DefaultProvider: cfg.LLM.DefaultProvider,
		Providers:       providerSpecs(cfg.LLM),
	})
	if err != nil {
		slog.Error("Failed to build model registry", "error", err)
		os.Exit(1)
	}

	// 5. Script and browser runners
	runner, err := executor.NewRunner(cfg.Executor)
	if err != nil {
		slog.Error("Failed to initialize script executor", "error", err)
		os.Exit(1)
	}
	workspace := runner.Workspace()

	var controller sandbox.Controller
	if cfg.Sandbox.BaseURL != "" {
		controller = sandbox.NewClient(cfg.Sandbox.BaseURL, cfg.Sandbox.Token, cfg.Sandbox.RateLimitDelay)
	}
	sandboxManager, err := sandbox.NewManager(cfg.Sandbox, controller, workspace)
	if err != nil {
		slog.Error("Failed to initialize browser sandbox", "error", err)
		os.Exit(1)
	}
	browser := uirunner.NewRunner(sandboxManager, workspace, cfg.Executor.TimeoutSeconds)

	// 6. Agent dependency bundle
	tracker := session.NewTracker()
	deps := &agent.Deps{
		Bus:             b,
		Models:          registry,
		Sessions:        tracker,
		Fetcher:         docfetch.NewService(cfg.Docs),
		Runner:          runner,
		Browser:         browser,
		ProviderByAgent: agentProviders(cfg.LLM),
		LLMTimeout:      cfg.Pipeline.LLMTimeout,
		RAGTimeout:      cfg.Pipeline.RAGTimeout,
	}
	if store != nil {
		deps.OpenStore = func(context.Context) (agent.Store, error) { return store, nil }
		deps.Retriever = services.NewSnippetRetriever(store)
	}

	// 7. Agent factory: register the domain agents and the stream collector,
	// then start them on the bus.
	factory := agent.NewFactory(deps, agents.Constructors(),
		agent.WithStopTimeout(cfg.Pipeline.StopTimeout),
		agent.WithFlushInterval(cfg.Pipeline.FlushInterval))
	if err := factory.RegisterAll(); err != nil {
		slog.Error("Failed to register agents", "error", err)
		os.Exit(1)
	}
	if err := factory.RegisterStreamCollector(); err != nil {
		slog.Error("Failed to register stream collector", "error", err)
		os.Exit(1)
	}
	if err := factory.Start(ctx); err != nil {
		slog.Error("Failed to start agents", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent pipeline started")

	// 8. Pipeline service and notifications
	pipeline := services.NewPipelineService(b, tracker, store)

	slackSvc := slack.NewService(slack.ServiceConfig{
		Token:        slackToken(cfg.Slack),
		Channel:      cfg.Slack.Channel,
		DashboardURL: cfg.Server.DashboardURL,
	})
	if err := slackSvc.Start(b, tracker, store); err != nil {
		slog.Error("Failed to start Slack notifier", "error", err)
		os.Exit(1)
	}
	if slackSvc != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
	}

	// 9. Retention
	cleaner := cleanup.NewService(cfg.Retention, tracker, store, workspace)
	cleaner.Start(ctx)
	defer cleaner.Stop()

	// 10. HTTP server
	httpServer := api.NewServer(api.Deps{
		Config:   cfg.Server,
		Bus:      b,
		Pipeline: pipeline,
		Store:    store,
		Factory:  factory,
		Sandbox:  sandboxManager,
		DB:       dbClient,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("testrig started",
		"addr", cfg.Server.Host, "port", cfg.Server.Port,
		"mock_mode", mockMode,
		"persistence", store != nil)

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: stop accepting work, then drain the agents.
	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	factory.Stop(cfg.Pipeline.StopTimeout)
	slog.Info("Shutdown complete")
}

// providerSpecs converts resolved config providers into registry specs.
func providerSpecs(cfg *config.LLMConfig) []llm.ProviderSpec {
	resolved := cfg.ResolveProviders()
	specs := make([]llm.ProviderSpec, 0, len(resolved))
	for _, p := range resolved {
		specs = append(specs, llm.ProviderSpec{
			Name:    p.Name,
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Model:   p.Model,
		})
	}
	return specs
}

// agentProviders converts the per-agent provider assignment to typed keys.
func agentProviders(cfg *config.LLMConfig) map[models.AgentType]string {
	out := make(map[models.AgentType]string, len(cfg.AgentProviders))
	for at, provider := range cfg.AgentProviders {
		out[models.AgentType(at)] = provider
	}
	return out
}

// slackToken resolves the bot token when notifications are enabled.
func slackToken(cfg *config.SlackConfig) string {
	if cfg == nil || !cfg.Enabled || cfg.TokenEnv == "" {
		return ""
	}
	return os.Getenv(cfg.TokenEnv)
}
