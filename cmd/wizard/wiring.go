package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/agent"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/buildinfo"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/compress"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/config"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/connwatch"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/httpkit"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/llm"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/mcp"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prefs"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/usage"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/weekend"
)

// databaseFile is the SQLite file under data_dir shared by the cycle
// ledger and the sqlite preference backend.
const databaseFile = "wizard.db"

// mcpConnectTimeout bounds the handshake and tool listing per server.
const mcpConnectTimeout = 30 * time.Second

// runtime holds everything a command needs to run cycles. close
// releases it in reverse order of construction.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *llm.MultiClient
	registry *tools.Registry
	loop     *agent.Loop
	prefs    prefs.Store
	ledger   *usage.Store

	closers []func() error
}

func (r *runtime) onClose(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("shutdown step failed", "error", err)
		}
	}
	r.closers = nil
}

// buildRuntime wires the model client, tool registry (builtin and MCP),
// preference store, cycle ledger and agent loop from cfg. On error
// everything opened so far is closed.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.close()
			rt = nil
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	rt.client = createLLMClient(cfg, logger)

	rt.registry, err = buildRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}
	attachMCPServers(ctx, rt, cfg.MCP.Servers)

	rt.prefs, err = openPreferences(rt, cfg)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(dataPath(cfg.DataDir, databaseFile))
	if err != nil {
		return nil, err
	}
	rt.onClose(db.Close)
	rt.ledger, err = usage.NewStore(db, logger)
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	if cfg.Preferences.Backend == "sqlite" {
		store, err := prefs.NewSQLiteStore(db)
		if err != nil {
			return nil, fmt.Errorf("open preference store: %w", err)
		}
		rt.prefs = store
	}

	systemPrompt, err := loadSystemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	rt.loop = agent.NewLoop(logger, rt.client, rt.registry, agent.Config{
		Model:           cfg.Models.Default,
		Temperature:     cfg.Models.Temperature,
		TopP:            cfg.Models.TopP,
		MaxTokens:       cfg.Models.MaxTokens,
		DecisionTimeout: cfg.Agent.DecisionTimeout(),
		MaxPromptChars:  cfg.Agent.MaxPromptChars,
		SystemPrompt:    systemPrompt,
		Genres:          cfg.Preferences.Genres,
		Policy: agent.LoopPolicy{
			MaxSteps:           cfg.Agent.MaxSteps,
			AllowRepeats:       cfg.Agent.AllowRepeats,
			InferRequiredTools: cfg.Agent.InferRequiredTools,
			MalformedRetries:   cfg.Agent.MalformedRetries,
		},
	})
	if cfg.Agent.MaxPromptChars > 0 {
		rt.loop.SetCompressor(newCompressor(cfg, rt.client, logger))
	}
	rt.loop.SetPreferences(rt.prefs)
	rt.loop.AddObserver(rt.ledger)

	logger.Info("agent ready",
		"model", cfg.Models.Default,
		"provider", cfg.ProviderFor(cfg.Models.Default),
		"tools", rt.registry.Len(),
		"max_steps", rt.loop.Policy().MaxSteps,
		"preferences", cfg.Preferences.Backend,
	)
	return rt, nil
}

// createLLMClient builds a multi-provider client. Ollama is always
// available; the OpenAI-compatible provider is added when an API key or
// base URL is configured and then serves unmapped models.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	ollamaClient := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)

	var fallback llm.Client = ollamaClient
	var openaiClient *llm.OpenAIClient
	if cfg.Models.OpenAI.APIKey != "" || cfg.Models.OpenAI.BaseURL != "" {
		openaiClient = llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL: cfg.Models.OpenAI.BaseURL,
			APIKey:  cfg.Models.OpenAI.APIKey,
		}, logger)
		fallback = openaiClient
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider("ollama", ollamaClient)
	if openaiClient != nil {
		multi.AddProvider("openai", openaiClient)
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	logger.Debug("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default),
	)
	return multi
}

// newFetcher builds the retrying fetcher used by the builtin tools.
func newFetcher(cfg config.ToolsConfig, logger *slog.Logger) *httpkit.Fetcher {
	return httpkit.NewFetcher(
		httpkit.WithHTTPClient(httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithUserAgent(buildinfo.UserAgent()),
			httpkit.WithLogger(logger),
		)),
		httpkit.WithDefaults(cfg.Timeout(), cfg.RetryCount),
		httpkit.WithBaseDelay(cfg.RetryBaseDelay()),
		httpkit.WithJitter(cfg.RetryJitter),
		httpkit.WithFetchLogger(logger),
	)
}

// buildRegistry creates the registry with the builtin weekend tools
// when they are enabled.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)
	if !cfg.Tools.Weekend.Enabled {
		return registry, nil
	}
	svc := weekend.New(newFetcher(cfg.Tools, logger), cfg.Tools.Weekend, logger)
	if err := svc.Register(registry); err != nil {
		return nil, fmt.Errorf("register weekend tools: %w", err)
	}
	return registry, nil
}

// attachMCPServers connects each configured MCP server and bridges its
// tools into the registry. A server that cannot be reached is logged
// and skipped so one bad entry does not keep the agent from starting.
func attachMCPServers(ctx context.Context, rt *runtime, servers []config.MCPServerConfig) {
	for _, sc := range servers {
		log := rt.logger.With("mcp_server", sc.Name)

		transport, err := mcp.NewTransport(sc.Transport,
			mcp.StdioConfig{Command: sc.Command, Args: sc.Args, Env: sc.Env, Logger: log},
			mcp.HTTPConfig{URL: sc.URL, Headers: sc.Headers, Logger: log},
		)
		if err != nil {
			log.Error("mcp server skipped", "error", err)
			continue
		}
		client := mcp.NewClient(sc.Name, transport, log)
		rt.onClose(client.Close)

		connectCtx, cancel := context.WithTimeout(ctx, mcpConnectTimeout)
		err = client.Initialize(connectCtx)
		if err == nil {
			var n int
			n, err = mcp.BridgeTools(connectCtx, client, rt.registry, mcp.BridgeOptions{
				Prefix:  sc.ToolPrefix,
				Include: sc.IncludeTools,
				Exclude: sc.ExcludeTools,
			}, log)
			if err == nil {
				log.Info("mcp server attached", "tools", n)
			}
		}
		cancel()
		if err != nil {
			log.Error("mcp server unavailable", "error", err)
		}
	}
}

// watchProviders starts a reachability watcher for every provider the
// config routes models to.
func watchProviders(ctx context.Context, rt *runtime) *connwatch.Manager {
	watch := connwatch.NewManager(rt.logger)
	sched := connwatch.DefaultSchedule()
	sched.PollInterval = rt.cfg.Models.HealthPollInterval()

	for _, name := range rt.cfg.Providers() {
		client, ok := rt.client.Provider(name)
		if !ok {
			rt.logger.Warn("provider not configured, not watching", "provider", name)
			continue
		}
		if _, err := watch.Watch(ctx, connwatch.Target{
			Name:     name,
			Probe:    client.Ping,
			Schedule: sched,
			OnChange: func(s connwatch.Status) {
				rt.logger.Debug("provider status changed", "provider", s.Name, "ready", s.Ready)
			},
		}); err != nil {
			rt.logger.Error("provider watch failed", "provider", name, "error", err)
		}
	}
	rt.onClose(func() error {
		watch.Stop()
		return nil
	})
	return watch
}

// openPreferences returns the configured preference store. The sqlite
// backend is opened later, once the shared database exists.
func openPreferences(rt *runtime, cfg *config.Config) (prefs.Store, error) {
	switch cfg.Preferences.Backend {
	case "file":
		path := dataPath(cfg.DataDir, cfg.Preferences.Path)
		rt.logger.Debug("file preference store", "path", path)
		return prefs.NewFileStore(path), nil
	case "none", "sqlite":
		return prefs.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown preference backend %q", cfg.Preferences.Backend)
	}
}

func newCompressor(cfg *config.Config, client llm.Client, logger *slog.Logger) *compress.Compressor {
	model := cfg.Agent.Compression.Model
	if model == "" {
		model = cfg.Models.Default
	}
	return compress.New(client, compress.Config{
		Model:       model,
		Temperature: cfg.Agent.Compression.Temperature,
		MaxTokens:   cfg.Agent.Compression.MaxTokens,
		Timeout:     cfg.Agent.DecisionTimeout(),
	}, logger)
}

// openDatabase opens a SQLite database in WAL mode.
func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// loadSystemPrompt reads the custom system prompt file. An empty path
// means the builtin directive.
func loadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("system prompt file not found: %s", path)
	}
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}

// dataPath resolves name relative to dataDir unless it is absolute.
func dataPath(dataDir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dataDir, name)
}
