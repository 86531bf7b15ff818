package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ChamsBouzaiene/rowboat/internal/agent"
	"github.com/ChamsBouzaiene/rowboat/internal/chat"
	"github.com/ChamsBouzaiene/rowboat/internal/config"
	"github.com/ChamsBouzaiene/rowboat/internal/dbconn"
	"github.com/ChamsBouzaiene/rowboat/internal/provider"
	"github.com/ChamsBouzaiene/rowboat/internal/scheduler"
	"github.com/ChamsBouzaiene/rowboat/internal/session"
	"github.com/ChamsBouzaiene/rowboat/internal/telemetry"
	"github.com/ChamsBouzaiene/rowboat/internal/tool"
	"github.com/ChamsBouzaiene/rowboat/internal/tools/database"
	"github.com/ChamsBouzaiene/rowboat/internal/tools/filesystem"
	"github.com/ChamsBouzaiene/rowboat/internal/tools/shell"
	"github.com/ChamsBouzaiene/rowboat/internal/tools/web"
)

// runtimeEnv bundles everything a REPL mode needs.
type runtimeEnv struct {
	workDir    string
	cfg        *config.Config
	cfgManager *config.Manager
	log        *telemetry.Logger
	dbs        *dbconn.Manager
	catalog    *database.Catalog
	client     *agent.Client
	store      *session.Store
	titler     *session.Titler
	prov       provider.Provider
	watcher    *config.Watcher
}

func defaultModel(providerName string) string {
	switch providerName {
	case "anthropic":
		return "claude-sonnet-4-20250514"
	case "openai":
		return "gpt-4o"
	default:
		return "gemini-2.0-flash"
	}
}

func apiKeyFromEnv(providerName string) string {
	switch providerName {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return os.Getenv("GEMINI_API_KEY")
	}
}

func prepareRuntimeEnv(ctx context.Context, workDirFlag, providerFlag, modelFlag string) (*runtimeEnv, error) {
	cfgManager, err := config.NewManager()
	if err != nil {
		return nil, err
	}
	cfg, err := cfgManager.Load()
	if err != nil {
		return nil, err
	}

	// Flags beat the config file; environment fills the gaps.
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if cfg.Provider == "" {
		cfg.Provider = os.Getenv("ROWBOAT_PROVIDER")
	}
	if cfg.Provider == "" {
		cfg.Provider = "gemini"
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel(cfg.Provider)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = apiKeyFromEnv(cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no API key: set it in %s or the provider's environment variable", cfgManager.Path())
	}

	workDir := workDirFlag
	if workDir == "" {
		workDir = cfg.WorkDir
	}
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	logger := telemetry.New(telemetry.ParseLevel(cfg.DebugLevel), telemetry.NewWriterSink(os.Stderr))
	if err := os.MkdirAll(cfgManager.Dir(), 0755); err == nil {
		if sink, err := telemetry.NewFileSink(filepath.Join(cfgManager.Dir(), "telemetry.ndjson")); err == nil {
			logger.AddSink(sink)
		}
	}

	prov, err := provider.New(ctx, provider.Options{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warning(telemetry.EventNetwork, "provider", "retrying model call", map[string]any{
				"attempt": attempt,
				"delay":   delay.String(),
				"error":   err.Error(),
			})
		},
	})
	if err != nil {
		return nil, err
	}

	dbs := dbconn.NewManager()
	catalog, err := database.NewCatalog()
	if err != nil {
		dbs.CloseAll()
		return nil, err
	}

	registry := tool.NewRegistry()
	registry.MustRegister(
		database.NewConnect(dbs),
		database.NewSchemaDiscovery(dbs, catalog),
		database.NewTableDetails(dbs, catalog),
		database.NewSearch(catalog),
		database.NewSQLExecute(dbs, catalog),
		database.NewExport(dbs, workDir),
		filesystem.NewReadFile(workDir),
		filesystem.NewWriteFile(workDir),
		filesystem.NewListDirectory(workDir),
		shell.NewExecute(workDir),
		web.NewFetch(),
	)

	toolTimeout := 30 * time.Second
	if cfg.ToolTimeoutSeconds > 0 {
		toolTimeout = time.Duration(cfg.ToolTimeoutSeconds) * time.Second
	}
	client := agent.New(prov, registry, logger, agent.Config{
		MaxSessionTurns: cfg.MaxSessionTurns,
		Compression:     chat.CompressionConfig{Threshold: cfg.CompressionThreshold},
		Scheduler: scheduler.Config{
			DefaultTimeout: toolTimeout,
			Timeouts: map[string]time.Duration{
				"sql_execute":   2 * time.Minute,
				"shell_execute": 3 * time.Minute,
				"web_fetch":     45 * time.Second,
			},
		},
	})

	env := &runtimeEnv{
		workDir:    workDir,
		cfg:        cfg,
		cfgManager: cfgManager,
		log:        logger,
		dbs:        dbs,
		catalog:    catalog,
		client:     client,
		store:      session.NewStore(cfgManager.SessionsDir()),
		titler:     session.NewTitler(prov),
		prov:       prov,
	}

	// Hot-reload the tunables that are safe to change mid-session.
	if watcher, err := cfgManager.Watch(env.applyReload); err == nil {
		env.watcher = watcher
	} else {
		logger.Warning(telemetry.EventSystem, "config", "config watcher unavailable",
			map[string]any{"error": err.Error()})
	}
	return env, nil
}

func (env *runtimeEnv) applyReload(cfg *config.Config) {
	env.log.SetLevel(telemetry.ParseLevel(cfg.DebugLevel))
	env.client.SetMaxSessionTurns(cfg.MaxSessionTurns)
	env.client.SetCompressionThreshold(cfg.CompressionThreshold)
	env.log.Info(telemetry.EventSystem, "config", "configuration reloaded", map[string]any{
		"debug_level":       cfg.DebugLevel,
		"max_session_turns": cfg.MaxSessionTurns,
	})
}

func (env *runtimeEnv) Close() {
	if env.watcher != nil {
		env.watcher.Stop()
	}
	env.catalog.Close()
	env.dbs.CloseAll()
	env.log.Close()
}
