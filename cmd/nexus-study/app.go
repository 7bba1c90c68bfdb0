package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
	"github.com/haasonsaas/nexus-study/internal/config"
	"github.com/haasonsaas/nexus-study/internal/governance"
	"github.com/haasonsaas/nexus-study/internal/grading"
	"github.com/haasonsaas/nexus-study/internal/llmprovider"
	"github.com/haasonsaas/nexus-study/internal/multimodal"
	"github.com/haasonsaas/nexus-study/internal/observability"
	"github.com/haasonsaas/nexus-study/internal/tools"
	"github.com/haasonsaas/nexus-study/internal/vfs"
	"github.com/haasonsaas/nexus-study/internal/workspace"
)

const defaultConfigName = "nexus-study.yaml"

// resolveConfigPath honors --profile/NEXUS_STUDY_PROFILE ahead of an
// explicit --config flag, following the teacher's profile-over-flag
// precedence (cmd/nexus/main.go's resolveConfigPath), generalized to a
// single profile directory instead of per-channel profile roots.
func resolveConfigPath(path string) string {
	active := strings.TrimSpace(profileName)
	if active == "" {
		active = strings.TrimSpace(os.Getenv("NEXUS_STUDY_PROFILE"))
	}
	if active != "" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, ".nexus-study", "profiles", active+".yaml")
		}
	}
	if strings.TrimSpace(path) != "" {
		return path
	}
	if v := strings.TrimSpace(os.Getenv("NEXUS_STUDY_CONFIG")); v != "" {
		return v
	}
	return defaultConfigName
}

// App wires every package's top-level handle together from one loaded
// Config, mirroring the teacher's per-command "load config, build the
// pieces this command needs" pattern but centralized into one constructor
// since nexus-study's commands share almost all of it.
type App struct {
	Config     *config.Config
	Logger     *observability.Logger
	VFS        *vfs.Store
	ChatStore  *chatpipeline.Store
	Providers  *chatpipeline.ProviderRegistry
	ToolsReg   *tools.Registry
	Pipeline   *chatpipeline.Pipeline
	Workspace  *workspace.Manager
	GovRegistry *governance.Registry
	GovCoord   *governance.Coordinator
	Backup     *governance.Service
	Grading    *grading.Pipeline
	MultimodalStore *multimodal.MultimodalVectorStore
	Embedding       *multimodal.EmbeddingService
	Retriever       *multimodal.Retriever
	multimodalDB    *sql.DB
}

// loadApp reads configPath and constructs every component the CLI might
// need. Components whose prerequisites are absent (no LLM key configured,
// no workspace data dir writable) are left nil rather than failing the
// whole load, since commands like `vfs` or `doctor` don't need them.
func loadApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	vfsStore, err := vfs.Open(filepath.Join(cfg.Storage.DataDir, "vfs.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open vfs store: %w", err)
	}

	chatStore, err := chatpipeline.Open(filepath.Join(cfg.Storage.DataDir, "chat.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open chat store: %w", err)
	}

	providers := chatpipeline.NewProviderRegistry()
	if cfg.LLM.AnthropicAPIKey != "" {
		p, err := llmprovider.NewAnthropicProvider(llmprovider.AnthropicConfig{
			APIKey:       cfg.LLM.AnthropicAPIKey,
			BaseURL:      cfg.LLM.AnthropicBaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
		})
		if err != nil {
			return nil, fmt.Errorf("build anthropic provider: %w", err)
		}
		providers.Register(p, "claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5")
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		p, err := llmprovider.NewOpenAIProvider(llmprovider.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAIAPIKey,
			BaseURL: cfg.LLM.OpenAIBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("build openai provider: %w", err)
		}
		providers.Register(p, "gpt-4o", "gpt-4o-mini", "gpt-4.1")
	}

	toolsReg := tools.NewRegistry()
	toolsReg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		SearXNGURL: "",
	}))

	bus := chatpipeline.NewBus()
	pipeline := &chatpipeline.Pipeline{
		Store:     chatStore,
		Registry:  chatpipeline.NewRegistry(),
		Bus:       bus,
		Providers: providers,
		Tools:     toolsReg.Specs(),
		Resources: vfsStore.Resources,
		Logger:    logger,
		ToolLoop: &chatpipeline.ToolLoop{
			Runner:    &tools.Runner{Registry: toolsReg},
			MaxRounds: cfg.Tools.MaxToolRounds,
		},
	}

	gradingPipeline := &grading.Pipeline{
		Sessions:  chatStore,
		Essays:    vfsStore.Essays,
		Resources: vfsStore.Resources,
		Providers: providers,
		Registry:  pipeline.Registry,
		Bus:       bus,
		Logger:    logger,
	}

	govRegistry := governance.NewRegistry(
		&governance.Database{ID: governance.DatabaseVfs, Path: filepath.Join(cfg.Storage.DataDir, "vfs.db"), DB: vfsStore.DB(), Migrations: vfs.GovernanceMigrations()},
		&governance.Database{ID: governance.DatabaseChatV2, Path: filepath.Join(cfg.Storage.DataDir, "chat.db"), DB: chatStore.DB(), Migrations: chatpipeline.GovernanceMigrations()},
	)
	govCoordinator := governance.NewCoordinator(govRegistry)
	backupSvc := &governance.Service{
		Registry:   govRegistry,
		Jobs:       governance.NewMemoryStore(),
		Gate:       governance.NewJobGate(),
		AppVersion: version,
		DataDir:    cfg.Storage.DataDir,
		Logger:     logger,
	}

	mmDB, err := sql.Open("sqlite", filepath.Join(cfg.Storage.DataDir, "multimodal.db"))
	if err != nil {
		return nil, fmt.Errorf("open multimodal store: %w", err)
	}
	if _, err := mmDB.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		return nil, fmt.Errorf("configure multimodal store: %w", err)
	}
	mmStore := multimodal.NewMultimodalVectorStore(mmDB)

	var embedding *multimodal.EmbeddingService
	var retriever *multimodal.Retriever
	if cfg.LLM.OpenAIAPIKey != "" {
		textEmbedder, err := multimodal.NewOpenAITextEmbedder(multimodal.OpenAITextEmbedderConfig{
			APIKey:  cfg.LLM.OpenAIAPIKey,
			BaseURL: cfg.LLM.OpenAIBaseURL,
			Model:   cfg.LLM.EmbeddingModel,
		})
		if err != nil {
			return nil, fmt.Errorf("build text embedder: %w", err)
		}
		embedding = multimodal.NewEmbeddingService(nil, textEmbedder, nil, multimodal.ServiceConfig{
			VLBatchSize:        cfg.MultiModal.VLBatchSize,
			SummaryConcurrency: cfg.MultiModal.SummaryConcurrency,
			ChunkTokenBudget:   cfg.MultiModal.ChunkTokenBudget,
		})
		retriever = multimodal.NewRetriever(mmStore, nil, multimodal.RetrievalConfig{
			RerankEnabled:        cfg.MultiModal.RerankEnabled,
			RerankCandidateCount: cfg.MultiModal.RerankCandidateCount,
		})
	}

	workspaceMgr, err := workspace.NewManager(context.Background(), workspace.Config{
		DataDir:       cfg.Workspace.DataDir,
		InboxCapacity: cfg.Workspace.InboxCapacity,
		RedisAddr:     cfg.Workspace.RedisAddr,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build workspace manager: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		VFS:         vfsStore,
		ChatStore:   chatStore,
		Providers:   providers,
		ToolsReg:    toolsReg,
		Pipeline:    pipeline,
		Workspace:   workspaceMgr,
		GovRegistry: govRegistry,
		GovCoord:    govCoordinator,
		Backup:      backupSvc,
		Grading:     gradingPipeline,
		MultimodalStore: mmStore,
		Embedding:       embedding,
		Retriever:       retriever,
		multimodalDB:    mmDB,
	}, nil
}

// openRestoredDB opens the sqlite file RunRestore just wrote into the
// inactive slot, so it can apply pragmas/verify before the caller swaps
// slots on next launch.
func openRestoredDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases every open database handle.
func (a *App) Close() error {
	var firstErr error
	if a.VFS != nil {
		if err := a.VFS.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.ChatStore != nil {
		if err := a.ChatStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Workspace != nil {
		if err := a.Workspace.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.multimodalDB != nil {
		if err := a.multimodalDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
