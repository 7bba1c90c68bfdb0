// Package config loads and validates the application configuration: the
// storage layout, LLM provider bindings, vector store dimensions, data
// governance policy, and server/observability settings.
package config

// Config is the root configuration structure.
type Config struct {
	Version       int                 `yaml:"version"`
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	MultiModal    MultiModalConfig    `yaml:"multimodal"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Governance    GovernanceConfig    `yaml:"governance"`
	Grading       GradingConfig       `yaml:"grading"`
	Tools         ToolsConfig         `yaml:"tools"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig configures the on-disk layout of tracked SQLite databases.
type StorageConfig struct {
	// DataDir is the application data directory; all slots live under it.
	DataDir string `yaml:"data_dir"`

	// ActiveSlot is "a" or "b" — the slot the app currently reads from.
	ActiveSlot string `yaml:"active_slot"`
}

// LLMConfig configures the abstract LLMManager's concrete bindings.
type LLMConfig struct {
	DefaultModel      string `yaml:"default_model"`
	AnthropicAPIKey   string `yaml:"anthropic_api_key"`
	AnthropicBaseURL  string `yaml:"anthropic_base_url"`
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	EmbeddingProvider string `yaml:"embedding_provider"` // "openai" | "anthropic-vl"
	EmbeddingModel    string `yaml:"embedding_model"`
}

// MultiModalConfig configures the embedding service and vector store.
type MultiModalConfig struct {
	// DefaultStrategy picks between "vl" (direct VL embedding) and "text"
	// (OCR/VL-summary then text-embed) when a library has no prior ingest.
	DefaultStrategy      string `yaml:"default_strategy"`
	Dimension            int    `yaml:"dimension"`
	VLBatchSize          int    `yaml:"vl_batch_size"`
	SummaryConcurrency   int    `yaml:"summary_concurrency"`
	ChunkTokenBudget      int    `yaml:"chunk_token_budget"`
	RerankEnabled        bool   `yaml:"rerank_enabled"`
	RerankCandidateCount int    `yaml:"rerank_candidate_count"`
}

// WorkspaceConfig configures the multi-agent coordinator.
type WorkspaceConfig struct {
	InboxCapacity int    `yaml:"inbox_capacity"`
	DataDir       string `yaml:"data_dir"`

	// RedisAddr, when set, backs the workspace event bus with Redis pub-sub
	// instead of the in-process channel bus (multi-process scale-out).
	RedisAddr string `yaml:"redis_addr"`
}

// GovernanceConfig configures migrations and backup/restore jobs.
type GovernanceConfig struct {
	BackupDir          string `yaml:"backup_dir"`
	MinFreeDiskRatio   int    `yaml:"min_free_disk_ratio"` // default 2 (2x backup size)
	PurgeSweepInterval string `yaml:"purge_sweep_interval"` // cron expression
	PurgeGraceSeconds  int64  `yaml:"purge_grace_seconds"`
}

// GradingConfig configures the essay grading pipeline's default rubric set.
type GradingConfig struct {
	DefaultModeID string `yaml:"default_mode_id"`
}

// ToolsConfig configures the tool registry and bridged-tool timeouts.
type ToolsConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
	MaxToolRounds         int `yaml:"max_tool_rounds"`
}

// ServerConfig configures the optional HTTP boundary.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsAddr    string  `yaml:"metrics_addr"`
	TraceEndpoint  string  `yaml:"trace_endpoint"`
	TraceSampling  float64 `yaml:"trace_sampling"`
	ServiceName    string  `yaml:"service_name"`
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.ActiveSlot == "" {
		cfg.Storage.ActiveSlot = "a"
	}
	if cfg.LLM.DefaultModel == "" {
		cfg.LLM.DefaultModel = "claude-sonnet-4-5"
	}
	if cfg.MultiModal.DefaultStrategy == "" {
		cfg.MultiModal.DefaultStrategy = "vl"
	}
	if cfg.MultiModal.Dimension == 0 {
		cfg.MultiModal.Dimension = 768
	}
	if cfg.MultiModal.VLBatchSize == 0 {
		cfg.MultiModal.VLBatchSize = 8
	}
	if cfg.MultiModal.SummaryConcurrency == 0 {
		cfg.MultiModal.SummaryConcurrency = 10
	}
	if cfg.MultiModal.ChunkTokenBudget == 0 {
		cfg.MultiModal.ChunkTokenBudget = 2000
	}
	if cfg.MultiModal.RerankCandidateCount == 0 {
		cfg.MultiModal.RerankCandidateCount = 50
	}
	if cfg.Workspace.InboxCapacity == 0 {
		cfg.Workspace.InboxCapacity = 256
	}
	if cfg.Workspace.DataDir == "" {
		cfg.Workspace.DataDir = cfg.Storage.DataDir + "/workspaces"
	}
	if cfg.Governance.BackupDir == "" {
		cfg.Governance.BackupDir = cfg.Storage.DataDir + "/backups"
	}
	if cfg.Governance.MinFreeDiskRatio == 0 {
		cfg.Governance.MinFreeDiskRatio = 2
	}
	if cfg.Governance.PurgeSweepInterval == "" {
		cfg.Governance.PurgeSweepInterval = "@hourly"
	}
	if cfg.Tools.DefaultTimeoutSeconds == 0 {
		cfg.Tools.DefaultTimeoutSeconds = 15
	}
	if cfg.Tools.MaxToolRounds == 0 {
		cfg.Tools.MaxToolRounds = 5
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8787"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "nexus-study"
	}
}
