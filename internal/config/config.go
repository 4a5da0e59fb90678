package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port                  int                `json:"port"`
	LogConfig             logger.LogConfig   `json:"log_config"`
	// CORSAllowlist holds the browser origins allowed to call the api, for
	// example "https://taller.example.com". Empty, or an entry of "*", allows
	// any origin.
	CORSAllowlist         []string           `json:"cors_allowlist"`
	Database              DatabaseConfig     `json:"database"`
	CaseStore             CaseStoreConfig    `json:"case_store"`
	Embedding             EmbeddingConfig    `json:"embedding"`
	Retrieval             RetrievalConfig    `json:"retrieval"`
	Index                 IndexConfig        `json:"index"`
	Chat                  ChatConfig         `json:"chat"`
	FileStore             FileStoreConfig    `json:"file_store"`
	EmbeddingCacheCleanup CacheCleanupConfig `json:"embedding_cache_cleanup"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type CaseStoreConfig struct {
	// postgres or memory
	Type string `json:"type"`
}

type EmbeddingConfig struct {
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	Dimension     int         `json:"dimension"`
	Data          interface{} `json:"data"`
	LRUSize       int         `json:"lru_size"`
	LRUTTLSeconds int         `json:"lru_ttl_seconds"`
	DBCache       bool        `json:"db_cache"`
}

type RetrievalConfig struct {
	TopK            int     `json:"top_k"`
	MinScore        float32 `json:"min_score"`
	MinQueryChars   int     `json:"min_query_chars"`
	MaxContextChars int     `json:"max_context_chars"`
	MaxEntryChars   int     `json:"max_entry_chars"`
}

type IndexConfig struct {
	TerminalStatuses  []string `json:"terminal_statuses"`
	MinDiagnosisChars int      `json:"min_diagnosis_chars"`
	Workers           int      `json:"workers"`
	QueueSize         int      `json:"queue_size"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	// MaxRetries bounds retries of transient embedding failures. Unset means
	// 3, a negative value disables retries.
	MaxRetries        int      `json:"max_retries"`
	PageSize          int      `json:"page_size"`
	BulkCron          string   `json:"bulk_cron"`
	RepairTable       string   `json:"repair_table"`
	ArticleTable      string   `json:"article_table"`
}

type ChatConfig struct {
	ProbeTimeoutSeconds  int               `json:"probe_timeout_seconds"`
	StreamTimeoutSeconds int               `json:"stream_timeout_seconds"`
	MaxHistoryTurns      int               `json:"max_history_turns"`
	MaxTurnChars         int               `json:"max_turn_chars"`
	RateLimitSeconds     int               `json:"rate_limit_seconds"`
	Candidates           []CandidateConfig `json:"candidates"`
}

type CandidateConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	CostTier string      `json:"cost_tier"`
	Vision   bool        `json:"vision"`
	Data     interface{} `json:"data"`
}

type FileStoreConfig struct {
	Type      string      `json:"type"`
	PublicURL string      `json:"public_url"`
	Data      interface{} `json:"data"`
}

type CacheCleanupConfig struct {
	Cron       string `json:"cron"`
	MaxAgeDays int    `json:"max_age_days"`
}

// DefaultTerminalStatuses are the repair states after which a ticket is
// considered closed and its diagnosis trustworthy.
var DefaultTerminalStatuses = []string{"repaired", "delivered", "closed"}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}

	cfg.CaseStore.Type = strings.ToLower(strings.TrimSpace(cfg.CaseStore.Type))
	if cfg.CaseStore.Type == "" {
		cfg.CaseStore.Type = "postgres"
	}
	switch cfg.CaseStore.Type {
	case "postgres":
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres case store")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	case "memory":
	default:
		return fmt.Errorf("case_store.type must be postgres or memory")
	}

	if cfg.Embedding.Provider == "" {
		return fmt.Errorf("embedding.provider is required")
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension is required")
	}

	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.MinScore <= 0 {
		cfg.Retrieval.MinScore = 0.72
	}
	if cfg.Retrieval.MinQueryChars <= 0 {
		cfg.Retrieval.MinQueryChars = 3
	}
	if cfg.Retrieval.MaxContextChars <= 0 {
		cfg.Retrieval.MaxContextChars = 2400
	}
	if cfg.Retrieval.MaxEntryChars <= 0 {
		cfg.Retrieval.MaxEntryChars = 600
	}

	if len(cfg.Index.TerminalStatuses) == 0 {
		cfg.Index.TerminalStatuses = DefaultTerminalStatuses
	}
	if cfg.Index.MinDiagnosisChars <= 0 {
		cfg.Index.MinDiagnosisChars = 5
	}
	if cfg.Index.Workers <= 0 {
		cfg.Index.Workers = 2
	}
	if cfg.Index.QueueSize <= 0 {
		cfg.Index.QueueSize = 256
	}
	if cfg.Index.TimeoutSeconds <= 0 {
		cfg.Index.TimeoutSeconds = 30
	}
	switch {
	case cfg.Index.MaxRetries == 0:
		cfg.Index.MaxRetries = 3
	case cfg.Index.MaxRetries < 0:
		cfg.Index.MaxRetries = 0
	}
	if cfg.Index.PageSize <= 0 {
		cfg.Index.PageSize = 200
	}
	if cfg.Index.RepairTable == "" {
		cfg.Index.RepairTable = "repairs"
	}
	if cfg.Index.ArticleTable == "" {
		cfg.Index.ArticleTable = "knowledge_articles"
	}

	if cfg.Chat.ProbeTimeoutSeconds <= 0 {
		cfg.Chat.ProbeTimeoutSeconds = 8
	}
	if cfg.Chat.StreamTimeoutSeconds <= 0 {
		cfg.Chat.StreamTimeoutSeconds = 120
	}
	if cfg.Chat.MaxHistoryTurns <= 0 {
		cfg.Chat.MaxHistoryTurns = 10
	}
	if cfg.Chat.MaxTurnChars <= 0 {
		cfg.Chat.MaxTurnChars = 2000
	}
	if len(cfg.Chat.Candidates) == 0 {
		return fmt.Errorf("chat.candidates is required")
	}
	for i := range cfg.Chat.Candidates {
		item := &cfg.Chat.Candidates[i]
		if item.Provider == "" || item.Model == "" {
			return fmt.Errorf("chat.candidates[%d]: provider and model are required", i)
		}
		if item.Name == "" {
			item.Name = item.Provider + "/" + item.Model
		}
		if item.CostTier == "" {
			item.CostTier = "free"
		}
	}

	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	switch cfg.FileStore.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("file_store.type must be local or s3")
	}

	if cfg.EmbeddingCacheCleanup.MaxAgeDays <= 0 {
		cfg.EmbeddingCacheCleanup.MaxAgeDays = 30
	}
	return nil
}
