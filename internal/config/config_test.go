package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{
		"port": 8080,
		"database": {"host": "db", "user": "shop", "dbname": "shop"},
		"embedding": {"provider": "hugot", "model": "sentence-transformers/all-MiniLM-L6-v2", "dimension": 384},
		"chat": {"candidates": [
			{"provider": "openrouter", "model": "meta-llama/llama-3.3-70b-instruct:free"},
			{"name": "gemini-paid", "provider": "gemini", "model": "gemini-2.0-flash", "cost_tier": "paid", "vision": true}
		]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, "postgres", cfg.CaseStore.Type)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, 3, cfg.Retrieval.TopK)
	require.InDelta(t, 0.72, cfg.Retrieval.MinScore, 1e-6)
	require.Equal(t, DefaultTerminalStatuses, cfg.Index.TerminalStatuses)
	require.Equal(t, "repairs", cfg.Index.RepairTable)
	require.Equal(t, "knowledge_articles", cfg.Index.ArticleTable)
	require.Equal(t, 3, cfg.Index.MaxRetries)
	require.Empty(t, cfg.CORSAllowlist)
	require.Equal(t, 8, cfg.Chat.ProbeTimeoutSeconds)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, 30, cfg.EmbeddingCacheCleanup.MaxAgeDays)

	require.Equal(t, "openrouter/meta-llama/llama-3.3-70b-instruct:free", cfg.Chat.Candidates[0].Name)
	require.Equal(t, "free", cfg.Chat.Candidates[0].CostTier)
	require.Equal(t, "gemini-paid", cfg.Chat.Candidates[1].Name)
	require.Equal(t, "paid", cfg.Chat.Candidates[1].CostTier)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"no port", `{}`, "port is required"},
		{"no database", `{"port": 1, "embedding": {"provider": "hugot", "dimension": 384}}`, "database"},
		{"bad store", `{"port": 1, "case_store": {"type": "redis"}}`, "case_store.type"},
		{"no dimension", `{"port": 1, "case_store": {"type": "memory"}, "embedding": {"provider": "hugot"}}`, "embedding.dimension"},
		{"no candidates", `{"port": 1, "case_store": {"type": "memory"}, "embedding": {"provider": "hugot", "dimension": 384}}`, "chat.candidates"},
		{"candidate without model", `{"port": 1, "case_store": {"type": "memory"}, "embedding": {"provider": "hugot", "dimension": 384}, "chat": {"candidates": [{"provider": "gemini"}]}}`, "chat.candidates[0]"},
		{"bad file store", `{"port": 1, "case_store": {"type": "memory"}, "embedding": {"provider": "hugot", "dimension": 384}, "chat": {"candidates": [{"provider": "gemini", "model": "m"}]}, "file_store": {"type": "ftp"}}`, "file_store.type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
