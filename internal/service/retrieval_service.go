package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
	"github.com/xxxsen/casememo/internal/repo"
)

const contextHeader = "Casos similares ya resueltos en el taller (referencia, verificar antes de aplicar):"

type RetrievalConfig struct {
	TopK            int
	MinScore        float32
	MinQueryChars   int
	MaxContextChars int
	MaxEntryChars   int
}

type RetrievalService struct {
	embedder ai.IEmbedder
	cases    repo.ICaseRepo
	cfg      RetrievalConfig
}

func NewRetrievalService(embedder ai.IEmbedder, cases repo.ICaseRepo, cfg RetrievalConfig) *RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.72
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = 2400
	}
	if cfg.MaxEntryChars <= 0 {
		cfg.MaxEntryChars = 600
	}
	return &RetrievalService{embedder: embedder, cases: cases, cfg: cfg}
}

// Search returns the cases closest to query. k and minScore fall back to the
// configured defaults when not positive.
func (s *RetrievalService) Search(ctx context.Context, query string, k int, minScore float32) ([]model.ScoredCase, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < s.cfg.MinQueryChars || query == "" {
		return nil, nil
	}
	if k <= 0 {
		k = s.cfg.TopK
	}
	if minScore <= 0 {
		minScore = s.cfg.MinScore
	}
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.cases.TopK(ctx, vec, k, minScore)
}

// Retrieve never fails: without context the assistant still answers.
func (s *RetrievalService) Retrieve(ctx context.Context, query string, k int, minScore float32) string {
	items, err := s.Search(ctx, query, k, minScore)
	if err != nil {
		logutil.GetLogger(ctx).Warn("retrieval failed, answering without context", zap.Error(err))
		return ""
	}
	return s.FormatContext(items)
}

func (s *RetrievalService) FormatContext(items []model.ScoredCase) string {
	return FormatContext(items, s.cfg.MaxContextChars, s.cfg.MaxEntryChars)
}

// FormatContext renders matches as a numbered block. Entries that would push
// the block past maxChars runes are left out.
func FormatContext(items []model.ScoredCase, maxChars, maxEntryChars int) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(contextHeader)
	used := utf8.RuneCountInString(contextHeader)
	written := 0
	for _, item := range items {
		entry := formatEntry(written+1, item, maxEntryChars)
		size := utf8.RuneCountInString(entry) + 1
		if maxChars > 0 && used+size > maxChars {
			continue
		}
		sb.WriteByte('\n')
		sb.WriteString(entry)
		used += size
		written++
	}
	if written == 0 {
		return ""
	}
	return sb.String()
}

func formatEntry(n int, item model.ScoredCase, maxEntryChars int) string {
	head := fmt.Sprintf("[%d] %s", n, item.DisplayLabel)
	if device := item.Device(); device != "" {
		head += " | " + device
	}
	head += fmt.Sprintf(" | score %.2f", item.Score)
	if item.Kind() == model.CaseKindArticle {
		head += " (verified article)"
	}
	body := collapseSpaces(item.ContentText)
	if maxEntryChars > 0 && utf8.RuneCountInString(body) > maxEntryChars {
		body = truncateRunes(body, maxEntryChars) + "..."
	}
	return head + "\n    " + body
}
