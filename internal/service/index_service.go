package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/repo"
)

type ISourceRepo interface {
	ListClosedRepairs(ctx context.Context, statuses []string, afterID int64, limit uint) ([]model.Repair, error)
	ListArticles(ctx context.Context, afterID int64, limit uint) ([]model.Article, error)
}

type IndexConfig struct {
	TerminalStatuses  []string
	MinDiagnosisChars int
	MaxRetries        int
	RetryInterval     time.Duration
	PageSize          int
}

type IndexOutcome string

const (
	IndexOutcomeIndexed   IndexOutcome = "indexed"
	IndexOutcomeUnchanged IndexOutcome = "unchanged"
	IndexOutcomeSkipped   IndexOutcome = "skipped"
)

type BulkResult struct {
	Repairs   int           `json:"repairs"`
	Articles  int           `json:"articles"`
	Indexed   int           `json:"indexed"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed"`
}

func (r *BulkResult) count(outcome IndexOutcome) {
	switch outcome {
	case IndexOutcomeIndexed:
		r.Indexed++
	case IndexOutcomeUnchanged:
		r.Unchanged++
	case IndexOutcomeSkipped:
		r.Skipped++
	}
}

// IndexService turns repairs and articles into case records. Bulk and
// incremental indexing share the same path through embedAndUpsert.
type IndexService struct {
	embedder ai.IEmbedder
	cases    repo.ICaseRepo
	sources  ISourceRepo
	cfg      IndexConfig
	terminal map[string]struct{}
	now      func() time.Time
}

func NewIndexService(embedder ai.IEmbedder, cases repo.ICaseRepo, sources ISourceRepo, cfg IndexConfig) *IndexService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	terminal := make(map[string]struct{}, len(cfg.TerminalStatuses))
	for _, status := range cfg.TerminalStatuses {
		terminal[normalizeStatus(status)] = struct{}{}
	}
	return &IndexService{
		embedder: embedder,
		cases:    cases,
		sources:  sources,
		cfg:      cfg,
		terminal: terminal,
		now:      time.Now,
	}
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// IsEligible reports whether a repair is closed and carries a usable
// diagnosis.
func (s *IndexService) IsEligible(r *model.Repair) bool {
	if r == nil {
		return false
	}
	if _, ok := s.terminal[normalizeStatus(r.Status)]; !ok {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(r.Diagnosis)) >= s.cfg.MinDiagnosisChars
}

func (s *IndexService) IndexRepair(ctx context.Context, r *model.Repair) (IndexOutcome, error) {
	if r == nil {
		return IndexOutcomeSkipped, nil
	}
	if !s.IsEligible(r) {
		logutil.GetLogger(ctx).Debug("repair not eligible for indexing",
			zap.Int64("repair_id", r.ID), zap.String("status", r.Status))
		return IndexOutcomeSkipped, nil
	}
	return s.embedAndUpsert(ctx, NewRepairRecord(r))
}

func (s *IndexService) IndexArticle(ctx context.Context, a *model.Article) (IndexOutcome, error) {
	if a == nil {
		return IndexOutcomeSkipped, nil
	}
	if strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.Body) == "" {
		return IndexOutcomeSkipped, nil
	}
	return s.embedAndUpsert(ctx, NewArticleRecord(a))
}

func (s *IndexService) Delete(ctx context.Context, sourceKey string) error {
	if _, _, err := ParseSourceKey(sourceKey); err != nil {
		return err
	}
	if err := s.cases.DeleteByKey(ctx, sourceKey); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("case removed from index", zap.String("source_key", sourceKey))
	return nil
}

func (s *IndexService) Count(ctx context.Context) (int64, error) {
	return s.cases.Count(ctx)
}

func (s *IndexService) embedAndUpsert(ctx context.Context, record *model.CaseRecord) (IndexOutcome, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("source_key", record.SourceKey))
	existing, err := s.cases.GetByKey(ctx, record.SourceKey)
	if err != nil && !appErr.IsNotFound(err) {
		return "", fmt.Errorf("load case %s: %w", record.SourceKey, err)
	}
	if existing != nil &&
		existing.ContentHash == record.ContentHash &&
		existing.DisplayLabel == record.DisplayLabel &&
		len(existing.Embedding) == s.cases.Dimension() {
		return IndexOutcomeUnchanged, nil
	}

	vec, err := s.embedWithRetry(ctx, record.ContentText)
	if err != nil {
		return "", err
	}
	now := s.now().UnixMilli()
	record.Embedding = vec
	record.Ctime = now
	record.Mtime = now
	if err := s.cases.Upsert(ctx, record); err != nil {
		return "", fmt.Errorf("upsert case %s: %w", record.SourceKey, err)
	}
	logger.Debug("case indexed")
	return IndexOutcomeIndexed, nil
}

func (s *IndexService) embedWithRetry(ctx context.Context, content string) ([]float32, error) {
	var vec []float32
	op := func() error {
		res, err := s.embedder.Embed(ctx, content, ai.TaskRetrievalDocument)
		if err != nil {
			if isTransientEmbedError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vec = res
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.cfg.MaxRetries, 0))), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logutil.GetLogger(ctx).Warn("embedding failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func isTransientEmbedError(err error) bool {
	if errors.Is(err, ai.ErrEmptyInput) || appErr.IsDimensionMismatch(err) {
		return false
	}
	return errors.Is(err, ai.ErrEmbeddingUnavailable)
}

// RebuildAll walks every closed repair and every article and indexes them.
// Records that fail to embed are logged and skipped. A dimension mismatch
// stops the pass since every following record would fail the same way.
func (s *IndexService) RebuildAll(ctx context.Context) (*BulkResult, error) {
	if s.sources == nil {
		return nil, fmt.Errorf("%w: source repository not configured", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx)
	start := s.now()
	result := &BulkResult{}
	limit := uint(s.cfg.PageSize)

	var afterID int64
	for {
		items, err := s.sources.ListClosedRepairs(ctx, s.cfg.TerminalStatuses, afterID, limit)
		if err != nil {
			return result, fmt.Errorf("list repairs: %w", err)
		}
		for i := range items {
			item := &items[i]
			afterID = item.ID
			result.Repairs++
			outcome, err := s.IndexRepair(ctx, item)
			if err := s.handleBulkError(ctx, result, RepairSourceKey(item.ID), err); err != nil {
				return result, err
			}
			result.count(outcome)
		}
		if len(items) < int(limit) {
			break
		}
	}

	afterID = 0
	for {
		items, err := s.sources.ListArticles(ctx, afterID, limit)
		if err != nil {
			return result, fmt.Errorf("list articles: %w", err)
		}
		for i := range items {
			item := &items[i]
			afterID = item.ID
			result.Articles++
			outcome, err := s.IndexArticle(ctx, item)
			if err := s.handleBulkError(ctx, result, ArticleSourceKey(item.ID), err); err != nil {
				return result, err
			}
			result.count(outcome)
		}
		if len(items) < int(limit) {
			break
		}
	}

	result.Elapsed = s.now().Sub(start)
	logger.Info("case index rebuilt",
		zap.Int("repairs", result.Repairs),
		zap.Int("articles", result.Articles),
		zap.Int("indexed", result.Indexed),
		zap.Int("unchanged", result.Unchanged),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// handleBulkError returns a non-nil error only when the pass has to stop.
func (s *IndexService) handleBulkError(ctx context.Context, result *BulkResult, key string, err error) error {
	if err == nil {
		return nil
	}
	if appErr.IsDimensionMismatch(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	result.Failed++
	logutil.GetLogger(ctx).Error("index case failed", zap.String("source_key", key), zap.Error(err))
	return nil
}
