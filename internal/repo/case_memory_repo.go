package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
	"github.com/xxxsen/casememo/internal/pkg/vecutil"
)

// MemoryCaseRepo keeps cases in process and ranks them by brute force.
type MemoryCaseRepo struct {
	dim   int
	mu    sync.RWMutex
	items map[string]model.CaseRecord
}

func NewMemoryCaseRepo(dim int) *MemoryCaseRepo {
	return &MemoryCaseRepo{dim: dim, items: make(map[string]model.CaseRecord)}
}

func (r *MemoryCaseRepo) Dimension() int {
	return r.dim
}

func (r *MemoryCaseRepo) Upsert(ctx context.Context, record *model.CaseRecord) error {
	if err := checkDimension(len(record.Embedding), r.dim); err != nil {
		return err
	}
	item := *record
	item.Embedding = append([]float32(nil), record.Embedding...)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.items[item.SourceKey]; ok {
		item.Ctime = prev.Ctime
	}
	r.items[item.SourceKey] = item
	return nil
}

func (r *MemoryCaseRepo) TopK(ctx context.Context, query []float32, k int, minScore float32) ([]model.ScoredCase, error) {
	if err := checkDimension(len(query), r.dim); err != nil {
		return nil, err
	}
	r.mu.RLock()
	results := make([]model.ScoredCase, 0, len(r.items))
	for _, item := range r.items {
		score := vecutil.Dot(query, item.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, model.ScoredCase{CaseRecord: item, Score: score})
	}
	r.mu.RUnlock()
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Mtime != results[j].Mtime {
			return results[i].Mtime > results[j].Mtime
		}
		return results[i].SourceKey < results[j].SourceKey
	})
	if k < 0 {
		k = 0
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (r *MemoryCaseRepo) DeleteByKey(ctx context.Context, sourceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[sourceKey]; !ok {
		return appErr.ErrNotFound
	}
	delete(r.items, sourceKey)
	return nil
}

func (r *MemoryCaseRepo) GetByKey(ctx context.Context, sourceKey string) (*model.CaseRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[sourceKey]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	item.Embedding = append([]float32(nil), item.Embedding...)
	return &item, nil
}

func (r *MemoryCaseRepo) Count(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.items)), nil
}
