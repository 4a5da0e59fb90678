package repo

import (
	"context"

	"github.com/xxxsen/casememo/internal/model"
)

// ICaseRepo stores indexed cases and ranks them against a query vector.
// Implementations reject vectors whose length differs from the configured
// dimension with errors.ErrDimensionMismatch.
type ICaseRepo interface {
	Upsert(ctx context.Context, record *model.CaseRecord) error
	TopK(ctx context.Context, query []float32, k int, minScore float32) ([]model.ScoredCase, error)
	DeleteByKey(ctx context.Context, sourceKey string) error
	GetByKey(ctx context.Context, sourceKey string) (*model.CaseRecord, error)
	Count(ctx context.Context) (int64, error)
	Dimension() int
}
