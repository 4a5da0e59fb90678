package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
)

// CaseRepo is the pgvector backed case store. Scores are inner products of
// unit vectors, i.e. cosine similarity.
type CaseRepo struct {
	db  *sql.DB
	dim int
}

func NewCaseRepo(db *sql.DB, dim int) *CaseRepo {
	return &CaseRepo{db: db, dim: dim}
}

func (r *CaseRepo) Dimension() int {
	return r.dim
}

func (r *CaseRepo) Upsert(ctx context.Context, record *model.CaseRecord) error {
	if err := checkDimension(len(record.Embedding), r.dim); err != nil {
		return err
	}
	const query = `
		INSERT INTO case_records (source_key, display_label, device_brand, device_model, content_text, content_hash, embedding, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_key) DO UPDATE SET
			display_label = EXCLUDED.display_label,
			device_brand = EXCLUDED.device_brand,
			device_model = EXCLUDED.device_model,
			content_text = EXCLUDED.content_text,
			content_hash = EXCLUDED.content_hash,
			embedding = EXCLUDED.embedding,
			mtime = EXCLUDED.mtime
	`
	_, err := r.db.ExecContext(ctx, query,
		record.SourceKey,
		record.DisplayLabel,
		record.DeviceBrand,
		record.DeviceModel,
		record.ContentText,
		record.ContentHash,
		pgvector.NewVector(record.Embedding),
		record.Ctime,
		record.Mtime,
	)
	return err
}

func (r *CaseRepo) TopK(ctx context.Context, query []float32, k int, minScore float32) ([]model.ScoredCase, error) {
	if err := checkDimension(len(query), r.dim); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []model.ScoredCase{}, nil
	}
	// <#> is the negative inner product.
	const sqlStr = `
		SELECT source_key, display_label, device_brand, device_model, content_text, content_hash, ctime, mtime,
			(embedding <#> $1) * -1 AS score
		FROM case_records
		WHERE (embedding <#> $1) * -1 >= $2
		ORDER BY embedding <#> $1 ASC, mtime DESC
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, sqlStr, pgvector.NewVector(query), minScore, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make([]model.ScoredCase, 0, k)
	for rows.Next() {
		var item model.ScoredCase
		if err := rows.Scan(
			&item.SourceKey,
			&item.DisplayLabel,
			&item.DeviceBrand,
			&item.DeviceModel,
			&item.ContentText,
			&item.ContentHash,
			&item.Ctime,
			&item.Mtime,
			&item.Score,
		); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, rows.Err()
}

func (r *CaseRepo) DeleteByKey(ctx context.Context, sourceKey string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM case_records WHERE source_key = $1`, sourceKey)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *CaseRepo) GetByKey(ctx context.Context, sourceKey string) (*model.CaseRecord, error) {
	const query = `
		SELECT source_key, display_label, device_brand, device_model, content_text, content_hash, embedding, ctime, mtime
		FROM case_records
		WHERE source_key = $1
	`
	row := r.db.QueryRowContext(ctx, query, sourceKey)
	var item model.CaseRecord
	var embedding pgvector.Vector
	if err := row.Scan(
		&item.SourceKey,
		&item.DisplayLabel,
		&item.DeviceBrand,
		&item.DeviceModel,
		&item.ContentText,
		&item.ContentHash,
		&embedding,
		&item.Ctime,
		&item.Mtime,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	item.Embedding = embedding.Slice()
	return &item, nil
}

func (r *CaseRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM case_records`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// EnsureDimension compares the declared width of case_records.embedding with
// the configured dimension.
func (r *CaseRepo) EnsureDimension(ctx context.Context) error {
	const query = `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = 'case_records' AND a.attname = 'embedding' AND NOT a.attisdropped
	`
	var width int
	if err := r.db.QueryRowContext(ctx, query).Scan(&width); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("case_records table not found, run migrate first")
		}
		return err
	}
	if width != r.dim {
		return fmt.Errorf("%w: case_records.embedding is vector(%d), configured %d, run reindex --reset",
			appErr.ErrDimensionMismatch, width, r.dim)
	}
	return nil
}

// Reset drops the case table. The caller recreates it through migrations.
func (r *CaseRepo) Reset(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DROP TABLE IF EXISTS case_records`)
	return err
}

func checkDimension(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", appErr.ErrDimensionMismatch, got, want)
	}
	return nil
}
