package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/casememo/internal/model"
	"github.com/xxxsen/casememo/internal/pkg/dbutil"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
)

// SourceRepo reads repairs and knowledge articles from the tables owned by
// the shop application. It never writes to them.
type SourceRepo struct {
	db           *sql.DB
	repairTable  string
	articleTable string
}

func NewSourceRepo(db *sql.DB, repairTable, articleTable string) *SourceRepo {
	return &SourceRepo{db: db, repairTable: repairTable, articleTable: articleTable}
}

var repairFields = []string{
	"id",
	"COALESCE(ticket_number, '') AS ticket_number",
	"COALESCE(device_brand, '') AS device_brand",
	"COALESCE(device_model, '') AS device_model",
	"COALESCE(problem, '') AS problem",
	"COALESCE(diagnosis, '') AS diagnosis",
	"COALESCE(observations, '') AS observations",
	"COALESCE(parts_used, '') AS parts_used",
	"COALESCE(liquid_damage, false) AS liquid_damage",
	"COALESCE(has_photos, false) AS has_photos",
	"COALESCE(status, '') AS status",
	"mtime",
}

var articleFields = []string{
	"id",
	"COALESCE(title, '') AS title",
	"COALESCE(device_brand, '') AS device_brand",
	"COALESCE(device_model, '') AS device_model",
	"COALESCE(problem, '') AS problem",
	"COALESCE(solution, '') AS solution",
	"COALESCE(body, '') AS body",
	"COALESCE(tags, '') AS tags",
	"mtime",
}

// sourceQueryError turns a missing source table into a configuration error
// naming the setting to fix.
func sourceQueryError(table, setting string, err error) error {
	if dbutil.IsUndefinedTable(err) {
		return fmt.Errorf("%w: source table %q does not exist, check %s: %v", appErr.ErrInvalid, table, setting, err)
	}
	return err
}

// ListClosedRepairs returns up to limit repairs in one of statuses with an
// id greater than afterID, ordered by id.
func (r *SourceRepo) ListClosedRepairs(ctx context.Context, statuses []string, afterID int64, limit uint) ([]model.Repair, error) {
	if len(statuses) == 0 {
		return []model.Repair{}, nil
	}
	where := map[string]interface{}{
		"status in": dbutil.StringArgs(statuses),
		"id >":      afterID,
		"_orderby":  "id asc",
		"_limit":    []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect(r.repairTable, where, repairFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, sourceQueryError(r.repairTable, "index.repair_table", err)
	}
	defer rows.Close()
	items := make([]model.Repair, 0, limit)
	for rows.Next() {
		var item model.Repair
		if err := rows.Scan(
			&item.ID,
			&item.TicketNumber,
			&item.DeviceBrand,
			&item.DeviceModel,
			&item.Problem,
			&item.Diagnosis,
			&item.Observations,
			&item.PartsUsed,
			&item.LiquidDamage,
			&item.HasPhotos,
			&item.Status,
			&item.Mtime,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *SourceRepo) ListArticles(ctx context.Context, afterID int64, limit uint) ([]model.Article, error) {
	where := map[string]interface{}{
		"id >":     afterID,
		"_orderby": "id asc",
		"_limit":   []uint{0, limit},
	}
	sqlStr, args, err := builder.BuildSelect(r.articleTable, where, articleFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, sourceQueryError(r.articleTable, "index.article_table", err)
	}
	defer rows.Close()
	items := make([]model.Article, 0, limit)
	for rows.Next() {
		var item model.Article
		if err := rows.Scan(
			&item.ID,
			&item.Title,
			&item.DeviceBrand,
			&item.DeviceModel,
			&item.Problem,
			&item.Solution,
			&item.Body,
			&item.Tags,
			&item.Mtime,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
