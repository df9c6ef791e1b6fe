package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/infra/db"
)

type CatalogRepository struct{ db *sql.DB }

func NewCatalogRepository(db *sql.DB) *CatalogRepository { return &CatalogRepository{db: db} }

func (r *CatalogRepository) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	q := db.Conn(ctx, r.db)
	var cat catalog.Catalog

	err := each(ctx, q, `SELECT id, code, name FROM skin_concerns ORDER BY id`, func(rows *sql.Rows) error {
		var c catalog.Concern
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			return err
		}
		cat.Concerns = append(cat.Concerns, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading concerns: %w", err)
	}

	err = each(ctx, q, `SELECT id, name, target_skin_types, total_steps, total_price FROM routines ORDER BY id`, func(rows *sql.Rows) error {
		var rt catalog.Routine
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.TargetSkinTypes, &rt.TotalSteps, &rt.TotalPrice); err != nil {
			return err
		}
		cat.Routines = append(cat.Routines, rt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading routines: %w", err)
	}

	err = each(ctx, q, `SELECT routine_id, concern_id FROM routine_concerns ORDER BY routine_id, concern_id`, func(rows *sql.Rows) error {
		var l catalog.RoutineConcernLink
		if err := rows.Scan(&l.RoutineID, &l.ConcernID); err != nil {
			return err
		}
		cat.Links = append(cat.Links, l)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading routine concerns: %w", err)
	}
	return &cat, nil
}

func each(ctx context.Context, q db.Querier, query string, scan func(*sql.Rows) error, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
