package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/infra/db"
)

type CatalogRepository struct {
	db *sql.DB
}

func NewCatalogRepository(db *sql.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// LoadCatalog reads concerns, routines and their links ordered by id, which
// is the catalog order the extractor and matcher rely on.
func (r *CatalogRepository) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	q := db.Conn(ctx, r.db)
	var cat catalog.Catalog

	rows, err := q.QueryContext(ctx, `SELECT id, code, name FROM skin_concerns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying concerns: %w", err)
	}
	for rows.Next() {
		var c catalog.Concern
		if err := rows.Scan(&c.ID, &c.Code, &c.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning concern: %w", err)
		}
		cat.Concerns = append(cat.Concerns, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `
SELECT id, name, target_skin_types, total_steps, total_price
FROM routines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying routines: %w", err)
	}
	for rows.Next() {
		var rt catalog.Routine
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.TargetSkinTypes, &rt.TotalSteps, &rt.TotalPrice); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning routine: %w", err)
		}
		cat.Routines = append(cat.Routines, rt)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT routine_id, concern_id FROM routine_concerns ORDER BY routine_id, concern_id`)
	if err != nil {
		return nil, fmt.Errorf("querying routine concerns: %w", err)
	}
	for rows.Next() {
		var l catalog.RoutineConcernLink
		if err := rows.Scan(&l.RoutineID, &l.ConcernID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning routine concern: %w", err)
		}
		cat.Links = append(cat.Links, l)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return &cat, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}
	return nil
}
