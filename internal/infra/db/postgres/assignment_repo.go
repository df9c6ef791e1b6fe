package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/infra/db"
)

type AssignmentRepository struct{ db *sql.DB }

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository { return &AssignmentRepository{db: db} }

func (r *AssignmentRepository) LoadUserAssignments(ctx context.Context, userID int64) ([]assignments.Assignment, error) {
	const q = `
SELECT id, user_id, routine_id, status, progress_notes,
       start_date, end_date, created_date, updated_date
FROM user_routines
WHERE user_id=$1
ORDER BY created_date ASC, id ASC`

	var out []assignments.Assignment
	err := each(ctx, db.Conn(ctx, r.db), q, func(rows *sql.Rows) error {
		var a assignments.Assignment
		var status string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.RoutineID, &status, &a.ProgressNotes,
			&a.StartDate, &a.EndDate, &a.CreatedDate, &a.UpdatedDate,
		); err != nil {
			return err
		}
		a.Status = assignments.Status(status)
		out = append(out, a)
		return nil
	}, userID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments: %w", err)
	}
	return out, nil
}

// ApplyAssignmentOps issues one UPDATE ... FROM (VALUES ...) for updates and
// deactivations and one multi-row INSERT for creations.
func (r *AssignmentRepository) ApplyAssignmentOps(ctx context.Context, ops assignments.Ops) error {
	if ops.Empty() {
		return nil
	}
	if _, ok := db.From(ctx); !ok {
		return db.NewTxManager(r.db, 0).RunInTx(ctx, func(ctx context.Context) error {
			return r.ApplyAssignmentOps(ctx, ops)
		})
	}

	q := db.Conn(ctx, r.db)
	changed := append(append([]assignments.Assignment(nil), ops.ToUpdate...), ops.ToDeactivate...)
	if len(changed) > 0 {
		stmt, args := buildBatchUpdate(changed)
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("updating assignments: %w", err)
		}
	}
	if len(ops.ToCreate) > 0 {
		stmt, args := buildBatchInsert(ops.ToCreate)
		if _, err := q.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("inserting assignments: %w", err)
		}
	}
	return nil
}

func buildBatchUpdate(rows []assignments.Assignment) (string, []any) {
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*4)
	next := 1
	for _, a := range rows {
		var t string
		t, next = tuple(next, "bigint", "varchar", "varchar", "timestamptz")
		values = append(values, t)
		args = append(args, a.ID, string(a.Status), a.ProgressNotes, a.UpdatedDate)
	}
	stmt := `UPDATE user_routines AS u
SET status = v.status, progress_notes = v.notes, updated_date = v.updated
FROM (VALUES ` + strings.Join(values, ",") + `) AS v(id, status, notes, updated)
WHERE u.id = v.id AND u.status NOT IN ('Active','Completed')`
	return stmt, args
}

// buildBatchInsert relies on the partial unique index over Suitable rows:
// a concurrent duplicate is dropped rather than failing the batch.
func buildBatchInsert(rows []assignments.Assignment) (string, []any) {
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*8)
	next := 1
	for _, a := range rows {
		var t string
		t, next = tuple(next, "", "", "", "", "", "", "", "")
		values = append(values, t)
		args = append(args,
			a.UserID, a.RoutineID, string(a.Status), a.ProgressNotes,
			a.StartDate, a.EndDate, a.CreatedDate, a.UpdatedDate,
		)
	}
	stmt := `INSERT INTO user_routines
  (user_id, routine_id, status, progress_notes, start_date, end_date, created_date, updated_date)
VALUES ` + strings.Join(values, ",") + `
ON CONFLICT (user_id, routine_id) WHERE status = 'Suitable' DO NOTHING`
	return stmt, args
}
