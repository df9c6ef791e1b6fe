package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/infra/db"
)

type AssignmentRepository struct {
	db *sql.DB
}

func NewAssignmentRepository(db *sql.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `id, user_id, routine_id, status, progress_notes,
       start_date, end_date, created_date, updated_date`

// LoadUserAssignments returns every row of the user, oldest first.
func (r *AssignmentRepository) LoadUserAssignments(ctx context.Context, userID int64) ([]assignments.Assignment, error) {
	q := `
SELECT ` + assignmentColumns + `
FROM user_routines
WHERE user_id=?
ORDER BY created_date ASC, id ASC`

	rows, err := db.Conn(ctx, r.db).QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("querying assignments: %w", err)
	}
	defer rows.Close()

	var out []assignments.Assignment
	for rows.Next() {
		var a assignments.Assignment
		var status string
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.RoutineID, &status, &a.ProgressNotes,
			&a.StartDate, &a.EndDate, &a.CreatedDate, &a.UpdatedDate,
		); err != nil {
			return nil, fmt.Errorf("scanning assignment: %w", err)
		}
		a.Status = assignments.Status(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

// ApplyAssignmentOps writes updates and deactivations with one UPDATE and
// creations with one multi-row INSERT. Without a surrounding transaction in
// ctx it opens and commits its own.
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

// buildBatchUpdate sets status, notes and updated_date per id with CASE
// expressions. Rows promoted to Active or Completed since they were read are
// left alone.
func buildBatchUpdate(rows []assignments.Assignment) (string, []any) {
	var status, notes, updated strings.Builder
	var statusArgs, notesArgs, updatedArgs, idArgs []any
	for _, a := range rows {
		status.WriteString(" WHEN ? THEN ?")
		statusArgs = append(statusArgs, a.ID, string(a.Status))
		notes.WriteString(" WHEN ? THEN ?")
		notesArgs = append(notesArgs, a.ID, a.ProgressNotes)
		updated.WriteString(" WHEN ? THEN ?")
		updatedArgs = append(updatedArgs, a.ID, a.UpdatedDate)
		idArgs = append(idArgs, a.ID)
	}

	stmt := "UPDATE user_routines SET" +
		" status = CASE id" + status.String() + " END," +
		" progress_notes = CASE id" + notes.String() + " END," +
		" updated_date = CASE id" + updated.String() + " END" +
		" WHERE id IN (" + placeholders(len(rows)) + ")" +
		" AND status NOT IN ('Active','Completed')"

	args := make([]any, 0, len(rows)*7)
	args = append(args, statusArgs...)
	args = append(args, notesArgs...)
	args = append(args, updatedArgs...)
	args = append(args, idArgs...)
	return stmt, args
}

// buildBatchInsert inserts all new Suitable rows in one statement. A row
// that collides with an existing Suitable row for the same routine is a
// no-op.
func buildBatchInsert(rows []assignments.Assignment) (string, []any) {
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*8)
	for _, a := range rows {
		values = append(values, "("+placeholders(8)+")")
		args = append(args,
			a.UserID, a.RoutineID, string(a.Status), a.ProgressNotes,
			a.StartDate, a.EndDate, a.CreatedDate, a.UpdatedDate,
		)
	}
	stmt := "INSERT INTO user_routines" +
		" (user_id, routine_id, status, progress_notes, start_date, end_date, created_date, updated_date)" +
		" VALUES " + strings.Join(values, ",") +
		" ON DUPLICATE KEY UPDATE id = id"
	return stmt, args
}
