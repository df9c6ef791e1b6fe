package assignments

import "time"

// Reconcile diffs the candidate routines against the user's existing rows.
// Pure function: no I/O, no mutation of its inputs.
//
// Per candidate routine:
//  1. an Active row exists: leave it alone
//  2. a Completed row exists: create a Suitable row unless one already exists
//  3. a Suitable row exists: refresh its note and UpdatedDate
//  4. otherwise: create a Suitable row
//
// Rows for routines outside the candidate set move to InActive unless they
// are Active, Completed or already InActive.
func Reconcile(userID int64, candidates []int64, existing []Assignment, now time.Time) Ops {
	byRoutine := make(map[int64][]Assignment)
	var mine []Assignment
	for _, a := range existing {
		if a.UserID != userID {
			continue
		}
		mine = append(mine, a)
		byRoutine[a.RoutineID] = append(byRoutine[a.RoutineID], a)
	}

	var ops Ops
	wanted := make(map[int64]bool, len(candidates))
	for _, routineID := range candidates {
		if wanted[routineID] {
			continue
		}
		wanted[routineID] = true

		rows := byRoutine[routineID]
		switch {
		case hasStatus(rows, StatusActive):
			continue
		case hasStatus(rows, StatusCompleted):
			if hasStatus(rows, StatusSuitable) {
				continue
			}
			ops.ToCreate = append(ops.ToCreate, newSuitable(userID, routineID, now))
		case hasStatus(rows, StatusSuitable):
			row := latest(rows, StatusSuitable)
			row.ProgressNotes = NoteUpdated
			row.UpdatedDate = now
			ops.ToUpdate = append(ops.ToUpdate, row)
		default:
			ops.ToCreate = append(ops.ToCreate, newSuitable(userID, routineID, now))
		}
	}

	for _, a := range mine {
		if wanted[a.RoutineID] {
			continue
		}
		if a.Status.Owned() || a.Status == StatusInActive {
			continue
		}
		a.Status = StatusInActive
		a.UpdatedDate = now
		ops.ToDeactivate = append(ops.ToDeactivate, a)
	}

	return ops
}

func newSuitable(userID, routineID int64, now time.Time) Assignment {
	return Assignment{
		UserID:        userID,
		RoutineID:     routineID,
		Status:        StatusSuitable,
		ProgressNotes: NoteSuitable,
		StartDate:     now,
		EndDate:       now.AddDate(0, 1, 0),
		CreatedDate:   now,
		UpdatedDate:   now,
	}
}

func hasStatus(rows []Assignment, s Status) bool {
	for _, r := range rows {
		if r.Status == s {
			return true
		}
	}
	return false
}

// latest returns the most recently created row with status s.
func latest(rows []Assignment, s Status) Assignment {
	var best Assignment
	found := false
	for _, r := range rows {
		if r.Status != s {
			continue
		}
		if !found || r.CreatedDate.After(best.CreatedDate) ||
			(r.CreatedDate.Equal(best.CreatedDate) && r.ID > best.ID) {
			best = r
			found = true
		}
	}
	return best
}
