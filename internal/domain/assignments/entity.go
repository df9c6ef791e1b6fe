package assignments

import "time"

// Status is the lifecycle state of a user's routine assignment.
type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
	StatusSuitable  Status = "Suitable"
	StatusInActive  Status = "InActive"
)

// Owned reports whether the status is managed outside reconciliation.
// Active and Completed rows are read-only to this package.
func (s Status) Owned() bool {
	return s == StatusActive || s == StatusCompleted
}

const (
	NoteSuitable = "Suitable for your skin"
	NoteUpdated  = "Updated routine for your skin"
)

// Assignment links a user to a routine. The (UserID, RoutineID) pair is not
// unique: rows are told apart by status and date range.
type Assignment struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	RoutineID     int64     `json:"routine_id"`
	Status        Status    `json:"status"`
	ProgressNotes string    `json:"progress_notes"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	CreatedDate   time.Time `json:"created_date"`
	UpdatedDate   time.Time `json:"updated_date"`
}

// Ops is the reconciliation diff. The three lists are disjoint.
type Ops struct {
	ToCreate     []Assignment
	ToUpdate     []Assignment
	ToDeactivate []Assignment
}

func (o Ops) Empty() bool {
	return len(o.ToCreate) == 0 && len(o.ToUpdate) == 0 && len(o.ToDeactivate) == 0
}

// Counts returns created, updated and deactivated row counts.
func (o Ops) Counts() (int, int, int) {
	return len(o.ToCreate), len(o.ToUpdate), len(o.ToDeactivate)
}
