package assignments

import "context"

// Repository persists assignment rows.
type Repository interface {
	LoadUserAssignments(ctx context.Context, userID int64) ([]Assignment, error)
	// ApplyAssignmentOps writes updates and deactivations as one batched
	// update and creations as one batched insert, then commits once.
	ApplyAssignmentOps(ctx context.Context, ops Ops) error
}
