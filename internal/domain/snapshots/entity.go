package snapshots

import (
	"context"
	"time"
)

type SnapshotID string

// Source tells how the attributes reached us.
type Source string

const (
	SourceAPI  Source = "api"
	SourceForm Source = "form"
	SourceRaw  Source = "raw"
)

// Snapshot is the raw per-attribute result of one analysis event. Created
// once, never mutated.
type Snapshot struct {
	ID         SnapshotID     `json:"id"`
	UserID     int64          `json:"user_id"`
	Source     Source         `json:"source"`
	ImageURL   string         `json:"image_url,omitempty"`
	Attributes map[string]any `json:"attributes"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Repository port for analysis snapshots
type Repository interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) (SnapshotID, error)
	// LatestSnapshot returns sql.ErrNoRows when the user has none.
	LatestSnapshot(ctx context.Context, userID int64) (*Snapshot, error)
}
