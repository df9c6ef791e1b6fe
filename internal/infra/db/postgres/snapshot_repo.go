package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bryanwahyu/skinroutine/internal/domain/snapshots"
	"github.com/bryanwahyu/skinroutine/internal/infra/db"
)

type SnapshotRepository struct{ db *sql.DB }

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository { return &SnapshotRepository{db: db} }

func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, s *snapshots.Snapshot) (snapshots.SnapshotID, error) {
	const q = `
INSERT INTO analysis_snapshots
  (id, user_id, source, image_url, attributes_json, created_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6)`

	id := s.ID
	if id == "" {
		id = snapshots.SnapshotID(uuid.NewString())
	}
	attrs := s.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot attributes: %w", err)
	}

	// lib/pq sends []byte as bytea; jsonb wants text
	_, err = db.Conn(ctx, r.db).ExecContext(ctx, q,
		string(id), s.UserID, string(s.Source), stringOrDash(s.ImageURL), string(payload), nowIfZero(s.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("inserting snapshot: %w", err)
	}
	return id, nil
}

func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, userID int64) (*snapshots.Snapshot, error) {
	const q = `
SELECT id, user_id, source, image_url, attributes_json, created_at
FROM analysis_snapshots
WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT 1`

	var s snapshots.Snapshot
	var id, source, imageURL string
	var payload []byte
	if err := db.Conn(ctx, r.db).QueryRowContext(ctx, q, userID).
		Scan(&id, &s.UserID, &source, &imageURL, &payload, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.ID = snapshots.SnapshotID(id)
	s.Source = snapshots.Source(source)
	s.ImageURL = dashToEmpty(imageURL)
	if err := json.Unmarshal(payload, &s.Attributes); err != nil {
		return nil, fmt.Errorf("decoding snapshot attributes: %w", err)
	}
	return &s, nil
}
