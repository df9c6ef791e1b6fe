package memory

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/domain/snapshots"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestStore_ApplyLeavesOwnedRows(t *testing.T) {
	s := NewStore(nil)
	s.Seed(assignments.Assignment{ID: 1, UserID: 42, RoutineID: 7, Status: assignments.StatusActive})

	err := s.ApplyAssignmentOps(context.Background(), assignments.Ops{
		ToDeactivate: []assignments.Assignment{{ID: 1, UserID: 42, RoutineID: 7, Status: assignments.StatusInActive}},
	})
	require.NoError(t, err)

	rows, _ := s.LoadUserAssignments(context.Background(), 42)
	require.Len(t, rows, 1)
	assert.Equal(t, assignments.StatusActive, rows[0].Status)
}

func TestStore_DropsDuplicateSuitable(t *testing.T) {
	s := NewStore(nil)
	create := assignments.Ops{ToCreate: []assignments.Assignment{
		{UserID: 42, RoutineID: 7, Status: assignments.StatusSuitable, CreatedDate: now},
	}}

	require.NoError(t, s.ApplyAssignmentOps(context.Background(), create))
	require.NoError(t, s.ApplyAssignmentOps(context.Background(), create))

	rows, _ := s.LoadUserAssignments(context.Background(), 42)
	assert.Len(t, rows, 1)
}

func TestStore_RunInTxRestoresOnError(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.SaveSnapshot(ctx, &snapshots.Snapshot{UserID: 42})
		require.NoError(t, err)
		require.NoError(t, s.ApplyAssignmentOps(ctx, assignments.Ops{
			ToCreate: []assignments.Assignment{{UserID: 42, RoutineID: 7, Status: assignments.StatusSuitable}},
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, s.Snapshots())
	rows, _ := s.LoadUserAssignments(ctx, 42)
	assert.Empty(t, rows)
}

func TestStore_LatestSnapshot(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	_, err := s.LatestSnapshot(ctx, 42)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	_, _ = s.SaveSnapshot(ctx, &snapshots.Snapshot{UserID: 42, Source: snapshots.SourceForm})
	id, _ := s.SaveSnapshot(ctx, &snapshots.Snapshot{UserID: 42, Source: snapshots.SourceRaw})
	_, _ = s.SaveSnapshot(ctx, &snapshots.Snapshot{UserID: 7, Source: snapshots.SourceAPI})

	got, err := s.LatestSnapshot(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, snapshots.SourceRaw, got.Source)
}
