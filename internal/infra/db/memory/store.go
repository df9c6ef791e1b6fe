// Package memory holds in-process adapters for the catalog, snapshot and
// assignment ports. Used for local runs with database.driver=memory and as
// fakes in service tests.
package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/domain/snapshots"
)

type state struct {
	snapshots   []snapshots.Snapshot
	assignments []assignments.Assignment
	nextID      int64
}

func (s state) clone() state {
	return state{
		snapshots:   append([]snapshots.Snapshot(nil), s.snapshots...),
		assignments: append([]assignments.Assignment(nil), s.assignments...),
		nextID:      s.nextID,
	}
}

// Store implements catalog.Repository, snapshots.Repository and
// assignments.Repository over plain slices.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	catalog *catalog.Catalog
	state   state

	// FailApply, when set, is returned by ApplyAssignmentOps.
	FailApply error
}

func NewStore(cat *catalog.Catalog) *Store {
	if cat == nil {
		cat = &catalog.Catalog{}
	}
	return &Store{catalog: cat}
}

func (s *Store) LoadCatalog(context.Context) (*catalog.Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.catalog
	return &cp, nil
}

func (s *Store) SaveSnapshot(_ context.Context, snap *snapshots.Snapshot) (snapshots.SnapshotID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	if cp.ID == "" {
		cp.ID = snapshots.SnapshotID(uuid.NewString())
	}
	s.state.snapshots = append(s.state.snapshots, cp)
	return cp.ID, nil
}

func (s *Store) LatestSnapshot(_ context.Context, userID int64) (*snapshots.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.state.snapshots) - 1; i >= 0; i-- {
		if snap := s.state.snapshots[i]; snap.UserID == userID {
			return &snap, nil
		}
	}
	return nil, sql.ErrNoRows
}

// Snapshots returns every stored snapshot.
func (s *Store) Snapshots() []snapshots.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snapshots.Snapshot(nil), s.state.snapshots...)
}

// Seed inserts rows as-is, assigning ids to rows without one.
func (s *Store) Seed(rows ...assignments.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if r.ID == 0 {
			s.state.nextID++
			r.ID = s.state.nextID
		} else if r.ID > s.state.nextID {
			s.state.nextID = r.ID
		}
		s.state.assignments = append(s.state.assignments, r)
	}
}

func (s *Store) LoadUserAssignments(_ context.Context, userID int64) ([]assignments.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []assignments.Assignment
	for _, a := range s.state.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ApplyAssignmentOps mirrors the SQL adapters: owned rows are never
// overwritten and a second Suitable row for the same routine is dropped.
func (s *Store) ApplyAssignmentOps(_ context.Context, ops assignments.Ops) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailApply != nil {
		return s.FailApply
	}

	for _, u := range append(append([]assignments.Assignment(nil), ops.ToUpdate...), ops.ToDeactivate...) {
		for i := range s.state.assignments {
			cur := &s.state.assignments[i]
			if cur.ID != u.ID || cur.Status.Owned() {
				continue
			}
			cur.Status = u.Status
			cur.ProgressNotes = u.ProgressNotes
			cur.UpdatedDate = u.UpdatedDate
		}
	}

	for _, c := range ops.ToCreate {
		if c.Status == assignments.StatusSuitable && s.hasSuitable(c.UserID, c.RoutineID) {
			continue
		}
		s.state.nextID++
		c.ID = s.state.nextID
		s.state.assignments = append(s.state.assignments, c)
	}
	return nil
}

func (s *Store) hasSuitable(userID, routineID int64) bool {
	for _, a := range s.state.assignments {
		if a.UserID == userID && a.RoutineID == routineID && a.Status == assignments.StatusSuitable {
			return true
		}
	}
	return false
}

// RunInTx serializes transactions and restores the previous state when fn
// fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	saved := s.state.clone()
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.state = saved
		s.mu.Unlock()
		return err
	}
	return nil
}

// Ping always succeeds; it lets the store stand in for a database in
// readiness checks.
func (s *Store) Ping(context.Context) error { return nil }
