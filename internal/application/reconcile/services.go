package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/skinroutine/internal/application"
	"github.com/bryanwahyu/skinroutine/internal/domain/analysis"
	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/domain/concerns"
	"github.com/bryanwahyu/skinroutine/internal/domain/locking"
	"github.com/bryanwahyu/skinroutine/internal/domain/routines"
	"github.com/bryanwahyu/skinroutine/internal/domain/snapshots"
	"github.com/bryanwahyu/skinroutine/internal/logger"
	"github.com/bryanwahyu/skinroutine/internal/metrics"
)

// ErrInvalidUser is returned for a missing or non-positive user id.
var ErrInvalidUser = errors.New("invalid user id")

const maxImageBytes = 8 << 20

// TxRunner runs fn inside one storage transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service runs analysis events through extraction, matching and lifecycle
// reconciliation. It is safe for concurrent use; runs for the same user are
// serialized by Locker.
type Service struct {
	Catalog     catalog.Repository
	Assignments assignments.Repository
	Snapshots   snapshots.Repository
	Tx          TxRunner
	Locker      locking.Locker
	Analyzer    analysis.Client
	Images      analysis.ImageStore // optional
	Clock       application.Clock
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

//
// ==== USE CASES ====
//

// RunCommand is one analysis event. Bag feeds extraction; Raw is archived
// as the snapshot.
type RunCommand struct {
	UserID   int64
	Bag      analysis.Bag
	Raw      map[string]any
	Source   snapshots.Source
	ImageURL string
}

type RoutineSummary struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	TargetSkinTypes string          `json:"target_skin_types"`
	TotalSteps      int             `json:"total_steps"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

type Result struct {
	SnapshotID  snapshots.SnapshotID `json:"snapshot_id"`
	Concerns    []concerns.Score     `json:"concerns"`
	Routines    []RoutineSummary     `json:"routines"`
	Created     int                  `json:"created"`
	Updated     int                  `json:"updated"`
	Deactivated int                  `json:"deactivated"`
}

// Run extracts concerns, ranks routines and reconciles the user's
// assignments. The snapshot and every assignment write commit together or
// not at all.
func (s *Service) Run(ctx context.Context, cmd RunCommand) (res Result, err error) {
	start := time.Now()
	defer func() { s.Metrics.ObserveRun(outcome(err), start) }()

	if cmd.UserID <= 0 {
		return Result{}, ErrInvalidUser
	}
	log := s.Log.With("user_id", cmd.UserID, "source", string(cmd.Source))

	cat, err := s.Catalog.LoadCatalog(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load catalog: %w", err)
	}

	scores := concerns.Extract(cmd.Bag, cat)
	s.Metrics.ObserveConcerns(len(scores))
	for _, code := range concerns.ZeroScored(cmd.Bag, cat) {
		log.Debug("attribute scored zero", "code", code)
	}
	log.Debug("concerns extracted", "count", len(scores))

	ranked := routines.Match(scores, cat)
	candidates := routines.IDs(ranked)

	lock, err := s.Locker.Obtain(ctx, locking.UserKey(cmd.UserID))
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn("release reconcile lock", "error", rerr)
		}
	}()

	now := s.Clock.Now()
	var ops assignments.Ops
	var snapshotID snapshots.SnapshotID
	err = s.Tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.Assignments.LoadUserAssignments(ctx, cmd.UserID)
		if err != nil {
			return fmt.Errorf("load assignments: %w", err)
		}
		ops = assignments.Reconcile(cmd.UserID, candidates, existing, now)

		snapshotID, err = s.Snapshots.SaveSnapshot(ctx, &snapshots.Snapshot{
			UserID:     cmd.UserID,
			Source:     cmd.Source,
			ImageURL:   cmd.ImageURL,
			Attributes: cmd.Raw,
			CreatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if err := s.Assignments.ApplyAssignmentOps(ctx, ops); err != nil {
			return fmt.Errorf("apply assignment ops: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("reconcile run failed", "error", err)
		return Result{}, err
	}

	created, updated, deactivated := ops.Counts()
	s.Metrics.ObserveOps(created, updated, deactivated)
	log.Info("reconcile run committed",
		"snapshot_id", string(snapshotID),
		"routines", len(ranked),
		"created", created, "updated", updated, "deactivated", deactivated,
	)

	return Result{
		SnapshotID:  snapshotID,
		Concerns:    concerns.SortByConfidence(scores),
		Routines:    summarize(ranked),
		Created:     created,
		Updated:     updated,
		Deactivated: deactivated,
	}, nil
}

// AnalyzeImage stores the image when an image store is configured, sends it
// to the analysis API and runs the result. A stored image is removed again
// when the request fails afterwards.
func (s *Service) AnalyzeImage(ctx context.Context, userID int64, image io.Reader, filename, contentType string) (res Result, err error) {
	start := time.Now()
	if userID <= 0 {
		return Result{}, ErrInvalidUser
	}
	data, err := io.ReadAll(io.LimitReader(image, maxImageBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading image: %v", analysis.ErrInvalidPayload, err)
	}
	if len(data) == 0 || len(data) > maxImageBytes {
		return Result{}, fmt.Errorf("%w: image must be between 1 and %d bytes", analysis.ErrInvalidPayload, maxImageBytes)
	}

	var imageURL string
	if s.Images != nil {
		key := fmt.Sprintf("analyses/%d/%s%s", userID, uuid.NewString(), strings.ToLower(path.Ext(filename)))
		imageURL, err = s.Images.UploadImage(ctx, bytes.NewReader(data), int64(len(data)), key, contentType)
		if err != nil {
			return Result{}, fmt.Errorf("upload image: %w", err)
		}
		defer func() {
			if err == nil {
				return
			}
			if derr := s.Images.DeleteImage(context.WithoutCancel(ctx), key); derr != nil {
				s.Log.Warn("remove orphaned image", "key", key, "error", derr)
			}
		}()
	}

	raw, err := s.Analyzer.Analyze(ctx, bytes.NewReader(data), filename)
	if err != nil {
		if !errors.Is(err, analysis.ErrUpstream) {
			err = fmt.Errorf("%w: %v", analysis.ErrUpstream, err)
		}
		s.Metrics.ObserveRun(metrics.OutcomeUpstream, start)
		return Result{}, err
	}

	return s.Run(ctx, RunCommand{
		UserID:   userID,
		Bag:      analysis.ParseRaw(raw),
		Raw:      raw,
		Source:   snapshots.SourceAPI,
		ImageURL: imageURL,
	})
}

// SubmitForm runs a pre-structured form submission.
func (s *Service) SubmitForm(ctx context.Context, userID int64, form analysis.FormSubmission) (Result, error) {
	return s.Run(ctx, RunCommand{
		UserID: userID,
		Bag:    form.Attributes(),
		Raw:    form.Raw(),
		Source: snapshots.SourceForm,
	})
}

// SubmitRaw runs an analysis result obtained out-of-band, in the vendor's
// JSON shape.
func (s *Service) SubmitRaw(ctx context.Context, userID int64, payload []byte) (Result, error) {
	if userID <= 0 {
		return Result{}, ErrInvalidUser
	}
	bag, raw, err := analysis.ParseJSON(payload)
	if err != nil {
		return Result{}, err
	}
	return s.Run(ctx, RunCommand{
		UserID: userID,
		Bag:    bag,
		Raw:    raw,
		Source: snapshots.SourceRaw,
	})
}

// ListAssignments returns the user's routine rows, oldest first.
func (s *Service) ListAssignments(ctx context.Context, userID int64) ([]assignments.Assignment, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	rows, err := s.Assignments.LoadUserAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []assignments.Assignment{}
	}
	return rows, nil
}

// LatestSnapshot returns the user's most recent analysis snapshot.
func (s *Service) LatestSnapshot(ctx context.Context, userID int64) (*snapshots.Snapshot, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	return s.Snapshots.LatestSnapshot(ctx, userID)
}

func summarize(rs []catalog.Routine) []RoutineSummary {
	out := make([]RoutineSummary, 0, len(rs))
	for _, r := range rs {
		out = append(out, RoutineSummary{
			ID:              r.ID,
			Name:            r.Name,
			TargetSkinTypes: r.TargetSkinTypes,
			TotalSteps:      r.TotalSteps,
			TotalPrice:      r.TotalPrice,
		})
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrInvalidUser), errors.Is(err, analysis.ErrInvalidPayload):
		return metrics.OutcomeInvalid
	case errors.Is(err, analysis.ErrUpstream):
		return metrics.OutcomeUpstream
	case errors.Is(err, locking.ErrNotObtained):
		return metrics.OutcomeLockBusy
	default:
		return metrics.OutcomePersistence
	}
}
