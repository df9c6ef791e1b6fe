package reconcile

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bryanwahyu/skinroutine/internal/application"
	"github.com/bryanwahyu/skinroutine/internal/domain/analysis"
	"github.com/bryanwahyu/skinroutine/internal/domain/assignments"
	"github.com/bryanwahyu/skinroutine/internal/domain/catalog"
	"github.com/bryanwahyu/skinroutine/internal/domain/concerns"
	"github.com/bryanwahyu/skinroutine/internal/domain/locking"
	"github.com/bryanwahyu/skinroutine/internal/domain/snapshots"
	"github.com/bryanwahyu/skinroutine/internal/infra/db/memory"
	"github.com/bryanwahyu/skinroutine/internal/infra/lock"
	"github.com/bryanwahyu/skinroutine/internal/logger"
	"github.com/bryanwahyu/skinroutine/internal/metrics"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func testCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Concerns: []catalog.Concern{
			{ID: 1, Code: "acne", Name: "Acne"},
			{ID: 2, Code: "blackhead", Name: "Blackheads"},
			{ID: 3, Code: "skin_type_0", Name: "Oily"},
		},
		Routines: []catalog.Routine{
			{ID: 7, Name: "Clear Start", TargetSkinTypes: "Acne, Oily", TotalSteps: 4, TotalPrice: decimal.RequireFromString("129.50")},
			{ID: 8, Name: "Pore Reset", TargetSkinTypes: "Blackheads", TotalSteps: 3, TotalPrice: decimal.NewFromInt(80)},
			{ID: 9, Name: "Barrier Repair", TargetSkinTypes: "Dry, Sensitive", TotalSteps: 5, TotalPrice: decimal.NewFromInt(150)},
		},
		Links: []catalog.RoutineConcernLink{
			{RoutineID: 7, ConcernID: 1},
			{RoutineID: 7, ConcernID: 3},
			{RoutineID: 8, ConcernID: 2},
		},
	}
}

type fakeAnalyzer struct {
	result map[string]any
	err    error
	delay  time.Duration
	got    []byte
}

func (f *fakeAnalyzer) Analyze(_ context.Context, image io.Reader, _ string) (map[string]any, error) {
	f.got, _ = io.ReadAll(image)
	time.Sleep(f.delay)
	return f.result, f.err
}

type fakeImages struct {
	keys    []string
	deleted []string
	err     error
}

func (f *fakeImages) DeleteImage(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeImages) UploadImage(_ context.Context, r io.Reader, size int64, key, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	data, _ := io.ReadAll(r)
	if int64(len(data)) != size {
		return "", errors.New("size mismatch")
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example/" + key, nil
}

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(testCatalog())
	return &Service{
		Catalog:     store,
		Assignments: store,
		Snapshots:   store,
		Tx:          store,
		Locker:      lock.NewMemoryLocker(time.Second),
		Analyzer:    &fakeAnalyzer{},
		Clock:       application.FixedClock(now),
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Log:         logger.Nop(),
	}, store
}

func acneBag() analysis.Bag {
	return analysis.Bag{"acne": analysis.ScalarWithConfidence{Confidence: 0.8, Value: 5}}
}

func TestRun_CreatesSuitableForNewUser(t *testing.T) {
	svc, store := newService(t)

	res, err := svc.Run(context.Background(), RunCommand{UserID: 42, Bag: acneBag(), Source: snapshots.SourceRaw})
	require.NoError(t, err)

	assert.Equal(t, []concerns.Score{{ConcernName: "Acne", Confidence: 5}}, res.Concerns)
	require.Len(t, res.Routines, 1)
	assert.Equal(t, int64(7), res.Routines[0].ID)
	assert.Equal(t, 1, res.Created)
	assert.NotEmpty(t, res.SnapshotID)

	rows, _ := store.LoadUserAssignments(context.Background(), 42)
	require.Len(t, rows, 1)
	assert.Equal(t, assignments.StatusSuitable, rows[0].Status)
	assert.Equal(t, int64(7), rows[0].RoutineID)
	assert.Equal(t, now.AddDate(0, 1, 0), rows[0].EndDate)
	assert.Len(t, store.Snapshots(), 1)
}

func TestRun_ActiveRowUntouched(t *testing.T) {
	svc, store := newService(t)
	store.Seed(assignments.Assignment{UserID: 42, RoutineID: 7, Status: assignments.StatusActive, ProgressNotes: "booked"})

	res, err := svc.Run(context.Background(), RunCommand{UserID: 42, Bag: acneBag()})
	require.NoError(t, err)
	assert.Zero(t, res.Created+res.Updated+res.Deactivated)

	rows, _ := store.LoadUserAssignments(context.Background(), 42)
	require.Len(t, rows, 1)
	assert.Equal(t, "booked", rows[0].ProgressNotes)
}

func TestRun_DeactivatesDroppedSuitable(t *testing.T) {
	svc, store := newService(t)
	store.Seed(
		assignments.Assignment{UserID: 42, RoutineID: 9, Status: assignments.StatusSuitable},
		assignments.Assignment{UserID: 42, RoutineID: 9, Status: assignments.StatusCompleted},
	)

	res, err := svc.Run(context.Background(), RunCommand{UserID: 42, Bag: acneBag()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deactivated)

	rows, _ := store.LoadUserAssignments(context.Background(), 42)
	statuses := map[assignments.Status]int{}
	for _, r := range rows {
		if r.RoutineID == 9 {
			statuses[r.Status]++
		}
	}
	assert.Equal(t, map[assignments.Status]int{assignments.StatusInActive: 1, assignments.StatusCompleted: 1}, statuses)
}

func TestRun_SecondRunOnlyRefreshes(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	bag := analysis.Bag{
		"acne":      analysis.ScalarWithConfidence{Confidence: 0.8, Value: 5},
		"blackhead": analysis.RectangleList{Items: []analysis.Rectangle{{Left: 1}, {Left: 2}}},
	}

	first, err := svc.Run(ctx, RunCommand{UserID: 42, Bag: bag})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := svc.Run(ctx, RunCommand{UserID: 42, Bag: bag})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 2, second.Updated)

	rows, _ := store.LoadUserAssignments(ctx, 42)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, assignments.StatusSuitable, r.Status)
		assert.Equal(t, assignments.NoteUpdated, r.ProgressNotes)
	}
	assert.Len(t, store.Snapshots(), 2)
}

func TestRun_PersistenceFailureIsAtomic(t *testing.T) {
	svc, store := newService(t)
	store.FailApply = errors.New("commit failed")

	_, err := svc.Run(context.Background(), RunCommand{UserID: 42, Bag: acneBag()})
	require.Error(t, err)
	assert.ErrorContains(t, err, "commit failed")

	assert.Empty(t, store.Snapshots())
	rows, _ := store.LoadUserAssignments(context.Background(), 42)
	assert.Empty(t, rows)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.Metrics.RunsTotal.WithLabelValues(metrics.OutcomePersistence)))
}

func TestRun_InvalidUser(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Run(context.Background(), RunCommand{UserID: 0, Bag: acneBag()})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestRun_LockBusy(t *testing.T) {
	svc, _ := newService(t)
	svc.Locker = lock.NewMemoryLocker(10 * time.Millisecond)
	ctx := context.Background()

	held, err := svc.Locker.Obtain(ctx, locking.UserKey(42))
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = svc.Run(ctx, RunCommand{UserID: 42, Bag: acneBag()})
	assert.ErrorIs(t, err, locking.ErrNotObtained)
}

func TestRun_ConcurrentRunsKeepOneSuitableRow(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Run(ctx, RunCommand{UserID: 42, Bag: acneBag()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, _ := store.LoadUserAssignments(ctx, 42)
	assert.Len(t, rows, 1)
}

func TestRun_NoConcernsDeactivatesEverythingReconcilable(t *testing.T) {
	svc, store := newService(t)
	store.Seed(assignments.Assignment{UserID: 42, RoutineID: 7, Status: assignments.StatusSuitable})

	res, err := svc.Run(context.Background(), RunCommand{UserID: 42, Bag: analysis.Bag{}})
	require.NoError(t, err)
	assert.Empty(t, res.Concerns)
	assert.Empty(t, res.Routines)
	assert.Equal(t, 1, res.Deactivated)
}

func TestAnalyzeImage(t *testing.T) {
	svc, store := newService(t)
	analyzer := &fakeAnalyzer{result: map[string]any{
		"acne": map[string]any{"confidence": 0.8, "value": 5},
	}}
	images := &fakeImages{}
	svc.Analyzer = analyzer
	svc.Images = images

	res, err := svc.AnalyzeImage(context.Background(), 42, strings.NewReader("jpegbytes"), "face.JPG", "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "jpegbytes", string(analyzer.got))
	require.Len(t, images.keys, 1)
	assert.True(t, strings.HasPrefix(images.keys[0], "analyses/42/"))
	assert.True(t, strings.HasSuffix(images.keys[0], ".jpg"))
	assert.Equal(t, 1, res.Created)

	snaps := store.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, snapshots.SourceAPI, snaps[0].Source)
	assert.Equal(t, "https://cdn.example/"+images.keys[0], snaps[0].ImageURL)
	assert.Empty(t, images.deleted)
}

func TestAnalyzeImage_FailedRunRemovesImage(t *testing.T) {
	ctx := context.Background()
	result := map[string]any{"acne": map[string]any{"confidence": 0.8, "value": 5}}

	t.Run("upstream failure", func(t *testing.T) {
		svc, _ := newService(t)
		images := &fakeImages{}
		svc.Images = images
		svc.Analyzer = &fakeAnalyzer{err: errors.New("503")}

		_, err := svc.AnalyzeImage(ctx, 42, strings.NewReader("jpegbytes"), "face.jpg", "image/jpeg")
		require.ErrorIs(t, err, analysis.ErrUpstream)
		assert.Equal(t, images.keys, images.deleted)
	})

	t.Run("lock busy", func(t *testing.T) {
		svc, _ := newService(t)
		images := &fakeImages{}
		svc.Images = images
		svc.Analyzer = &fakeAnalyzer{result: result}
		svc.Locker = lock.NewMemoryLocker(10 * time.Millisecond)

		held, err := svc.Locker.Obtain(ctx, locking.UserKey(42))
		require.NoError(t, err)
		defer held.Release(ctx)

		_, err = svc.AnalyzeImage(ctx, 42, strings.NewReader("jpegbytes"), "face.jpg", "image/jpeg")
		require.ErrorIs(t, err, locking.ErrNotObtained)
		require.Len(t, images.keys, 1)
		assert.Equal(t, images.keys, images.deleted)
	})

	t.Run("persistence failure", func(t *testing.T) {
		svc, store := newService(t)
		images := &fakeImages{}
		svc.Images = images
		svc.Analyzer = &fakeAnalyzer{result: result}
		store.FailApply = errors.New("commit failed")

		_, err := svc.AnalyzeImage(ctx, 42, strings.NewReader("jpegbytes"), "face.jpg", "image/jpeg")
		require.Error(t, err)
		assert.Equal(t, images.keys, images.deleted)
	})
}

func TestAnalyzeImage_UpstreamFailureRecordsDuration(t *testing.T) {
	svc, _ := newService(t)
	reg := prometheus.NewRegistry()
	svc.Metrics = metrics.New(reg)
	svc.Analyzer = &fakeAnalyzer{err: errors.New("503"), delay: 20 * time.Millisecond}

	_, err := svc.AnalyzeImage(context.Background(), 42, strings.NewReader("x"), "f.jpg", "")
	require.ErrorIs(t, err, analysis.ErrUpstream)

	families, err := reg.Gather()
	require.NoError(t, err)
	var sum float64
	for _, mf := range families {
		if mf.GetName() == "reconcile_run_duration_seconds" {
			sum = mf.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	assert.GreaterOrEqual(t, sum, 0.02)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.Metrics.RunsTotal.WithLabelValues(metrics.OutcomeUpstream)))
}

func TestRun_LogsZeroScoredAttributes(t *testing.T) {
	svc, _ := newService(t)
	core, logs := observer.New(zap.DebugLevel)
	svc.Log = &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	bag := analysis.Bag{
		"acne":      analysis.ScalarWithConfidence{Confidence: 0.8, Value: 5},
		"blackhead": analysis.Unknown{Raw: "lots"},
	}
	_, err := svc.Run(context.Background(), RunCommand{UserID: 42, Bag: bag})
	require.NoError(t, err)

	var codes []string
	for _, e := range logs.FilterMessage("attribute scored zero").All() {
		assert.Equal(t, zap.DebugLevel, e.Level)
		codes = append(codes, e.ContextMap()["code"].(string))
	}
	assert.Equal(t, []string{"blackhead"}, codes)
}

func TestAnalyzeImage_UpstreamFailure(t *testing.T) {
	svc, store := newService(t)
	svc.Analyzer = &fakeAnalyzer{err: errors.New("503")}

	_, err := svc.AnalyzeImage(context.Background(), 42, strings.NewReader("x"), "f.jpg", "")
	assert.ErrorIs(t, err, analysis.ErrUpstream)
	assert.Empty(t, store.Snapshots())
}

func TestAnalyzeImage_EmptyImage(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.AnalyzeImage(context.Background(), 42, strings.NewReader(""), "f.jpg", "")
	assert.ErrorIs(t, err, analysis.ErrInvalidPayload)
}

func TestSubmitForm(t *testing.T) {
	svc, store := newService(t)
	skinType := 0
	form := analysis.FormSubmission{
		SkinType:        &skinType,
		SkinTypeDetails: []analysis.FormSkinTypeDetail{{Confidence: 0.9}},
		Regions:         map[string][]analysis.Rectangle{"blackhead": {{Left: 1}, {Left: 2}, {Left: 3}}},
	}

	res, err := svc.SubmitForm(context.Background(), 42, form)
	require.NoError(t, err)

	names := map[string]float64{}
	for _, c := range res.Concerns {
		names[c.ConcernName] = c.Confidence
	}
	assert.Equal(t, map[string]float64{"Oily": 0.9, "Blackheads": 3}, names)
	assert.Equal(t, "Blackheads", res.Concerns[0].ConcernName, "concerns are returned by descending confidence")
	assert.ElementsMatch(t, []int64{7, 8}, []int64{res.Routines[0].ID, res.Routines[1].ID})
	assert.Equal(t, snapshots.SourceForm, store.Snapshots()[0].Source)
}

func TestSubmitRaw(t *testing.T) {
	svc, _ := newService(t)

	res, err := svc.SubmitRaw(context.Background(), 42, []byte(`{"result":{"acne":{"confidence":"0.8","value":"5"}}}`))
	require.NoError(t, err)
	assert.Equal(t, []concerns.Score{{ConcernName: "Acne", Confidence: 5}}, res.Concerns)

	_, err = svc.SubmitRaw(context.Background(), 42, []byte(`not json`))
	assert.ErrorIs(t, err, analysis.ErrInvalidPayload)
}

func TestListAssignmentsAndLatestSnapshot(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	rows, err := svc.ListAssignments(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NotNil(t, rows)

	res, err := svc.Run(ctx, RunCommand{UserID: 42, Bag: acneBag(), Source: snapshots.SourceRaw})
	require.NoError(t, err)

	rows, err = svc.ListAssignments(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	snap, err := svc.LatestSnapshot(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, res.SnapshotID, snap.ID)

	_, err = svc.ListAssignments(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidUser)
}
