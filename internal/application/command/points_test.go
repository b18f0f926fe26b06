package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

func TestAwardCustomPoints_TeacherOnlyAndUncapped(t *testing.T) {
	f := newFixture(t)
	h := NewAwardCustomPointsHandler(f.awarder)
	ctx := context.Background()

	cmd := AwardCustomPointsCommand{
		Session:   studentSession("s1"),
		StudentID: "s1",
		Points:    5,
		Reason:    "bonus",
		Category:  ledger.CategoryQuestionCreation,
		ModuleID:  "m1",
	}
	_, err := h.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrTeacherOnly)

	cmd.Session = teacherSession()
	for i := 0; i < 3; i++ {
		tx, err := h.Handle(ctx, cmd)
		require.NoError(t, err)
		assert.Zero(t, tx.CapSlot, "manual awards hold no cap slot")
		assert.Equal(t, "manual", tx.Related.EntityType)
	}
	assert.Equal(t, 15, ledger.Sum(f.transactions(t, "s1")))

	// Manual awards do not consume lifecycle cap slots.
	assert.True(t, f.create(t, "s1", "m1", "q1").Awarded())

	cmd.Category = "homework"
	_, err = h.Handle(ctx, cmd)
	assert.ErrorIs(t, err, ledger.ErrUnknownCategory)

	cmd.Category = ledger.CategoryOther
	cmd.Points = -1
	_, err = h.Handle(ctx, cmd)
	assert.ErrorIs(t, err, ledger.ErrNegativePoints)
}

func TestUpdatePoint(t *testing.T) {
	f := newFixture(t)
	tx := f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryProjectWork})
	ctx := context.Background()
	h := NewUpdatePointHandler(f.ledger, f.events, f.recorder, nil)

	_, err := h.Handle(ctx, UpdatePointCommand{Session: studentSession("s1"), PointID: tx.ID, NewPoints: 9})
	assert.ErrorIs(t, err, shared.ErrTeacherOnly)

	_, err = h.Handle(ctx, UpdatePointCommand{Session: teacherSession(), PointID: tx.ID, NewPoints: -3})
	assert.ErrorIs(t, err, ledger.ErrNegativePoints)

	res, err := h.Handle(ctx, UpdatePointCommand{Session: teacherSession(), PointID: tx.ID, NewPoints: 4, Reason: "regraded"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.OldPoints)
	assert.Equal(t, shared.Points(4), res.Transaction.Points)
	assert.Equal(t, "regraded", res.Transaction.Reason)
	assert.Contains(t, f.events.types(), shared.EventPointsAdjusted)

	_, err = h.Handle(ctx, UpdatePointCommand{Session: teacherSession(), PointID: "missing", NewPoints: 1})
	assert.True(t, shared.IsNotFound(err))
}

func TestUpdatePoint_RetriesVersionConflict(t *testing.T) {
	f := newFixture(t)
	tx := f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryOther})
	repo := &conflictingLedger{Repository: f.ledger, n: 1}
	h := NewUpdatePointHandler(repo, nil, f.recorder, nil)

	res, err := h.Handle(context.Background(), UpdatePointCommand{Session: teacherSession(), PointID: tx.ID, NewPoints: 2})
	require.NoError(t, err)
	assert.Equal(t, shared.Points(2), res.Transaction.Points)
}

func reconcile(f *fixture, repo ledger.Repository, cmd ReconcilePointsCommand) (*ReconcilePointsResult, error) {
	cfg := DefaultReconcileConfig()
	cfg.Recorder = f.recorder
	h := NewReconcilePointsHandler(repo, f.courses, f.events, cfg)
	if cmd.Session.UserID == "" {
		cmd.Session = teacherSession()
	}
	return h.Handle(context.Background(), cmd)
}

func seedTwoCreations(t *testing.T, f *fixture) (first, second *ledger.Transaction) {
	first = f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionCreation, ModuleID: "m1", CreatedAt: testNow.Add(-2)})
	second = f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionCreation, ModuleID: "m1", CreatedAt: testNow.Add(-1)})
	return first, second
}

func TestReconcile_IncreaseLandsOnFirstTransaction(t *testing.T) {
	f := newFixture(t)
	first, second := seedTwoCreations(t, f)

	res, err := reconcile(f, f.ledger, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryQuestionCreation, ModuleID: "m1", Requested: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedDelta)
	assert.Equal(t, 2, res.PreviousSum)
	assert.Equal(t, 3, res.NewSum)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, first.ID, res.Transaction.ID)

	got, err := f.ledger.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(2), got.Points)
	untouched, err := f.ledger.GetByID(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(1), untouched.Points)

	assert.Equal(t, 3, ledger.Sum(f.transactions(t, "s1")))
	assert.Equal(t, []string{"reconcile"}, f.recorder.edits)
}

func TestReconcile_NegativeResultLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	seedTwoCreations(t, f)
	before := f.transactions(t, "s1")

	_, err := reconcile(f, f.ledger, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryQuestionCreation, ModuleID: "m1", Requested: -1})
	require.ErrorIs(t, err, ledger.ErrEditWouldGoNegative)
	assert.True(t, shared.IsInvariantViolation(err))

	assert.Equal(t, before, f.transactions(t, "s1"))
	assert.Empty(t, f.recorder.edits)
}

func TestReconcile_NoMatchingTransactions(t *testing.T) {
	f := newFixture(t)
	seedTwoCreations(t, f)

	_, err := reconcile(f, f.ledger, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryForumParticipation, Requested: 4})
	assert.ErrorIs(t, err, ledger.ErrNoPointsToEdit)
	assert.Len(t, f.transactions(t, "s1"), 2)
}

func TestReconcile_SameValueIsNoop(t *testing.T) {
	f := newFixture(t)
	first, _ := seedTwoCreations(t, f)

	res, err := reconcile(f, f.ledger, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryQuestionCreation, ModuleID: "m1", Requested: 2})
	require.NoError(t, err)
	assert.Zero(t, res.AppliedDelta)
	assert.Nil(t, res.Transaction)

	got, err := f.ledger.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Version, got.Version)
	assert.NotContains(t, f.events.types(), shared.EventPointsAdjusted)
}

func TestReconcile_RetriesThenGivesUp(t *testing.T) {
	f := newFixture(t)
	seedTwoCreations(t, f)

	repo := &conflictingLedger{Repository: f.ledger, n: 2}
	res, err := reconcile(f, repo, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryQuestionCreation, ModuleID: "m1", Requested: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, res.AppliedDelta)
	assert.Equal(t, 2, f.recorder.retries)

	repo = &conflictingLedger{Repository: f.ledger, n: 10}
	_, err = reconcile(f, repo, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryQuestionCreation, ModuleID: "m1", Requested: 1})
	assert.True(t, shared.IsConcurrencyConflict(err))
	assert.Equal(t, 5, ledger.Sum(f.transactions(t, "s1")))
}

func TestReconcile_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := reconcile(f, f.ledger, ReconcilePointsCommand{Session: studentSession("s1"), StudentID: "s1", Category: ledger.CategoryOther, Requested: 1})
	assert.ErrorIs(t, err, shared.ErrTeacherOnly)

	_, err = reconcile(f, f.ledger, ReconcilePointsCommand{StudentID: "s1", Category: ledger.CategoryQuestionCreation, Requested: 1})
	assert.True(t, shared.IsValidation(err), "module-scoped categories need a module")
}

func TestBackfillBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	byWeek := f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionValidation, Reason: "Validated a question in week 5"})
	fallback := f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionCreation, Reason: "old import"})
	f.seed(t, ledger.NewTransactionParams{StudentID: "s1", Points: 3, Category: ledger.CategoryTestPerformance})

	f.seed(t, ledger.NewTransactionParams{StudentID: "s2", Points: 2, Category: ledger.CategoryQuestionCreation, Reason: "Created in week 1"})
	f.seed(t, ledger.NewTransactionParams{StudentID: "s2", Points: 1, Category: ledger.CategoryQuestionValidation, Reason: "Validated in week 2"})

	h := NewBackfillBucketsHandler(f.ledger, f.courses, f.events, nil)

	dry, err := h.Handle(ctx, BackfillBucketsCommand{SubjectID: "sub", DryRun: true})
	require.NoError(t, err)
	require.Len(t, dry.Changes, 4)
	assert.Zero(t, dry.Applied)
	assert.Empty(t, f.events.types(), "dry runs publish nothing")

	res, err := h.Handle(ctx, BackfillBucketsCommand{SubjectID: "sub"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied)

	// One event per affected student, not per row; points are unchanged.
	require.Equal(t, []shared.EventType{shared.EventPointsAdjusted, shared.EventPointsAdjusted}, f.events.types())
	students := map[string]shared.PointsAdjustedEvent{}
	for _, e := range f.events.events {
		adj := e.(shared.PointsAdjustedEvent)
		students[adj.AggregateID()] = adj
	}
	require.Contains(t, students, "s1")
	require.Contains(t, students, "s2")
	assert.Equal(t, byWeek.ID.String(), students["s1"].TransactionID)
	assert.Equal(t, students["s1"].OldPoints, students["s1"].NewPoints)
	assert.Equal(t, "backfill", students["s1"].AdjustedBy)

	got, err := f.ledger.GetByID(ctx, byWeek.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ModuleID("m2"), got.ModuleID, "week 5 is in the second module")
	assert.Equal(t, 5, got.WeekNumber)

	left, err := f.ledger.GetByID(ctx, fallback.ID)
	require.NoError(t, err)
	assert.Empty(t, left.ModuleID, "fallback rows need IncludeFallback")

	res, err = h.Handle(ctx, BackfillBucketsCommand{SubjectID: "sub", IncludeFallback: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Len(t, f.events.types(), 3)
	left, err = f.ledger.GetByID(ctx, fallback.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.ModuleID("m1"), left.ModuleID)

	_, err = h.Handle(ctx, BackfillBucketsCommand{SubjectID: "empty"})
	assert.True(t, shared.IsNotFound(err))
}
