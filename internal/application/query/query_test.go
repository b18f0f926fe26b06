package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
	"github.com/alem-hub/questpoints/internal/infrastructure/persistence/memory"
)

type env struct {
	ledger   *memory.LedgerStore
	students *memory.StudentDirectory
	courses  *memory.CourseDirectory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	alice, err := student.NewProfile("s1", "Alice", "alice@example.com", shared.RoleStudent)
	require.NoError(t, err)
	alice.SubjectIDs = []shared.SubjectID{"sub"}
	bob, err := student.NewProfile("s2", "Bob", "", shared.RoleStudent)
	require.NoError(t, err)
	bob.SubjectIDs = []shared.SubjectID{"sub"}

	return &env{
		ledger:   memory.NewLedgerStore(),
		students: memory.NewStudentDirectory(alice, bob),
		courses: memory.NewCourseDirectory(
			&course.Module{ID: "m1", SubjectID: "sub", Title: "Loops", Position: 0},
			&course.Module{ID: "m2", SubjectID: "sub", Title: "Functions", Position: 1},
		),
	}
}

func (e *env) add(t *testing.T, p ledger.NewTransactionParams) {
	t.Helper()
	if p.Reason == "" {
		p.Reason = "test"
	}
	tx, err := ledger.NewTransaction(p)
	require.NoError(t, err)
	require.NoError(t, e.ledger.Append(context.Background(), tx))
}

func (e *env) handler(cache SummaryCache) *GetPointsSummaryHandler {
	return NewGetPointsSummaryHandler(e.ledger, e.students, e.courses, SummaryConfig{LegacyWeekParsing: true, Cache: cache})
}

var teacher = shared.Session{UserID: "t1", Role: shared.RoleTeacher, SubjectID: "sub"}

func TestGetPointsSummary_SumInvariantAndBreakdown(t *testing.T) {
	e := newEnv(t)
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionCreation, ModuleID: "m1"})
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionValidation, Reason: "Validation week 5"})
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 7, Category: ledger.CategoryTestPerformance})
	e.add(t, ledger.NewTransactionParams{StudentID: "s2", Points: 2, Category: ledger.CategoryProjectWork})

	res, err := e.handler(nil).Handle(context.Background(), GetPointsSummaryQuery{Session: teacher, StudentIDs: []shared.StudentID{"s1", "s2", "ghost"}})
	require.NoError(t, err)
	require.Len(t, res.Data, 3)

	for _, s := range res.Data {
		sum := 0
		for _, d := range s.Points.Details {
			sum += d.Points
		}
		assert.Equal(t, sum, s.Points.TotalPoints, s.User.ID)
	}

	alice := res.Data[0]
	assert.Equal(t, "Alice", alice.User.DisplayName)
	assert.Equal(t, 9, alice.Points.TotalPoints)
	require.Len(t, alice.Breakdown.Modules, 2)
	assert.Equal(t, 1, alice.Breakdown.Modules[0].Creation)
	assert.Equal(t, 1, alice.Breakdown.Modules[1].Validation, "week 5 falls in the second module")
	assert.Equal(t, 7, alice.Breakdown.Special["test_performance"])
	assert.Equal(t, 0, alice.Breakdown.Special["other"])

	assert.Equal(t, "ghost", res.Data[2].User.DisplayName, "unknown users get a placeholder")
	assert.Zero(t, res.Data[2].Points.TotalPoints)
	assert.NotNil(t, res.Data[2].Points.Details)
}

func TestGetPointsSummary_Deterministic(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 5; i++ {
		e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: i, Category: ledger.CategoryQuestionReparation, Reason: "week 2", CreatedAt: time.Unix(int64(100-i), 0)})
	}
	h := e.handler(nil)
	q := GetPointsSummaryQuery{Session: teacher, StudentIDs: []shared.StudentID{"s1"}}

	first, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	second, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
	assert.True(t, first.Data[0].Points.Details[0].CreatedAt.Before(first.Data[0].Points.Details[1].CreatedAt))
}

func TestGetPointsSummary_Authorization(t *testing.T) {
	e := newEnv(t)
	h := e.handler(nil)
	ctx := context.Background()
	alice := shared.Session{UserID: "s1", Role: shared.RoleStudent, SubjectID: "sub"}

	_, err := h.Handle(ctx, GetPointsSummaryQuery{Session: alice, StudentIDs: []shared.StudentID{"s2"}})
	assert.ErrorIs(t, err, shared.ErrNotYourData)

	_, err = h.Handle(ctx, GetPointsSummaryQuery{StudentIDs: []shared.StudentID{"s1"}})
	assert.ErrorIs(t, err, shared.ErrNoSession)

	own, err := h.Handle(ctx, GetPointsSummaryQuery{Session: alice})
	require.NoError(t, err)
	require.Len(t, own.Data, 1)
	assert.Equal(t, "s1", own.Data[0].User.ID)

	all, err := h.Handle(ctx, GetPointsSummaryQuery{Session: teacher})
	require.NoError(t, err)
	assert.Len(t, all.Data, 2, "teachers default to the whole subject")
}

type mapCache struct {
	data    map[shared.StudentID][]byte
	gens    map[shared.StudentID]int64
	failGet bool
	sets    int

	// onGet runs after a lookup, before the handler computes the summary.
	onGet func(shared.StudentID)
}

func newMapCache() *mapCache {
	return &mapCache{data: map[shared.StudentID][]byte{}, gens: map[shared.StudentID]int64{}}
}

func (c *mapCache) Get(_ context.Context, id shared.StudentID, _ shared.SubjectID, dest any) (bool, int64, error) {
	if c.failGet {
		return false, 0, errors.New("cache down")
	}
	gen := c.gens[id]
	if c.onGet != nil {
		c.onGet(id)
	}
	raw, ok := c.data[id]
	if !ok {
		return false, gen, nil
	}
	return true, gen, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, id shared.StudentID, _ shared.SubjectID, gen int64, v any) error {
	if gen != c.gens[id] {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.data[id] = raw
	c.sets++
	return nil
}

func (c *mapCache) invalidate(id shared.StudentID) {
	c.gens[id]++
	delete(c.data, id)
}

func TestGetPointsSummary_UsesCache(t *testing.T) {
	e := newEnv(t)
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryOther})
	cache := newMapCache()
	h := e.handler(cache)
	q := GetPointsSummaryQuery{Session: teacher, StudentIDs: []shared.StudentID{"s1"}}

	_, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	res, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data[0].Points.TotalPoints)
	assert.Equal(t, 1, cache.sets, "served from cache")

	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 4, Category: ledger.CategoryOther})
	cache.invalidate("s1")
	res, err = h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Data[0].Points.TotalPoints)
	assert.Equal(t, 2, cache.sets)

	// A failing cache degrades to the ledger and is not written to.
	cache.failGet = true
	res, err = h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Data[0].Points.TotalPoints)
	assert.Equal(t, 2, cache.sets)
}

func TestGetPointsSummary_WriteDuringReadIsNotCached(t *testing.T) {
	e := newEnv(t)
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryOther})
	cache := newMapCache()
	h := e.handler(cache)
	q := GetPointsSummaryQuery{Session: teacher, StudentIDs: []shared.StudentID{"s1"}}

	// The invalidation lands between the lookup and the store.
	cache.onGet = func(id shared.StudentID) { cache.invalidate(id) }
	_, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Zero(t, cache.sets)
	assert.NotContains(t, cache.data, shared.StudentID("s1"))

	cache.onGet = nil
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 2, Category: ledger.CategoryOther})
	res, err := h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Data[0].Points.TotalPoints)
	assert.Equal(t, 1, cache.sets)
}

func TestExportSummary(t *testing.T) {
	e := newEnv(t)
	e.add(t, ledger.NewTransactionParams{StudentID: "s1", Points: 1, Category: ledger.CategoryQuestionCreation, ModuleID: "m1"})
	e.add(t, ledger.NewTransactionParams{StudentID: "s2", Points: 3, Category: ledger.CategoryForumParticipation})
	h := NewExportSummaryHandler(e.handler(nil))

	_, err := h.Handle(context.Background(), GetPointsSummaryQuery{Session: shared.Session{UserID: "s1", Role: shared.RoleStudent}})
	assert.ErrorIs(t, err, shared.ErrTeacherOnly)

	res, err := h.Handle(context.Background(), GetPointsSummaryQuery{Session: teacher})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Contains(t, res.Filename, "points-sub-")

	f, err := excelize.OpenReader(bytes.NewReader(res.Content))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Student ID", rows[0][0])
	assert.Equal(t, "Loops creation", rows[0][2])
	assert.Equal(t, "Total", rows[0][len(rows[0])-1])
	assert.Equal(t, "s1", rows[1][0])
	assert.Equal(t, "1", rows[1][2])
	assert.Equal(t, "3", rows[2][len(rows[2])-1])
}
