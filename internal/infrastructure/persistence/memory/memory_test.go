package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/internal/domain/student"
)

func newTx(t *testing.T, student shared.StudentID, c ledger.Category, module shared.ModuleID) *ledger.Transaction {
	t.Helper()
	tx, err := ledger.NewTransaction(ledger.NewTransactionParams{
		StudentID: student,
		Points:    1,
		Category:  c,
		Reason:    "test",
		ModuleID:  module,
	})
	require.NoError(t, err)
	return tx
}

func TestLedgerStore_AppendCappedIsRaceFree(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()

	var wg sync.WaitGroup
	var awarded atomic.Int32
	for i := 0; i < 20; i++ {
		tx := newTx(t, "s1", ledger.CategoryQuestionCreation, "m1")
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.AppendCapped(ctx, tx, 2)
			assert.NoError(t, err)
			if ok {
				awarded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, awarded.Load())
	txs, err := s.ListByStudent(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
	assert.ElementsMatch(t, []int{1, 2}, []int{txs[0].CapSlot, txs[1].CapSlot})

	// Different module, different cap.
	ok, err := s.AppendCapped(ctx, newTx(t, "s1", ledger.CategoryQuestionCreation, "m2"), 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerStore_UpdatePointsVersionCheck(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	tx := newTx(t, "s1", ledger.CategoryOther, "")
	require.NoError(t, s.Append(ctx, tx))

	updated, err := s.UpdatePoints(ctx, tx.ID, 5, "bonus", 1)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(5), updated.Points)
	assert.Equal(t, "bonus", updated.Reason)
	assert.Equal(t, 2, updated.Version)

	_, err = s.UpdatePoints(ctx, tx.ID, 6, "", 1)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)
	assert.True(t, shared.IsConcurrencyConflict(err))

	_, err = s.UpdatePoints(ctx, "missing", 1, "", 1)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	// Stored rows are not aliased by callers.
	updated.Points = 100
	got, err := s.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(5), got.Points)
}

func TestLedgerStore_Backfill(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	legacy := newTx(t, "s1", ledger.CategoryQuestionValidation, "")
	special := newTx(t, "s1", ledger.CategoryProjectWork, "")
	explicit := newTx(t, "s1", ledger.CategoryQuestionValidation, "m1")
	for _, tx := range []*ledger.Transaction{legacy, special, explicit} {
		require.NoError(t, s.Append(ctx, tx))
	}

	rows, err := s.ListWithoutModule(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, legacy.ID, rows[0].ID)

	require.NoError(t, s.SetBucket(ctx, legacy.ID, "m2", 4, 1))
	assert.ErrorIs(t, s.SetBucket(ctx, legacy.ID, "m2", 4, 1), ledger.ErrVersionConflict)

	rows, err = s.ListWithoutModule(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestLedgerStore_ListByStudents(t *testing.T) {
	ctx := context.Background()
	s := NewLedgerStore()
	require.NoError(t, s.Append(ctx, newTx(t, "s1", ledger.CategoryOther, "")))

	got, err := s.ListByStudents(ctx, []shared.StudentID{"s1", "s2"})
	require.NoError(t, err)
	assert.Len(t, got["s1"], 1)
	assert.Empty(t, got["s2"])
	assert.Contains(t, got, shared.StudentID("s2"))
}

func newQuestion(t *testing.T, creator shared.StudentID) *question.Question {
	t.Helper()
	q, err := question.NewQuestion("m1", creator, question.Content{
		Text:    "Capital of Slovakia?",
		Options: map[question.OptionKey]string{"a": "Bratislava", "b": "Košice", "c": "Žilina", "d": "Nitra"},
		Correct: "a",
	}, time.Now())
	require.NoError(t, err)
	return q
}

func TestQuestionStore_ClaimValidationOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := NewQuestionStore()
	q := newQuestion(t, "alice")
	require.NoError(t, s.Create(ctx, q))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for _, v := range []shared.StudentID{"bob", "carol", "dave", "erin"} {
		wg.Add(1)
		go func(v shared.StudentID) {
			defer wg.Done()
			_, err := s.ClaimValidation(ctx, q.ID, question.PeerValidation{Valid: true, ValidatedBy: v, ValidatedAt: time.Now()})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, question.ErrAlreadyValidated)
		}(v)
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestQuestionStore_ResponseRequiresValidation(t *testing.T) {
	ctx := context.Background()
	s := NewQuestionStore()
	q := newQuestion(t, "alice")
	require.NoError(t, s.Create(ctx, q))

	_, err := s.SaveResponse(ctx, q.ID, question.Agreement{Agreed: true, RespondedAt: time.Now()})
	require.ErrorIs(t, err, question.ErrNotValidated)

	got, err := s.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Agreement)
	assert.Equal(t, 1, got.Version)
}

func TestQuestionStore_UpdateContent(t *testing.T) {
	ctx := context.Background()
	s := NewQuestionStore()
	q := newQuestion(t, "alice")
	require.NoError(t, s.Create(ctx, q))

	c := q.Content
	c.Text = "Capital of the Slovak Republic?"
	updated, err := s.UpdateContent(ctx, q.ID, c, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	_, err = s.UpdateContent(ctx, q.ID, c, 1)
	assert.ErrorIs(t, err, question.ErrVersionConflict)

	n, err := s.CountByCreator(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAssignmentStore_CreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewAssignmentStore()

	first := &question.Assignment{StudentID: "alice", ModuleID: "m1", Week: 2, QuestionIDs: []shared.QuestionID{"q1"}}
	got, created, err := s.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.QuestionIDs, got.QuestionIDs)

	second := &question.Assignment{StudentID: "alice", ModuleID: "m1", Week: 2, QuestionIDs: []shared.QuestionID{"q2"}}
	got, created, err = s.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []shared.QuestionID{"q1"}, got.QuestionIDs)

	_, err = s.Get(ctx, "bob", "m1", 2)
	assert.ErrorIs(t, err, question.ErrAssignmentNotFound)

	list, err := s.ListByModuleWeek(ctx, "m1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDirectories(t *testing.T) {
	ctx := context.Background()
	cd := NewCourseDirectory(
		&course.Module{ID: "m2", SubjectID: "math", Position: 1},
		&course.Module{ID: "m1", SubjectID: "math", Position: 0},
		&course.Module{ID: "x", SubjectID: "art"},
	)
	modules, err := cd.ListModulesForSubject(ctx, "math")
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, shared.ModuleID("m1"), modules[0].ID)

	require.NoError(t, cd.AddQuestion("m1", "q1"))
	m, err := cd.GetModule(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, m.HasQuestion("q1"))
	assert.ErrorIs(t, cd.AddQuestion("nope", "q1"), course.ErrModuleNotFound)

	sd := NewStudentDirectory(
		&student.Profile{ID: "s2", SubjectIDs: []shared.SubjectID{"math"}},
		&student.Profile{ID: "s1", SubjectIDs: []shared.SubjectID{"math"}},
		&student.Profile{ID: "t1", Role: shared.RoleTeacher, SubjectIDs: []shared.SubjectID{"math"}},
	)
	list, err := sd.ListBySubject(ctx, "math", student.DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, shared.StudentID("s1"), list[0].ID)

	page, err := sd.ListBySubject(ctx, "math", student.DefaultListOptions().WithOffset(1).WithLimit(1))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, shared.StudentID("s2"), page[0].ID)

	found, err := sd.GetByIDs(ctx, []shared.StudentID{"s1", "ghost"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
