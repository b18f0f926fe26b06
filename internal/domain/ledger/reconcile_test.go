package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

func twoCreations() []*Transaction {
	return []*Transaction{
		tx(CategoryQuestionCreation, 1, withID("t2"), withModule("A"), at(2)),
		tx(CategoryQuestionCreation, 1, withID("t1"), withModule("A"), at(1)),
	}
}

func TestPlanReconciliation_Increase(t *testing.T) {
	b := NewBucketer(testModules(2))

	plan, err := PlanReconciliation(twoCreations(), b, Cell{CategoryQuestionCreation, "A"}, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, plan.CurrentSum)
	assert.Equal(t, 1, plan.Delta)
	assert.False(t, plan.Relaxed)
	require.NotNil(t, plan.Target)
	assert.Equal(t, shared.TransactionID("t1"), plan.Target.ID, "oldest matched transaction absorbs the delta")
	assert.Equal(t, shared.Points(2), plan.NewPoints)
}

func TestPlanReconciliation_RejectsNegative(t *testing.T) {
	b := NewBucketer(testModules(2))
	txs := twoCreations()

	_, err := PlanReconciliation(txs, b, Cell{CategoryQuestionCreation, "A"}, -1)
	require.ErrorIs(t, err, ErrEditWouldGoNegative)
	assert.True(t, shared.IsInvariantViolation(err))

	// Planning is pure: inputs are untouched.
	assert.Equal(t, 2, Sum(txs))
}

func TestPlanReconciliation_DeltaMustFitFirstTransaction(t *testing.T) {
	b := NewBucketer(testModules(1))
	txs := []*Transaction{
		tx(CategoryQuestionCreation, 1, withID("t1"), withModule("A"), at(1)),
		tx(CategoryQuestionCreation, 5, withID("t2"), withModule("A"), at(2)),
	}

	// 6 -> 4 needs -2 but the first row only holds 1.
	_, err := PlanReconciliation(txs, b, Cell{CategoryQuestionCreation, "A"}, 4)
	assert.ErrorIs(t, err, ErrEditWouldGoNegative)

	plan, err := PlanReconciliation(txs, b, Cell{CategoryQuestionCreation, "A"}, 5)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(0), plan.NewPoints)
}

func TestPlanReconciliation_Idempotent(t *testing.T) {
	b := NewBucketer(testModules(2))

	plan, err := PlanReconciliation(twoCreations(), b, Cell{CategoryQuestionCreation, "A"}, 2)
	require.NoError(t, err)
	assert.True(t, plan.IsNoop())
	assert.Nil(t, plan.Target)
}

func TestPlanReconciliation_NothingToEdit(t *testing.T) {
	b := NewBucketer(testModules(2))

	_, err := PlanReconciliation(twoCreations(), b, Cell{CategoryQuestionReparation, "A"}, 1)
	require.ErrorIs(t, err, ErrNoPointsToEdit)
	assert.ErrorIs(t, err, shared.ErrNothingToEdit)

	_, err = PlanReconciliation(nil, b, Cell{CategoryProjectWork, ""}, 1)
	assert.ErrorIs(t, err, ErrNoPointsToEdit)
}

func TestPlanReconciliation_RelaxedMatch(t *testing.T) {
	b := NewBucketer(testModules(2))

	// Nothing of this category is bucketed under B, so every creation row matches.
	plan, err := PlanReconciliation(twoCreations(), b, Cell{CategoryQuestionCreation, "B"}, 5)
	require.NoError(t, err)
	assert.True(t, plan.Relaxed)
	assert.Len(t, plan.Matched, 2)
	assert.Equal(t, 3, plan.Delta)
	assert.Equal(t, shared.TransactionID("t1"), plan.Target.ID)
}

func TestPlanReconciliation_StrictUsesDisplayBucketing(t *testing.T) {
	b := NewBucketer(testModules(2))
	txs := []*Transaction{
		tx(CategoryQuestionValidation, 1, withID("a"), withReason("week 1"), at(1)),
		tx(CategoryQuestionValidation, 1, withID("b"), withReason("week 4"), at(2)),
	}

	plan, err := PlanReconciliation(txs, b, Cell{CategoryQuestionValidation, "B"}, 0)
	require.NoError(t, err)
	require.Len(t, plan.Matched, 1)
	assert.Equal(t, shared.TransactionID("b"), plan.Target.ID)
	assert.Equal(t, -1, plan.Delta)
}

func TestPlanReconciliation_SpecialCategoryIgnoresModule(t *testing.T) {
	b := NewBucketer(testModules(2))
	txs := []*Transaction{
		tx(CategoryTestPerformance, 4, withID("x"), withModule("A"), at(1)),
		tx(CategoryTestPerformance, 6, withID("y"), at(2)),
	}

	plan, err := PlanReconciliation(txs, b, Cell{CategoryTestPerformance, "whatever"}, 7)
	require.NoError(t, err)
	assert.False(t, plan.Relaxed)
	assert.Equal(t, -3, plan.Delta)
	assert.Equal(t, shared.Points(1), plan.NewPoints)
}

func TestPlanReconciliation_UnknownCategory(t *testing.T) {
	_, err := PlanReconciliation(nil, NewBucketer(nil), Cell{"nope", ""}, 1)
	assert.True(t, shared.IsValidation(err))
}
