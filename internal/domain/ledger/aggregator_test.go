package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

func TestAggregate_Breakdown(t *testing.T) {
	b := NewBucketer(testModules(2))
	txs := []*Transaction{
		tx(CategoryQuestionCreation, 1, withModule("A")),
		tx(CategoryQuestionCreation, 1, withModule("A")),
		tx(CategoryQuestionValidation, 1, withQuestion("q-B")),
		tx(CategoryQuestionReparation, 2, withReason("týždeň 4")),
		tx(CategoryTestPerformance, 10),
		tx(CategoryOther, 3, withModule("A")),
	}

	got := Aggregate(txs, b)

	assert.Equal(t, 18, got.TotalPoints)
	require.Len(t, got.Modules, 2)
	assert.Equal(t, ModuleTotals{Slot: 0, ModuleID: "A", Title: "Module A", Creation: 2}, got.Modules[0])
	assert.Equal(t, ModuleTotals{Slot: 1, ModuleID: "B", Title: "Module B", Validation: 1, Reparation: 2}, got.Modules[1])
	assert.Equal(t, 10, got.Special[CategoryTestPerformance])
	assert.Equal(t, 3, got.Special[CategoryOther])
	assert.Equal(t, 0, got.Special[CategoryProjectWork])
	assert.Len(t, got.Special, len(SpecialCategories))

	assert.Equal(t, 2, got.Cell(CategoryQuestionCreation, "A"))
	assert.Equal(t, 10, got.Cell(CategoryTestPerformance, "ignored"))
}

func TestAggregate_EmptySlotsOnlyWhenUsed(t *testing.T) {
	got := Aggregate([]*Transaction{
		tx(CategoryQuestionCreation, 1, withReason("week 4")),
	}, NewBucketer(nil))

	require.Len(t, got.Modules, 1)
	assert.Equal(t, 1, got.Modules[0].Slot)
	assert.Equal(t, EmptySlotID(1), got.Modules[0].ModuleID)
}

// totalPoints must equal the plain sum no matter how rows are bucketed.
func TestAggregate_SumInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	categories := append(append([]Category{}, ModuleCategories...), SpecialCategories...)
	reasons := []string{"week 1", "week 5", "týždeň 11", "bonus", ""}

	for round := 0; round < 50; round++ {
		var txs []*Transaction
		expected := 0
		n := rng.Intn(30)
		for i := 0; i < n; i++ {
			p := rng.Intn(5)
			expected += p
			txs = append(txs, tx(categories[rng.Intn(len(categories))], p,
				withReason(reasons[rng.Intn(len(reasons))]),
				withQuestion("q-"+string(rune('A'+rng.Intn(6))))))
		}

		for _, modules := range []int{0, 1, 3, 13} {
			got := Aggregate(txs, NewBucketer(testModules(modules)))
			assert.Equal(t, expected, got.TotalPoints)

			bucketed := 0
			for _, m := range got.Modules {
				bucketed += m.Total()
			}
			for _, v := range got.Special {
				bucketed += v
			}
			assert.Equal(t, expected, bucketed, "every point lands in exactly one cell")
		}
	}
}

func TestAggregate_Deterministic(t *testing.T) {
	modules := testModules(3)
	txs := []*Transaction{
		tx(CategoryQuestionCreation, 1, withReason("week 2")),
		tx(CategoryQuestionValidation, 1, withReason("week 6")),
		tx(CategoryQuestionReparation, 1, withQuestion("q-C")),
		tx(CategoryForumParticipation, 4),
	}

	first := Aggregate(txs, NewBucketer(modules))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Aggregate(txs, NewBucketer(modules)))
	}
}

func TestSum(t *testing.T) {
	assert.Equal(t, 0, Sum(nil))
	assert.Equal(t, 5, Sum([]*Transaction{tx(CategoryOther, 2), tx(CategoryOther, 3)}))
}

func TestNewTransaction(t *testing.T) {
	got, err := NewTransaction(NewTransactionParams{
		StudentID: "s1",
		Points:    1,
		Category:  CategoryQuestionCreation,
		Reason:    " Question created ",
		ModuleID:  "A",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Question created", got.Reason)
	assert.Equal(t, 1, got.Version)

	_, err = NewTransaction(NewTransactionParams{StudentID: "s1", Points: -1, Category: CategoryOther, Reason: "x"})
	assert.True(t, shared.IsInvariantViolation(err))

	_, err = NewTransaction(NewTransactionParams{StudentID: "s1", Points: 1, Category: "typo", Reason: "x"})
	assert.True(t, shared.IsValidation(err))

	_, err = NewTransaction(NewTransactionParams{StudentID: "s1", Points: 1, Category: CategoryOther})
	assert.True(t, shared.IsValidation(err))
}
