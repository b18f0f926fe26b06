package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

func testModules(n int) []*course.Module {
	modules := make([]*course.Module, n)
	for i := range modules {
		id := shared.ModuleID(string(rune('A' + i)))
		modules[i] = &course.Module{
			ID:          id,
			Title:       "Module " + string(id),
			Position:    i,
			QuestionIDs: []shared.QuestionID{shared.QuestionID("q-" + string(id))},
		}
	}
	return modules
}

func tx(category Category, points int, opts ...func(*Transaction)) *Transaction {
	t := &Transaction{
		ID:        shared.TransactionID("t"),
		StudentID: "s1",
		Points:    shared.Points(points),
		Category:  category,
		Reason:    "test",
		Version:   1,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func withID(id string) func(*Transaction) { return func(t *Transaction) { t.ID = shared.TransactionID(id) } }
func withReason(r string) func(*Transaction) { return func(t *Transaction) { t.Reason = r } }
func withModule(id string) func(*Transaction) { return func(t *Transaction) { t.ModuleID = shared.ModuleID(id) } }
func withQuestion(id string) func(*Transaction) {
	return func(t *Transaction) { t.QuestionID = shared.QuestionID(id) }
}
func withWeek(w int) func(*Transaction) { return func(t *Transaction) { t.WeekNumber = w } }
func at(d int) func(*Transaction) {
	return func(t *Transaction) { t.CreatedAt = time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" question_validation ")
	require.NoError(t, err)
	assert.Equal(t, CategoryQuestionValidation, c)

	_, err = ParseCategory("question_validaton")
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	var decoded struct{ C Category }
	assert.Error(t, json.Unmarshal([]byte(`{"C":"bogus"}`), &decoded))
	require.NoError(t, json.Unmarshal([]byte(`{"C":"project_work"}`), &decoded))
	assert.Equal(t, CategoryProjectWork, decoded.C)
}

func TestParseWeek(t *testing.T) {
	tests := []struct {
		reason string
		week   int
		ok     bool
	}{
		{"Question created in week 4", 4, true},
		{"WEEK 12 validation", 12, true},
		{"Otázka vytvorená v týždeň 2", 2, true},
		{"TÝŽDEŇ 7", 7, true},
		{"tyzden 3 bez diakritiky", 3, true},
		{"week #5", 5, true},
		{"week 0", 0, false},
		{"weekly bonus", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			week, ok := ParseWeek(tt.reason)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.week, week)
		})
	}
}

func TestBucketer_Priority(t *testing.T) {
	b := NewBucketer(testModules(3))

	tests := []struct {
		name   string
		tx     *Transaction
		slot   int
		module shared.ModuleID
		source BucketSource
	}{
		{"explicit module wins over question", tx(CategoryQuestionCreation, 1, withModule("C"), withQuestion("q-A")), 2, "C", SourceModuleID},
		{"unknown module falls to question", tx(CategoryQuestionCreation, 1, withModule("Z"), withQuestion("q-B")), 1, "B", SourceQuestion},
		{"question wins over reason", tx(CategoryQuestionCreation, 1, withQuestion("q-C"), withReason("week 1")), 2, "C", SourceQuestion},
		{"explicit week", tx(CategoryQuestionValidation, 1, withWeek(5)), 1, "B", SourceWeek},
		{"reason week", tx(CategoryQuestionReparation, 1, withReason("week 7")), 2, "C", SourceReason},
		{"week wraps around modules", tx(CategoryQuestionCreation, 1, withReason("week 10")), 0, "A", SourceReason},
		{"fallback to first module", tx(CategoryQuestionCreation, 1, withReason("bonus")), 0, "A", SourceFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := b.Bucket(tt.tx)
			require.True(t, ok)
			assert.Equal(t, tt.slot, got.Slot)
			assert.Equal(t, tt.module, got.ModuleID)
			assert.Equal(t, tt.source, got.Source)
		})
	}
}

func TestBucketer_NoModules(t *testing.T) {
	b := NewBucketer(nil)

	got, ok := b.Bucket(tx(CategoryQuestionCreation, 1, withReason("week 8")))
	require.True(t, ok)
	assert.Equal(t, 2, got.Slot)
	assert.Equal(t, EmptySlotID(2), got.ModuleID)

	got, _ = b.Bucket(tx(CategoryQuestionCreation, 1, withReason("week 90")))
	assert.Equal(t, MaxModuleSlots-1, got.Slot, "slot is clamped")

	got, _ = b.Bucket(tx(CategoryQuestionCreation, 1))
	assert.Equal(t, 0, got.Slot)
	assert.Equal(t, EmptySlotID(0), got.ModuleID)

	assert.Equal(t, 2, b.SlotOf("slot-2"))
	assert.Equal(t, -1, b.SlotOf("slot-12"))
	assert.Equal(t, -1, b.SlotOf("unknown"))
}

func TestBucketer_LegacyParsingDisabled(t *testing.T) {
	b := NewBucketer(testModules(3), WithLegacyWeekParsing(false))

	got, ok := b.Bucket(tx(CategoryQuestionCreation, 1, withReason("week 7")))
	require.True(t, ok)
	assert.Equal(t, SourceFallback, got.Source)
	assert.Equal(t, 0, got.Slot)
}

func TestBucketer_SpecialCategoriesBypass(t *testing.T) {
	b := NewBucketer(testModules(2))
	for _, c := range SpecialCategories {
		_, ok := b.Bucket(tx(c, 3, withModule("A"), withReason("week 1")))
		assert.False(t, ok, c)
	}
}

func TestBucketer_SlotsClampedBeyondTwelveModules(t *testing.T) {
	b := NewBucketer(testModules(14))
	assert.Equal(t, MaxModuleSlots, b.SlotCount())

	got, ok := b.Bucket(tx(CategoryQuestionCreation, 1, withModule("N")))
	require.True(t, ok)
	assert.Equal(t, MaxModuleSlots-1, got.Slot)
	assert.Equal(t, MaxModuleSlots-1, b.SlotOf("N"))
}

func TestBucketer_ModuleForWeek(t *testing.T) {
	b := NewBucketer(testModules(2))
	assert.Equal(t, shared.ModuleID("A"), b.ModuleForWeek(3).ID)
	assert.Equal(t, shared.ModuleID("B"), b.ModuleForWeek(4).ID)
	assert.Equal(t, shared.ModuleID("A"), b.ModuleForWeek(7).ID)
	assert.Nil(t, b.ModuleForWeek(0))
	assert.Nil(t, NewBucketer(nil).ModuleForWeek(1))
}
