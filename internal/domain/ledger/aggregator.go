package ledger

import (
	"sort"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ModuleTotals is one module column of a summary.
type ModuleTotals struct {
	Slot       int
	ModuleID   shared.ModuleID
	Title      string
	Creation   int
	Validation int
	Reparation int
}

// Total returns the sum of the three lifecycle categories.
func (m ModuleTotals) Total() int {
	return m.Creation + m.Validation + m.Reparation
}

func (m *ModuleTotals) add(c Category, points int) {
	switch c {
	case CategoryQuestionCreation:
		m.Creation += points
	case CategoryQuestionValidation:
		m.Validation += points
	case CategoryQuestionReparation:
		m.Reparation += points
	}
}

// Get returns the value of one lifecycle category.
func (m ModuleTotals) Get(c Category) int {
	switch c {
	case CategoryQuestionCreation:
		return m.Creation
	case CategoryQuestionValidation:
		return m.Validation
	case CategoryQuestionReparation:
		return m.Reparation
	}
	return 0
}

// Breakdown is the per-student aggregate shown in the points table.
type Breakdown struct {
	// TotalPoints is the sum over every transaction, independent of bucketing.
	TotalPoints int

	// Modules are ordered by slot. Every module-backed slot is present;
	// empty slots appear only when they hold points.
	Modules []ModuleTotals

	// Special holds all four special categories, zero when unused.
	Special map[Category]int
}

// Cell returns the displayed value for (category, moduleID).
// For special categories moduleID is ignored.
func (b Breakdown) Cell(c Category, moduleID shared.ModuleID) int {
	if !c.IsModuleScoped() {
		return b.Special[c]
	}
	for _, m := range b.Modules {
		if m.ModuleID == moduleID {
			return m.Get(c)
		}
	}
	return 0
}

// Aggregate groups txs into a Breakdown. It never mutates txs.
func Aggregate(txs []*Transaction, bucketer *Bucketer) Breakdown {
	out := Breakdown{
		TotalPoints: Sum(txs),
		Special:     make(map[Category]int, len(SpecialCategories)),
	}
	for _, c := range SpecialCategories {
		out.Special[c] = 0
	}

	slots := make(map[int]*ModuleTotals, MaxModuleSlots)
	modules := bucketer.Modules()
	for i := 0; i < bucketer.SlotCount(); i++ {
		slots[i] = &ModuleTotals{Slot: i, ModuleID: modules[i].ID, Title: modules[i].Title}
	}

	for _, t := range txs {
		bucket, ok := bucketer.Bucket(t)
		if !ok {
			out.Special[t.Category] += t.Points.Int()
			continue
		}
		cell, exists := slots[bucket.Slot]
		if !exists {
			cell = &ModuleTotals{Slot: bucket.Slot, ModuleID: bucket.ModuleID}
			slots[bucket.Slot] = cell
		}
		cell.add(t.Category, t.Points.Int())
	}

	out.Modules = make([]ModuleTotals, 0, len(slots))
	for _, m := range slots {
		out.Modules = append(out.Modules, *m)
	}
	sort.Slice(out.Modules, func(i, j int) bool { return out.Modules[i].Slot < out.Modules[j].Slot })

	return out
}

// SortTransactions orders txs by (CreatedAt, ID) in place.
func SortTransactions(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}
