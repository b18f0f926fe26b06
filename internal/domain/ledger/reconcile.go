package ledger

import (
	"fmt"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

var (
	// ErrNoPointsToEdit is returned when a cell has no underlying transactions.
	ErrNoPointsToEdit = shared.NewDomainError("ledger", "Reconcile", shared.ErrNothingToEdit, "no existing points to edit")

	// ErrEditWouldGoNegative is returned when the delta cannot be absorbed by the target.
	ErrEditWouldGoNegative = shared.NewDomainError("ledger", "Reconcile", shared.ErrNegativeValue, "edit would leave a transaction with negative points")
)

// Cell addresses one editable number in the summary table.
type Cell struct {
	Category Category
	ModuleID shared.ModuleID
}

// Plan is the outcome of mapping an edited aggregate back onto the ledger.
type Plan struct {
	Cell       Cell
	Matched    []*Transaction
	Relaxed    bool
	CurrentSum int
	Requested  int
	Delta      int

	// Target is Matched[0]; nil when Delta is 0.
	Target    *Transaction
	NewPoints shared.Points
}

// IsNoop reports whether nothing has to be written.
func (p Plan) IsNoop() bool {
	return p.Delta == 0
}

// PlanReconciliation computes how to make the displayed value of cell equal
// requested, by mutating exactly one transaction.
//
// Strict match uses the same bucketing as display. For module-scoped
// categories an empty strict match falls back to every transaction of the
// category (relaxed match). The whole delta goes to the first matched
// transaction in (CreatedAt, ID) order; if that would go negative the plan
// fails and nothing must be written.
func PlanReconciliation(txs []*Transaction, bucketer *Bucketer, cell Cell, requested int) (Plan, error) {
	if !cell.Category.IsValid() {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownCategory, cell.Category)
	}

	ordered := make([]*Transaction, 0, len(txs))
	for _, t := range txs {
		if t.Category == cell.Category {
			ordered = append(ordered, t)
		}
	}
	SortTransactions(ordered)

	plan := Plan{Cell: cell, Requested: requested}

	if cell.Category.IsModuleScoped() {
		slot := bucketer.SlotOf(cell.ModuleID)
		for _, t := range ordered {
			if b, ok := bucketer.Bucket(t); ok && slot >= 0 && b.Slot == slot {
				plan.Matched = append(plan.Matched, t)
			}
		}
		if len(plan.Matched) == 0 {
			plan.Matched = ordered
			plan.Relaxed = true
		}
	} else {
		plan.Matched = ordered
	}

	if len(plan.Matched) == 0 {
		return plan, ErrNoPointsToEdit
	}

	plan.CurrentSum = Sum(plan.Matched)
	plan.Delta = requested - plan.CurrentSum
	if plan.Delta == 0 {
		return plan, nil
	}

	target := plan.Matched[0]
	next, err := target.Points.Apply(plan.Delta)
	if err != nil {
		return plan, ErrEditWouldGoNegative
	}
	plan.Target = target
	plan.NewPoints = next
	return plan, nil
}
