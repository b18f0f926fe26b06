package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// EntityQuestion is the related entity type for lifecycle awards.
const EntityQuestion = "question"

// Ledger errors.
var (
	ErrTransactionNotFound = shared.NewDomainError("ledger", "Find", shared.ErrNotFound, "point transaction not found")
	ErrNegativePoints      = shared.NewDomainError("ledger", "SetPoints", shared.ErrNegativeValue, "points cannot be negative")
	ErrInvalidStudent      = shared.NewDomainError("ledger", "Validate", shared.ErrInvalidID, "student id is required")
	ErrEmptyReason         = shared.NewDomainError("ledger", "Validate", shared.ErrEmptyValue, "reason is required")
	ErrVersionConflict     = shared.NewDomainError("ledger", "UpdatePoints", shared.ErrOptimisticLock, "transaction was modified concurrently")
)

// RelatedEntity links a transaction to what earned it.
type RelatedEntity struct {
	EntityType string
	EntityID   string
}

// Transaction is a single point-awarding event.
//
// Identity is immutable; only Points (and Reason on manual edits) change after
// creation. Version increments on every change and is the optimistic lock.
type Transaction struct {
	ID        shared.TransactionID
	StudentID shared.StudentID
	Points    shared.Points
	Category  Category
	Reason    string
	Related   *RelatedEntity

	// QuestionID is the question backlink used by the bucketer.
	QuestionID shared.QuestionID

	// ModuleID and WeekNumber are recorded explicitly at creation time.
	// Rows from before they existed are empty/zero and fall back to the
	// bucketer heuristics.
	ModuleID   shared.ModuleID
	WeekNumber int

	// CapSlot is 1..cap for awards that count toward a per-module cap, 0 otherwise.
	CapSlot int

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTransactionParams holds the inputs of NewTransaction.
type NewTransactionParams struct {
	StudentID  shared.StudentID
	Points     int
	Category   Category
	Reason     string
	Related    *RelatedEntity
	QuestionID shared.QuestionID
	ModuleID   shared.ModuleID
	WeekNumber int
	CreatedAt  time.Time
}

// NewTransaction validates the params and builds a transaction with a fresh ID.
func NewTransaction(p NewTransactionParams) (*Transaction, error) {
	if !p.StudentID.IsValid() {
		return nil, ErrInvalidStudent
	}
	points, err := shared.NewPoints(p.Points)
	if err != nil {
		return nil, ErrNegativePoints
	}
	if !p.Category.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, p.Category)
	}
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}
	if p.WeekNumber < 0 {
		return nil, shared.NewDomainError("ledger", "Validate", shared.ErrValueOutOfRange, "week number cannot be negative")
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return &Transaction{
		ID:         shared.TransactionID(uuid.NewString()),
		StudentID:  p.StudentID,
		Points:     points,
		Category:   p.Category,
		Reason:     reason,
		Related:    p.Related,
		QuestionID: p.QuestionID,
		ModuleID:   p.ModuleID,
		WeekNumber: p.WeekNumber,
		Version:    1,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}, nil
}

// SetPoints replaces the amount. An empty reason keeps the current one.
func (t *Transaction) SetPoints(points int, reason string, now time.Time) error {
	p, err := shared.NewPoints(points)
	if err != nil {
		return ErrNegativePoints
	}
	t.Points = p
	if r := strings.TrimSpace(reason); r != "" {
		t.Reason = r
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// IsCapped reports whether the transaction occupies a cap slot.
func (t *Transaction) IsCapped() bool {
	return t.CapSlot > 0
}

// Clone returns a deep copy, so stores can hand out values without aliasing.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Related != nil {
		r := *t.Related
		c.Related = &r
	}
	return &c
}

// Sum returns the total points of txs.
func Sum(txs []*Transaction) int {
	total := 0
	for _, t := range txs {
		total += t.Points.Int()
	}
	return total
}
