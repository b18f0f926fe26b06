package ledger

import (
	"context"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// Repository is the point transaction store.
// All list methods return transactions ordered by (CreatedAt, ID).
type Repository interface {
	// Append stores a new uncapped transaction.
	Append(ctx context.Context, t *Transaction) error

	// AppendCapped stores t only if fewer than limit capped transactions exist
	// for (t.StudentID, t.ModuleID, t.Category). On success t.CapSlot is set.
	// Returns false with no error when the cap is already reached.
	// Must be safe against concurrent callers for the same key.
	AppendCapped(ctx context.Context, t *Transaction, limit int) (bool, error)

	// GetByID returns ErrTransactionNotFound if absent.
	GetByID(ctx context.Context, id shared.TransactionID) (*Transaction, error)

	// ListByStudent returns every transaction of the student.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Transaction, error)

	// ListByStudents batches ListByStudent. Students without rows map to empty slices.
	ListByStudents(ctx context.Context, studentIDs []shared.StudentID) (map[shared.StudentID][]*Transaction, error)

	// UpdatePoints sets points (and reason, if non-empty) when the stored
	// version equals expectedVersion. Returns ErrVersionConflict otherwise.
	UpdatePoints(ctx context.Context, id shared.TransactionID, points shared.Points, reason string, expectedVersion int) (*Transaction, error)

	// ListWithoutModule returns up to limit rows that have no explicit ModuleID.
	ListWithoutModule(ctx context.Context, limit int) ([]*Transaction, error)

	// SetBucket records an explicit module and week on a legacy row.
	SetBucket(ctx context.Context, id shared.TransactionID, moduleID shared.ModuleID, week int, expectedVersion int) error
}
