package student

import (
	"context"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Directory is the participant directory collaborator.
type Directory interface {
	// GetByID returns ErrStudentNotFound if absent.
	GetByID(ctx context.Context, id shared.StudentID) (*Profile, error)

	// GetByIDs returns the known profiles; unknown IDs are skipped.
	GetByIDs(ctx context.Context, ids []shared.StudentID) ([]*Profile, error)

	// ListBySubject returns participants enrolled in the subject.
	ListBySubject(ctx context.Context, subject shared.SubjectID, opts ListOptions) ([]*Profile, error)
}

// ListOptions holds pagination parameters.
type ListOptions struct {
	// Offset - pagination offset.
	Offset int

	// Limit - maximum number of rows.
	Limit int

	// IncludeTeachers - include teacher accounts.
	IncludeTeachers bool
}

// DefaultListOptions returns the default page.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Offset: 0,
		Limit:  200,
	}
}

// WithOffset sets the offset.
func (o ListOptions) WithOffset(offset int) ListOptions {
	o.Offset = offset
	return o
}

// WithLimit sets the limit.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.Limit = limit
	return o
}
