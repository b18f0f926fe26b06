package question

import (
	"context"

	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// Repository is the question store. Lifecycle writes are conditional so two
// concurrent callers can never both win the same transition.
type Repository interface {
	// Create stores a new question and sets its Version to 1.
	Create(ctx context.Context, q *Question) error

	// GetByID returns ErrQuestionNotFound if absent.
	GetByID(ctx context.Context, id shared.QuestionID) (*Question, error)

	// ListByModule returns the module's questions ordered by (CreatedAt, ID).
	ListByModule(ctx context.Context, moduleID shared.ModuleID) ([]*Question, error)

	// CountByCreator returns how many questions student authored in the module.
	CountByCreator(ctx context.Context, moduleID shared.ModuleID, student shared.StudentID) (int, error)

	// ClaimValidation stores v only while validated_by is null.
	// Returns ErrAlreadyValidated when another validator got there first.
	ClaimValidation(ctx context.Context, id shared.QuestionID, v PeerValidation) (*Question, error)

	// SaveResponse stores a only while validated_by is set and no agreement
	// exists. Returns ErrNotValidated or ErrAlreadyResponded otherwise.
	SaveResponse(ctx context.Context, id shared.QuestionID, a Agreement) (*Question, error)

	// SaveTeacherReview stores or replaces the teacher verdict.
	SaveTeacherReview(ctx context.Context, id shared.QuestionID, r TeacherReview) (*Question, error)

	// UpdateContent replaces the content when the stored version equals
	// expectedVersion. Returns ErrVersionConflict otherwise.
	UpdateContent(ctx context.Context, id shared.QuestionID, c Content, expectedVersion int) (*Question, error)
}

// AssignmentRepository persists assignments, one per (student, module, week).
type AssignmentRepository interface {
	// Get returns ErrAssignmentNotFound if absent.
	Get(ctx context.Context, student shared.StudentID, module shared.ModuleID, week int) (*Assignment, error)

	// CreateIfAbsent stores a unless one already exists for its key. It returns
	// the stored assignment and whether a was the one stored.
	CreateIfAbsent(ctx context.Context, a *Assignment) (*Assignment, bool, error)

	// ListByModuleWeek returns every assignment issued for the module and week.
	ListByModuleWeek(ctx context.Context, module shared.ModuleID, week int) ([]*Assignment, error)
}
