package question

import "github.com/alem-hub/questpoints/internal/domain/shared"

// Question errors.
var (
	ErrQuestionNotFound   = shared.NewDomainError("question", "Find", shared.ErrNotFound, "question not found")
	ErrAssignmentNotFound = shared.NewDomainError("question", "FindAssignment", shared.ErrNotFound, "assignment not found")

	ErrEmptyText              = shared.NewDomainError("question", "Validate", shared.ErrEmptyValue, "question text is required")
	ErrInvalidOptions         = shared.NewDomainError("question", "Validate", shared.ErrInvalidInput, "exactly four non-empty options a-d are required")
	ErrInvalidCorrect         = shared.NewDomainError("question", "Validate", shared.ErrInvalidInput, "correct option must be one of a, b, c, d")
	ErrInvalidModule          = shared.NewDomainError("question", "Validate", shared.ErrInvalidID, "module id is required")
	ErrInvalidCreator         = shared.NewDomainError("question", "Validate", shared.ErrInvalidID, "creator id is required")
	ErrTeacherCommentRequired = shared.NewDomainError("question", "TeacherValidate", shared.ErrEmptyValue, "teacher validation requires a comment")

	ErrSelfValidation   = shared.NewDomainError("question", "Validate", shared.ErrForbidden, "students cannot validate their own questions")
	ErrNotCreator       = shared.NewDomainError("question", "Authorize", shared.ErrForbidden, "only the creator may do this")
	ErrAlreadyValidated = shared.NewDomainError("question", "Validate", shared.ErrAlreadyProcessed, "question has already been validated")
	ErrNotValidated     = shared.NewDomainError("question", "Respond", shared.ErrInvalidState, "question has not been validated yet")
	ErrAlreadyResponded = shared.NewDomainError("question", "Respond", shared.ErrAlreadyProcessed, "validation has already been answered")
	ErrVersionConflict  = shared.NewDomainError("question", "Update", shared.ErrOptimisticLock, "question was modified concurrently")
)
