package command

import (
	"context"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EDIT QUESTION COMMAND
// Week 3, creator only. Replaces the content in place; the lifecycle state
// and the ledger are untouched.
// ══════════════════════════════════════════════════════════════════════════════

// EditQuestionCommand contains the new content.
type EditQuestionCommand struct {
	Session    shared.Session
	QuestionID shared.QuestionID
	Content    question.Content

	// ExpectedVersion guards against overwriting a concurrent edit.
	// Zero means the version read at the start of the command.
	ExpectedVersion int
}

// EditQuestionHandler handles EditQuestionCommand.
type EditQuestionHandler struct {
	questions question.Repository
	modules   course.Directory
	publisher shared.EventPublisher
	config    LifecycleConfig
}

// NewEditQuestionHandler creates a new EditQuestionHandler.
func NewEditQuestionHandler(questions question.Repository, modules course.Directory, publisher shared.EventPublisher, config LifecycleConfig) *EditQuestionHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &EditQuestionHandler{
		questions: questions,
		modules:   modules,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command.
func (h *EditQuestionHandler) Handle(ctx context.Context, cmd EditQuestionCommand) (*question.Question, error) {
	if !cmd.Session.IsAuthenticated() {
		return nil, shared.ErrNoSession
	}
	now := h.config.Clock()

	q, err := h.questions.GetByID(ctx, cmd.QuestionID)
	if err != nil {
		return nil, err
	}
	// Dry run on a copy for ownership and content validation.
	if err := q.Clone().Edit(cmd.Session.UserID, cmd.Content, now); err != nil {
		return nil, err
	}

	mc, err := loadModule(ctx, h.modules, q.ModuleID)
	if err != nil {
		return nil, err
	}
	if err := checkPhase(mc.module, course.PhaseReparation, now, h.config.EnforcePhases); err != nil {
		return nil, err
	}

	expected := cmd.ExpectedVersion
	if expected == 0 {
		expected = q.Version
	}
	updated, err := h.questions.UpdateContent(ctx, q.ID, cmd.Content, expected)
	if err != nil {
		return nil, err
	}

	publishQuestionEvent(h.publisher, h.config.Logger, cmd.Session, shared.EventQuestionEdited, updated, nil)
	return updated, nil
}
