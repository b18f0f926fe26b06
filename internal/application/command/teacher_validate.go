package command

import (
	"context"
	"strings"

	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEACHER VALIDATE QUESTION COMMAND
// Any time, any state. Awards nothing and gates nothing.
// ══════════════════════════════════════════════════════════════════════════════

// TeacherValidateQuestionCommand contains the teacher's verdict.
type TeacherValidateQuestionCommand struct {
	Session    shared.Session
	QuestionID shared.QuestionID
	Valid      bool
	Comment    string
}

// Validate validates the command.
func (c TeacherValidateQuestionCommand) Validate() error {
	if strings.TrimSpace(c.Comment) == "" {
		return question.ErrTeacherCommentRequired
	}
	return nil
}

// TeacherValidateQuestionHandler handles TeacherValidateQuestionCommand.
type TeacherValidateQuestionHandler struct {
	questions question.Repository
	publisher shared.EventPublisher
	config    LifecycleConfig
}

// NewTeacherValidateQuestionHandler creates a new TeacherValidateQuestionHandler.
func NewTeacherValidateQuestionHandler(questions question.Repository, publisher shared.EventPublisher, config LifecycleConfig) *TeacherValidateQuestionHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &TeacherValidateQuestionHandler{
		questions: questions,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command.
func (h *TeacherValidateQuestionHandler) Handle(ctx context.Context, cmd TeacherValidateQuestionCommand) (*question.Question, error) {
	if err := cmd.Session.RequireTeacher(); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	updated, err := h.questions.SaveTeacherReview(ctx, cmd.QuestionID, question.TeacherReview{
		Valid:      cmd.Valid,
		Comment:    strings.TrimSpace(cmd.Comment),
		ReviewedBy: cmd.Session.UserID,
		ReviewedAt: h.config.Clock(),
	})
	if err != nil {
		return nil, err
	}

	publishQuestionEvent(h.publisher, h.config.Logger, cmd.Session, shared.EventQuestionTeacherValidated, updated, boolPtr(cmd.Valid))
	return updated, nil
}
