package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATE QUESTION COMMAND
// Week 2. The first peer verdict wins; the store claims validated_by only
// while it is still empty.
// ══════════════════════════════════════════════════════════════════════════════

// ValidateQuestionCommand contains a peer verdict.
type ValidateQuestionCommand struct {
	Session    shared.Session
	QuestionID shared.QuestionID
	Valid      bool
	Comment    string
}

// ValidateQuestionHandler handles ValidateQuestionCommand.
type ValidateQuestionHandler struct {
	questions question.Repository
	modules   course.Directory
	awarder   *Awarder
	publisher shared.EventPublisher
	config    LifecycleConfig
}

// NewValidateQuestionHandler creates a new ValidateQuestionHandler.
func NewValidateQuestionHandler(
	questions question.Repository,
	modules course.Directory,
	awarder *Awarder,
	publisher shared.EventPublisher,
	config LifecycleConfig,
) *ValidateQuestionHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &ValidateQuestionHandler{
		questions: questions,
		modules:   modules,
		awarder:   awarder,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command.
func (h *ValidateQuestionHandler) Handle(ctx context.Context, cmd ValidateQuestionCommand) (*LifecycleResult, error) {
	if !cmd.Session.IsAuthenticated() {
		return nil, shared.ErrNoSession
	}
	now := h.config.Clock()

	q, err := h.questions.GetByID(ctx, cmd.QuestionID)
	if err != nil {
		return nil, err
	}
	if err := q.CanValidate(cmd.Session.UserID); err != nil {
		return nil, err
	}
	mc, err := loadModule(ctx, h.modules, q.ModuleID)
	if err != nil {
		return nil, err
	}
	if err := checkPhase(mc.module, course.PhaseValidation, now, h.config.EnforcePhases); err != nil {
		return nil, err
	}

	updated, err := h.questions.ClaimValidation(ctx, q.ID, question.PeerValidation{
		Valid:       cmd.Valid,
		Comment:     strings.TrimSpace(cmd.Comment),
		ValidatedBy: cmd.Session.UserID,
		ValidatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	result := &LifecycleResult{Question: updated}
	award := h.awarder.lifecycleAward(cmd.Session.UserID, mc, ledger.CategoryQuestionValidation, q.ID, course.PhaseValidation.Week(),
		fmt.Sprintf("Validated question in %s (week %d)", mc.module.Title, mc.courseWeek(course.PhaseValidation.Week())))
	tx, awarded, err := h.awarder.AwardCapped(ctx, cmd.Session, award)
	result.settle(h.config.Logger, award, tx, awarded, err, NoticeValidationCapReached)

	publishQuestionEvent(h.publisher, h.config.Logger, cmd.Session, shared.EventQuestionValidated, updated, boolPtr(cmd.Valid))
	return result, nil
}
