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
// RESPOND TO VALIDATION COMMAND
// Week 3. The creator agrees or disagrees with the peer verdict, once.
// ══════════════════════════════════════════════════════════════════════════════

// RespondToValidationCommand contains the creator's answer.
type RespondToValidationCommand struct {
	Session    shared.Session
	QuestionID shared.QuestionID
	Agreed     bool
	Comment    string
}

// RespondToValidationHandler handles RespondToValidationCommand.
type RespondToValidationHandler struct {
	questions question.Repository
	modules   course.Directory
	awarder   *Awarder
	publisher shared.EventPublisher
	config    LifecycleConfig
}

// NewRespondToValidationHandler creates a new RespondToValidationHandler.
func NewRespondToValidationHandler(
	questions question.Repository,
	modules course.Directory,
	awarder *Awarder,
	publisher shared.EventPublisher,
	config LifecycleConfig,
) *RespondToValidationHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &RespondToValidationHandler{
		questions: questions,
		modules:   modules,
		awarder:   awarder,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command. Responding before a peer verdict exists is
// rejected with question.ErrNotValidated and writes nothing.
func (h *RespondToValidationHandler) Handle(ctx context.Context, cmd RespondToValidationCommand) (*LifecycleResult, error) {
	if !cmd.Session.IsAuthenticated() {
		return nil, shared.ErrNoSession
	}
	now := h.config.Clock()

	q, err := h.questions.GetByID(ctx, cmd.QuestionID)
	if err != nil {
		return nil, err
	}
	if err := q.CanRespond(cmd.Session.UserID); err != nil {
		return nil, err
	}
	mc, err := loadModule(ctx, h.modules, q.ModuleID)
	if err != nil {
		return nil, err
	}
	if err := checkPhase(mc.module, course.PhaseReparation, now, h.config.EnforcePhases); err != nil {
		return nil, err
	}

	updated, err := h.questions.SaveResponse(ctx, q.ID, question.Agreement{
		Agreed:      cmd.Agreed,
		Comment:     strings.TrimSpace(cmd.Comment),
		RespondedAt: now,
	})
	if err != nil {
		return nil, err
	}

	result := &LifecycleResult{Question: updated}
	award := h.awarder.lifecycleAward(q.CreatorID, mc, ledger.CategoryQuestionReparation, q.ID, course.PhaseReparation.Week(),
		fmt.Sprintf("Responded to validation in %s (week %d)", mc.module.Title, mc.courseWeek(course.PhaseReparation.Week())))
	tx, awarded, err := h.awarder.AwardCapped(ctx, cmd.Session, award)
	result.settle(h.config.Logger, award, tx, awarded, err, NoticeReparationCapReached)

	publishQuestionEvent(h.publisher, h.config.Logger, cmd.Session, shared.EventValidationResponded, updated, boolPtr(cmd.Agreed))
	return result, nil
}
