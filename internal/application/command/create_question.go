package command

import (
	"context"
	"fmt"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/question"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// Notices returned alongside successful lifecycle steps that earned nothing.
const (
	NoticeCreationCapReached   = "question stored; the question_creation cap for this module is already reached, no points awarded"
	NoticeValidationCapReached = "validation stored; the question_validation cap for this module is already reached, no points awarded"
	NoticeReparationCapReached = "response stored; the question_reparation cap for this module is already reached, no points awarded"

	// NoticeAwardFailed marks a step that was stored while its points could
	// not be written. The step cannot be repeated, so a teacher awards them.
	NoticeAwardFailed = "step stored; its points could not be recorded and were logged for manual award"
)

// LifecycleResult is returned by every question lifecycle command.
type LifecycleResult struct {
	Question *question.Question

	// Transaction is the awarded transaction, nil when nothing was awarded.
	Transaction *ledger.Transaction

	// Notice explains a step that succeeded without points.
	Notice string
}

// Awarded reports whether the step earned points.
func (r *LifecycleResult) Awarded() bool {
	return r.Transaction != nil
}

// settle records the award outcome of a step that is already stored. A failed
// award does not undo the step: it is logged with everything needed to award
// the points by hand, and the result carries NoticeAwardFailed.
func (r *LifecycleResult) settle(log *logger.Logger, aw Award, tx *ledger.Transaction, awarded bool, err error, capNotice string) {
	switch {
	case err != nil:
		log.Error("step stored but award failed",
			logger.StudentID(aw.StudentID.String()),
			logger.ModuleID(aw.ModuleID.String()),
			logger.QuestionID(aw.QuestionID.String()),
			logger.Category(aw.Category.String()),
			logger.Points(aw.Points),
			logger.Err(err),
		)
		r.Notice = NoticeAwardFailed
	case awarded:
		r.Transaction = tx
	default:
		r.Notice = capNotice
	}
}

// LifecycleConfig contains configuration shared by the lifecycle handlers.
type LifecycleConfig struct {
	// EnforcePhases rejects steps outside their module week.
	EnforcePhases bool

	Logger *logger.Logger
	Clock  Clock
}

// DefaultLifecycleConfig returns default configuration.
func DefaultLifecycleConfig() LifecycleConfig {
	return LifecycleConfig{EnforcePhases: true}
}

func (c LifecycleConfig) withDefaults() LifecycleConfig {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Clock == nil {
		c.Clock = systemClock
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE QUESTION COMMAND
// Week 1 of a module. The first two questions of each student earn a point.
// ══════════════════════════════════════════════════════════════════════════════

// CreateQuestionCommand contains the data of a new question.
type CreateQuestionCommand struct {
	Session  shared.Session
	ModuleID shared.ModuleID
	Content  question.Content
}

// CreateQuestionHandler handles CreateQuestionCommand.
type CreateQuestionHandler struct {
	questions question.Repository
	modules   course.Directory
	awarder   *Awarder
	publisher shared.EventPublisher
	config    LifecycleConfig
}

// NewCreateQuestionHandler creates a new CreateQuestionHandler.
func NewCreateQuestionHandler(
	questions question.Repository,
	modules course.Directory,
	awarder *Awarder,
	publisher shared.EventPublisher,
	config LifecycleConfig,
) *CreateQuestionHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	return &CreateQuestionHandler{
		questions: questions,
		modules:   modules,
		awarder:   awarder,
		publisher: publisher,
		config:    config.withDefaults(),
	}
}

// Handle executes the command.
func (h *CreateQuestionHandler) Handle(ctx context.Context, cmd CreateQuestionCommand) (*LifecycleResult, error) {
	if !cmd.Session.IsAuthenticated() {
		return nil, shared.ErrNoSession
	}
	now := h.config.Clock()

	mc, err := loadModule(ctx, h.modules, cmd.ModuleID)
	if err != nil {
		return nil, err
	}
	if err := checkPhase(mc.module, course.PhaseCreation, now, h.config.EnforcePhases); err != nil {
		return nil, err
	}

	q, err := question.NewQuestion(mc.module.ID, cmd.Session.UserID, cmd.Content, now)
	if err != nil {
		return nil, err
	}
	if err := h.questions.Create(ctx, q); err != nil {
		return nil, fmt.Errorf("create question: %w", err)
	}
	if ix, ok := h.modules.(questionIndexer); ok {
		if err := ix.AddQuestion(mc.module.ID, q.ID); err != nil {
			h.config.Logger.Warn("index question in module failed", logger.QuestionID(q.ID.String()), logger.Err(err))
		}
	}

	result := &LifecycleResult{Question: q}
	award := h.awarder.lifecycleAward(q.CreatorID, mc, ledger.CategoryQuestionCreation, q.ID, course.PhaseCreation.Week(),
		fmt.Sprintf("Created question in %s (week %d)", mc.module.Title, mc.courseWeek(course.PhaseCreation.Week())))
	tx, awarded, err := h.awarder.AwardCapped(ctx, cmd.Session, award)
	result.settle(h.config.Logger, award, tx, awarded, err, NoticeCreationCapReached)

	publishQuestionEvent(h.publisher, h.config.Logger, cmd.Session, shared.EventQuestionCreated, q, nil)
	return result, nil
}

func publishQuestionEvent(p shared.EventPublisher, log *logger.Logger, s shared.Session, t shared.EventType, q *question.Question, outcome *bool) {
	event := shared.NewQuestionEvent(t, q.ID.String(), q.ModuleID.String(), s.UserID.String(), outcome)
	event.BaseEvent = correlate(event.BaseEvent, s)
	if err := p.Publish(event); err != nil {
		log.Warn("publish question event failed", logger.String("event_type", string(t)), logger.Err(err))
	}
}
