package command

import (
	"context"

	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARDER
// Appends point transactions and announces them. Lifecycle awards go through
// the capped path; operator awards through the uncapped one.
// ══════════════════════════════════════════════════════════════════════════════

// Award describes one transaction to append.
type Award struct {
	StudentID  shared.StudentID
	ModuleID   shared.ModuleID
	Category   ledger.Category
	Points     int
	Reason     string
	QuestionID shared.QuestionID
	Related    *ledger.RelatedEntity
	WeekNumber int

	// Automatic marks scarcity compensation, awarded without an action.
	Automatic bool
}

// Awarder writes awards to the ledger.
type Awarder struct {
	ledger    ledger.Repository
	publisher shared.EventPublisher
	recorder  Recorder
	policy    PointsPolicy
	logger    *logger.Logger
	now       Clock
}

// AwarderConfig contains the optional collaborators of an Awarder.
type AwarderConfig struct {
	Policy   PointsPolicy
	Recorder Recorder
	Logger   *logger.Logger
	Clock    Clock
}

// NewAwarder creates a new Awarder.
func NewAwarder(repo ledger.Repository, publisher shared.EventPublisher, config AwarderConfig) *Awarder {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}
	return &Awarder{
		ledger:    repo,
		publisher: publisher,
		recorder:  config.Recorder,
		policy:    config.Policy.withDefaults(),
		logger:    config.Logger.With(logger.Component("awarder")),
		now:       config.Clock,
	}
}

// Policy returns the effective points policy.
func (a *Awarder) Policy() PointsPolicy {
	return a.policy
}

// AwardCapped appends the award only while the student holds fewer than the
// category's cap of capped transactions in the module. It returns false with
// no error when the cap is already reached.
func (a *Awarder) AwardCapped(ctx context.Context, s shared.Session, aw Award) (*ledger.Transaction, bool, error) {
	tx, err := a.build(aw)
	if err != nil {
		return nil, false, err
	}

	limit := a.policy.CapFor(aw.Category)
	ok, err := a.ledger.AppendCapped(ctx, tx, limit)
	if err != nil {
		return nil, false, err
	}
	a.recorder.RecordAward(aw.Category.String(), ok)
	if !ok {
		a.logger.Info("award skipped, cap reached",
			logger.StudentID(aw.StudentID.String()),
			logger.ModuleID(aw.ModuleID.String()),
			logger.Category(aw.Category.String()),
			logger.Int("cap", limit),
		)
		return nil, false, nil
	}

	a.announce(s, tx, aw.Automatic)
	return tx, true, nil
}

// AwardUncapped appends the award unconditionally.
func (a *Awarder) AwardUncapped(ctx context.Context, s shared.Session, aw Award) (*ledger.Transaction, error) {
	tx, err := a.build(aw)
	if err != nil {
		return nil, err
	}
	if err := a.ledger.Append(ctx, tx); err != nil {
		return nil, err
	}
	a.recorder.RecordAward(aw.Category.String(), true)
	a.announce(s, tx, aw.Automatic)
	return tx, nil
}

func (a *Awarder) build(aw Award) (*ledger.Transaction, error) {
	return ledger.NewTransaction(ledger.NewTransactionParams{
		StudentID:  aw.StudentID,
		Points:     aw.Points,
		Category:   aw.Category,
		Reason:     aw.Reason,
		Related:    aw.Related,
		QuestionID: aw.QuestionID,
		ModuleID:   aw.ModuleID,
		WeekNumber: aw.WeekNumber,
		CreatedAt:  a.now(),
	})
}

func (a *Awarder) announce(s shared.Session, tx *ledger.Transaction, automatic bool) {
	event := shared.NewPointsAwardedEvent(
		tx.StudentID.String(),
		tx.ID.String(),
		tx.Category.String(),
		tx.Points.Int(),
		tx.ModuleID.String(),
		automatic,
	)
	event.BaseEvent = correlate(event.BaseEvent, s)
	if err := a.publisher.Publish(event); err != nil {
		a.logger.Warn("publish points.awarded failed", logger.TransactionID(tx.ID.String()), logger.Err(err))
	}
	a.logger.Info("points awarded",
		logger.StudentID(tx.StudentID.String()),
		logger.TransactionID(tx.ID.String()),
		logger.Category(tx.Category.String()),
		logger.Points(tx.Points.Int()),
		logger.Bool("automatic", automatic),
	)
}

// lifecycleAward builds the capped award of a question lifecycle step.
func (a *Awarder) lifecycleAward(student shared.StudentID, mc moduleContext, c ledger.Category, q shared.QuestionID, inModuleWeek int, reason string) Award {
	return Award{
		StudentID:  student,
		ModuleID:   mc.module.ID,
		Category:   c,
		Points:     a.policy.PointsPerAward,
		Reason:     reason,
		QuestionID: q,
		Related:    &ledger.RelatedEntity{EntityType: ledger.EntityQuestion, EntityID: q.String()},
		WeekNumber: mc.courseWeek(inModuleWeek),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD CUSTOM POINTS COMMAND
// A teacher grants points by hand. Manual awards are exempt from caps.
// ══════════════════════════════════════════════════════════════════════════════

// AwardCustomPointsCommand contains the data of a manual award.
type AwardCustomPointsCommand struct {
	Session   shared.Session
	StudentID shared.StudentID
	Points    int
	Reason    string
	Category  ledger.Category

	// ModuleID and WeekNumber are optional; module-scoped categories without
	// them fall back to bucketer heuristics on display.
	ModuleID   shared.ModuleID
	WeekNumber int
}

// Validate validates the command.
func (c AwardCustomPointsCommand) Validate() error {
	if !c.StudentID.IsValid() {
		return ledger.ErrInvalidStudent
	}
	if c.Points < 0 {
		return ledger.ErrNegativePoints
	}
	if !c.Category.IsValid() {
		return ledger.ErrUnknownCategory
	}
	return nil
}

// AwardCustomPointsHandler handles AwardCustomPointsCommand.
type AwardCustomPointsHandler struct {
	awarder *Awarder
}

// NewAwardCustomPointsHandler creates a new AwardCustomPointsHandler.
func NewAwardCustomPointsHandler(awarder *Awarder) *AwardCustomPointsHandler {
	return &AwardCustomPointsHandler{awarder: awarder}
}

// Handle executes the command.
func (h *AwardCustomPointsHandler) Handle(ctx context.Context, cmd AwardCustomPointsCommand) (*ledger.Transaction, error) {
	if err := cmd.Session.RequireTeacher(); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	return h.awarder.AwardUncapped(ctx, cmd.Session, Award{
		StudentID:  cmd.StudentID,
		ModuleID:   cmd.ModuleID,
		Category:   cmd.Category,
		Points:     cmd.Points,
		Reason:     cmd.Reason,
		WeekNumber: cmd.WeekNumber,
		Related:    &ledger.RelatedEntity{EntityType: "manual", EntityID: cmd.Session.UserID.String()},
	})
}
