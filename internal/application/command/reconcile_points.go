package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/questpoints/internal/domain/course"
	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
	"github.com/alem-hub/questpoints/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE POINTS COMMAND
// An operator sets a summary cell to a new value. The edit lands on exactly
// one transaction; each attempt re-reads the ledger before planning, and a
// version conflict restarts from the read.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcilePointsCommand addresses one summary cell.
type ReconcilePointsCommand struct {
	Session   shared.Session
	StudentID shared.StudentID

	// SubjectID selects the module list used for bucketing. Defaults to the
	// session subject.
	SubjectID shared.SubjectID

	Category ledger.Category

	// ModuleID is a module ID or an empty-slot ID; ignored for special categories.
	ModuleID shared.ModuleID

	Requested int
	Reason    string
}

// Validate validates the command.
func (c ReconcilePointsCommand) Validate() error {
	if !c.StudentID.IsValid() {
		return ledger.ErrInvalidStudent
	}
	if !c.Category.IsValid() {
		return fmt.Errorf("%w: %q", ledger.ErrUnknownCategory, c.Category)
	}
	if c.Category.IsModuleScoped() && !c.ModuleID.IsValid() {
		return shared.NewDomainError("ledger", "Reconcile", shared.ErrInvalidInput, "module id is required for module-scoped categories")
	}
	return nil
}

// ReconcilePointsResult is the outcome of a reconciliation.
type ReconcilePointsResult struct {
	AppliedDelta int
	PreviousSum  int
	NewSum       int
	Relaxed      bool
	Matched      int

	// Transaction is the mutated transaction; nil for a no-op.
	Transaction *ledger.Transaction
}

// ReconcilePointsHandler handles ReconcilePointsCommand.
type ReconcilePointsHandler struct {
	ledger    ledger.Repository
	modules   course.Directory
	publisher shared.EventPublisher
	recorder  Recorder
	retrier   *retry.Retrier
	logger    *logger.Logger
	config    ReconcileConfig
}

// ReconcileConfig contains configuration for the handler.
type ReconcileConfig struct {
	// MaxAttempts bounds the read-plan-write cycles on version conflicts.
	MaxAttempts int

	// LegacyWeekParsing enables the reason-text week shim of the bucketer.
	LegacyWeekParsing bool

	Recorder Recorder
	Logger   *logger.Logger
}

// DefaultReconcileConfig returns default configuration.
func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MaxAttempts:       3,
		LegacyWeekParsing: true,
	}
}

// NewReconcilePointsHandler creates a new ReconcilePointsHandler.
func NewReconcilePointsHandler(repo ledger.Repository, modules course.Directory, publisher shared.EventPublisher, config ReconcileConfig) *ReconcilePointsHandler {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultReconcileConfig().MaxAttempts
	}
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	return &ReconcilePointsHandler{
		ledger:    repo,
		modules:   modules,
		publisher: publisher,
		recorder:  config.Recorder,
		retrier:   retry.OptimisticRetrier(config.MaxAttempts, shared.IsConcurrencyConflict),
		logger:    config.Logger.With(logger.Component("reconcile")),
		config:    config,
	}
}

// Handle executes the command.
func (h *ReconcilePointsHandler) Handle(ctx context.Context, cmd ReconcilePointsCommand) (*ReconcilePointsResult, error) {
	if err := cmd.Session.RequireTeacher(); err != nil {
		return nil, err
	}
	if cmd.SubjectID == "" {
		cmd.SubjectID = cmd.Session.SubjectID
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	modules, err := h.modules.ListModulesForSubject(ctx, cmd.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list modules: %w", err)
	}
	bucketer := ledger.NewBucketer(modules, ledger.WithLegacyWeekParsing(h.config.LegacyWeekParsing))
	cell := ledger.Cell{Category: cmd.Category, ModuleID: cmd.ModuleID}

	var (
		result    *ReconcilePointsResult
		oldPoints int
	)
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		txs, err := h.ledger.ListByStudent(ctx, cmd.StudentID)
		if err != nil {
			return err
		}

		plan, err := ledger.PlanReconciliation(txs, bucketer, cell, cmd.Requested)
		if err != nil {
			return err
		}

		result = &ReconcilePointsResult{
			AppliedDelta: plan.Delta,
			PreviousSum:  plan.CurrentSum,
			NewSum:       plan.CurrentSum + plan.Delta,
			Relaxed:      plan.Relaxed,
			Matched:      len(plan.Matched),
		}
		if plan.IsNoop() {
			return nil
		}

		oldPoints = plan.Target.Points.Int()
		updated, err := h.ledger.UpdatePoints(ctx, plan.Target.ID, plan.NewPoints, cmd.Reason, plan.Target.Version)
		if err != nil {
			if errors.Is(err, shared.ErrOptimisticLock) {
				h.recorder.RecordRetry()
				h.logger.Debug("reconcile lost a version race, re-reading",
					logger.TransactionID(plan.Target.ID.String()))
			}
			return err
		}
		result.Transaction = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Transaction != nil {
		h.recorder.RecordEdit("reconcile", cmd.Category.String())
		publishAdjusted(h.publisher, h.logger, cmd.Session, result.Transaction, oldPoints)
	}
	return result, nil
}
