package command

import (
	"context"
	"errors"

	"github.com/alem-hub/questpoints/internal/domain/ledger"
	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
	"github.com/alem-hub/questpoints/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE POINT COMMAND
// Sets the points of one transaction directly. The write is version-checked
// and repeated on a lost race, so the final value is always the requested one.
// ══════════════════════════════════════════════════════════════════════════════

// UpdatePointCommand contains the data of a direct transaction edit.
type UpdatePointCommand struct {
	Session   shared.Session
	PointID   shared.TransactionID
	NewPoints int

	// Reason replaces the stored reason when non-empty.
	Reason string
}

// Validate validates the command.
func (c UpdatePointCommand) Validate() error {
	if !c.PointID.IsValid() {
		return shared.NewDomainError("ledger", "UpdatePoint", shared.ErrInvalidID, "point id is required")
	}
	if c.NewPoints < 0 {
		return ledger.ErrNegativePoints
	}
	return nil
}

// UpdatePointResult is the outcome of an edit.
type UpdatePointResult struct {
	Transaction *ledger.Transaction
	OldPoints   int
}

// UpdatePointHandler handles UpdatePointCommand.
type UpdatePointHandler struct {
	ledger    ledger.Repository
	publisher shared.EventPublisher
	recorder  Recorder
	retrier   *retry.Retrier
	logger    *logger.Logger
}

// NewUpdatePointHandler creates a new UpdatePointHandler.
func NewUpdatePointHandler(repo ledger.Repository, publisher shared.EventPublisher, recorder Recorder, log *logger.Logger) *UpdatePointHandler {
	if publisher == nil {
		publisher = shared.NoopPublisher{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UpdatePointHandler{
		ledger:    repo,
		publisher: publisher,
		recorder:  recorder,
		retrier:   retry.OptimisticRetrier(3, shared.IsConcurrencyConflict),
		logger:    log.With(logger.Component("update_point")),
	}
}

// Handle executes the command.
func (h *UpdatePointHandler) Handle(ctx context.Context, cmd UpdatePointCommand) (*UpdatePointResult, error) {
	if err := cmd.Session.RequireTeacher(); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	var result *UpdatePointResult
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		current, err := h.ledger.GetByID(ctx, cmd.PointID)
		if err != nil {
			return err
		}
		points, err := shared.NewPoints(cmd.NewPoints)
		if err != nil {
			return ledger.ErrNegativePoints
		}
		updated, err := h.ledger.UpdatePoints(ctx, current.ID, points, cmd.Reason, current.Version)
		if err != nil {
			if errors.Is(err, shared.ErrOptimisticLock) {
				h.recorder.RecordRetry()
			}
			return err
		}
		result = &UpdatePointResult{Transaction: updated, OldPoints: current.Points.Int()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	h.recorder.RecordEdit("edit", result.Transaction.Category.String())
	if result.OldPoints != result.Transaction.Points.Int() {
		publishAdjusted(h.publisher, h.logger, cmd.Session, result.Transaction, result.OldPoints)
	}
	return result, nil
}

func publishAdjusted(p shared.EventPublisher, log *logger.Logger, s shared.Session, tx *ledger.Transaction, oldPoints int) {
	event := shared.NewPointsAdjustedEvent(tx.StudentID.String(), tx.ID.String(), oldPoints, tx.Points.Int(), s.UserID.String())
	event.BaseEvent = correlate(event.BaseEvent, s)
	if err := p.Publish(event); err != nil {
		log.Warn("publish points.adjusted failed", logger.TransactionID(tx.ID.String()), logger.Err(err))
	}
	log.Info("points adjusted",
		logger.StudentID(tx.StudentID.String()),
		logger.TransactionID(tx.ID.String()),
		logger.Delta(tx.Points.Int()-oldPoints),
		logger.String("adjusted_by", s.UserID.String()),
	)
}
